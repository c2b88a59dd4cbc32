package activity

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeadlineExceeded is matched by every error the supervisor returns when
// its own deadline elapses before the work settles.
var ErrDeadlineExceeded = errors.New("activity deadline exceeded")

// DeadlineError reports that the supervisor stopped waiting for the work.
// The work itself may still be running.
type DeadlineError struct {
	Timeout time.Duration
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("activity deadline of %s exceeded", e.Timeout)
}

// Is makes errors.Is(err, ErrDeadlineExceeded) hold.
func (e *DeadlineError) Is(target error) bool {
	return target == ErrDeadlineExceeded
}
