// Package activity runs a unit of work against a deadline and guarantees a
// single decisive outcome: the work's result, the work's own error, or a
// deadline error. It never returns a zero value as if it were a result.
//
// The deadline only bounds how long the caller waits. The work keeps its own
// context and continues running after the deadline; to let it notice, share a
// Token with it and have it poll Token.Requested.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// ErrNoWork is returned by Run when no work has been configured.
var ErrNoWork = errors.New("activity has no work configured")

// Work is a unit of work producing a T. It is started by Run or RunDetached.
type Work[T any] func(ctx context.Context) (T, error)

// Options configures an Activity.
type Options struct {
	// Timeout bounds the wait. Zero means DefaultTimeout.
	Timeout time.Duration
	// Token, when set, is cancelled on timeout. Pass the same token to the
	// work to make the deadline observable from inside it. When nil the
	// supervisor uses a fresh token per run that the work never sees.
	Token *Token
	// Drain makes Run wait for the work after the deadline and report the
	// work's failure together with the deadline error. Off by default since
	// the work may settle long after the caller was told it timed out.
	Drain bool
}

// Outcome is the terminal result of one run.
type Outcome[T any] struct {
	Value T
	Err   error
	// TimedOut is set on the foreground outcome of RunDetached when the
	// deadline elapsed first. Value and Err are empty in that case.
	TimedOut bool
}

// Activity supervises one unit of work. Configure it with New or the fluent
// setters, then call Run or RunDetached. An Activity may be run again after
// reconfiguration; runs are independent. It is not safe to reconfigure while
// a run is in flight.
type Activity[T any] struct {
	work    Work[T]
	timeout time.Duration
	token   *Token
	drain   bool
}

// New returns an Activity for work configured with opts.
func New[T any](work Work[T], opts Options) *Activity[T] {
	a := &Activity[T]{}
	a.Setup(work, opts)
	return a
}

// Setup replaces the whole configuration.
func (a *Activity[T]) Setup(work Work[T], opts Options) {
	a.work = work
	a.timeout = opts.Timeout
	a.token = opts.Token
	a.drain = opts.Drain
}

// ForTask sets the work.
func (a *Activity[T]) ForTask(work Work[T]) *Activity[T] {
	a.work = work
	return a
}

// Wait sets the deadline. Zero restores DefaultTimeout.
func (a *Activity[T]) Wait(timeout time.Duration) *Activity[T] {
	a.timeout = timeout
	return a
}

// WithToken shares token between the caller, the work and the supervisor.
func (a *Activity[T]) WithToken(token *Token) *Activity[T] {
	a.token = token
	return a
}

// Draining toggles drain mode for Run.
func (a *Activity[T]) Draining(drain bool) *Activity[T] {
	a.drain = drain
	return a
}

// Timeout returns the effective deadline.
func (a *Activity[T]) Timeout() time.Duration {
	if a.timeout <= 0 {
		return DefaultTimeout
	}
	return a.timeout
}

// Run races the work against the deadline.
//
// If the work settles first its value or error is returned unchanged. If the
// deadline elapses first the token is cancelled and a *DeadlineError is
// returned; in drain mode Run then waits for the work and joins any error it
// produced with the deadline error. If ctx is done first the token is
// cancelled and ctx.Err() is returned.
func (a *Activity[T]) Run(ctx context.Context) (T, error) {
	var zero T
	if a.work == nil {
		return zero, ErrNoWork
	}

	token := a.runToken()
	done := a.start(ctx)

	timer := time.NewTimer(a.Timeout())
	defer timer.Stop()

	select {
	case res := <-done:
		return res.Value, res.Err
	case <-ctx.Done():
		token.Cancel()
		return zero, ctx.Err()
	case <-timer.C:
	}

	deadline := a.expire(token)
	if !a.drain {
		return zero, deadline
	}

	select {
	case res := <-done:
		if res.Err != nil {
			return zero, errors.Join(deadline, res.Err)
		}
		return zero, deadline
	case <-ctx.Done():
		return zero, errors.Join(deadline, ctx.Err())
	}
}

// RunDetached races the work against the deadline without ever failing the
// caller because of it. The returned outcome is the work's own outcome when it
// settles in time, or an outcome with TimedOut set right after the deadline
// elapses (the token is cancelled at that point). onSettled, if non-nil, is
// called exactly once with the work's eventual outcome; after a timeout that
// call happens on a background goroutine.
func (a *Activity[T]) RunDetached(ctx context.Context, onSettled func(Outcome[T])) Outcome[T] {
	if a.work == nil {
		res := Outcome[T]{Err: ErrNoWork}
		if onSettled != nil {
			onSettled(res)
		}
		return res
	}

	token := a.runToken()
	done := a.start(ctx)

	timer := time.NewTimer(a.Timeout())
	defer timer.Stop()

	select {
	case res := <-done:
		if onSettled != nil {
			onSettled(res)
		}
		return res
	case <-timer.C:
		a.expire(token)
	case <-ctx.Done():
		token.Cancel()
	}

	go func() {
		res := <-done
		if onSettled != nil {
			onSettled(res)
		}
	}()

	if err := ctx.Err(); err != nil {
		return Outcome[T]{Err: err}
	}
	return Outcome[T]{TimedOut: true}
}

func (a *Activity[T]) runToken() *Token {
	if a.token != nil {
		return a.token
	}
	return NewToken()
}

// expire cancels token and does not return before the cancellation is
// observable, so a caller that sees the deadline error also sees Requested.
func (a *Activity[T]) expire(token *Token) error {
	token.Cancel()
	<-token.Done()
	return &DeadlineError{Timeout: a.Timeout()}
}

func (a *Activity[T]) start(ctx context.Context) <-chan Outcome[T] {
	done := make(chan Outcome[T], 1)
	work := a.work

	go func() {
		var res Outcome[T]
		defer func() {
			if r := recover(); r != nil {
				res = Outcome[T]{Err: fmt.Errorf("activity work panicked: %v", r)}
			}
			done <- res
		}()
		res.Value, res.Err = work(ctx)
	}()

	return done
}

// Run is shorthand for New(work, opts).Run(ctx).
func Run[T any](ctx context.Context, work Work[T], opts Options) (T, error) {
	return New(work, opts).Run(ctx)
}
