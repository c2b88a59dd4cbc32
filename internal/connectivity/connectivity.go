// Package connectivity probes whether an update server can be reached.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("connectivity")

// ErrOffline means the probe never got an answer from the server.
var ErrOffline = errors.New("update server unreachable")

const (
	DefaultMaxElapsed = 15 * time.Second
	requestTimeout    = 5 * time.Second
)

type State int32

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	switch s {
	case Offline:
		return "OFFLINE"
	case Online:
		return "ONLINE"
	default:
		return "INVALID STATE"
	}
}

// Checker probes URL with GET requests. Any response below 500 counts as
// reachable. Failed probes are retried with exponential backoff until
// MaxElapsed or ctx ends.
type Checker struct {
	URL        string
	Client     *http.Client
	MaxElapsed time.Duration

	state atomic.Int32
}

// CurrentState is the result of the latest Check.
func (c *Checker) CurrentState() State {
	return State(c.state.Load())
}

// Check returns nil once the server answered, or ErrOffline wrapping the
// last failure.
func (c *Checker) Check(ctx context.Context) error {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	attempts := 0
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}

	err := backoff.Retry(operation, c.backoff(ctx))
	if err != nil {
		c.state.Store(int32(Offline))
		log.Debug("probe failed", "url", c.URL, "attempts", attempts, logging.KeyError, err)
		return fmt.Errorf("%w: %w", ErrOffline, err)
	}

	c.state.Store(int32(Online))
	return nil
}

func (c *Checker) backoff(ctx context.Context) backoff.BackOff {
	maxElapsed := c.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = DefaultMaxElapsed
	}
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.7,
		MaxInterval:         3 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

// Probe adapts Check to a function taking the URL per call.
func Probe(client *http.Client, maxElapsed time.Duration) func(ctx context.Context, url string) error {
	return func(ctx context.Context, url string) error {
		c := &Checker{URL: url, Client: client, MaxElapsed: maxElapsed}
		return c.Check(ctx)
	}
}
