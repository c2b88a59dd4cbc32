package activity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addAfter mirrors a slow computation: it sleeps and returns n+1.
func addAfter(d time.Duration, n int) Work[int] {
	return func(ctx context.Context) (int, error) {
		select {
		case <-time.After(d):
			return n + 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func TestRunWithinDeadline(t *testing.T) {
	token := NewToken()
	a := New(addAfter(50*time.Millisecond, 9), Options{Timeout: time.Second, Token: token})

	got, err := a.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.False(t, token.Requested(), "no cancellation expected when the work wins")
}

func TestRunWithinDeadlineFluent(t *testing.T) {
	a := &Activity[int]{}

	got, err := a.ForTask(addAfter(50*time.Millisecond, 9)).Wait(time.Second).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestRunDeadlineExceeded(t *testing.T) {
	token := NewToken()
	release := make(chan struct{})
	defer close(release)

	work := func(ctx context.Context) (int, error) {
		<-release
		return 10, nil
	}

	got, err := New(work, Options{Timeout: 20 * time.Millisecond, Token: token}).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	var de *DeadlineError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 20*time.Millisecond, de.Timeout)
	assert.Zero(t, got)
	assert.True(t, token.Requested(), "deadline must cancel the shared token")
}

func TestRunPropagatesWorkError(t *testing.T) {
	boom := errors.New("feed unreachable")
	work := func(ctx context.Context) (int, error) { return 0, boom }

	_, err := Run(context.Background(), work, Options{Timeout: time.Second})

	assert.Same(t, boom, err)
}

func TestRunPropagatesWorkCancellation(t *testing.T) {
	work := func(ctx context.Context) (int, error) { return 0, context.Canceled }

	_, err := Run(context.Background(), work, Options{Timeout: time.Second})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrDeadlineExceeded)
}

func TestRunDoesNotCancelWorkContext(t *testing.T) {
	sawCancel := make(chan bool, 1)
	work := func(ctx context.Context) (int, error) {
		time.Sleep(60 * time.Millisecond)
		sawCancel <- ctx.Err() != nil
		return 1, nil
	}

	_, err := Run(context.Background(), work, Options{Timeout: 10 * time.Millisecond})
	require.ErrorIs(t, err, ErrDeadlineExceeded)

	select {
	case cancelled := <-sawCancel:
		assert.False(t, cancelled, "the deadline aborts the wait, not the work")
	case <-time.After(time.Second):
		t.Fatal("work never finished")
	}
}

func TestRunSharedTokenVisibleToWork(t *testing.T) {
	token := NewToken()
	observed := make(chan struct{})

	work := func(ctx context.Context) (int, error) {
		<-token.Done()
		close(observed)
		return 0, nil
	}

	_, err := New(work, Options{Timeout: 10 * time.Millisecond}).WithToken(token).Run(context.Background())
	require.ErrorIs(t, err, ErrDeadlineExceeded)

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("work did not observe the shared token")
	}
}

func TestRunOwnTokenIsFreshPerRun(t *testing.T) {
	var calls atomic.Int32
	work := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			time.Sleep(50 * time.Millisecond)
		}
		return 7, nil
	}
	a := New(work, Options{Timeout: 10 * time.Millisecond})

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrDeadlineExceeded)

	got, err := a.Wait(time.Second).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestRunDrainJoinsWorkFailure(t *testing.T) {
	boom := errors.New("apply failed")
	work := func(ctx context.Context) (int, error) {
		time.Sleep(40 * time.Millisecond)
		return 0, boom
	}

	start := time.Now()
	_, err := New(work, Options{Timeout: 10 * time.Millisecond, Drain: true}).Run(context.Background())

	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.ErrorIs(t, err, boom)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "drain waits for the work")
}

func TestRunDrainSuccessStillTimesOut(t *testing.T) {
	work := addAfter(30*time.Millisecond, 1)

	got, err := New(work, Options{Timeout: 5 * time.Millisecond}).Draining(true).Run(context.Background())

	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Zero(t, got)
}

func TestRunCallerContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token := NewToken()
	release := make(chan struct{})
	defer close(release)

	work := func(context.Context) (int, error) {
		<-release
		return 0, nil
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := New(work, Options{Timeout: time.Minute, Token: token}).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, token.Requested())
}

func TestRunRecoversPanic(t *testing.T) {
	work := func(context.Context) (int, error) { panic("bad release") }

	_, err := Run(context.Background(), work, Options{Timeout: time.Second})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad release")
}

func TestRunWithoutWork(t *testing.T) {
	_, err := (&Activity[int]{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoWork)
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, (&Activity[int]{}).Timeout())
	assert.Equal(t, time.Second, (&Activity[int]{}).Wait(time.Second).Timeout())
}

func TestRunDetachedWithinDeadline(t *testing.T) {
	var settled []Outcome[int]

	res := New(addAfter(10*time.Millisecond, 1), Options{Timeout: time.Second}).
		RunDetached(context.Background(), func(o Outcome[int]) { settled = append(settled, o) })

	assert.False(t, res.TimedOut)
	assert.Equal(t, 2, res.Value)
	require.Len(t, settled, 1)
	assert.Equal(t, 2, settled[0].Value)
}

func TestRunDetachedTimeoutSettlesInBackground(t *testing.T) {
	token := NewToken()
	release := make(chan struct{})
	settled := make(chan Outcome[int], 2)

	work := func(context.Context) (int, error) {
		<-release
		return 42, nil
	}

	res := New(work, Options{Timeout: 10 * time.Millisecond, Token: token}).
		RunDetached(context.Background(), func(o Outcome[int]) { settled <- o })

	assert.True(t, res.TimedOut)
	assert.NoError(t, res.Err)
	assert.True(t, token.Requested())

	select {
	case <-settled:
		t.Fatal("settled before the work finished")
	default:
	}

	close(release)

	select {
	case o := <-settled:
		assert.Equal(t, 42, o.Value)
		assert.NoError(t, o.Err)
	case <-time.After(time.Second):
		t.Fatal("onSettled never called")
	}

	select {
	case <-settled:
		t.Fatal("onSettled called more than once")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestRunDetachedReportsLateFailure(t *testing.T) {
	boom := errors.New("download failed")
	settled := make(chan Outcome[int], 1)

	work := func(context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		return 0, boom
	}

	res := New(work, Options{Timeout: 5 * time.Millisecond}).
		RunDetached(context.Background(), func(o Outcome[int]) { settled <- o })
	require.True(t, res.TimedOut)

	select {
	case o := <-settled:
		assert.Same(t, boom, o.Err)
	case <-time.After(time.Second):
		t.Fatal("onSettled never called")
	}
}

func TestTokenNilSafe(t *testing.T) {
	var token *Token
	token.Cancel()
	assert.False(t, token.Requested())
	assert.Nil(t, token.Done())
}

func TestTokenZeroValueAndIdempotentCancel(t *testing.T) {
	var token Token
	done := token.Done()

	token.Cancel()
	token.Cancel()

	assert.True(t, token.Requested())
	select {
	case <-done:
	default:
		t.Fatal("Done channel not closed")
	}
}

func TestTokenFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	token := TokenFromContext(ctx)
	assert.False(t, token.Requested())

	cancel()

	select {
	case <-token.Done():
	case <-time.After(time.Second):
		t.Fatal("token not cancelled with its context")
	}
}
