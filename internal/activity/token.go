package activity

import (
	"context"
	"sync"
)

// Token is a cooperative cancellation handle. Work that receives a Token is
// expected to poll Requested at convenient points; cancelling it never
// interrupts the work by itself.
//
// The zero value is ready to use. A nil *Token is valid and is never requested.
type Token struct {
	mu        sync.Mutex
	done      chan struct{}
	requested bool
}

// NewToken returns an unrequested token.
func NewToken() *Token {
	return &Token{}
}

// TokenFromContext returns a token that is requested when ctx is done.
func TokenFromContext(ctx context.Context) *Token {
	t := NewToken()
	context.AfterFunc(ctx, t.Cancel)
	return t
}

// Cancel requests cancellation. Safe to call more than once and from any goroutine.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requested {
		return
	}
	t.requested = true
	if t.done == nil {
		t.done = make(chan struct{})
	}
	close(t.done)
}

// Requested reports whether Cancel has been called.
func (t *Token) Requested() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requested
}

// Done returns a channel closed once cancellation is requested. It is nil
// for a nil token, so receiving from it blocks forever.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done == nil {
		t.done = make(chan struct{})
	}
	return t.done
}
