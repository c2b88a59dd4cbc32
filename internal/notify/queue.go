// Package notify serializes user-facing prompts raised by background work so
// that only one is on screen at a time.
package notify

import (
	"sync"
	"time"
)

// DefaultInterval is how often a Queue retries showing the next item.
const DefaultInterval = 500 * time.Millisecond

// Notification shows something to the user and calls ack once the user has
// responded. ack may be called from any goroutine; extra calls are ignored.
// It runs on the goroutine that drained the queue, so it should hand off
// anything that waits on the user instead of blocking.
type Notification func(ack func())

// Queue shows notifications strictly in FIFO order, one at a time. The next
// item is shown only after the previous one was acknowledged. A retry ticker
// runs only while items are waiting. Safe for concurrent use.
type Queue struct {
	interval time.Duration

	mu         sync.Mutex
	items      []Notification
	displaying bool
	// generation identifies the displayed item, so a stale ack from an
	// earlier item cannot release a later one.
	generation uint64
	stop       chan struct{}
	closed     bool
}

// NewQueue returns a Queue retrying every interval (DefaultInterval if zero).
func NewQueue(interval time.Duration) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Queue{interval: interval}
}

// Enqueue appends n and tries to show it right away.
func (q *Queue) Enqueue(n Notification) {
	if n == nil {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) == 0 && q.stop == nil {
		q.startTicker()
	}
	q.items = append(q.items, n)
	q.mu.Unlock()

	q.drain()
}

// Acknowledge marks the current notification as answered. The next one is
// shown on the following drain attempt.
func (q *Queue) Acknowledge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.displaying = false
}

// Len returns the number of notifications waiting to be shown.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Displaying reports whether a notification is awaiting acknowledgment.
func (q *Queue) Displaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.displaying
}

// Idle reports whether nothing is queued and the retry ticker is stopped.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && q.stop == nil
}

// Close stops the retry ticker and drops pending notifications. Later
// Enqueue calls are ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.stopTicker()
}

// drain shows the head of the queue if nothing is on screen.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.displaying || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}

	n := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.displaying = true
	q.generation++
	gen := q.generation
	if len(q.items) == 0 {
		q.stopTicker()
	}
	q.mu.Unlock()

	var once sync.Once
	n(func() {
		once.Do(func() { q.ack(gen) })
	})
}

func (q *Queue) ack(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generation == gen {
		q.displaying = false
	}
}

// startTicker must be called with mu held.
func (q *Queue) startTicker() {
	stop := make(chan struct{})
	q.stop = stop

	go func() {
		t := time.NewTicker(q.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				q.drain()
			case <-stop:
				return
			}
		}
	}()
}

// stopTicker must be called with mu held.
func (q *Queue) stopTicker() {
	if q.stop != nil {
		close(q.stop)
		q.stop = nil
	}
}
