// Package runqueue runs named jobs on a fixed set of workers. A job whose
// name is already queued or running is coalesced into it rather than queued
// twice, so bursts of triggers collapse into one run.
package runqueue

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("runqueue")

// Job is a unit of work. ctx is cancelled when Shutdown gives up waiting.
type Job func(ctx context.Context)

type item struct {
	name string
	job  Job
}

// Queue is a bounded job queue served by a fixed number of workers.
type Queue struct {
	queue     chan item
	wg        sync.WaitGroup
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	accepting bool
	active    map[string]bool
}

// New starts workers goroutines serving a queue of depth jobs.
func New(workers, depth int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		queue:  make(chan item, depth),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]bool),

		accepting: true,
	}

	for i := 0; i < workers; i++ {
		go q.worker()
	}

	log.Debug("run queue started", "workers", workers, "depth", depth)
	return q
}

// Submit enqueues job under name. It returns false when the queue is shut
// down, full, or a job with the same name is already queued or running.
func (q *Queue) Submit(name string, job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.accepting {
		return false
	}
	if q.active[name] {
		log.Debug("job already pending, coalesced", "job", name)
		return false
	}

	q.wg.Add(1)
	select {
	case q.queue <- item{name: name, job: job}:
		q.active[name] = true
		return true
	default:
		q.wg.Done()
		log.Warn("run queue full, job rejected", "job", name)
		return false
	}
}

// Pending reports whether a job named name is queued or running.
func (q *Queue) Pending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active[name]
}

// Shutdown stops accepting jobs and waits for queued and running ones. When
// ctx ends first, running jobs see their context cancelled.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("run queue drained")
	case <-ctx.Done():
		log.Warn("run queue drain timed out")
		q.cancel()
	}

	q.closeOnce.Do(func() {
		q.cancel()
		q.mu.Lock()
		close(q.queue)
		q.mu.Unlock()
	})
}

func (q *Queue) worker() {
	for it := range q.queue {
		q.run(it)
	}
}

func (q *Queue) run(it item) {
	defer q.finish(it.name)
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "job", it.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	it.job(q.ctx)
}

func (q *Queue) finish(name string) {
	q.mu.Lock()
	delete(q.active, name)
	q.mu.Unlock()
	q.wg.Done()
}
