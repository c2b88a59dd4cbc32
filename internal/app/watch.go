package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/breeze-rmm/appupdate/internal/logging"
	"github.com/breeze-rmm/appupdate/internal/runqueue"
)

const watchJob = "check"

// Watch re-runs Check on an interval and whenever the manifest in Dir is
// written. Triggers arriving while a check is pending are coalesced.
type Watch struct {
	// Dir is the local feed directory. Empty disables file events.
	Dir      string
	Manifest string
	Interval time.Duration
	Queue    *runqueue.Queue
	Check    func(ctx context.Context)
}

// Run blocks until ctx ends. A check is triggered immediately.
func (w *Watch) Run(ctx context.Context) error {
	if w.Queue == nil || w.Check == nil {
		return errors.New("watch needs a queue and a check")
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.Dir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Warn("failed to close watcher", logging.KeyError, err)
			}
		}()

		// Watch the directory, the manifest may be replaced rather than written.
		if err := watcher.Add(w.Dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", w.Dir, err)
		}
		events, errs = watcher.Events, watcher.Errors
	}

	var tick <-chan time.Time
	if w.Interval > 0 {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.trigger("start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.trigger("interval")
		case event, ok := <-events:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if w.isManifest(event) {
				w.trigger("manifest changed")
			}
		case err, ok := <-errs:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			log.Warn("watcher error", logging.KeyError, err)
		}
	}
}

func (w *Watch) isManifest(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != w.Manifest {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

func (w *Watch) trigger(reason string) {
	if w.Queue.Submit(watchJob, w.Check) {
		log.Debug("update check queued", "reason", reason)
	}
}
