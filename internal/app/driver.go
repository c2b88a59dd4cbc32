// Package app runs update checks for the command line: each configured feed
// is checked under a deadline, release notes go through the notification
// queue and outcomes are recorded in the health monitor.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/breeze-rmm/appupdate/internal/activity"
	"github.com/breeze-rmm/appupdate/internal/appupdate"
	"github.com/breeze-rmm/appupdate/internal/desktop"
	"github.com/breeze-rmm/appupdate/internal/health"
	"github.com/breeze-rmm/appupdate/internal/history"
	"github.com/breeze-rmm/appupdate/internal/logging"
	"github.com/breeze-rmm/appupdate/internal/notify"
)

var log = logging.L("app")

// TimeoutMessage is shown when a check outlives its deadline.
const TimeoutMessage = "The update server took too long to respond, the operation was moved to the background and may still complete."

const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Options select the feeds and how a check behaves.
type Options struct {
	UpdatePath string
	UpdateURL  string

	Timeout time.Duration
	// Background keeps a timed-out check running and reports it when it
	// settles. Drain instead waits for it before returning.
	Background bool
	Drain      bool

	RestartOnSuccess bool
	ManifestName     string
	Fake             bool
	FakeDelay        time.Duration
}

// Deps are the collaborators of a Driver. Zero values get defaults where
// one makes sense.
type Deps struct {
	OpenLocal  func(dir string) (appupdate.Source, error)
	OpenRemote func(ctx context.Context, url string) (appupdate.Source, error)
	Probe      func(ctx context.Context, url string) error
	Restart    func() error

	Notifier desktop.Notifier
	Queue    *notify.Queue
	Health   *health.Monitor
	// History, if set, journals every check and its outcome.
	History *history.Journal
	// Out receives progress lines and outcome messages. Defaults to stdout.
	Out io.Writer
}

// Result is the outcome of checking one feed.
type Result struct {
	Source   string
	Location string
	Updated  bool
	State    appupdate.State
	TimedOut bool
	Err      error
}

// Driver checks the configured feeds. CheckForUpdates calls must not
// overlap; runs left in the background may.
type Driver struct {
	opts Options
	deps Deps

	outMu      sync.Mutex
	background sync.WaitGroup
}

func New(opts Options, deps Deps) *Driver {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Queue == nil {
		deps.Queue = notify.NewQueue(notify.DefaultInterval)
	}
	if deps.Health == nil {
		deps.Health = health.NewMonitor()
	}
	if deps.Notifier == nil {
		deps.Notifier = &desktop.Console{Out: deps.Out}
	}
	return &Driver{opts: opts, deps: deps}
}

// Health returns the monitor outcomes are recorded in.
func (d *Driver) Health() *health.Monitor {
	return d.deps.Health
}

// CheckForUpdates checks the local feed, then the remote feed unless the
// local one already brought the installation up to date or is still running
// in the background.
func (d *Driver) CheckForUpdates(ctx context.Context) []Result {
	var results []Result

	if d.opts.UpdatePath != "" {
		r := d.check(ctx, SourceLocal, d.opts.UpdatePath)
		results = append(results, r)
		if r.Updated || r.TimedOut {
			return results
		}
	}

	if d.opts.UpdateURL != "" {
		results = append(results, d.check(ctx, SourceRemote, d.opts.UpdateURL))
	}

	if len(results) == 0 {
		d.println("No update location configured.")
	}
	return results
}

func (d *Driver) check(ctx context.Context, source, location string) Result {
	runLog := log.With(logging.KeySource, source)
	token := activity.NewToken()

	orch := appupdate.New(appupdate.Config{
		OpenLocal:    d.deps.OpenLocal,
		OpenRemote:   d.deps.OpenRemote,
		Probe:        d.deps.Probe,
		Restart:      d.deps.Restart,
		ManifestName: d.opts.ManifestName,
		Fake:         d.opts.Fake,
		FakeDelay:    d.opts.FakeDelay,
		Hooks: appupdate.Hooks{
			OnStateChange: func(s appupdate.State) {
				runLog.Debug("state", logging.KeyState, s.String())
			},
			OnReleaseNotes: d.showReleaseNotes,
		},
	})

	work := func(ctx context.Context) (bool, error) {
		if source == SourceLocal {
			return orch.CheckLocal(ctx, location, d.println, token, d.opts.RestartOnSuccess)
		}
		return orch.CheckRemote(ctx, location, d.println, token, d.opts.RestartOnSuccess)
	}

	act := activity.New(work, activity.Options{
		Timeout: d.opts.Timeout,
		Token:   token,
		Drain:   d.opts.Drain && !d.opts.Background,
	})

	d.deps.History.Record(history.EventCheckStarted, source, map[string]any{"location": location})

	result := Result{Source: source, Location: location}
	if d.opts.Background {
		d.background.Add(1)
		out := act.RunDetached(ctx, func(o activity.Outcome[bool]) {
			defer d.background.Done()
			d.settled(source, location, orch, o)
		})
		if out.TimedOut {
			result.TimedOut = true
			result.State = appupdate.StateTimeout
			d.println(TimeoutMessage)
			d.deps.Health.Record(source, appupdate.StateTimeout, nil)
			d.deps.History.Record(history.EventCheckTimedOut, source, nil)
			return result
		}
		result.Updated, result.Err = out.Value, out.Err
		result.State = orch.State()
		return result
	}

	result.Updated, result.Err = act.Run(ctx)
	result.State = orch.State()
	d.report(&result)
	return result
}

// report prints and records a foreground outcome.
func (d *Driver) report(r *Result) {
	timedOut, rest := splitDeadline(r.Err, activity.ErrDeadlineExceeded)
	if timedOut {
		r.TimedOut = true
		r.Err = rest
		// A draining run has finished and keeps the state it reached.
		if !r.State.Terminal() {
			r.State = appupdate.StateTimeout
		}
		d.println(TimeoutMessage)
	}

	if r.Err != nil {
		d.println(fmt.Sprintf("Update failed: %v", Innermost(r.Err)))
	} else if !timedOut {
		d.println(outcomeMessage(r.State, r.Updated))
	}

	d.deps.Health.Record(r.Source, r.State, r.Err)
	d.journal(*r)
	log.Info("update check complete",
		logging.KeySource, r.Source,
		logging.KeyState, r.State.String(),
		"updated", r.Updated,
		"timedOut", r.TimedOut,
		logging.KeyError, r.Err,
	)
}

// settled handles the eventual outcome of a run started with RunDetached,
// both when it finished in time and when it outlived the deadline.
func (d *Driver) settled(source, location string, orch *appupdate.Orchestrator, o activity.Outcome[bool]) {
	r := Result{Source: source, Location: location, Updated: o.Value, Err: o.Err, State: orch.State()}
	if r.Err != nil {
		d.println(fmt.Sprintf("Update failed: %v", Innermost(r.Err)))
	} else {
		d.println(outcomeMessage(r.State, r.Updated))
	}
	d.deps.Health.Record(source, r.State, r.Err)
	d.journal(r)
	log.Info("update check settled",
		logging.KeySource, source,
		logging.KeyState, r.State.String(),
		"updated", r.Updated,
		logging.KeyError, r.Err,
	)
}

// journal records the outcome of a finished check.
func (d *Driver) journal(r Result) {
	details := map[string]any{"state": r.State.String()}
	event := history.EventCheckFinished
	switch {
	case r.Err != nil:
		event = history.EventCheckFailed
		details["error"] = Innermost(r.Err).Error()
	case r.Updated:
		event = history.EventUpdateInstalled
	case r.State == appupdate.StateNoNeed:
		event = history.EventUpToDate
	case r.TimedOut:
		event = history.EventCheckTimedOut
	}
	d.deps.History.Record(event, r.Source, details)
}

func outcomeMessage(state appupdate.State, updated bool) string {
	if updated {
		return "Update installed."
	}
	switch state {
	case appupdate.StateNoNeed:
		return "Application is up to date."
	case appupdate.StateNotInstalledApp:
		return "Application is not installed, nothing to update."
	case appupdate.StateInvalidUpdatePath:
		return "Update location is not valid."
	case appupdate.StateCantConnectServer:
		return "Update server is not reachable."
	case appupdate.StateTimeout:
		return "Update finished after the deadline."
	default:
		return fmt.Sprintf("Update check ended in state %s.", state)
	}
}

// showReleaseNotes queues the notes for display. The notifier may wait for
// the user, so it runs off the queue's goroutine.
func (d *Driver) showReleaseNotes(notes []appupdate.ReleaseNote) {
	msg := desktop.Message{Title: "Release notes", Body: appupdate.RenderReleaseNotes(notes)}
	d.deps.Queue.Enqueue(func(ack func()) {
		go func() {
			defer ack()
			if !d.deps.Notifier.Show(msg) {
				log.Warn("release notes could not be shown")
			}
		}()
	})
}

// Wait blocks until background runs have settled and every queued
// notification was acknowledged, or ctx ends.
func (d *Driver) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !d.deps.Queue.Idle() || d.deps.Queue.Displaying() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *Driver) println(line string) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	fmt.Fprintln(d.deps.Out, line)
}
