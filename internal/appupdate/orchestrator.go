// Package appupdate drives one update run: validate the feed location, check
// for releases, download, show release notes, apply. Expected negative
// outcomes (bad path, nothing to install, unregistered install) end in a
// terminal State and a false result; failures from the Source are returned
// unchanged.
package appupdate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-version"

	"github.com/breeze-rmm/appupdate/internal/activity"
	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("appupdate")

const (
	DefaultManifestName = "RELEASES"
	DefaultFakeDelay    = time.Second
)

// Hooks observe a run. Each is optional and invoked synchronously on the
// goroutine driving the run, in firing order.
type Hooks struct {
	OnStateChange  func(State)
	OnReleaseNotes func([]ReleaseNote)
	// OnDone fires exactly once per CheckLocal/CheckRemote call and is always
	// the last event of the run. Read State afterwards for the outcome.
	OnDone func()
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	// OpenLocal opens a source over an already validated directory.
	OpenLocal func(dir string) (Source, error)
	// OpenRemote opens a source over a feed URL.
	OpenRemote func(ctx context.Context, url string) (Source, error)
	// Probe checks the feed host is reachable before a remote run. Nil skips the probe.
	Probe func(ctx context.Context, url string) error
	// Restart relaunches the application after a successful run when asked to.
	Restart func() error

	ManifestName string
	// Fake skips the installed-version check and replaces the apply step
	// with FakeDelay, for exercising the flow from a development build.
	Fake      bool
	FakeDelay time.Duration

	Hooks Hooks
}

// Orchestrator runs update phases against a Source. Callers must not run two
// checks on the same Orchestrator concurrently; State may be read at any time.
type Orchestrator struct {
	cfg    Config
	state  atomic.Int32
	token  atomic.Pointer[activity.Token]
	runLog atomic.Pointer[slog.Logger]
}

// New returns an Orchestrator in StateNone.
func New(cfg Config) *Orchestrator {
	if cfg.ManifestName == "" {
		cfg.ManifestName = DefaultManifestName
	}
	if cfg.FakeDelay <= 0 {
		cfg.FakeDelay = DefaultFakeDelay
	}
	o := &Orchestrator{cfg: cfg}
	o.runLog.Store(log)
	return o
}

// State returns the current state. Readers racing a run may see a value one
// tick stale.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Token returns the token passed to the latest run, if any.
func (o *Orchestrator) Token() *activity.Token {
	return o.token.Load()
}

// CheckLocal updates from a feed directory. The directory must exist and
// contain the manifest; otherwise the run ends in StateInvalidUpdatePath with
// a single progress line naming the missing path.
func (o *Orchestrator) CheckLocal(ctx context.Context, path string, progress func(string), token *activity.Token, restartOnSuccess bool) (bool, error) {
	o.begin("local", token)
	emit := progressOrDiscard(progress)

	dir, err := filepath.Abs(path)
	if err != nil {
		dir = path
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return o.reject(StateInvalidUpdatePath, emit, fmt.Sprintf("Directory not found: %s", dir)), nil
	}

	manifest := filepath.Join(dir, o.cfg.ManifestName)
	if info, err := os.Stat(manifest); err != nil || info.IsDir() {
		return o.reject(StateInvalidUpdatePath, emit, fmt.Sprintf("File not found: %s", manifest)), nil
	}

	if o.cfg.OpenLocal == nil {
		o.fireDone()
		return false, fmt.Errorf("no local source configured")
	}
	src, err := o.cfg.OpenLocal(dir)
	if err != nil {
		o.fireDone()
		return false, err
	}
	defer src.Close()

	return o.run(ctx, src, path, emit, token, restartOnSuccess)
}

// CheckRemote updates from a feed URL. When a probe is configured and the
// host is unreachable the run ends in StateCantConnectServer.
func (o *Orchestrator) CheckRemote(ctx context.Context, url string, progress func(string), token *activity.Token, restartOnSuccess bool) (bool, error) {
	o.begin("remote", token)
	emit := progressOrDiscard(progress)

	if o.cfg.Probe != nil {
		if err := o.cfg.Probe(ctx, url); err != nil {
			o.logger().Warn("update server unreachable", "url", url, logging.KeyError, err)
			return o.reject(StateCantConnectServer, emit, "Could not connect to server"), nil
		}
	}

	if o.cfg.OpenRemote == nil {
		o.fireDone()
		return false, fmt.Errorf("no remote source configured")
	}
	src, err := o.cfg.OpenRemote(ctx, url)
	if err != nil {
		o.fireDone()
		return false, err
	}
	defer src.Close()

	return o.run(ctx, src, url, emit, token, restartOnSuccess)
}

func (o *Orchestrator) begin(source string, token *activity.Token) {
	o.runLog.Store(logging.WithRun(log, uuid.NewString(), source))
	o.token.Store(token)
	o.state.Store(int32(StateNone))
	o.logger().Info("update check started", "fake", o.cfg.Fake)
}

func (o *Orchestrator) run(ctx context.Context, src Source, location string, emit func(string), token *activity.Token, restartOnSuccess bool) (bool, error) {
	start := time.Now()
	err := o.phases(ctx, src, location, emit, token)
	o.fireDone()

	state := o.State()
	o.logger().Info("update check finished",
		logging.KeyState, state.String(),
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	if err != nil {
		return false, err
	}

	if restartOnSuccess && state == StateDone {
		o.restart(emit)
	}
	return state == StateDone, nil
}

func (o *Orchestrator) phases(ctx context.Context, src Source, location string, emit func(string), token *activity.Token) error {
	o.setState(StateChecking)
	emit("Contacting update server...")
	emit("Checking for updates...")

	info, err := src.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	if !o.cfg.Fake && info.CurrentVersion == nil {
		o.setState(StateNotInstalledApp)
		emit("Current installation path not found, update canceled!")
		return nil
	}

	if len(info.PendingReleases) == 0 {
		o.setState(StateNoNeed)
		emit(fmt.Sprintf("No updates found on path: %s", location))
		return nil
	}

	o.setState(StateDownloading)
	emit("New version available!")
	emit(fmt.Sprintf("Current installed version: %s", versionString(info.CurrentVersion)))
	emit(fmt.Sprintf("New version: %s", versionString(info.FutureVersion)))
	emit("The application will now download and apply the update...")

	emit("Downloading update 0%")
	if err := src.Download(ctx, info.PendingReleases, o.ticks(emit, token, "Downloading update")); err != nil {
		return err
	}

	notes, err := o.releaseNotes(ctx, src, info)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		emit("Release notes not found")
	} else {
		if o.cfg.Hooks.OnReleaseNotes != nil {
			o.cfg.Hooks.OnReleaseNotes(notes)
		}
		emit("Release notes:")
		emit(RenderReleaseNotes(notes))
	}

	emit("Performing update, please wait...")
	if o.cfg.Fake {
		select {
		case <-time.After(o.cfg.FakeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		emit("Updating 0%")
		if err := src.Apply(ctx, o.ticks(emit, token, "Updating")); err != nil {
			return err
		}
	}

	// Sources may stop reporting short of 100.
	emit("Updating 100%")
	emit("Update completed successfully")
	o.setState(StateDone)
	return nil
}

// releaseNotes prefers the source's notes documents and falls back to the
// notes embedded in the pending releases.
func (o *Orchestrator) releaseNotes(ctx context.Context, src Source, info *UpdateInfo) ([]ReleaseNote, error) {
	raw, err := src.FetchReleaseNotes(ctx)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		for _, r := range info.PendingReleases {
			if r.Notes == "" {
				continue
			}
			raw = append(raw, RawNote{Version: versionString(r.Version), Text: r.Notes})
		}
	}
	return CleanReleaseNotes(raw), nil
}

// ticks reports progress, stamping StateTimeout on every tick observed after
// the token was cancelled. The operation itself keeps running.
func (o *Orchestrator) ticks(emit func(string), token *activity.Token, label string) PercentFunc {
	return func(percent int) {
		if !token.Requested() {
			emit(fmt.Sprintf("%s %d%%", label, percent))
			return
		}
		o.setState(StateTimeout)
		emit(fmt.Sprintf("%s %d%% [Timeout!]", label, percent))
	}
}

func (o *Orchestrator) reject(state State, emit func(string), line string) bool {
	o.setState(state)
	emit(line)
	o.fireDone()
	return false
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev == s {
		return
	}
	o.logger().Debug("state changed", "from", prev.String(), logging.KeyState, s.String())
	if o.cfg.Hooks.OnStateChange != nil {
		o.cfg.Hooks.OnStateChange(s)
	}
}

func (o *Orchestrator) fireDone() {
	if o.cfg.Hooks.OnDone != nil {
		o.cfg.Hooks.OnDone()
	}
}

func (o *Orchestrator) restart(emit func(string)) {
	if o.cfg.Restart == nil {
		return
	}
	emit("Restarting application...")
	o.logger().Info("restarting application")
	if err := o.cfg.Restart(); err != nil {
		o.logger().Error("restart failed", logging.KeyError, err)
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	return o.runLog.Load()
}

func progressOrDiscard(progress func(string)) func(string) {
	if progress == nil {
		return func(string) {}
	}
	return progress
}

func versionString(v *version.Version) string {
	if v == nil {
		return "unknown"
	}
	return v.Original()
}
