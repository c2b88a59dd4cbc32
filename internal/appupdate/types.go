package appupdate

import (
	"context"

	"github.com/hashicorp/go-version"
)

// State is the orchestrator's position in a run. Values are ordered by
// occurrence, not severity.
type State int32

const (
	StateNone State = iota
	StateChecking
	StateDownloading
	StateDone
	// StateTimeout is stamped while an operation is still running, when the
	// shared token was found cancelled at a progress tick.
	StateTimeout
	StateNotInstalledApp
	StateInvalidUpdatePath
	StateNoNeed
	StateCantConnectServer
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateChecking:
		return "Checking"
	case StateDownloading:
		return "Downloading"
	case StateDone:
		return "Done"
	case StateTimeout:
		return "Timeout"
	case StateNotInstalledApp:
		return "NotInstalledApp"
	case StateInvalidUpdatePath:
		return "InvalidUpdatePath"
	case StateNoNeed:
		return "NoNeed"
	case StateCantConnectServer:
		return "CantConnectServer"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further phase follows s within a run.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateTimeout, StateNotInstalledApp, StateInvalidUpdatePath, StateNoNeed, StateCantConnectServer:
		return true
	}
	return false
}

// Release is one published version available from a Source.
type Release struct {
	Version  *version.Version
	Filename string
	SHA256   string
	Size     int64
	// Notes are the raw notes embedded in the feed entry, used when the
	// source has no separate release notes documents.
	Notes string
}

// UpdateInfo is what a Source knows about pending updates.
type UpdateInfo struct {
	// CurrentVersion is nil when the installed version cannot be determined.
	CurrentVersion *version.Version
	FutureVersion  *version.Version
	// PendingReleases are newer than CurrentVersion, oldest first.
	PendingReleases []Release
}

// RawNote is an uncleaned release notes document.
type RawNote struct {
	Version string
	Text    string
}

// ReleaseNote is a cleaned release notes entry, ready for display.
type ReleaseNote struct {
	Version string
	Notes   string
}

// PercentFunc receives progress percentages, 0 to 100. Sources must call it
// synchronously and in order.
type PercentFunc func(percent int)

// Source is where releases come from: a local directory or a remote feed.
type Source interface {
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)
	Download(ctx context.Context, releases []Release, onPercent PercentFunc) error
	Apply(ctx context.Context, onPercent PercentFunc) error
	FetchReleaseNotes(ctx context.Context) ([]RawNote, error)
	Close() error
}
