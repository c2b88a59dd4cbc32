// Package feed implements update sources over a release feed: a directory or
// an HTTP location holding a manifest, the release files it names and
// optional release notes documents.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/breeze-rmm/appupdate/internal/appupdate"
	"github.com/breeze-rmm/appupdate/internal/httputil"
	"github.com/breeze-rmm/appupdate/internal/logging"
	"github.com/breeze-rmm/appupdate/internal/updater"
)

var log = logging.L("feed")

const (
	DefaultManifestName = appupdate.DefaultManifestName
	DefaultHTTPTimeout  = 5 * time.Minute
	DefaultUserAgent    = "appupdate"

	maxManifestSize = 4 << 20
	maxNotesSize    = 1 << 20
)

type fetcher interface {
	// fetch opens a feed document by its slash-separated relative name and
	// reports its size, or -1 when unknown.
	fetch(ctx context.Context, name string) (io.ReadCloser, int64, error)
	String() string
}

// Options configure a Source.
type Options struct {
	ManifestName string
	// Installed is the installed version, nil when unknown.
	Installed *version.Version
	// Installer applies the newest staged release. Apply fails without one.
	Installer *updater.Installer
	// StagingDir receives downloads. A temporary directory, removed on
	// Close, is used when empty.
	StagingDir string
	// GOOS and GOARCH select manifest entries; they default to the running platform.
	GOOS   string
	GOARCH string

	// Remote feeds only.
	Client    *http.Client
	Retry     httputil.RetryConfig
	UserAgent string
}

func (o Options) userAgent() string {
	if o.UserAgent != "" {
		return o.UserAgent
	}
	return DefaultUserAgent
}

type stagedRelease struct {
	release appupdate.Release
	path    string
}

// Source is an appupdate.Source over a feed. Not safe for concurrent use.
type Source struct {
	fetcher fetcher
	opts    Options

	manifest    *Manifest
	pending     []appupdate.Release
	staged      []stagedRelease
	stagingDir  string
	ownsStaging bool
}

var _ appupdate.Source = (*Source)(nil)

func newSource(f fetcher, opts Options) *Source {
	if opts.ManifestName == "" {
		opts.ManifestName = DefaultManifestName
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.GOARCH == "" {
		opts.GOARCH = runtime.GOARCH
	}
	return &Source{fetcher: f, opts: opts}
}

// CheckForUpdate reads the manifest and lists the releases newer than the
// installed version.
func (s *Source) CheckForUpdate(ctx context.Context) (*appupdate.UpdateInfo, error) {
	m, err := s.loadManifest(ctx)
	if err != nil {
		return nil, err
	}
	s.manifest = m
	s.pending = m.Pending(s.opts.Installed, s.opts.GOOS, s.opts.GOARCH)

	info := &appupdate.UpdateInfo{
		CurrentVersion:  s.opts.Installed,
		FutureVersion:   s.opts.Installed,
		PendingReleases: s.pending,
	}
	if n := len(s.pending); n > 0 {
		info.FutureVersion = s.pending[n-1].Version
	}

	log.Debug("feed checked",
		"feed", s.fetcher.String(),
		"app", m.App,
		"releases", len(m.Releases),
		"pending", len(s.pending),
	)
	return info, nil
}

func (s *Source) loadManifest(ctx context.Context) (*Manifest, error) {
	rc, _, err := s.fetcher.fetch(ctx, s.opts.ManifestName)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w in %s: %w", ErrManifestNotFound, s.fetcher, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Download stages every release, verifying sizes and checksums. Progress is
// aggregated over all files.
func (s *Source) Download(ctx context.Context, releases []appupdate.Release, onPercent appupdate.PercentFunc) error {
	dir, err := s.ensureStaging()
	if err != nil {
		return err
	}

	m := &meter{onPercent: onPercent, files: len(releases)}
	for _, r := range releases {
		if r.Size <= 0 {
			m.total = 0
			break
		}
		m.total += r.Size
	}

	s.staged = s.staged[:0]
	for _, r := range releases {
		p, err := s.stage(ctx, dir, r, m)
		if err != nil {
			return err
		}
		s.staged = append(s.staged, stagedRelease{release: r, path: p})
	}
	m.report(100)
	return nil
}

func (s *Source) stage(ctx context.Context, dir string, r appupdate.Release, m *meter) (string, error) {
	rc, size, err := s.fetcher.fetch(ctx, r.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to fetch release %s: %w", r.Version, err)
	}
	defer rc.Close()

	if r.Size > 0 {
		size = r.Size
	}

	dst := filepath.Join(dir, fmt.Sprintf("%s-%s", r.Version, path.Base(r.Filename)))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	written, err := io.Copy(f, &meteredReader{ctx: ctx, r: rc, size: size, meter: m})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to download release %s: %w", r.Version, err)
	}
	if r.Size > 0 && written != r.Size {
		os.Remove(dst)
		return "", fmt.Errorf("release %s: expected %d bytes, got %d", r.Version, r.Size, written)
	}
	if r.SHA256 != "" {
		if err := updater.VerifyChecksum(dst, r.SHA256); err != nil {
			os.Remove(dst)
			return "", fmt.Errorf("release %s: %w", r.Version, err)
		}
	}

	m.fileDone(written)
	log.Debug("release staged", "version", r.Version.String(), "path", dst, "bytes", written)
	return dst, nil
}

func (s *Source) ensureStaging() (string, error) {
	if s.stagingDir != "" {
		return s.stagingDir, nil
	}
	if s.opts.StagingDir != "" {
		if err := os.MkdirAll(s.opts.StagingDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create staging directory: %w", err)
		}
		s.stagingDir = s.opts.StagingDir
		return s.stagingDir, nil
	}

	dir, err := os.MkdirTemp("", "appupdate-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	s.stagingDir = dir
	s.ownsStaging = true
	return dir, nil
}

// Apply installs the newest staged release.
func (s *Source) Apply(ctx context.Context, onPercent appupdate.PercentFunc) error {
	if s.opts.Installer == nil {
		return fmt.Errorf("no installer configured")
	}
	if len(s.staged) == 0 {
		return fmt.Errorf("no release staged")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	latest := s.staged[len(s.staged)-1]
	sum := latest.release.SHA256
	if sum == "" {
		var err error
		if sum, err = updater.FileChecksum(latest.path); err != nil {
			return err
		}
	}
	return s.opts.Installer.Install(latest.path, sum, onPercent)
}

// FetchReleaseNotes reads the notes documents of the pending releases,
// oldest first. Releases without a document, or whose document is missing,
// are left out.
func (s *Source) FetchReleaseNotes(ctx context.Context) ([]appupdate.RawNote, error) {
	if s.manifest == nil {
		return nil, nil
	}

	files := s.manifest.notesFiles(s.opts.GOOS, s.opts.GOARCH)
	var notes []appupdate.RawNote
	for _, r := range s.pending {
		name := files[r.Version.String()]
		if name == "" {
			continue
		}
		text, err := s.readNotes(ctx, name)
		if errors.Is(err, ErrNotFound) {
			log.Warn("release notes missing", "version", r.Version.String(), "file", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		notes = append(notes, appupdate.RawNote{Version: r.Version.Original(), Text: text})
	}
	return notes, nil
}

func (s *Source) readNotes(ctx context.Context, name string) (string, error) {
	rc, _, err := s.fetcher.fetch(ctx, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxNotesSize))
	if err != nil {
		return "", fmt.Errorf("failed to read release notes %s: %w", name, err)
	}
	return string(data), nil
}

// Close removes the temporary staging directory, if one was created.
func (s *Source) Close() error {
	if !s.ownsStaging || s.stagingDir == "" {
		return nil
	}
	dir := s.stagingDir
	s.stagingDir, s.ownsStaging, s.staged = "", false, nil
	return os.RemoveAll(dir)
}
