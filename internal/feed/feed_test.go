package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/appupdate/internal/appupdate"
	"github.com/breeze-rmm/appupdate/internal/updater"
)

func sum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// writeFeed lays out a feed with releases 0.9.0, 1.1.0 and 1.2.0 for linux
// and a 2.0.0 release for windows only.
func writeFeed(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"app-0.9.0.bin":   "release 0.9.0",
		"app-1.1.0.bin":   "release 1.1.0",
		"app-1.2.0.bin":   "release 1.2.0",
		"app-2.0.0.exe":   "release 2.0.0",
		"notes/1.2.0.htm": "<![CDATA[<p>Signed packages</p><p>Smaller installer</p>]]>",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	manifest := fmt.Sprintf(`app: example
releases:
  - version: 1.2.0
    file: app-1.2.0.bin
    sha256: %s
    os: linux
    notes_file: notes/1.2.0.htm
  - version: 0.9.0
    file: app-0.9.0.bin
  - version: 1.1.0
    file: app-1.1.0.bin
    sha256: %s
    size: %d
    notes: "<p>Faster startup</p>"
  - version: 2.0.0
    file: app-2.0.0.exe
    os: windows
`, sum("release 1.2.0"), sum("release 1.1.0"), len("release 1.1.0"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultManifestName), []byte(manifest), 0o644))
}

func versionStrings(releases []appupdate.Release) []string {
	var out []string
	for _, r := range releases {
		out = append(out, r.Version.String())
	}
	return out
}

func localOptions(t *testing.T, target string) Options {
	t.Helper()
	return Options{
		Installed:  version.Must(version.NewVersion("1.0.0")),
		Installer:  updater.New(&updater.Config{TargetPath: target}),
		StagingDir: filepath.Join(t.TempDir(), "staging"),
		GOOS:       "linux",
		GOARCH:     "amd64",
	}
}

func TestLocalSourceFullRun(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)
	target := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(target, []byte("release 1.0.0"), 0o755))

	src, err := OpenLocal(feedDir, localOptions(t, target))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	info, err := src.CheckForUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", info.CurrentVersion.String())
	assert.Equal(t, "1.2.0", info.FutureVersion.String())
	assert.Equal(t, []string{"1.1.0", "1.2.0"}, versionStrings(info.PendingReleases))

	var ticks []int
	require.NoError(t, src.Download(ctx, info.PendingReleases, func(p int) { ticks = append(ticks, p) }))
	require.NotEmpty(t, ticks)
	assert.True(t, slices.IsSorted(ticks))
	assert.Len(t, slices.Compact(slices.Clone(ticks)), len(ticks), "ticks must not repeat")
	assert.Equal(t, 100, ticks[len(ticks)-1])

	notes, err := src.FetchReleaseNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "1.2.0", notes[0].Version)
	assert.Contains(t, notes[0].Text, "Signed packages")

	require.NoError(t, src.Apply(ctx, nil))
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "release 1.2.0", string(content))
}

func TestLocalSourceWithOrchestrator(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)
	target := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(target, []byte("release 1.0.0"), 0o755))

	var notes []appupdate.ReleaseNote
	o := appupdate.New(appupdate.Config{
		OpenLocal: func(dir string) (appupdate.Source, error) {
			return OpenLocal(dir, localOptions(t, target))
		},
		Hooks: appupdate.Hooks{OnReleaseNotes: func(n []appupdate.ReleaseNote) { notes = n }},
	})

	var lines []string
	ok, err := o.CheckLocal(context.Background(), feedDir, func(s string) { lines = append(lines, s) }, nil, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, appupdate.StateDone, o.State())
	assert.Equal(t, []appupdate.ReleaseNote{{Version: "1.2.0", Notes: "Signed packages; Smaller installer;"}}, notes)
	assert.Equal(t, "Update completed successfully", lines[len(lines)-1])
}

func TestLocalSourceNothingPending(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)

	opts := localOptions(t, "")
	opts.Installed = version.Must(version.NewVersion("1.2.0"))
	src, err := OpenLocal(feedDir, opts)
	require.NoError(t, err)

	info, err := src.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, info.PendingReleases)
	assert.Equal(t, "1.2.0", info.FutureVersion.String())
}

func TestLocalSourceUnknownInstallListsEverything(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)

	opts := localOptions(t, "")
	opts.Installed = nil
	src, err := OpenLocal(feedDir, opts)
	require.NoError(t, err)

	info, err := src.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info.CurrentVersion)
	assert.Equal(t, []string{"0.9.0", "1.1.0", "1.2.0"}, versionStrings(info.PendingReleases))
}

func TestDownloadChecksumMismatch(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)
	require.NoError(t, os.WriteFile(filepath.Join(feedDir, "app-1.2.0.bin"), []byte("tampered"), 0o644))

	src, err := OpenLocal(feedDir, localOptions(t, ""))
	require.NoError(t, err)
	info, err := src.CheckForUpdate(context.Background())
	require.NoError(t, err)

	err = src.Download(context.Background(), info.PendingReleases, nil)
	var csErr *updater.ChecksumError
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, sum("release 1.2.0"), csErr.Expected)
}

func TestDownloadSizeMismatch(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)

	src, err := OpenLocal(feedDir, localOptions(t, ""))
	require.NoError(t, err)
	info, err := src.CheckForUpdate(context.Background())
	require.NoError(t, err)

	releases := slices.Clone(info.PendingReleases)
	releases[0].Size = 3
	releases[0].SHA256 = ""
	err = src.Download(context.Background(), releases, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 3 bytes")
}

func TestDownloadStopsOnCancelledContext(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)

	src, err := OpenLocal(feedDir, localOptions(t, ""))
	require.NoError(t, err)
	info, err := src.CheckForUpdate(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = src.Download(ctx, info.PendingReleases, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplyWithoutStagedRelease(t *testing.T) {
	src, err := OpenLocal(t.TempDir(), localOptions(t, ""))
	require.NoError(t, err)
	assert.Error(t, src.Apply(context.Background(), nil))

	src.opts.Installer = nil
	assert.Error(t, src.Apply(context.Background(), nil))
}

func TestMissingManifest(t *testing.T) {
	src, err := OpenLocal(t.TempDir(), Options{})
	require.NoError(t, err)

	_, err = src.CheckForUpdate(context.Background())
	assert.ErrorIs(t, err, ErrManifestNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenLocalRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "RELEASES")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := OpenLocal(file, Options{})
	assert.Error(t, err)
}

func TestDirFetcherRejectsEscapingPaths(t *testing.T) {
	f := &dirFetcher{root: t.TempDir()}
	_, _, err := f.fetch(context.Background(), "../outside")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestTemporaryStagingRemovedOnClose(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)

	opts := localOptions(t, "")
	opts.StagingDir = ""
	src, err := OpenLocal(feedDir, opts)
	require.NoError(t, err)

	info, err := src.CheckForUpdate(context.Background())
	require.NoError(t, err)
	require.NoError(t, src.Download(context.Background(), info.PendingReleases, nil))

	staging := src.stagingDir
	require.DirExists(t, staging)
	require.NoError(t, src.Close())
	assert.NoDirExists(t, staging)
}

func TestRemoteSource(t *testing.T) {
	feedDir := t.TempDir()
	writeFeed(t, feedDir)

	var (
		mu     sync.Mutex
		agents []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		http.ServeFile(w, r, filepath.Join(feedDir, filepath.FromSlash(strings.TrimPrefix(r.URL.Path, "/feed/"))))
	}))
	defer server.Close()

	opts := localOptions(t, "")
	opts.Client = server.Client()
	opts.UserAgent = "appupdate-test/1.0"
	src, err := OpenRemote(server.URL+"/feed", opts)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	info, err := src.CheckForUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.0", "1.2.0"}, versionStrings(info.PendingReleases))

	require.NoError(t, src.Download(ctx, info.PendingReleases, nil))
	notes, err := src.FetchReleaseNotes(ctx)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, agents)
	for _, a := range agents {
		assert.Equal(t, "appupdate-test/1.0", a)
	}
}

func TestRemoteMissingManifest(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	src, err := OpenRemote(server.URL, Options{Client: server.Client()})
	require.NoError(t, err)

	_, err = src.CheckForUpdate(context.Background())
	assert.ErrorIs(t, err, ErrManifestNotFound)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestOpenRemoteValidatesURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com/feed", "http://", "::bad"} {
		_, err := OpenRemote(raw, Options{})
		assert.Error(t, err, raw)
	}
}

func TestParseManifestValidation(t *testing.T) {
	_, err := ParseManifest([]byte("releases:\n  - file: a.bin\n"))
	assert.ErrorContains(t, err, "missing version")

	_, err = ParseManifest([]byte("releases:\n  - version: 1.0.0\n"))
	assert.ErrorContains(t, err, "missing file")

	_, err = ParseManifest([]byte("releases:\n  - version: not.a.version!\n    file: a\n"))
	assert.Error(t, err)

	_, err = ParseManifest([]byte("releases: [\n"))
	assert.Error(t, err)
}

func TestManifestPendingDeduplicates(t *testing.T) {
	m := &Manifest{Releases: []Entry{
		{Version: "1.1.0", File: "first.bin"},
		{Version: "1.1", File: "second.bin"},
		{Version: "bogus", File: "x"},
	}}

	pending := m.Pending(nil, "linux", "amd64")
	require.Len(t, pending, 1)
	assert.Equal(t, "first.bin", pending[0].Filename)
}

func TestDetectInstallation(t *testing.T) {
	target := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o755))

	assert.Equal(t, "1.4.2", DetectInstallation(target, "v1.4.2").String())
	assert.Nil(t, DetectInstallation(target, "dev"))
	assert.Nil(t, DetectInstallation(target, ""))
	assert.Nil(t, DetectInstallation(filepath.Join(t.TempDir(), "missing"), "1.0.0"))
	assert.Nil(t, DetectInstallation("", "1.0.0"))
}

func TestMeterDeduplicatesAndClamps(t *testing.T) {
	var ticks []int
	m := &meter{onPercent: func(p int) { ticks = append(ticks, p) }, files: 2}

	m.progress(5, 10)
	m.progress(5, 10)
	m.fileDone(10)
	m.progress(10, 10)
	m.report(150)

	assert.Equal(t, []int{25, 50, 100}, ticks)
}
