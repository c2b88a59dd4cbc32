package app

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/appupdate/internal/runqueue"
)

func startWatch(t *testing.T, w *Watch) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("watch did not stop")
			return nil
		}
	}
}

func TestWatchChecksOnStartAndManifestChange(t *testing.T) {
	dir := t.TempDir()
	q := runqueue.New(1, 4)
	var checks atomic.Int32

	stop := startWatch(t, &Watch{
		Dir:      dir,
		Manifest: "RELEASES",
		Interval: time.Hour,
		Queue:    q,
		Check:    func(context.Context) { checks.Add(1) },
	})

	require.Eventually(t, func() bool { return checks.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "RELEASES"), []byte("releases: []\n"), 0o644))
	require.Eventually(t, func() bool { return checks.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)

	assert.NoError(t, stop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
}

func TestWatchInterval(t *testing.T) {
	q := runqueue.New(1, 4)
	var checks atomic.Int32

	stop := startWatch(t, &Watch{
		Interval: 10 * time.Millisecond,
		Queue:    q,
		Check:    func(context.Context) { checks.Add(1) },
	})

	require.Eventually(t, func() bool { return checks.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.NoError(t, stop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
}

func TestWatchMissingDirectory(t *testing.T) {
	w := &Watch{
		Dir:   filepath.Join(t.TempDir(), "missing"),
		Queue: runqueue.New(1, 1),
		Check: func(context.Context) {},
	}
	assert.Error(t, w.Run(context.Background()))
}

func TestWatchNeedsQueueAndCheck(t *testing.T) {
	assert.Error(t, (&Watch{}).Run(context.Background()))
}
