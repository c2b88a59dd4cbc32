package main

import (
	"context"
	"net/http"
	"os"
	"runtime"

	"github.com/breeze-rmm/appupdate/internal/app"
	"github.com/breeze-rmm/appupdate/internal/appupdate"
	"github.com/breeze-rmm/appupdate/internal/config"
	"github.com/breeze-rmm/appupdate/internal/connectivity"
	"github.com/breeze-rmm/appupdate/internal/desktop"
	"github.com/breeze-rmm/appupdate/internal/feed"
	"github.com/breeze-rmm/appupdate/internal/history"
	"github.com/breeze-rmm/appupdate/internal/httputil"
	"github.com/breeze-rmm/appupdate/internal/notify"
	"github.com/breeze-rmm/appupdate/internal/updater"
)

// openHistory opens the configured journal. Without history_file it returns
// a nil journal, which discards entries.
func openHistory(cfg *config.Config) (*history.Journal, error) {
	if cfg.HistoryFile == "" {
		return nil, nil
	}
	return history.Open(cfg.HistoryFile, cfg.HistoryMaxSizeMB, cfg.HistoryMaxBackups)
}

// newDriver builds a Driver with the real feeds, installer and notifiers.
func newDriver(cfg *config.Config, journal *history.Journal) *app.Driver {
	installer := updater.New(&updater.Config{TargetPath: cfg.TargetPath})
	restarter := &updater.Restarter{ServiceName: cfg.ServiceName, Args: os.Args[1:]}
	client := &http.Client{Timeout: feed.DefaultHTTPTimeout}

	feedOpts := func() feed.Options {
		return feed.Options{
			ManifestName: cfg.ManifestName,
			Installed:    feed.DetectInstallation(cfg.TargetPath, cfg.CurrentVersion),
			Installer:    installer,
			StagingDir:   cfg.StagingDir,
			GOOS:         runtime.GOOS,
			GOARCH:       runtime.GOARCH,
			Client:       client,
			Retry:        httputil.DefaultRetryConfig(),
			UserAgent:    "appupdate/" + version,
		}
	}

	probe := connectivity.Probe(client, connectivity.DefaultMaxElapsed)
	if cfg.ProbeURL != "" {
		checker := &connectivity.Checker{URL: cfg.ProbeURL, Client: client}
		probe = func(ctx context.Context, _ string) error {
			return checker.Check(ctx)
		}
	}

	var notifier desktop.Notifier = &desktop.Console{
		Out:         os.Stdout,
		In:          os.Stdin,
		Interactive: cfg.Interactive,
	}
	if cfg.DesktopNotifications {
		notifier = desktop.Fallback{&desktop.System{}, notifier}
	}

	return app.New(app.Options{
		UpdatePath:       cfg.UpdatePath,
		UpdateURL:        cfg.UpdateURL,
		Timeout:          cfg.CheckTimeout(),
		Background:       cfg.BackgroundOnTimeout,
		Drain:            cfg.DrainOnTimeout,
		RestartOnSuccess: cfg.RestartOnSuccess,
		ManifestName:     cfg.ManifestName,
		Fake:             cfg.FakeUpdate,
		FakeDelay:        cfg.FakeDelay(),
	}, app.Deps{
		OpenLocal: func(dir string) (appupdate.Source, error) {
			return asSource(feed.OpenLocal(dir, feedOpts()))
		},
		OpenRemote: func(_ context.Context, url string) (appupdate.Source, error) {
			return asSource(feed.OpenRemote(url, feedOpts()))
		},
		Probe:    probe,
		Restart:  restarter.Restart,
		Notifier: notifier,
		Queue:    notify.NewQueue(cfg.NotifyInterval()),
		History:  journal,
		Out:      os.Stdout,
	})
}

// asSource keeps a failed open from yielding a non-nil interface.
func asSource(src *feed.Source, err error) (appupdate.Source, error) {
	if err != nil {
		return nil, err
	}
	return src, nil
}
