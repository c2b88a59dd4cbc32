package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/appupdate/internal/app"
	"github.com/breeze-rmm/appupdate/internal/logging"
	"github.com/breeze-rmm/appupdate/internal/runqueue"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check for updates on an interval and whenever the local manifest changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cleanup, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if cfg.UpdatePath == "" && cfg.UpdateURL == "" {
			return fmt.Errorf("no update location configured")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		journal, err := openHistory(cfg)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer journal.Close()

		driver := newDriver(cfg, journal)
		queue := runqueue.New(1, 1)
		log := logging.L("main")

		w := &app.Watch{
			Dir:      cfg.UpdatePath,
			Manifest: cfg.ManifestName,
			Interval: cfg.WatchInterval(),
			Queue:    queue,
			Check: func(ctx context.Context) {
				driver.CheckForUpdates(ctx)
				if err := driver.Wait(ctx); err != nil {
					log.Warn("check interrupted", logging.KeyError, err)
				}
				log.Info("check finished", "status", driver.Health().Overall())
			},
		}

		log.Info("watching for updates",
			"updatePath", cfg.UpdatePath,
			"updateUrl", cfg.UpdateURL,
			"interval", cfg.WatchInterval(),
		)
		runErr := w.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		queue.Shutdown(shutdownCtx)
		return runErr
	},
}
