package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/appupdate/internal/health"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the configured feeds once and install the newest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cleanup, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		journal, err := openHistory(cfg)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer journal.Close()

		driver := newDriver(cfg, journal)
		driver.CheckForUpdates(ctx)
		if err := driver.Wait(ctx); err != nil {
			return fmt.Errorf("interrupted while waiting for updates: %w", err)
		}

		summary := driver.Health().Summary()
		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
		}
		if summary.Status == health.Unhealthy {
			return fmt.Errorf("update check failed")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the health summary as JSON")
}
