package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/appupdate/internal/config"
	"github.com/breeze-rmm/appupdate/internal/logging"
)

var (
	version = "dev"
	cfgFile string

	updatePath string
	updateURL  string
	timeoutSec int
	background bool
	drain      bool
	restart    bool
	fake       bool
	interact   bool
	logLevel   string
	firstRun   bool
)

var rootCmd = &cobra.Command{
	Use:          "appupdate",
	Short:        "Check for and install application updates",
	Long:         `appupdate checks a local release directory and a remote release feed, downloads pending releases and installs the newest one.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("appupdate %s\n", version)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is appupdate.yaml in the config directory)")
	flags.StringVar(&updatePath, "update-path", "", "local release directory")
	flags.StringVar(&updateURL, "update-url", "", "remote release feed URL")
	flags.IntVar(&timeoutSec, "timeout", 0, "seconds to wait for a check before moving on")
	flags.BoolVar(&background, "background", false, "keep a timed-out check running in the background")
	flags.BoolVar(&drain, "drain", false, "wait for a timed-out check and report its outcome too")
	flags.BoolVar(&restart, "restart", false, "restart the application after a successful update")
	flags.BoolVar(&fake, "fake", false, "run the update flow without installing anything")
	flags.BoolVar(&interact, "interactive", false, "wait for Enter after each notification")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Passed on relaunch after an update.
	flags.BoolVar(&firstRun, "first-run-after-update", false, "")
	_ = flags.MarkHidden("first-run-after-update")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, applies flags set on cmd and starts
// logging. The returned func releases the log file, if any.
func loadConfig(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("update-path") {
		cfg.UpdatePath = updatePath
	}
	if flags.Changed("update-url") {
		cfg.UpdateURL = updateURL
	}
	if flags.Changed("timeout") {
		cfg.CheckTimeoutSeconds = timeoutSec
	}
	if flags.Changed("background") {
		cfg.BackgroundOnTimeout = background
	}
	if flags.Changed("drain") {
		cfg.DrainOnTimeout = drain
	}
	if flags.Changed("restart") {
		cfg.RestartOnSuccess = restart
	}
	if flags.Changed("fake") {
		cfg.FakeUpdate = fake
	}
	if flags.Changed("interactive") {
		cfg.Interactive = interact
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "config warning: %v\n", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config error: %v\n", f)
		}
		return nil, nil, fmt.Errorf("invalid configuration")
	}

	cleanup := func() {}
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, 10, 3)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = logging.TeeWriter(os.Stderr, rw)
		cleanup = func() { rw.Close() }
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	if firstRun {
		logging.L("main").Info("first run after update", "version", version)
	}

	return cfg, cleanup, nil
}
