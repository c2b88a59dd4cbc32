package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Feed locations. A local directory is tried before the remote URL.
	UpdatePath   string `mapstructure:"update_path"`
	UpdateURL    string `mapstructure:"update_url"`
	ProbeURL     string `mapstructure:"probe_url"`
	ManifestName string `mapstructure:"manifest_name"`

	CheckTimeoutSeconds  int  `mapstructure:"check_timeout_seconds"`
	BackgroundOnTimeout  bool `mapstructure:"background_on_timeout"`
	DrainOnTimeout       bool `mapstructure:"drain_on_timeout"`
	RestartOnSuccess     bool `mapstructure:"restart_on_success"`
	FakeUpdate           bool `mapstructure:"fake_update"`
	FakeDelayMs          int  `mapstructure:"fake_delay_ms"`
	NotifyIntervalMs     int  `mapstructure:"notify_interval_ms"`
	Interactive          bool `mapstructure:"interactive"`
	DesktopNotifications bool `mapstructure:"desktop_notifications"`
	WatchIntervalSeconds int  `mapstructure:"watch_interval_seconds"`

	// Installation being updated.
	TargetPath     string `mapstructure:"target_path"`
	CurrentVersion string `mapstructure:"current_version"`
	StagingDir     string `mapstructure:"staging_dir"`
	ServiceName    string `mapstructure:"service_name"`

	// HistoryFile, if set, receives a hash-chained journal of every check.
	HistoryFile       string `mapstructure:"history_file"`
	HistoryMaxSizeMB  int    `mapstructure:"history_max_size_mb"`
	HistoryMaxBackups int    `mapstructure:"history_max_backups"`

	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`
}

func Default() *Config {
	return &Config{
		ManifestName:         "RELEASES",
		CheckTimeoutSeconds:  10,
		FakeDelayMs:          1000,
		NotifyIntervalMs:     500,
		WatchIntervalSeconds: 300,
		HistoryMaxSizeMB:     10,
		HistoryMaxBackups:    3,
		LogFormat:            "text",
		LogLevel:             "info",
	}
}

// Load reads cfgFile, or appupdate.yaml from the config directory or the
// working directory, on top of the defaults. APPUPDATE_* environment
// variables override file values. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("appupdate")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("APPUPDATE")
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnv registers every key so AutomaticEnv also applies to keys absent
// from the file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"update_path", "update_url", "probe_url", "manifest_name",
		"check_timeout_seconds", "background_on_timeout", "drain_on_timeout",
		"restart_on_success", "fake_update", "fake_delay_ms", "notify_interval_ms",
		"interactive", "desktop_notifications", "watch_interval_seconds",
		"target_path", "current_version", "staging_dir", "service_name",
		"history_file", "history_max_size_mb", "history_max_backups",
		"log_format", "log_level", "log_file",
	} {
		_ = v.BindEnv(key)
	}
}

func (c *Config) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutSeconds) * time.Second
}

func (c *Config) FakeDelay() time.Duration {
	return time.Duration(c.FakeDelayMs) * time.Millisecond
}

func (c *Config) NotifyInterval() time.Duration {
	return time.Duration(c.NotifyIntervalMs) * time.Millisecond
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalSeconds) * time.Second
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "AppUpdate")
	case "darwin":
		return "/Library/Application Support/AppUpdate"
	default:
		return "/etc/appupdate"
	}
}
