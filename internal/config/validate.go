package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must stop startup from values that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// All returns fatals followed by warnings.
func (r ValidationResult) All() []error {
	return append(append([]error{}, r.Fatals...), r.Warnings...)
}

// Validate checks the config and returns every problem found. Out-of-range
// numbers are clamped to safe values. Problems are logged as warnings.
func (c *Config) Validate() []error {
	errs := c.ValidateTiered().All()
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}
	return errs
}

// ValidateTiered is Validate without logging, split by severity.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	for _, u := range []struct{ key, value string }{
		{"update_url", c.UpdateURL},
		{"probe_url", c.ProbeURL},
	} {
		if err := checkHTTPURL(u.key, u.value); err != nil {
			r.Fatals = append(r.Fatals, err)
		}
	}

	if strings.ContainsAny(c.ManifestName, `/\`) {
		r.Fatals = append(r.Fatals, fmt.Errorf("manifest_name %q must be a file name, not a path", c.ManifestName))
	}
	if c.ManifestName == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("manifest_name is empty, using RELEASES"))
		c.ManifestName = "RELEASES"
	}

	if c.BackgroundOnTimeout && c.DrainOnTimeout {
		r.Fatals = append(r.Fatals, fmt.Errorf("background_on_timeout and drain_on_timeout are mutually exclusive"))
	}

	c.CheckTimeoutSeconds = clamp(&r, "check_timeout_seconds", c.CheckTimeoutSeconds, 1, 3600)
	c.FakeDelayMs = clamp(&r, "fake_delay_ms", c.FakeDelayMs, 0, 60000)
	c.NotifyIntervalMs = clamp(&r, "notify_interval_ms", c.NotifyIntervalMs, 10, 60000)
	c.WatchIntervalSeconds = clamp(&r, "watch_interval_seconds", c.WatchIntervalSeconds, 10, 86400)
	c.HistoryMaxSizeMB = clamp(&r, "history_max_size_mb", c.HistoryMaxSizeMB, 1, 1024)
	c.HistoryMaxBackups = clamp(&r, "history_max_backups", c.HistoryMaxBackups, 1, 20)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

func checkHTTPURL(key, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid URL: %w", key, value, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got %q", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host", key, value)
	}
	return nil
}

func clamp(r *ValidationResult, key string, value, lo, hi int) int {
	switch {
	case value < lo:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, value, lo))
		return lo
	case value > hi:
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, value, hi))
		return hi
	}
	return value
}
