// Package config loads the SDK's own settings: defaults, then a
// .faultline.yaml file, then FAULTLINE_* environment variables. The host
// application's configuration system is none of our business; embedding
// code can also skip this entirely and fill the public Options directly.
package config

import (
	"fmt"
	"time"
)

// Config is everything the pipeline reads from configuration.
type Config struct {
	CacheDir              string        `mapstructure:"cache_dir"`
	MaxEnvelopes          int           `mapstructure:"max_envelopes"`
	Release               string        `mapstructure:"release"`
	Environment           string        `mapstructure:"environment"`
	StartupCrashThreshold time.Duration `mapstructure:"startup_crash_threshold"`

	Session  SessionConfig  `mapstructure:"session"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Flush    FlushConfig    `mapstructure:"flush"`
	Scrub    ScrubConfig    `mapstructure:"scrub"`
	Log      LogConfig      `mapstructure:"log"`
}

// SessionConfig tunes session lifecycle tracking.
type SessionConfig struct {
	// Gap is the inactivity interval after which new activity starts a
	// fresh session.
	Gap time.Duration `mapstructure:"gap"`
}

// WatchdogConfig tunes the responsiveness watchdog.
type WatchdogConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	Timeout              time.Duration `mapstructure:"timeout"`
	ReportWhileDebugging bool          `mapstructure:"report_while_debugging"`

	// AssumeStalledOnProbeError keeps the conservative bias: an
	// unanswerable OS query counts as confirmation.
	AssumeStalledOnProbeError bool `mapstructure:"assume_stalled_on_probe_error"`
}

// FlushConfig bounds the durability wait on the crashing goroutine.
type FlushConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`

	// StartupTimeout applies when the launch follows a startup crash or
	// the fault lands inside the startup window; those reports are worth
	// waiting longer for.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

// ScrubConfig extends the secret redaction patterns.
type ScrubConfig struct {
	Patterns []string `mapstructure:"patterns"`
}

// LogConfig selects the SDK logger's level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MaxEnvelopes <= 0 {
		return fmt.Errorf("max_envelopes must be positive, got %d", c.MaxEnvelopes)
	}
	if c.Session.Gap <= 0 {
		return fmt.Errorf("session.gap must be positive, got %v", c.Session.Gap)
	}
	if c.Watchdog.PollInterval <= 0 {
		return fmt.Errorf("watchdog.poll_interval must be positive, got %v", c.Watchdog.PollInterval)
	}
	if c.Watchdog.Timeout < c.Watchdog.PollInterval {
		return fmt.Errorf("watchdog.timeout %v shorter than poll_interval %v",
			c.Watchdog.Timeout, c.Watchdog.PollInterval)
	}
	if c.Flush.Timeout <= 0 || c.Flush.StartupTimeout <= 0 {
		return fmt.Errorf("flush timeouts must be positive, got %v and %v",
			c.Flush.Timeout, c.Flush.StartupTimeout)
	}
	if c.StartupCrashThreshold < 0 {
		return fmt.Errorf("startup_crash_threshold must not be negative, got %v", c.StartupCrashThreshold)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
