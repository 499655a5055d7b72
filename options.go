package faultline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/config"
)

// Default tunables. Each one can be overridden per Options field or via
// the .faultline.yaml / FAULTLINE_* configuration surface.
const (
	DefaultMaxEnvelopes          = 30
	DefaultSessionGap            = 30 * time.Second
	DefaultStartupCrashThreshold = 2 * time.Second
	DefaultFlushTimeout          = 2 * time.Second
	DefaultStartupFlushTimeout   = 5 * time.Second
	DefaultWatchdogPollInterval  = 500 * time.Millisecond
	DefaultWatchdogTimeout       = 5 * time.Second
	DefaultBreadcrumbLimit       = 100
)

// WatchdogOptions tunes the responsiveness watchdog.
type WatchdogOptions struct {
	// Enabled starts the watchdog loop with the monitor. Off by zero
	// value; most embedders want it on.
	Enabled bool

	PollInterval time.Duration
	Timeout      time.Duration

	// MainContext posts a closure into the execution context being
	// watched, typically the host application's main loop. When nil the
	// watchdog observes Go scheduler liveness instead.
	MainContext func(func())

	// ReportWhileDebugging keeps stall reports coming with a debugger
	// attached.
	ReportWhileDebugging bool

	// AssumeStalledOnProbeError treats an unanswerable OS liveness query
	// as confirmation of the stall. Defaults to true; set
	// AssumeStalledOnProbeErrorSet to override it to false.
	AssumeStalledOnProbeError    bool
	AssumeStalledOnProbeErrorSet bool
}

// Options configures a Monitor. The zero value plus a CacheDir is a
// working configuration.
type Options struct {
	// CacheDir is the durable storage directory. Required.
	CacheDir string

	// MaxEnvelopes bounds the number of undelivered envelope files.
	MaxEnvelopes int

	// Release and Environment tag every captured record.
	Release     string
	Environment string

	// SessionGap is the inactivity interval after which Touch starts a
	// fresh session.
	SessionGap time.Duration

	// StartupCrashThreshold classifies fatals this close to Start as
	// startup crashes.
	StartupCrashThreshold time.Duration

	// FlushTimeout bounds the crashing goroutine's wait for durability;
	// StartupFlushTimeout applies instead when this launch follows a
	// startup crash or the fault lands inside the startup window.
	FlushTimeout        time.Duration
	StartupFlushTimeout time.Duration

	Watchdog WatchdogOptions

	// ScrubPatterns adds regular expressions to the secret redaction
	// pass.
	ScrubPatterns []string

	// BreadcrumbLimit caps the scope's breadcrumb ring.
	BreadcrumbLimit int

	// Transport delivers stored envelopes. Nil disables the delivery
	// spool; envelopes accumulate until a later process supplies one.
	Transport Transport

	// OnFatal is the previously-installed fatal handler. After the
	// pipeline and the bounded flush complete, the panic trap calls it
	// instead of re-panicking with the original value.
	OnFatal func(rec *event.Record, v any)

	// SetPanicOnFault makes memory faults on this goroutine surface as
	// trappable panics (runtime/debug.SetPanicOnFault).
	SetPanicOnFault bool

	// Logger receives the SDK's own diagnostics. Nil builds one from
	// LogLevel and LogFormat.
	Logger    *slog.Logger
	LogLevel  string
	LogFormat string

	// MetricsRegisterer, when set, gets the pipeline counters.
	MetricsRegisterer prometheus.Registerer

	// Clock is injectable for tests.
	Clock clock.Clock
}

// setDefaults fills zero fields in place.
func (o *Options) setDefaults() {
	if o.MaxEnvelopes <= 0 {
		o.MaxEnvelopes = DefaultMaxEnvelopes
	}
	if o.SessionGap <= 0 {
		o.SessionGap = DefaultSessionGap
	}
	if o.StartupCrashThreshold <= 0 {
		o.StartupCrashThreshold = DefaultStartupCrashThreshold
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}
	if o.StartupFlushTimeout <= 0 {
		o.StartupFlushTimeout = DefaultStartupFlushTimeout
	}
	if o.Watchdog.PollInterval <= 0 {
		o.Watchdog.PollInterval = DefaultWatchdogPollInterval
	}
	if o.Watchdog.Timeout <= 0 {
		o.Watchdog.Timeout = DefaultWatchdogTimeout
	}
	if !o.Watchdog.AssumeStalledOnProbeErrorSet {
		o.Watchdog.AssumeStalledOnProbeError = true
	}
	if o.BreadcrumbLimit <= 0 {
		o.BreadcrumbLimit = DefaultBreadcrumbLimit
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.LogFormat == "" {
		o.LogFormat = "auto"
	}
}

// validate rejects options the monitor cannot run with.
func (o *Options) validate() error {
	if o.CacheDir == "" {
		return errors.New("faultline: CacheDir is required")
	}
	if o.Watchdog.Timeout < o.Watchdog.PollInterval {
		return fmt.Errorf("faultline: watchdog timeout %v shorter than poll interval %v",
			o.Watchdog.Timeout, o.Watchdog.PollInterval)
	}
	return nil
}

// LoadOptions builds Options from the SDK configuration surface:
// defaults, .faultline.yaml, FAULTLINE_* environment. configFile may be
// empty to use the search path.
func LoadOptions(configFile string) (Options, error) {
	loader := config.NewLoader()
	if configFile != "" {
		loader = loader.WithConfigFile(configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return Options{}, fmt.Errorf("faultline: load config: %w", err)
	}
	return optionsFromConfig(cfg), nil
}

func optionsFromConfig(cfg *config.Config) Options {
	return Options{
		CacheDir:              cfg.CacheDir,
		MaxEnvelopes:          cfg.MaxEnvelopes,
		Release:               cfg.Release,
		Environment:           cfg.Environment,
		SessionGap:            cfg.Session.Gap,
		StartupCrashThreshold: cfg.StartupCrashThreshold,
		FlushTimeout:          cfg.Flush.Timeout,
		StartupFlushTimeout:   cfg.Flush.StartupTimeout,
		Watchdog: WatchdogOptions{
			Enabled:                      cfg.Watchdog.Enabled,
			PollInterval:                 cfg.Watchdog.PollInterval,
			Timeout:                      cfg.Watchdog.Timeout,
			ReportWhileDebugging:         cfg.Watchdog.ReportWhileDebugging,
			AssumeStalledOnProbeError:    cfg.Watchdog.AssumeStalledOnProbeError,
			AssumeStalledOnProbeErrorSet: true,
		},
		ScrubPatterns: cfg.Scrub.Patterns,
		LogLevel:      cfg.Log.Level,
		LogFormat:     cfg.Log.Format,
	}
}
