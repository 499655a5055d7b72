// Package watchdog detects main-loop stalls. A background loop posts a
// heartbeat closure into the application's main execution context on
// every poll tick; when no heartbeat has landed for longer than the
// timeout, the stall is verified against the OS view of the process and
// reported exactly once per episode.
package watchdog

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/stacktrace"
)

const (
	// DefaultPollInterval is how often the watchdog posts a heartbeat
	// and checks the last acknowledgment.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultTimeout is the unacknowledged span after which the main
	// loop counts as stalled.
	DefaultTimeout = 5 * time.Second

	// Mechanism tags unresponsiveness records produced here.
	Mechanism = "watchdog"
)

// Config tunes one watchdog instance.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration

	// MainContext posts a closure into the execution context being
	// watched. When nil, heartbeats run on fresh goroutines, which
	// watches Go scheduler liveness instead of an application loop.
	MainContext func(func())

	// OnStall receives the confirmed stall: the raw goroutine dump,
	// the parsed snapshot with the main goroutine marked faulting, and
	// the detection time.
	OnStall func(dump []byte, threads []event.Thread, at time.Time)

	// ReportWhileDebugging keeps the watchdog reporting even with a
	// debugger attached. Normally a paused process is not a stall.
	ReportWhileDebugging bool

	// AssumeStalledOnProbeError treats an unanswerable OS query as
	// confirmation. Losing the probe must not hide a real stall.
	AssumeStalledOnProbeError bool

	// DebugProbe overrides debugger detection, for tests.
	DebugProbe func() bool
}

// Watchdog is the stall detector.
type Watchdog struct {
	cfg       Config
	clk       clock.Clock
	logger    *logging.Logger
	collector *metrics.Collector
	prober    Prober
	pid       int

	lastAck  atomic.Int64 // unix nanos of the newest heartbeat
	reported atomic.Bool  // one report per episode
	stopped  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a watchdog. Zero durations fall back to the defaults; a
// nil prober gets the OS status probe.
func New(cfg Config, clk clock.Clock, prober Prober, logger *logging.Logger, collector *metrics.Collector) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MainContext == nil {
		cfg.MainContext = func(f func()) { go f() }
	}
	if cfg.DebugProbe == nil {
		cfg.DebugProbe = debuggerAttached
	}
	if clk == nil {
		clk = clock.New()
	}
	if prober == nil {
		prober = NewStatusProber()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watchdog{
		cfg:       cfg,
		clk:       clk,
		logger:    logger.WithDetector("watchdog"),
		collector: collector,
		prober:    prober,
		pid:       os.Getpid(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the poll loop. The first timeout window begins now.
func (w *Watchdog) Start() {
	w.lastAck.Store(w.clk.Now().UnixNano())
	go w.loop()
}

// Stop terminates the loop and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stopCh)
	}
	<-w.doneCh
}

// Ack records a heartbeat. Exposed so hosts with their own scheduling
// can acknowledge directly instead of through MainContext.
func (w *Watchdog) Ack() {
	w.lastAck.Store(w.clk.Now().UnixNano())
}

func (w *Watchdog) loop() {
	defer close(w.doneCh)

	ticker := w.clk.Ticker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	w.cfg.MainContext(w.Ack)

	now := w.clk.Now()
	lag := now.Sub(time.Unix(0, w.lastAck.Load()))

	if lag <= w.cfg.Timeout {
		// Heartbeats are flowing again; arm the next episode.
		if w.reported.CompareAndSwap(true, false) {
			w.logger.Info("main loop recovered", "lag", lag)
		}
		return
	}

	if w.reported.Load() {
		return
	}

	if w.cfg.DebugProbe() && !w.cfg.ReportWhileDebugging {
		w.logger.Debug("stall ignored, debugger attached", "lag", lag)
		return
	}

	if !w.verify() {
		return
	}

	w.reported.Store(true)
	w.collector.StallConfirmed()
	w.logger.Warn("main loop unresponsive", "lag", lag, "timeout", w.cfg.Timeout)

	dump := stacktrace.Capture()
	threads := stacktrace.Parse(dump)
	stacktrace.MarkFaulting(threads, 1)

	if w.cfg.OnStall != nil {
		w.onStall(dump, threads, now)
	}
}

// onStall shields the loop from a panicking callback.
func (w *Watchdog) onStall(dump []byte, threads []event.Thread, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("stall callback panicked", "panic", r)
		}
	}()
	w.cfg.OnStall(dump, threads, at)
}

// verify checks the OS view before reporting. An unanswerable query is
// treated per AssumeStalledOnProbeError.
func (w *Watchdog) verify() bool {
	stalled, err := w.prober.Verify(w.pid)
	if err != nil {
		if w.cfg.AssumeStalledOnProbeError {
			w.logger.Warn("stall probe failed, assuming unresponsive", "error", err)
			return true
		}
		w.logger.Warn("stall probe failed, skipping report", "error", err)
		return false
	}
	if !stalled {
		w.logger.Debug("stall not confirmed by process state")
	}
	return stalled
}
