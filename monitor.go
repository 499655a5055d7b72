package faultline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/bus"
	"github.com/faultline-io/faultline/internal/exitscan"
	"github.com/faultline-io/faultline/internal/flush"
	"github.com/faultline-io/faultline/internal/hostenv"
	"github.com/faultline-io/faultline/internal/journal"
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/pipeline"
	"github.com/faultline-io/faultline/internal/sessions"
	"github.com/faultline-io/faultline/internal/stacktrace"
	"github.com/faultline-io/faultline/internal/store"
	"github.com/faultline-io/faultline/internal/watchdog"
)

const journalFile = "journal.db"

// runRecordRefreshInterval is how often the current generation proves it
// is still alive to the next one.
const runRecordRefreshInterval = 5 * time.Second

// Monitor is the failure-capture pipeline for one process. Create it
// with Start, hand panics to Recover/Go/HandlePanic, and Close it on
// clean shutdown so the session exits instead of reconciling as dead.
type Monitor struct {
	opts      Options
	clk       clock.Clock
	logger    *logging.Logger
	cache     *store.Cache
	tracker   *sessions.Tracker
	chain     *pipeline.Chain
	enricher  *pipeline.Enricher
	scope     *Scope
	wd        *watchdog.Watchdog
	bus       *bus.Bus
	collector *metrics.Collector
	journal   *journal.Journal

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	runMu sync.Mutex
	run   *store.RunRecord

	crashedLastRun      bool
	startupCrashLastRun bool

	closeOnce sync.Once
}

// Start initializes the pipeline: it reconstructs what the previous
// process generation left behind, begins a new session, and arms the
// detectors. The returned Monitor is ready before Start returns; a
// panic on the very next line is captured.
func Start(opts Options) (*Monitor, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := buildLogger(opts)
	collector := metrics.NewCollector(opts.MetricsRegisterer)

	debug.SetTraceback("all")
	if opts.SetPanicOnFault {
		debug.SetPanicOnFault(true)
	}

	cache, err := store.New(opts.CacheDir, store.Options{
		MaxEnvelopes:     opts.MaxEnvelopes,
		StartupThreshold: opts.StartupCrashThreshold,
		Clock:            opts.Clock,
		Logger:           logger,
		Collector:        collector,
	})
	if err != nil {
		return nil, err
	}

	installID, err := cache.InstallID()
	if err != nil {
		logger.Warn("install id unavailable", "error", err)
	}

	scrubber, err := pipeline.NewScrubber(opts.ScrubPatterns)
	if err != nil {
		return nil, err
	}
	enricher := pipeline.NewEnricher(opts.Release, opts.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	m := &Monitor{
		opts:      opts,
		clk:       opts.Clock,
		logger:    logger,
		cache:     cache,
		tracker:   sessions.NewTracker(opts.Clock, installID, opts.SessionGap),
		chain:     pipeline.NewChain(logger, collector, scrubber, enricher, pipeline.NewDedup()),
		enricher:  enricher,
		scope:     newScope(opts.BreadcrumbLimit, opts.Clock),
		bus:       bus.New(64),
		collector: collector,
		g:         g,
		ctx:       ctx,
		cancel:    cancel,
	}

	jrnl, err := journal.Open(filepath.Join(opts.CacheDir, journalFile))
	if err != nil {
		logger.Warn("delivery journal unavailable", "error", err)
	} else {
		m.journal = jrnl
	}

	m.startup()
	m.armDetectors()
	return m, nil
}

func buildLogger(opts Options) *logging.Logger {
	if opts.Logger != nil {
		return &logging.Logger{Logger: opts.Logger}
	}
	return logging.New(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})
}

// startup replays the previous generation and opens this one: consume
// crash markers, rotate the run record, start the new session (rotating
// any unfinished current-session file to the previous slot), report
// stall-caused exits against that previous session, then reconcile and
// emit it. The order matters: the abnormal-exit update must see the
// previous session file before reconciliation deletes it.
func (m *Monitor) startup() {
	var crashedAt time.Time
	m.crashedLastRun, crashedAt, m.startupCrashLastRun = m.cache.ConsumeCrashMarkers()
	if m.crashedLastRun {
		m.logger.Info("previous run crashed",
			"crashed_at", crashedAt, "startup_crash", m.startupCrashLastRun)
	}

	rotatedRun := m.cache.RotateRunRecord()

	started, _ := m.tracker.Start()
	m.storeSessionStart(started)

	scanner := exitscan.New(
		exitscan.NewRunRecordSource(m.cache, rotatedRun, m.logger), nil, m.logger)
	for _, rec := range scanner.Scan() {
		m.captureHistorical(rec)
	}

	if prev := m.cache.ReconcilePreviousSession(); prev != nil {
		m.storeSessionSnapshot(prev, store.Hint{})
	}

	m.run = &store.RunRecord{
		PID:         os.Getpid(),
		StartedAt:   m.clk.Now(),
		LastAliveAt: m.clk.Now(),
		SessionID:   started.ID,
	}
	m.writeRunRecord()
}

func (m *Monitor) armDetectors() {
	m.g.Go(func() error {
		m.enricher.SetHost(hostenv.Collect(m.logger))
		return nil
	})

	if m.opts.Watchdog.Enabled {
		m.wd = watchdog.New(watchdog.Config{
			PollInterval:              m.opts.Watchdog.PollInterval,
			Timeout:                   m.opts.Watchdog.Timeout,
			MainContext:               m.opts.Watchdog.MainContext,
			ReportWhileDebugging:      m.opts.Watchdog.ReportWhileDebugging,
			AssumeStalledOnProbeError: m.opts.Watchdog.AssumeStalledOnProbeError,
			OnStall:                   m.onStall,
		}, m.clk, nil, m.logger, m.collector)
		m.wd.Start()
	}

	if m.opts.Transport != nil {
		sp := newSpool(m.opts.Transport, m.cache, m.journal, m.bus, m.clk, m.logger, m.collector)
		m.g.Go(func() error {
			return sp.run(m.ctx)
		})
	}

	m.g.Go(m.refreshRunRecord)
}

// refreshRunRecord keeps the liveness timestamp fresh so the next
// generation can tell a wedged exit from a clean one.
func (m *Monitor) refreshRunRecord() error {
	ticker := m.clk.Ticker(runRecordRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
			m.runMu.Lock()
			m.run.LastAliveAt = m.clk.Now()
			m.runMu.Unlock()
			m.writeRunRecord()
		}
	}
}

func (m *Monitor) writeRunRecord() {
	m.runMu.Lock()
	rr := *m.run
	m.runMu.Unlock()
	if err := m.cache.WriteRunRecord(&rr); err != nil {
		m.logger.Warn("write run record", "error", err)
	}
}

// Scope is the enrichment surface for collaborating instrumentation.
func (m *Monitor) Scope() *Scope {
	return m.scope
}

// CrashedLastRun reports whether the previous process generation ended
// on a fatal path.
func (m *Monitor) CrashedLastRun() bool {
	return m.crashedLastRun
}

// StartupCrashLastRun reports whether that crash happened moments after
// the previous generation's init.
func (m *Monitor) StartupCrashLastRun() bool {
	return m.startupCrashLastRun
}

// Touch records host-application activity for session-gap tracking.
// After an inactivity gap longer than SessionGap the current session
// ends as Exited and a fresh one begins.
func (m *Monitor) Touch() {
	started, ended := m.tracker.Touch()
	if ended != nil {
		m.storeSessionEnd(ended)
	}
	if started != nil {
		m.storeSessionStart(started)
		m.runMu.Lock()
		m.run.SessionID = started.ID
		m.runMu.Unlock()
		m.writeRunRecord()
	}
}

// ReportFatal is the external-fault boundary: a fully-formed record from
// a native layer, signal handler, or supervising process. A raw
// goroutine-dump blob may accompany it when the record carries no
// threads. The record participates in the chain identically to the
// in-process detectors.
func (m *Monitor) ReportFatal(rec *event.Record, dump []byte) error {
	if rec == nil {
		return fmt.Errorf("faultline: nil record")
	}
	if rec.Kind == "" {
		rec.Kind = event.KindNativeFault
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.clk.Now()
	}
	if len(rec.Threads) == 0 && len(dump) > 0 {
		rec.Threads = parseExternalDump(dump)
	}

	if rec.Kind == event.KindNativeFault {
		// Leave the native marker first: even if the rest of this
		// capture fails, the next launch will still crash the session.
		if err := m.cache.WriteNativeMarker(rec.Timestamp); err != nil {
			m.logger.Warn("write native crash marker", "error", err)
		}
	}

	m.capture(rec, true)
	return nil
}

func parseExternalDump(dump []byte) []event.Thread {
	threads := stacktrace.Parse(dump)
	for i := range threads {
		if threads[i].Name == "main" {
			threads[i].Current = true
		}
	}
	return threads
}

// onStall handles a confirmed watchdog stall: persist the evidence for
// the next generation, then report the stall as a live record.
func (m *Monitor) onStall(dump []byte, threads []event.Thread, at time.Time) {
	path, err := m.cache.WriteStallDump(dump)
	if err != nil {
		m.logger.Warn("persist stall dump", "error", err)
	}

	m.runMu.Lock()
	m.run.Stalled = true
	m.run.StalledAt = at
	m.run.StallDump = path
	m.run.LastAliveAt = at
	m.runMu.Unlock()
	m.writeRunRecord()

	rec := event.NewRecord(event.KindUnresponsive, threads, "", at)
	rec.Mechanism = watchdog.Mechanism
	rec.Message = fmt.Sprintf("main loop unresponsive for longer than %v", m.opts.Watchdog.Timeout)
	m.capture(rec, true)

	m.bus.Publish(bus.Note{Topic: bus.TopicStallConfirmed, At: at})
}

// captureHistorical reports an exit of the previous process generation.
// It never touches the current session; the abnormal-exit store hint
// updates the previous session file instead.
func (m *Monitor) captureHistorical(rec *event.Record) {
	defer m.recoverInternal("historical capture")

	m.scope.applyTo(rec)
	out := m.chain.Run(rec)
	if out == nil {
		return
	}

	env, err := event.NewRecordEnvelope(out, "", m.clk.Now())
	if err != nil {
		m.logger.Error("envelope historical record", "record_id", out.ID, "error", err)
		return
	}
	hint := store.Hint{
		Abnormal:          true,
		AbnormalAt:        out.Timestamp,
		AbnormalMechanism: out.Mechanism,
	}
	if err := m.cache.Store(env, hint); err != nil {
		m.logger.Error("store historical record", "record_id", out.ID, "error", err)
		return
	}
	m.bus.Publish(bus.Note{
		Topic: bus.TopicEnvelopeStored, At: m.clk.Now(), EnvelopeID: env.Header.EventID,
	})
}

// capture runs one live record through scope, chain, session, and store.
// When wait is true the calling goroutine blocks, bounded, until the
// envelope is durable. Nothing in here may panic outward: a capture
// failure degrades to losing the diagnostic record.
func (m *Monitor) capture(rec *event.Record, wait bool) (durable bool) {
	defer m.recoverInternal("capture")

	m.scope.applyTo(rec)
	out := m.chain.Run(rec)
	if out == nil {
		m.bus.Publish(bus.Note{Topic: bus.TopicRecordDropped, At: m.clk.Now()})
		return false
	}

	var sessionID string
	if snap := m.tracker.ApplyRecord(out); snap != nil {
		sessionID = snap.ID
		if err := m.cache.WriteCurrentSession(snap); err != nil {
			m.logger.Warn("persist session after record", "session_id", snap.ID, "error", err)
		}
	}

	env, err := event.NewRecordEnvelope(out, sessionID, m.clk.Now())
	if err != nil {
		m.logger.Error("envelope record", "record_id", out.ID, "error", err)
		return false
	}

	hint := store.Hint{}
	if out.Kind == event.KindPanic || out.Kind == event.KindNativeFault {
		hint.Fatal = true
		hint.RecordAt = out.Timestamp
	}

	var latch *flush.Latch
	if wait {
		latch = flush.NewLatch(m.clk)
		hint.Latch = latch
	}

	storeErr := m.cache.Store(env, hint)
	if storeErr != nil {
		m.logger.Error("store record", "record_id", out.ID, "error", storeErr)
	}

	durable = storeErr == nil
	if latch != nil {
		timeout := m.flushTimeoutFor(out)
		durable = latch.Wait(timeout)
		if !durable {
			m.logger.Warn("durability not confirmed in time",
				"record_id", out.ID, "timeout", timeout)
			m.collector.FlushTimedOut()
		}
	}

	if storeErr == nil {
		m.bus.Publish(bus.Note{
			Topic: bus.TopicEnvelopeStored, At: m.clk.Now(),
			EnvelopeID: env.Header.EventID, SessionID: sessionID,
		})
	}
	return durable
}

// flushTimeoutFor picks the bounded wait: startup crashes get the longer
// budget because losing one costs the most diagnosability.
func (m *Monitor) flushTimeoutFor(rec *event.Record) time.Duration {
	if m.startupCrashLastRun {
		return m.opts.StartupFlushTimeout
	}
	if rec.Timestamp.Sub(m.cache.InitTime()) <= m.opts.StartupCrashThreshold {
		return m.opts.StartupFlushTimeout
	}
	return m.opts.FlushTimeout
}

func (m *Monitor) storeSessionStart(sess *event.Session) {
	m.storeSessionSnapshot(sess, store.Hint{SessionStart: true})
	if err := m.cache.WriteCurrentSession(sess); err != nil {
		m.logger.Warn("write current session", "session_id", sess.ID, "error", err)
	}
	m.bus.Publish(bus.Note{
		Topic: bus.TopicSessionStarted, At: m.clk.Now(), SessionID: sess.ID,
	})
}

func (m *Monitor) storeSessionEnd(sess *event.Session) {
	m.storeSessionSnapshot(sess, store.Hint{SessionEnd: true})
	m.bus.Publish(bus.Note{
		Topic: bus.TopicSessionEnded, At: m.clk.Now(), SessionID: sess.ID,
	})
}

func (m *Monitor) storeSessionSnapshot(sess *event.Session, hint store.Hint) {
	env, err := event.NewSessionEnvelope(sess, m.clk.Now())
	if err != nil {
		m.logger.Error("envelope session", "session_id", sess.ID, "error", err)
		return
	}
	if err := m.cache.Store(env, hint); err != nil {
		m.logger.Error("store session envelope", "session_id", sess.ID, "error", err)
		return
	}
	m.bus.Publish(bus.Note{
		Topic: bus.TopicEnvelopeStored, At: m.clk.Now(),
		EnvelopeID: env.Header.EventID, SessionID: sess.ID,
	})
}

// recoverInternal keeps pipeline failures from becoming a second fault
// in a process that is already dying.
func (m *Monitor) recoverInternal(where string) {
	if r := recover(); r != nil {
		m.logger.Error("internal panic swallowed", "where", where, "panic", fmt.Sprint(r))
	}
}

// Close shuts the monitor down cleanly: detectors stop, the session
// exits, and the run record disappears so the next launch reconstructs
// nothing.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.wd != nil {
			m.wd.Stop()
		}
		m.cancel()
		err = m.g.Wait()

		if ended := m.tracker.End(); ended != nil {
			m.storeSessionEnd(ended)
		}
		if rmErr := m.cache.RemoveRunRecord(); rmErr != nil {
			m.logger.Warn("remove run record", "error", rmErr)
		}
		if m.journal != nil {
			if jErr := m.journal.Close(); jErr != nil {
				m.logger.Warn("close journal", "error", jErr)
			}
		}
		m.bus.Close()
	})
	return err
}
