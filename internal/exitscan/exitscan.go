// Package exitscan reconstructs, once per launch, how the previous
// process generation died. It consumes the liveness evidence that
// generation left in the cache directory (run record plus stall dump)
// and turns stall-caused exits into abnormal-exit records. Everything
// here is stale by design; it describes a process that no longer exists.
package exitscan

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/stacktrace"
)

// Mechanism tags records produced by the scanner.
const Mechanism = "exit_scanner"

// Evidence is one previous-generation exit worth examining.
type Evidence struct {
	PID         int
	StartedAt   time.Time
	LastAliveAt time.Time
	SessionID   string

	// Stalled and StalledAt carry the watchdog's verdict from the dead
	// process; Dump is the goroutine dump it saved, possibly empty.
	Stalled   bool
	StalledAt time.Time
	Dump      []byte
}

// Source supplies exit evidence. The default source reads the rotated
// run record; tests inject their own.
type Source interface {
	Scan() ([]Evidence, error)
}

// Liveness answers whether a previous-generation pid still runs. Split
// out so tests do not depend on the process table.
type Liveness func(pid int, startedAt time.Time) bool

// Scanner filters evidence into abnormal-exit records.
type Scanner struct {
	src    Source
	alive  Liveness
	logger *logging.Logger
}

// New creates a scanner. A nil liveness check uses the OS process table.
func New(src Source, alive Liveness, logger *logging.Logger) *Scanner {
	if alive == nil {
		alive = processAlive
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{src: src, alive: alive, logger: logger.WithDetector("exitscan")}
}

// Scan returns one record per stall-caused exit of the previous
// generation. Source failures are logged and yield nothing; this path
// must never block or break a startup.
func (s *Scanner) Scan() []*event.Record {
	evidence, err := s.src.Scan()
	if err != nil {
		s.logger.Warn("exit evidence unavailable", "error", err)
		return nil
	}

	var records []*event.Record
	for _, ev := range evidence {
		if !ev.Stalled {
			continue
		}
		if s.alive(ev.PID, ev.StartedAt) {
			// The recorded generation is somehow still running; its
			// exit has not happened yet and is not ours to report.
			s.logger.Debug("recorded process still alive, skipping", "pid", ev.PID)
			continue
		}
		records = append(records, s.buildRecord(ev))
	}
	return records
}

func (s *Scanner) buildRecord(ev Evidence) *event.Record {
	var threads []event.Thread
	if len(ev.Dump) > 0 {
		threads = stacktrace.Parse(ev.Dump)
		stacktrace.MarkFaulting(threads, mainGoroutineID(threads))
	}

	at := ev.StalledAt
	if at.IsZero() {
		at = ev.LastAliveAt
	}

	rec := event.NewRecord(event.KindAbnormalExit, threads, "", at)
	rec.Mechanism = Mechanism
	rec.Message = "process exited while the main loop was unresponsive"
	s.logger.Info("reconstructed abnormal exit",
		"pid", ev.PID, "stalled_at", at, "record_id", rec.ID)
	return rec
}

// mainGoroutineID finds the goroutine named "main" in a parsed dump.
func mainGoroutineID(threads []event.Thread) int64 {
	for _, th := range threads {
		if th.Name == "main" {
			return th.ID
		}
	}
	return 0
}

// processAlive checks the process table, treating a reused pid (same id,
// later start time) as dead.
func processAlive(pid int, startedAt time.Time) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	created, err := proc.CreateTime()
	if err != nil {
		// The pid exists but is unreadable; claim alive so a possibly
		// running process is never reported as exited.
		return true
	}
	if startedAt.IsZero() {
		return true
	}
	started := time.UnixMilli(created)
	return started.Sub(startedAt).Abs() < 5*time.Second
}
