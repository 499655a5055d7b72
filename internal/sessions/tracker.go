// Package sessions owns the current usage session. One mutex guards all
// state; the public methods never call each other, so no path re-enters
// the lock. Everything handed out is a deep copy — the cache must never
// alias the tracker's live session.
package sessions

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/faultline-io/faultline/event"
)

// DefaultGap is the inactivity interval after which new activity starts a
// fresh session instead of continuing the old one.
const DefaultGap = 30 * time.Second

// Tracker manages the session lifecycle for one monitor instance.
type Tracker struct {
	mu           sync.Mutex
	clk          clock.Clock
	installID    string
	gap          time.Duration
	current      *event.Session
	lastActivity time.Time
}

// NewTracker creates a tracker with no live session.
func NewTracker(clk clock.Clock, installID string, gap time.Duration) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if gap <= 0 {
		gap = DefaultGap
	}
	return &Tracker{
		clk:       clk,
		installID: installID,
		gap:       gap,
	}
}

// Start begins a new session, ending any live one first. It returns the
// new session and, when one was live, its finalized predecessor.
func (t *Tracker) Start() (started, ended *event.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	ended = t.endLocked(now)
	started = t.startLocked(now)
	return started, ended
}

// Touch records host-application activity. After an inactivity gap longer
// than the configured interval it rotates the session and returns the new
// and finalized old snapshots; otherwise both results are nil.
func (t *Tracker) Touch() (started, ended *event.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	if t.current != nil && now.Sub(t.lastActivity) <= t.gap {
		t.lastActivity = now
		return nil, nil
	}

	ended = t.endLocked(now)
	started = t.startLocked(now)
	return started, ended
}

// ApplyRecord folds a failure record into the current session: the error
// counter always moves, and the status follows the failure kind. Panics
// and native faults crash the session; a confirmed stall marks it
// abnormal with the detector's mechanism, unless the session already
// crashed. Returns a snapshot, or nil when no session is live.
func (t *Tracker) ApplyRecord(rec *event.Record) *event.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}

	now := t.clk.Now()
	t.lastActivity = now
	t.current.RegisterError(now)

	switch rec.Kind {
	case event.KindPanic, event.KindNativeFault:
		t.current.Transition(event.StatusCrashed, now)
	case event.KindUnresponsive, event.KindAbnormalExit:
		if t.current.Transition(event.StatusAbnormal, now) {
			mechanism := rec.Mechanism
			if mechanism == "" {
				mechanism = string(rec.Kind)
			}
			t.current.AbnormalMechanism = mechanism
		}
	}

	return t.current.Clone()
}

// End finalizes and clears the current session, returning its snapshot.
// A live session exits cleanly; crashed and abnormal sessions keep their
// status under the sticky-transition rule.
func (t *Tracker) End() *event.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.endLocked(t.clk.Now())
}

// Current returns a snapshot of the live session, or nil.
func (t *Tracker) Current() *event.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}
	return t.current.Clone()
}

func (t *Tracker) startLocked(now time.Time) *event.Session {
	t.current = event.NewSession(t.installID, now)
	t.lastActivity = now
	return t.current.Clone()
}

func (t *Tracker) endLocked(now time.Time) *event.Session {
	if t.current == nil {
		return nil
	}
	s := t.current
	t.current = nil
	s.Finalize(now)
	return s.Clone()
}
