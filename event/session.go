package event

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusOk is the live state of the current session.
	StatusOk Status = "ok"

	// StatusExited is a session that ended normally.
	StatusExited Status = "exited"

	// StatusCrashed is a session that saw a fatal failure. Crashed is
	// sticky: once set it is never downgraded.
	StatusCrashed Status = "crashed"

	// StatusAbnormal is a session whose process died without a clean end
	// and without a recorded crash (stall, forced kill).
	StatusAbnormal Status = "abnormal"
)

// ValidStatus checks if a status string is valid.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOk, StatusExited, StatusCrashed, StatusAbnormal:
		return true
	default:
		return false
	}
}

// ParseStatus converts a string to a Status with validation.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !ValidStatus(st) {
		return "", fmt.Errorf("invalid session status: %s", s)
	}
	return st, nil
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status ends a session.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusCrashed || s == StatusAbnormal
}

// CanTransition is the single place session status changes are validated.
// Crashed accepts everything and releases nothing; Exited is reachable
// only from a live session; Abnormal never overwrites Crashed. Same-state
// transitions are allowed so repeated reports stay idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch to {
	case StatusCrashed:
		return true
	case StatusAbnormal:
		return from != StatusCrashed
	case StatusExited:
		return from == StatusOk
	default:
		return false
	}
}

// Session is one usage session. All mutation goes through its tracker,
// which serializes access; Session itself carries no lock.
type Session struct {
	ID                string    `json:"id"`
	InstallID         string    `json:"install_id,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Status            Status    `json:"status"`
	Errors            int       `json:"errors"`
	AbnormalMechanism string    `json:"abnormal_mechanism,omitempty"`
	Duration          *float64  `json:"duration,omitempty"`
}

// NewSession creates a live session starting now.
func NewSession(installID string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		InstallID: installID,
		StartedAt: now,
		UpdatedAt: now,
		Status:    StatusOk,
	}
}

// Transition applies a status change if CanTransition allows it and
// reports whether it was applied.
func (s *Session) Transition(to Status, now time.Time) bool {
	if !CanTransition(s.Status, to) {
		return false
	}
	if s.Status != to {
		s.Status = to
	}
	s.UpdatedAt = now
	return true
}

// RegisterError bumps the session error counter.
func (s *Session) RegisterError(now time.Time) {
	s.Errors++
	s.UpdatedAt = now
}

// Finalize freezes the session at the given end time, computing its
// duration. Sessions still live at finalize time become Exited; terminal
// states keep their status.
func (s *Session) Finalize(end time.Time) {
	if s.Status == StatusOk {
		s.Transition(StatusExited, end)
	} else {
		s.UpdatedAt = end
	}
	d := math.Abs(end.Sub(s.StartedAt).Seconds())
	s.Duration = &d
}

// Clone returns a deep copy safe to hand outside the tracker's lock.
func (s *Session) Clone() *Session {
	out := *s
	if s.Duration != nil {
		d := *s.Duration
		out.Duration = &d
	}
	return &out
}
