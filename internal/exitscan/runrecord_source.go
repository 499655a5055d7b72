package exitscan

import (
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/store"
)

// RunRecordSource adapts the cache's rotated run record into exit
// evidence. The Monitor rotates the record at start and hands the result
// here; a clean previous shutdown removed the file, so rotation yielding
// nothing means nothing abnormal happened.
type RunRecordSource struct {
	cache  *store.Cache
	rec    *store.RunRecord
	logger *logging.Logger
}

// NewRunRecordSource wraps the rotated record. rec may be nil.
func NewRunRecordSource(cache *store.Cache, rec *store.RunRecord, logger *logging.Logger) *RunRecordSource {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RunRecordSource{cache: cache, rec: rec, logger: logger}
}

// Scan implements Source. The consumed evidence is deleted so a later
// launch cannot re-report it.
func (s *RunRecordSource) Scan() ([]Evidence, error) {
	if s.rec == nil {
		return nil, nil
	}
	defer s.cache.DeletePreviousRunRecord()

	ev := Evidence{
		PID:         s.rec.PID,
		StartedAt:   s.rec.StartedAt,
		LastAliveAt: s.rec.LastAliveAt,
		SessionID:   s.rec.SessionID,
		Stalled:     s.rec.Stalled,
		StalledAt:   s.rec.StalledAt,
	}
	if s.rec.StallDump != "" {
		dump, err := s.cache.ReadStallDump(s.rec.StallDump)
		if err != nil {
			s.logger.Warn("stall dump unreadable", "path", s.rec.StallDump, "error", err)
		} else {
			ev.Dump = dump
		}
	}
	return []Evidence{ev}, nil
}
