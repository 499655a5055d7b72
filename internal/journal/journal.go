// Package journal keeps a local ledger of delivery outcomes in a sqlite
// database beside the envelope files. The cache directory alone says
// what is still pending; the journal says what happened to everything
// else, which is what an operator needs when reports go missing.
package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Outcome is the terminal state of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeEvicted   Outcome = "evicted"
)

// Entry is one journal row.
type Entry struct {
	EnvelopeID   string
	SessionID    string
	Outcome      Outcome
	TransportRef string
	Error        string
	AttemptedAt  time.Time
}

// Journal is the sqlite-backed delivery ledger.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the journal database and applies
// migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("journal: migrate: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) migrate() error {
	var version int
	err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := j.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Append records one delivery outcome.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.AttemptedAt.IsZero() {
		e.AttemptedAt = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO deliveries (envelope_id, session_id, outcome, transport_ref, error, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.EnvelopeID, e.SessionID, string(e.Outcome), e.TransportRef, e.Error,
		e.AttemptedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// History returns the attempts recorded for one envelope, oldest first.
func (j *Journal) History(envelopeID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT envelope_id, session_id, outcome, transport_ref, error, attempted_at
		FROM deliveries WHERE envelope_id = ? ORDER BY id`,
		envelopeID)
	if err != nil {
		return nil, fmt.Errorf("journal: history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the newest entries across all envelopes, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT envelope_id, session_id, outcome, transport_ref, error, attempted_at
		FROM deliveries ORDER BY id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FailureCount returns how many failed attempts an envelope has
// accumulated, for retry backoff decisions.
func (j *Journal) FailureCount(envelopeID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var n int
	err := j.db.QueryRow(`
		SELECT COUNT(*) FROM deliveries WHERE envelope_id = ? AND outcome = 'failed'`,
		envelopeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("journal: failure count: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var outcome, attemptedAt string
		if err := rows.Scan(&e.EnvelopeID, &e.SessionID, &outcome, &e.TransportRef, &e.Error, &attemptedAt); err != nil {
			return nil, fmt.Errorf("journal: scan row: %w", err)
		}
		e.Outcome = Outcome(outcome)
		if ts, err := time.Parse(time.RFC3339Nano, attemptedAt); err == nil {
			e.AttemptedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate rows: %w", err)
	}
	return entries, nil
}
