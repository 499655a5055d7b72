package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndHistory(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{EnvelopeID: "env-1", SessionID: "s-1", Outcome: OutcomeFailed, Error: "connection refused", AttemptedAt: at},
		{EnvelopeID: "env-1", SessionID: "s-1", Outcome: OutcomeDelivered, TransportRef: "tr-9", AttemptedAt: at.Add(time.Minute)},
		{EnvelopeID: "env-2", Outcome: OutcomeEvicted, AttemptedAt: at.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := j.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	history, err := j.History("env-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	if history[0].Outcome != OutcomeFailed || history[1].Outcome != OutcomeDelivered {
		t.Fatalf("history out of order: %+v", history)
	}
	if history[1].TransportRef != "tr-9" {
		t.Errorf("transport ref lost: %+v", history[1])
	}
	if !history[0].AttemptedAt.Equal(at) {
		t.Errorf("attempted_at = %v, want %v", history[0].AttemptedAt, at)
	}
}

func TestJournal_Recent(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		if err := j.Append(Entry{EnvelopeID: "env", Outcome: OutcomeFailed}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Append(Entry{EnvelopeID: "last", Outcome: OutcomeDelivered}); err != nil {
		t.Fatal(err)
	}

	recent, err := j.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d entries, want 3", len(recent))
	}
	if recent[0].EnvelopeID != "last" {
		t.Fatalf("newest first expected, got %+v", recent[0])
	}
}

func TestJournal_FailureCount(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)

	for i := 0; i < 3; i++ {
		if err := j.Append(Entry{EnvelopeID: "env-1", Outcome: OutcomeFailed}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Append(Entry{EnvelopeID: "env-1", Outcome: OutcomeDelivered}); err != nil {
		t.Fatal(err)
	}

	n, err := j.FailureCount("env-1")
	if err != nil {
		t.Fatalf("failure count: %v", err)
	}
	if n != 3 {
		t.Fatalf("failure count = %d, want 3", n)
	}

	n, err = j.FailureCount("unknown")
	if err != nil || n != 0 {
		t.Fatalf("unknown envelope count = %d, %v; want 0, nil", n, err)
	}
}

func TestJournal_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(Entry{EnvelopeID: "env-1", Outcome: OutcomeDelivered}); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	history, err := j2.History("env-1")
	if err != nil || len(history) != 1 {
		t.Fatalf("history after reopen: %v, %v", history, err)
	}
}
