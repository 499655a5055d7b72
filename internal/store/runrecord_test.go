package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestRunRecord_RotateAndRead(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	rr := &RunRecord{
		PID:         4242,
		StartedAt:   mock.Now(),
		LastAliveAt: mock.Now().Add(10 * time.Second),
		SessionID:   "sess-1",
	}
	if err := c.WriteRunRecord(rr); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The next generation rotates and reads the evidence.
	got := c.RotateRunRecord()
	if got == nil || got.PID != 4242 || got.SessionID != "sess-1" {
		t.Fatalf("unexpected rotated record: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), runCurrentFile)); !os.IsNotExist(err) {
		t.Fatalf("current run record must be gone after rotation")
	}

	c.DeletePreviousRunRecord()
	if got := c.RotateRunRecord(); got != nil {
		t.Fatalf("consumed evidence must not reappear, got %+v", got)
	}
}

func TestRunRecord_RemoveOnCleanShutdown(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	if err := c.WriteRunRecord(&RunRecord{PID: 1, StartedAt: mock.Now()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.RemoveRunRecord(); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if got := c.RotateRunRecord(); got != nil {
		t.Fatalf("clean shutdown must leave no evidence, got %+v", got)
	}
}

func TestRunRecord_CorruptDiscarded(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	path := filepath.Join(c.Dir(), runCurrentFile)
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := c.RotateRunRecord(); got != nil {
		t.Fatalf("corrupt run record must be discarded, got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), runPreviousFile)); !os.IsNotExist(err) {
		t.Fatalf("corrupt evidence must be deleted")
	}
}

func TestStallDump_WriteReadPrune(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	var last string
	for i := 0; i < maxStallDumps+3; i++ {
		mock.Add(time.Second)
		path, err := c.WriteStallDump([]byte("goroutine 1 [running]:\n"))
		if err != nil {
			t.Fatalf("write dump %d: %v", i, err)
		}
		last = path
		// Spread mtimes so pruning order is deterministic.
		mt := time.Now().Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	entries, err := os.ReadDir(c.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	dumps := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stallDumpPrefix) {
			dumps++
		}
	}
	if dumps > maxStallDumps {
		t.Fatalf("expected at most %d dumps, got %d", maxStallDumps, dumps)
	}

	data, err := c.ReadStallDump(last)
	if err != nil || !strings.Contains(string(data), "goroutine 1") {
		t.Fatalf("read back failed: %q, %v", data, err)
	}
}

func TestStallDump_RejectsOutsidePath(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	if _, err := c.ReadStallDump("/etc/passwd"); err == nil {
		t.Fatalf("paths outside the cache dir must be rejected")
	}
}
