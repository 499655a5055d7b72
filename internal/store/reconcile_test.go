package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/faultline-io/faultline/event"
)

func writePreviousSession(t *testing.T, c *Cache, sess *event.Session) {
	t.Helper()
	if err := c.WriteCurrentSession(sess); err != nil {
		t.Fatalf("write session: %v", err)
	}
	if err := fsRename(c.Dir(), currentSessionFile, previousSessionFile); err != nil {
		t.Fatalf("rotate: %v", err)
	}
}

func TestReconcile_FinalizesUnfinishedSession(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	start := mock.Now()
	sess := event.NewSession("install-1", start)
	sess.UpdatedAt = start.Add(2 * time.Minute)
	writePreviousSession(t, c, sess)

	got := c.ReconcilePreviousSession()
	if got == nil {
		t.Fatalf("expected a finalized session")
	}
	if got.Status != event.StatusExited {
		t.Fatalf("unfinished session must exit, got %s", got.Status)
	}
	if got.Duration == nil || *got.Duration != 120 {
		t.Fatalf("duration must come from the last update, got %v", got.Duration)
	}

	if _, err := c.ReadPreviousSession(); !os.IsNotExist(err) {
		t.Fatalf("previous session file must always be deleted, got %v", err)
	}
}

func TestReconcile_NativeMarkerOverridesStatus(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	start := mock.Now()
	sess := event.NewSession("install-1", start)
	writePreviousSession(t, c, sess)

	faultAt := start.Add(30 * time.Second)
	if err := c.WriteNativeMarker(faultAt); err != nil {
		t.Fatalf("write native marker: %v", err)
	}

	got := c.ReconcilePreviousSession()
	if got == nil || got.Status != event.StatusCrashed {
		t.Fatalf("native marker must crash the session, got %+v", got)
	}
	if got.Duration == nil || *got.Duration != 30 {
		t.Fatalf("duration must use the marker timestamp, got %v", got.Duration)
	}

	// Marker is consumed with the reconciliation.
	if _, err := os.Stat(filepath.Join(c.Dir(), nativeCrashMarkerFile)); !os.IsNotExist(err) {
		t.Fatalf("native marker must be deleted")
	}
}

func TestReconcile_NativeMarkerConsumedWithoutSession(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	if err := c.WriteNativeMarker(mock.Now()); err != nil {
		t.Fatalf("write native marker: %v", err)
	}

	if got := c.ReconcilePreviousSession(); got != nil {
		t.Fatalf("no session expected, got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), nativeCrashMarkerFile)); !os.IsNotExist(err) {
		t.Fatalf("stale native marker must not survive reconciliation")
	}
}

func TestReconcile_CorruptPreviousDiscarded(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	path := filepath.Join(c.Dir(), previousSessionFile)
	if err := os.WriteFile(path, []byte("{definitely not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if got := c.ReconcilePreviousSession(); got != nil {
		t.Fatalf("corrupt session must be discarded, got %+v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file must be deleted")
	}
}

func TestReconcile_NothingToDo(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	if got := c.ReconcilePreviousSession(); got != nil {
		t.Fatalf("expected nil with an empty cache, got %+v", got)
	}
}

func TestReconcile_KeepsRecordedCrash(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	c := newTestCache(t, mock, Options{})

	start := mock.Now()
	sess := event.NewSession("install-1", start)
	sess.Transition(event.StatusCrashed, start.Add(10*time.Second))
	writePreviousSession(t, c, sess)

	got := c.ReconcilePreviousSession()
	if got == nil || got.Status != event.StatusCrashed {
		t.Fatalf("recorded crash must survive reconciliation, got %+v", got)
	}
	if got.Duration == nil {
		t.Fatalf("reconciliation must freeze the duration")
	}
}
