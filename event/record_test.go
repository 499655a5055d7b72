package event

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewRecord_Defaults(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threads := []Thread{
		{ID: 1, Name: "main", State: "running", Current: true},
		{ID: 7, Name: "goroutine 7", State: "chan receive"},
	}

	rec := NewRecord(KindPanic, threads, "runtime.Error", ts)
	if rec.ID == "" {
		t.Fatalf("expected record to get a unique id")
	}
	if rec.Level != LevelFatal {
		t.Fatalf("expected fatal level, got %q", rec.Level)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp to be preserved")
	}

	other := NewRecord(KindPanic, nil, "", ts)
	if other.ID == rec.ID {
		t.Fatalf("expected distinct ids per record")
	}
}

func TestRecord_FaultingThread(t *testing.T) {
	rec := NewRecord(KindUnresponsive, []Thread{
		{ID: 4, Name: "goroutine 4"},
		{ID: 1, Name: "main", Current: true},
	}, "", time.Now())

	ft := rec.FaultingThread()
	if ft == nil || ft.Name != "main" {
		t.Fatalf("expected main to be the faulting thread, got %+v", ft)
	}

	rec = NewRecord(KindAbnormalExit, nil, "", time.Now())
	if rec.FaultingThread() != nil {
		t.Fatalf("expected nil faulting thread for empty snapshot")
	}
}

func TestEnvelope_RecordRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecord(KindPanic, []Thread{{ID: 1, Name: "main", Current: true}}, "oom", ts)
	rec.Message = "out of memory"

	env, err := NewRecordEnvelope(rec, "sess-1", ts)
	if err != nil {
		t.Fatalf("unexpected error building envelope: %v", err)
	}
	if env.Header.EventID != rec.ID || env.Header.SessionID != "sess-1" {
		t.Fatalf("unexpected header: %+v", env.Header)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	decoded, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	got, err := decoded.Record()
	if err != nil {
		t.Fatalf("unexpected error extracting record: %v", err)
	}
	if got.ExceptionType != "oom" || got.Message != "out of memory" {
		t.Fatalf("record payload lost in round trip: %+v", got)
	}
	if !decoded.HasItem(ItemRecord) || decoded.HasItem(ItemSession) {
		t.Fatalf("unexpected item kinds in decoded envelope")
	}
}

func TestEnvelope_SessionExtraction(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := NewSession("install-9", now)
	sess.Transition(StatusCrashed, now.Add(time.Second))

	env, err := NewSessionEnvelope(sess, now.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error building envelope: %v", err)
	}

	got, err := env.Session()
	if err != nil {
		t.Fatalf("unexpected error extracting session: %v", err)
	}
	if got.Status != StatusCrashed || got.InstallID != "install-9" {
		t.Fatalf("session payload lost: %+v", got)
	}

	if _, err := env.Record(); err != ErrNoSuchItem {
		t.Fatalf("expected ErrNoSuchItem for record lookup, got %v", err)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	if _, err := Decode(strings.NewReader("{not json")); err == nil {
		t.Fatalf("expected error decoding corrupt envelope")
	}
	if _, err := Decode(strings.NewReader(`{"items":[]}`)); err == nil {
		t.Fatalf("expected error decoding envelope without event_id")
	}
}
