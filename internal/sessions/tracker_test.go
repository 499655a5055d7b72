package sessions

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/faultline-io/faultline/event"
)

func panicRecord() *event.Record {
	return event.NewRecord(event.KindPanic,
		[]event.Thread{{ID: 7, Current: true}}, "runtime.Error", time.Now())
}

func stallRecord() *event.Record {
	rec := event.NewRecord(event.KindUnresponsive,
		[]event.Thread{{ID: 1, Name: "main", Current: true}}, "", time.Now())
	rec.Mechanism = "watchdog"
	return rec
}

func TestTracker_StartAndEnd(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "install-1", 0)

	started, ended := tr.Start()
	if started == nil || ended != nil {
		t.Fatalf("first start must return only a new session")
	}
	if started.Status != event.StatusOk || started.InstallID != "install-1" {
		t.Fatalf("unexpected new session: %+v", started)
	}

	mock.Add(45 * time.Second)
	final := tr.End()
	if final == nil {
		t.Fatalf("expected finalized session")
	}
	if final.Status != event.StatusExited {
		t.Fatalf("clean end must exit the session, got %s", final.Status)
	}
	if final.Duration == nil || *final.Duration != 45 {
		t.Fatalf("expected duration 45s, got %v", final.Duration)
	}
	if tr.Current() != nil {
		t.Fatalf("no session must be live after End")
	}
}

func TestTracker_StartRotatesLiveSession(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "", 0)

	first, _ := tr.Start()
	mock.Add(10 * time.Second)
	second, ended := tr.Start()

	if ended == nil || ended.ID != first.ID {
		t.Fatalf("expected the first session to be finalized")
	}
	if ended.Status != event.StatusExited {
		t.Fatalf("rotated session must be exited, got %s", ended.Status)
	}
	if second.ID == first.ID {
		t.Fatalf("rotation must produce a fresh session id")
	}
}

func TestTracker_TouchWithinGapKeepsSession(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "", 30*time.Second)
	tr.Start()

	mock.Add(29 * time.Second)
	started, ended := tr.Touch()
	if started != nil || ended != nil {
		t.Fatalf("activity within the gap must not rotate")
	}

	// The touch refreshed the activity clock, so another near-gap wait
	// still keeps the session.
	mock.Add(29 * time.Second)
	if started, _ := tr.Touch(); started != nil {
		t.Fatalf("refreshed activity must extend the session")
	}
}

func TestTracker_TouchAfterGapRotates(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "", 30*time.Second)
	first, _ := tr.Start()

	mock.Add(31 * time.Second)
	started, ended := tr.Touch()
	if started == nil || ended == nil {
		t.Fatalf("activity after the gap must rotate the session")
	}
	if ended.ID != first.ID || started.ID == first.ID {
		t.Fatalf("unexpected rotation result: ended=%+v started=%+v", ended, started)
	}
}

func TestTracker_ApplyPanicCrashesSession(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "", 0)
	tr.Start()

	snap := tr.ApplyRecord(panicRecord())
	if snap.Status != event.StatusCrashed || snap.Errors != 1 {
		t.Fatalf("unexpected session after panic: %+v", snap)
	}

	// End must not downgrade the crash.
	final := tr.End()
	if final.Status != event.StatusCrashed {
		t.Fatalf("crashed must be sticky through End, got %s", final.Status)
	}
}

func TestTracker_StallMarksAbnormalUnlessCrashed(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "", 0)
	tr.Start()

	snap := tr.ApplyRecord(stallRecord())
	if snap.Status != event.StatusAbnormal {
		t.Fatalf("expected abnormal after stall, got %s", snap.Status)
	}
	if snap.AbnormalMechanism != "watchdog" {
		t.Fatalf("expected mechanism tag, got %q", snap.AbnormalMechanism)
	}

	// A crash beats abnormal; the reverse never applies.
	tr.ApplyRecord(panicRecord())
	snap = tr.ApplyRecord(stallRecord())
	if snap.Status != event.StatusCrashed {
		t.Fatalf("stall must not downgrade a crashed session, got %s", snap.Status)
	}
	if snap.Errors != 3 {
		t.Fatalf("error counter must track every record, got %d", snap.Errors)
	}
}

func TestTracker_ApplyWithoutSession(t *testing.T) {
	t.Parallel()
	tr := NewTracker(clock.NewMock(), "", 0)
	if tr.ApplyRecord(panicRecord()) != nil {
		t.Fatalf("no session means nothing to update")
	}
}

func TestTracker_SnapshotsAreCopies(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	tr := NewTracker(mock, "", 0)
	snap, _ := tr.Start()

	snap.Status = event.StatusCrashed
	if tr.Current().Status != event.StatusOk {
		t.Fatalf("mutating a snapshot must not touch the live session")
	}
}
