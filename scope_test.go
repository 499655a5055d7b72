package faultline

import (
	"fmt"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/faultline-io/faultline/event"
)

func TestScope_BreadcrumbRingKeepsNewest(t *testing.T) {
	t.Parallel()
	s := newScope(3, clock.NewMock())

	for i := 0; i < 5; i++ {
		s.AddBreadcrumb(event.Breadcrumb{Message: fmt.Sprintf("crumb %d", i)})
	}

	rec := &event.Record{}
	s.applyTo(rec)

	if len(rec.Breadcrumbs) != 3 {
		t.Fatalf("ring kept %d crumbs, want 3", len(rec.Breadcrumbs))
	}
	if rec.Breadcrumbs[0].Message != "crumb 2" || rec.Breadcrumbs[2].Message != "crumb 4" {
		t.Fatalf("ring kept the wrong crumbs: %+v", rec.Breadcrumbs)
	}
}

func TestScope_RecordValuesWin(t *testing.T) {
	t.Parallel()
	s := newScope(10, clock.NewMock())
	s.SetTag("release", "from-scope")
	s.SetExtra("k", "scope")

	rec := &event.Record{
		Tags:  map[string]string{"release": "from-record"},
		Extra: map[string]any{"k": "record"},
	}
	s.applyTo(rec)

	if rec.Tags["release"] != "from-record" {
		t.Errorf("scope overwrote a record tag: %q", rec.Tags["release"])
	}
	if rec.Extra["k"] != "record" {
		t.Errorf("scope overwrote record extra: %v", rec.Extra["k"])
	}
}

func TestScope_ClearAndRemove(t *testing.T) {
	t.Parallel()
	s := newScope(10, clock.NewMock())
	s.SetTag("a", "1")
	s.SetTag("b", "2")
	s.RemoveTag("a")
	s.AddBreadcrumb(event.Breadcrumb{Message: "x"})

	rec := &event.Record{}
	s.applyTo(rec)
	if _, ok := rec.Tags["a"]; ok {
		t.Error("removed tag still applied")
	}
	if rec.Tags["b"] != "2" {
		t.Error("surviving tag lost")
	}

	s.Clear()
	rec2 := &event.Record{}
	s.applyTo(rec2)
	if len(rec2.Tags) != 0 || len(rec2.Breadcrumbs) != 0 {
		t.Errorf("clear left data behind: %+v %+v", rec2.Tags, rec2.Breadcrumbs)
	}
}
