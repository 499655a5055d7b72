package faultline

import (
	"sync"
	"time"

	"github.com/faultline-io/faultline/event"
)

// Scope is the enrichment surface other instrumentation writes through:
// frame samplers, network hooks, profilers. The pipeline treats its
// contents as opaque payload, copies them into every captured record,
// and never interprets them.
type Scope struct {
	mu          sync.Mutex
	tags        map[string]string
	extra       map[string]any
	breadcrumbs []event.Breadcrumb
	limit       int
	clk         interface{ Now() time.Time }
}

func newScope(limit int, clk interface{ Now() time.Time }) *Scope {
	return &Scope{
		tags:  make(map[string]string),
		extra: make(map[string]any),
		limit: limit,
		clk:   clk,
	}
}

// SetTag attaches a short indexed key/value pair.
func (s *Scope) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

// RemoveTag deletes a tag.
func (s *Scope) RemoveTag(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, key)
}

// SetExtra attaches arbitrary structured data.
func (s *Scope) SetExtra(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[key] = value
}

// AddBreadcrumb appends a trail entry. The ring keeps the newest
// entries; a zero timestamp is filled from the clock.
func (s *Scope) AddBreadcrumb(bc event.Breadcrumb) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bc.Timestamp.IsZero() {
		bc.Timestamp = s.clk.Now()
	}
	s.breadcrumbs = append(s.breadcrumbs, bc)
	if len(s.breadcrumbs) > s.limit {
		s.breadcrumbs = s.breadcrumbs[len(s.breadcrumbs)-s.limit:]
	}
}

// Clear empties the scope.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = make(map[string]string)
	s.extra = make(map[string]any)
	s.breadcrumbs = nil
}

// applyTo copies the scope's contents into a record. Record-local values
// win over scope values so detectors can override.
func (s *Scope) applyTo(rec *event.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tags) > 0 && rec.Tags == nil {
		rec.Tags = make(map[string]string, len(s.tags))
	}
	for k, v := range s.tags {
		if _, ok := rec.Tags[k]; !ok {
			rec.Tags[k] = v
		}
	}

	if len(s.extra) > 0 && rec.Extra == nil {
		rec.Extra = make(map[string]any, len(s.extra))
	}
	for k, v := range s.extra {
		if _, ok := rec.Extra[k]; !ok {
			rec.Extra[k] = v
		}
	}

	if len(s.breadcrumbs) > 0 {
		crumbs := make([]event.Breadcrumb, len(s.breadcrumbs))
		copy(crumbs, s.breadcrumbs)
		rec.Breadcrumbs = append(crumbs, rec.Breadcrumbs...)
	}
}
