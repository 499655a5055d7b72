package pipeline

import (
	"sync"

	"github.com/faultline-io/faultline/event"
)

// DropReasonDuplicate marks records collapsed by the multithread dedup.
const DropReasonDuplicate = "duplicate"

// Dedup collapses near-simultaneous same-type faults from different
// goroutines into one record. Under memory pressure many goroutines can
// fault with the same error class at once; without this a single
// out-of-memory condition produces dozens of near-identical fatal
// reports.
//
// The map goes exception type -> goroutine id of the last non-duplicate
// report. A record whose type is already mapped to a different goroutine
// is dropped; every surviving record replaces its type's mapping. sync.Map
// keeps concurrently faulting goroutines from serializing on each other.
type Dedup struct {
	seen sync.Map // string -> int64
}

// NewDedup creates the deduplicating processor.
func NewDedup() *Dedup {
	return &Dedup{}
}

// Name implements Processor.
func (d *Dedup) Name() string { return "dedup" }

// Process implements Processor. Records without an exception type carry
// nothing to key on and always pass.
func (d *Dedup) Process(rec *event.Record, cx *Context) *event.Record {
	key := rec.ExceptionType
	if key == "" {
		return rec
	}

	var tid int64
	if ft := rec.FaultingThread(); ft != nil {
		tid = ft.ID
	}

	prev, loaded := d.seen.LoadOrStore(key, tid)
	if loaded {
		if prev.(int64) != tid {
			cx.DropReason = DropReasonDuplicate
			return nil
		}
		d.seen.Store(key, tid)
	}
	return rec
}
