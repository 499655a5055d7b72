// Package pipeline runs each failure record through an ordered processor
// chain before storage. The order is fixed: scrubbing first so no secret
// survives into any downstream copy, cheap enrichment next, and the
// expensive drop judgment last.
package pipeline

import (
	"fmt"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/metrics"
)

// Context is the per-record state processors share. A processor that
// drops a record sets DropReason before returning nil.
type Context struct {
	Logger     *logging.Logger
	DropReason string
}

// Processor transforms a record or drops it by returning nil.
type Processor interface {
	Name() string
	Process(rec *event.Record, cx *Context) *event.Record
}

// Chain applies processors in order. It runs on the goroutine that is
// crashing, so a processor failure is contained here and can never become
// a second fault.
type Chain struct {
	procs     []Processor
	logger    *logging.Logger
	collector *metrics.Collector
}

// NewChain builds a chain. The collector may be nil.
func NewChain(logger *logging.Logger, collector *metrics.Collector, procs ...Processor) *Chain {
	return &Chain{
		procs:     procs,
		logger:    logger,
		collector: collector,
	}
}

// Run processes one record. A nil result means the record was dropped by
// policy; the drop is informational, not an error.
func (c *Chain) Run(rec *event.Record) *event.Record {
	if rec == nil {
		return nil
	}
	c.collector.RecordCaptured(string(rec.Kind))

	cx := &Context{Logger: c.logger}
	for _, p := range c.procs {
		out := c.apply(p, rec, cx)
		if out == nil {
			reason := cx.DropReason
			if reason == "" {
				reason = "unspecified"
			}
			c.logger.Info("record dropped",
				"processor", p.Name(),
				"drop_reason", reason,
				"record_id", rec.ID,
				"kind", rec.Kind)
			c.collector.RecordDropped(reason)
			return nil
		}
		rec = out
	}
	return rec
}

// apply isolates a processor panic. The record passes through unmodified
// when its processor fails; losing one processor's work beats losing the
// record.
func (c *Chain) apply(p Processor, rec *event.Record, cx *Context) (out *event.Record) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("processor panicked",
				"processor", p.Name(),
				"panic", fmt.Sprint(r))
			out = rec
		}
	}()
	return p.Process(rec, cx)
}
