// Package metrics exposes pipeline outcome counters. The host application
// decides whether to register them; a nil Collector is valid everywhere so
// instrumentation never becomes a reason the pipeline can fail.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the counters the capture pipeline reports into.
type Collector struct {
	recordsCaptured *prometheus.CounterVec
	recordsDropped  *prometheus.CounterVec
	envelopesStored prometheus.Counter
	storeFailures   prometheus.Counter
	delivered       prometheus.Counter
	deliveryRetries prometheus.Counter
	flushTimeouts   prometheus.Counter
	stallsConfirmed prometheus.Counter
}

// NewCollector creates the counters and registers them with reg. Pass nil
// to keep the metrics unregistered (they still count, nothing scrapes
// them).
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recordsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_records_captured_total",
			Help: "Failure records that entered the processor chain, by kind",
		}, []string{"kind"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faultline_records_dropped_total",
			Help: "Failure records dropped by policy, by reason",
		}, []string{"reason"}),
		envelopesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faultline_envelopes_stored_total",
			Help: "Envelopes durably written to the cache directory",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faultline_store_failures_total",
			Help: "Envelope writes that failed and lost their record",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faultline_envelopes_delivered_total",
			Help: "Envelopes handed to the transport and removed from the cache",
		}),
		deliveryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faultline_delivery_retries_total",
			Help: "Transport attempts that failed and left the envelope pending",
		}),
		flushTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faultline_flush_timeouts_total",
			Help: "Bounded durability waits that elapsed before the write finished",
		}),
		stallsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faultline_stalls_confirmed_total",
			Help: "Main-loop stalls the watchdog confirmed and reported",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.recordsCaptured,
			c.recordsDropped,
			c.envelopesStored,
			c.storeFailures,
			c.delivered,
			c.deliveryRetries,
			c.flushTimeouts,
			c.stallsConfirmed,
		)
	}
	return c
}

// RecordCaptured counts a record entering the chain.
func (c *Collector) RecordCaptured(kind string) {
	if c == nil {
		return
	}
	c.recordsCaptured.WithLabelValues(kind).Inc()
}

// RecordDropped counts a policy drop.
func (c *Collector) RecordDropped(reason string) {
	if c == nil {
		return
	}
	c.recordsDropped.WithLabelValues(reason).Inc()
}

// EnvelopeStored counts a durable envelope write.
func (c *Collector) EnvelopeStored() {
	if c == nil {
		return
	}
	c.envelopesStored.Inc()
}

// StoreFailed counts a lost record.
func (c *Collector) StoreFailed() {
	if c == nil {
		return
	}
	c.storeFailures.Inc()
}

// Delivered counts a successful transport handoff.
func (c *Collector) Delivered() {
	if c == nil {
		return
	}
	c.delivered.Inc()
}

// DeliveryRetried counts a failed transport attempt.
func (c *Collector) DeliveryRetried() {
	if c == nil {
		return
	}
	c.deliveryRetries.Inc()
}

// FlushTimedOut counts an elapsed durability wait.
func (c *Collector) FlushTimedOut() {
	if c == nil {
		return
	}
	c.flushTimeouts.Inc()
}

// StallConfirmed counts a reported stall episode.
func (c *Collector) StallConfirmed() {
	if c == nil {
		return
	}
	c.stallsConfirmed.Inc()
}
