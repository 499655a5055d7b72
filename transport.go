package faultline

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/bus"
	"github.com/faultline-io/faultline/internal/journal"
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/metrics"
	"github.com/faultline-io/faultline/internal/store"
)

// Transport ships envelopes to wherever failure reports go. Enqueue
// returns an opaque delivery reference; a nil error means the transport
// has taken responsibility for the envelope and its file may be deleted.
// The wire format behind Enqueue is the transport's business.
type Transport interface {
	Enqueue(env *event.Envelope) (string, error)
}

// spool drives the transport from the cache: every stored envelope is
// offered once, failures stay on disk for the next launch, and pending
// files from earlier launches are retried at start.
type spool struct {
	transport Transport
	cache     *store.Cache
	journal   *journal.Journal
	bus       *bus.Bus
	notes     <-chan bus.Note
	clk       clock.Clock
	logger    *logging.Logger
	collector *metrics.Collector
}

func newSpool(transport Transport, cache *store.Cache, jrnl *journal.Journal, b *bus.Bus, clk clock.Clock, logger *logging.Logger, collector *metrics.Collector) *spool {
	return &spool{
		transport: transport,
		cache:     cache,
		journal:   jrnl,
		bus:       b,
		notes:     b.Subscribe(bus.TopicEnvelopeStored),
		clk:       clk,
		logger:    logger.With("component", "spool"),
		collector: collector,
	}
}

// run is the spool worker loop.
func (s *spool) run(ctx context.Context) error {
	s.retryPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case note, ok := <-s.notes:
			if !ok {
				return nil
			}
			s.deliver(note.EnvelopeID)
		}
	}
}

// retryPending offers every envelope an earlier launch left behind.
func (s *spool) retryPending(ctx context.Context) {
	pending, err := s.cache.PendingEnvelopes()
	if err != nil {
		s.logger.Error("list pending envelopes", "error", err)
		return
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(p.ID)
	}
}

// deliver offers one envelope to the transport. Success removes the file
// and journals the outcome; failure journals the attempt and leaves the
// file for a later retry.
func (s *spool) deliver(id string) {
	env, err := s.cache.OpenEnvelope(id)
	if err != nil {
		s.logger.Warn("open envelope for delivery", "envelope_id", id, "error", err)
		return
	}

	ref, err := s.transport.Enqueue(env)
	if err != nil {
		s.logger.Warn("delivery failed, envelope kept",
			"envelope_id", id, "error", err)
		s.collector.DeliveryRetried()
		s.journalAppend(journal.Entry{
			EnvelopeID: id,
			SessionID:  env.Header.SessionID,
			Outcome:    journal.OutcomeFailed,
			Error:      err.Error(),
		})
		s.bus.Publish(bus.Note{
			Topic: bus.TopicDeliveryFailed, At: s.clk.Now(),
			EnvelopeID: id, SessionID: env.Header.SessionID,
		})
		return
	}

	if err := s.cache.DeleteEnvelope(id); err != nil {
		s.logger.Error("delete delivered envelope", "envelope_id", id, "error", err)
	}
	s.collector.Delivered()
	s.journalAppend(journal.Entry{
		EnvelopeID:   id,
		SessionID:    env.Header.SessionID,
		Outcome:      journal.OutcomeDelivered,
		TransportRef: ref,
	})
	s.bus.Publish(bus.Note{
		Topic: bus.TopicDeliverySucceeded, At: s.clk.Now(),
		EnvelopeID: id, SessionID: env.Header.SessionID,
	})
	s.logger.Debug("envelope delivered", "envelope_id", id, "transport_ref", ref)
}

func (s *spool) journalAppend(e journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(e); err != nil {
		s.logger.Warn("journal append", "envelope_id", e.EnvelopeID, "error", err)
	}
}
