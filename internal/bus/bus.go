// Package bus is the in-process notification fan-out for pipeline
// lifecycle moments: an envelope stored, a session rotated, a stall
// confirmed. Publishing never blocks — a crashing goroutine must not
// wait on a slow listener — so a subscriber that falls behind loses its
// oldest notifications, ring-buffer style.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic names one lifecycle moment.
type Topic string

const (
	TopicEnvelopeStored    Topic = "envelope_stored"
	TopicSessionStarted    Topic = "session_started"
	TopicSessionEnded      Topic = "session_ended"
	TopicStallConfirmed    Topic = "stall_confirmed"
	TopicRecordDropped     Topic = "record_dropped"
	TopicDeliverySucceeded Topic = "delivery_succeeded"
	TopicDeliveryFailed    Topic = "delivery_failed"
)

// Note is one notification.
type Note struct {
	Topic Topic
	At    time.Time

	// EnvelopeID or SessionID identify the subject where one applies.
	EnvelopeID string
	SessionID  string
}

type subscriber struct {
	ch     chan Note
	topics map[Topic]bool // empty means all
}

// Bus fans notes out to subscribers without ever blocking publishers.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscriber
	bufferSize int
	dropped    atomic.Int64
	closed     bool
}

// New creates a bus. bufferSize is the per-subscriber channel depth.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving notes for the given topics, or
// every topic when none are named.
func (b *Bus) Subscribe(topics ...Topic) <-chan Note {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:     make(chan Note, b.bufferSize),
		topics: make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Note) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[:0]
	for _, sub := range b.subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept
}

// Publish delivers a note to every matching subscriber. A full buffer
// sheds the subscriber's oldest note to make room; when even that fails
// the note is counted dropped. Publish itself never blocks.
func (b *Bus) Publish(note Note) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if len(sub.topics) != 0 && !sub.topics[note.Topic] {
			continue
		}
		select {
		case sub.ch <- note:
		default:
			select {
			case <-sub.ch:
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- note:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// Dropped returns how many notes were shed from full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
