package bus

import (
	"testing"
	"time"
)

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	t.Parallel()
	b := New(4)
	defer b.Close()

	all := b.Subscribe()
	stored := b.Subscribe(TopicEnvelopeStored)
	sessions := b.Subscribe(TopicSessionStarted, TopicSessionEnded)

	b.Publish(Note{Topic: TopicEnvelopeStored, EnvelopeID: "e1"})

	select {
	case n := <-all:
		if n.EnvelopeID != "e1" {
			t.Fatalf("wrong note on catch-all: %+v", n)
		}
	default:
		t.Fatal("catch-all subscriber got nothing")
	}
	select {
	case n := <-stored:
		if n.Topic != TopicEnvelopeStored {
			t.Fatalf("wrong topic: %v", n.Topic)
		}
	default:
		t.Fatal("topic subscriber got nothing")
	}
	select {
	case n := <-sessions:
		t.Fatalf("session subscriber got unrelated note: %+v", n)
	default:
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New(2)
	defer b.Close()

	// Nobody drains this subscriber.
	_ = b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Note{Topic: TopicEnvelopeStored})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if b.Dropped() == 0 {
		t.Fatal("expected shed notes on a saturated buffer")
	}
}

func TestBus_FullBufferKeepsNewest(t *testing.T) {
	t.Parallel()
	b := New(1)
	defer b.Close()

	ch := b.Subscribe()
	b.Publish(Note{Topic: TopicEnvelopeStored, EnvelopeID: "old"})
	b.Publish(Note{Topic: TopicEnvelopeStored, EnvelopeID: "new"})

	n := <-ch
	if n.EnvelopeID != "new" {
		t.Fatalf("buffer kept %q, want the newest note", n.EnvelopeID)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New(4)
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatal("unsubscribed channel still open")
	}
	b.Publish(Note{Topic: TopicEnvelopeStored}) // must not panic
}

func TestBus_PublishAfterClose(t *testing.T) {
	t.Parallel()
	b := New(4)
	ch := b.Subscribe()
	b.Close()

	b.Publish(Note{Topic: TopicEnvelopeStored}) // no-op, no panic
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel open after close")
	}
	b.Close() // idempotent
}
