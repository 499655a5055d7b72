package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ItemKind tells an envelope consumer how to decode an item payload.
type ItemKind string

const (
	ItemRecord  ItemKind = "record"
	ItemSession ItemKind = "session"
)

// ErrNoSuchItem is returned when an envelope carries no item of the
// requested kind.
var ErrNoSuchItem = errors.New("envelope: no item of requested kind")

// Header identifies an envelope and the session it belongs to.
type Header struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Item is one payload inside an envelope.
type Item struct {
	Kind    ItemKind        `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope is the durable unit the cache writes and the transport ships.
// One envelope serializes to one JSON document and one file on disk.
type Envelope struct {
	Header Header `json:"header"`
	Items  []Item `json:"items"`
}

// NewRecordEnvelope wraps a failure record, stamping the envelope with the
// record's ID and the owning session.
func NewRecordEnvelope(rec *Record, sessionID string, sentAt time.Time) (*Envelope, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return &Envelope{
		Header: Header{EventID: rec.ID, SessionID: sessionID, SentAt: sentAt},
		Items:  []Item{{Kind: ItemRecord, Payload: payload}},
	}, nil
}

// NewSessionEnvelope wraps a session snapshot. Each snapshot gets its own
// envelope ID: a session is enveloped more than once over its life
// (start, end, reconciliation) and every snapshot must survive as its own
// cache file.
func NewSessionEnvelope(sess *Session, sentAt time.Time) (*Envelope, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return &Envelope{
		Header: Header{EventID: uuid.NewString(), SessionID: sess.ID, SentAt: sentAt},
		Items:  []Item{{Kind: ItemSession, Payload: payload}},
	}, nil
}

// Record decodes the first record item.
func (e *Envelope) Record() (*Record, error) {
	for _, it := range e.Items {
		if it.Kind != ItemRecord {
			continue
		}
		var rec Record
		if err := json.Unmarshal(it.Payload, &rec); err != nil {
			return nil, fmt.Errorf("decode record item: %w", err)
		}
		return &rec, nil
	}
	return nil, ErrNoSuchItem
}

// Session decodes the first session item.
func (e *Envelope) Session() (*Session, error) {
	for _, it := range e.Items {
		if it.Kind != ItemSession {
			continue
		}
		var sess Session
		if err := json.Unmarshal(it.Payload, &sess); err != nil {
			return nil, fmt.Errorf("decode session item: %w", err)
		}
		return &sess, nil
	}
	return nil, ErrNoSuchItem
}

// HasItem reports whether the envelope carries an item of the given kind.
func (e *Envelope) HasItem(kind ItemKind) bool {
	for _, it := range e.Items {
		if it.Kind == kind {
			return true
		}
	}
	return false
}

// Encode renders the envelope as indented JSON.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from a reader.
func Decode(r io.Reader) (*Envelope, error) {
	var e Envelope
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Header.EventID == "" {
		return nil, errors.New("decode envelope: missing event_id")
	}
	return &e, nil
}
