package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/store"
)

func newTestCache(t *testing.T) *store.Cache {
	t.Helper()
	cache, err := store.New(t.TempDir(), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func TestAPIRouter_Health(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newAPIRouter(newTestCache(t), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
}

func TestAPIRouter_EnvelopeRoundTrip(t *testing.T) {
	t.Parallel()
	cache := newTestCache(t)

	now := time.Now().UTC()
	rec := event.NewRecord(event.KindPanic, nil, "runtime.Error", now)
	env, err := event.NewRecordEnvelope(rec, "sess-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if err := cache.Store(env, store.Hint{}); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(newAPIRouter(cache, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/envelopes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var pending []store.Pending
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("listed %d envelopes, want 1", len(pending))
	}

	resp2, err := http.Get(srv.URL + "/api/v1/envelopes/" + pending[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	got, err := event.Decode(resp2.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header.EventID != rec.ID {
		t.Fatalf("served envelope %s, want %s", got.Header.EventID, rec.ID)
	}
}

func TestAPIRouter_MissingEnvelopeIs404(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newAPIRouter(newTestCache(t), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/envelopes/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing envelope returned %d, want 404", resp.StatusCode)
	}
}

func TestAPIRouter_JournalUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newAPIRouter(newTestCache(t), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/journal")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("journal route returned %d, want 503", resp.StatusCode)
	}
}
