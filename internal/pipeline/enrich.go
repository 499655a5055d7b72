package pipeline

import (
	"sync/atomic"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/hostenv"
	"github.com/faultline-io/faultline/internal/stacktrace"
)

// Enricher attaches what every record should carry regardless of which
// detector produced it: a thread snapshot when the detector supplied
// none, the cached host context, and the release identifiers. All of it
// is cheap; the host snapshot was collected at start and is only read
// here.
type Enricher struct {
	host        atomic.Pointer[hostenv.Info]
	release     string
	environment string
}

// NewEnricher creates the enrichment processor.
func NewEnricher(release, environment string) *Enricher {
	return &Enricher{release: release, environment: environment}
}

// SetHost publishes the host snapshot once collection finishes. Records
// processed before that simply go out without host context.
func (e *Enricher) SetHost(info *hostenv.Info) {
	e.host.Store(info)
}

// Name implements Processor.
func (e *Enricher) Name() string { return "enrich" }

// Process implements Processor.
func (e *Enricher) Process(rec *event.Record, cx *Context) *event.Record {
	if len(rec.Threads) == 0 {
		rec.Threads = stacktrace.Snapshot(0)
	}

	if info := e.host.Load(); info != nil {
		for name, block := range info.Blocks() {
			if _, exists := rec.Contexts[name]; exists {
				continue
			}
			rec.SetContext(name, block)
		}
	}

	if e.release != "" {
		rec.Tags = setIfAbsent(rec.Tags, "release", e.release)
	}
	if e.environment != "" {
		rec.Tags = setIfAbsent(rec.Tags, "environment", e.environment)
	}
	return rec
}

func setIfAbsent(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	if _, ok := m[k]; !ok {
		m[k] = v
	}
	return m
}
