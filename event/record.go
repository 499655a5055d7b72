package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies the failure a record describes.
type Kind string

const (
	// KindPanic is an unhandled panic trapped on its way out of the process.
	KindPanic Kind = "panic"

	// KindUnresponsive is a confirmed main-loop stall reported by the watchdog.
	KindUnresponsive Kind = "unresponsive"

	// KindNativeFault is a low-level fault handed in from outside the Go
	// runtime (signal handler, cgo crash handler, supervising process).
	KindNativeFault Kind = "native_fault"

	// KindAbnormalExit is reconstructed after the fact from evidence the
	// previous process generation left on disk.
	KindAbnormalExit Kind = "abnormal_exit"
)

// AllKinds returns every failure kind the pipeline accepts.
func AllKinds() []Kind {
	return []Kind{KindPanic, KindUnresponsive, KindNativeFault, KindAbnormalExit}
}

// ValidKind checks if a kind string is one the pipeline accepts.
func ValidKind(k Kind) bool {
	switch k {
	case KindPanic, KindUnresponsive, KindNativeFault, KindAbnormalExit:
		return true
	default:
		return false
	}
}

// LevelFatal is the only level this pipeline emits. The field exists so
// collaborators sharing the record shape can carry other levels.
const LevelFatal = "fatal"

// Frame is a single stack frame.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Thread is the snapshot of one goroutine at capture time. Goroutine 1 is
// reported under the name "main"; Current marks the goroutine the failure
// occurred on.
type Thread struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	State   string  `json:"state,omitempty"`
	Current bool    `json:"current"`
	Frames  []Frame `json:"frames,omitempty"`
}

// Breadcrumb is a timestamped trail entry copied from the scope into each
// captured record.
type Breadcrumb struct {
	Timestamp time.Time         `json:"timestamp"`
	Category  string            `json:"category,omitempty"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
}

// Record is one captured failure. A record is built once by a detector,
// filled in by the processor chain, and never modified after it is stored.
type Record struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Level         string    `json:"level"`
	Message       string    `json:"message,omitempty"`
	ExceptionType string    `json:"exception_type,omitempty"`
	Mechanism     string    `json:"mechanism,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Threads       []Thread  `json:"threads,omitempty"`

	Tags        map[string]string         `json:"tags,omitempty"`
	Extra       map[string]any            `json:"extra,omitempty"`
	Breadcrumbs []Breadcrumb              `json:"breadcrumbs,omitempty"`
	Contexts    map[string]map[string]any `json:"contexts,omitempty"`
}

// NewRecord creates a failure record. This is the inbound contract for
// detectors: kind, a thread snapshot, the exception type (may be empty for
// stalls), and the detection timestamp. The record gets a fresh unique ID
// and is always fatal.
func NewRecord(kind Kind, threads []Thread, exceptionType string, ts time.Time) *Record {
	return &Record{
		ID:            uuid.NewString(),
		Kind:          kind,
		Level:         LevelFatal,
		ExceptionType: exceptionType,
		Timestamp:     ts,
		Threads:       threads,
	}
}

// FaultingThread returns the thread marked Current, or nil if none is.
func (r *Record) FaultingThread() *Thread {
	for i := range r.Threads {
		if r.Threads[i].Current {
			return &r.Threads[i]
		}
	}
	return nil
}

// SetContext attaches a named context block, replacing any existing block
// with the same name.
func (r *Record) SetContext(name string, values map[string]any) {
	if r.Contexts == nil {
		r.Contexts = make(map[string]map[string]any)
	}
	r.Contexts[name] = values
}
