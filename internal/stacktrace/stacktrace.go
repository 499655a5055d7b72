// Package stacktrace captures and parses goroutine dumps in the format
// runtime.Stack produces. The parser is the single place the pipeline
// turns raw dump bytes into thread snapshots, whether the dump was taken
// live or read back from a stall file written by a previous process.
package stacktrace

import (
	"bytes"
	"runtime"
	"strconv"
	"strings"

	"github.com/faultline-io/faultline/event"
)

// Capture buffers start small and double until the dump fits. The cap
// keeps the crash path from allocating without bound on huge programs.
const (
	initialBufSize = 64 << 10
	maxBufSize     = 16 << 20
)

// Capture returns a dump of every goroutine's stack.
func Capture() []byte {
	buf := make([]byte, initialBufSize)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		if len(buf) >= maxBufSize {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

// GoroutineID returns the id of the calling goroutine, parsed from its
// own stack header.
func GoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(header, ' '); i > 0 {
		if id, err := strconv.ParseInt(header[:i], 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// Snapshot captures all goroutines and marks the one with faultingID as
// the failing thread. Pass 0 to leave every thread unmarked.
func Snapshot(faultingID int64) []event.Thread {
	threads := Parse(Capture())
	if faultingID != 0 {
		MarkFaulting(threads, faultingID)
	}
	return threads
}

// MarkFaulting flags the thread with the given id as the one the failure
// occurred on.
func MarkFaulting(threads []event.Thread, id int64) {
	for i := range threads {
		threads[i].Current = threads[i].ID == id
	}
}

// Parse converts a goroutine dump into thread snapshots. Goroutine 1 is
// reported under the name "main". Unparseable blocks are skipped rather
// than failing the whole dump.
func Parse(data []byte) []event.Thread {
	var threads []event.Thread

	blocks := bytes.Split(data, []byte("\n\n"))
	for _, block := range blocks {
		lines := strings.Split(strings.TrimRight(string(block), "\n"), "\n")
		if len(lines) == 0 {
			continue
		}
		th, ok := parseHeader(lines[0])
		if !ok {
			continue
		}
		th.Frames = parseFrames(lines[1:])
		threads = append(threads, th)
	}
	return threads
}

// parseHeader reads a "goroutine N [state]:" line.
func parseHeader(line string) (event.Thread, bool) {
	rest, ok := strings.CutPrefix(line, "goroutine ")
	if !ok {
		return event.Thread{}, false
	}
	sp := strings.IndexByte(rest, ' ')
	if sp <= 0 {
		return event.Thread{}, false
	}
	id, err := strconv.ParseInt(rest[:sp], 10, 64)
	if err != nil {
		return event.Thread{}, false
	}

	state := rest[sp+1:]
	if open := strings.IndexByte(state, '['); open >= 0 {
		state = state[open+1:]
	}
	if close := strings.IndexByte(state, ']'); close >= 0 {
		state = state[:close]
	}
	// Drop wait-duration suffixes like "chan receive, 3 minutes".
	if comma := strings.IndexByte(state, ','); comma >= 0 {
		state = state[:comma]
	}

	name := "goroutine " + rest[:sp]
	if id == 1 {
		name = "main"
	}
	return event.Thread{ID: id, Name: name, State: strings.TrimSpace(state)}, true
}

// parseFrames reads function/location line pairs until the block ends.
// "created by" trailers and elision markers are not stack frames.
func parseFrames(lines []string) []event.Frame {
	var frames []event.Frame
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if line == "" || strings.HasPrefix(line, "created by ") {
			break
		}
		if strings.HasPrefix(line, "...") {
			continue
		}

		fn := line
		if open := strings.LastIndexByte(fn, '('); open > 0 && strings.HasSuffix(fn, ")") {
			fn = fn[:open]
		}

		frame := event.Frame{Function: fn}
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "\t") {
			frame.File, frame.Line = parseLocation(lines[i+1])
			i++
		}
		frames = append(frames, frame)
	}
	return frames
}

// parseLocation reads a "\t/path/file.go:123 +0x1c" line.
func parseLocation(line string) (string, int) {
	loc := strings.TrimSpace(line)
	if sp := strings.IndexByte(loc, ' '); sp >= 0 {
		loc = loc[:sp]
	}
	colon := strings.LastIndexByte(loc, ':')
	if colon <= 0 {
		return loc, 0
	}
	n, err := strconv.Atoi(loc[colon+1:])
	if err != nil {
		return loc, 0
	}
	return loc[:colon], n
}
