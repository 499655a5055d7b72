package store

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/faultline-io/faultline/internal/fsutil"
)

const (
	crashMarkerFile        = "crash_marker"
	startupCrashMarkerFile = "startup_crash_marker"
	nativeCrashMarkerFile  = "native_crash_marker"
)

// writeCrashMarkersLocked drops the generic crash marker and, when the
// fault happened inside the startup window, the startup-crash marker. A
// marker write failure is logged and swallowed; the envelope itself is
// already durable.
func (c *Cache) writeCrashMarkersLocked(recordAt time.Time) {
	at := recordAt
	if at.IsZero() {
		at = c.clk.Now()
	}
	c.writeMarkerLocked(crashMarkerFile, at)

	if c.startupThreshold > 0 && !recordAt.IsZero() {
		sinceInit := recordAt.Sub(c.initAt)
		if sinceInit >= 0 && sinceInit <= c.startupThreshold {
			c.writeMarkerLocked(startupCrashMarkerFile, at)
			c.logger.Info("startup crash detected",
				"since_init", sinceInit, "threshold", c.startupThreshold)
		}
	}
}

func (c *Cache) writeMarkerLocked(name string, at time.Time) {
	data := []byte(at.UTC().Format(time.RFC3339Nano) + "\n")
	if err := fsutil.WriteFileAtomic(filepath.Join(c.dir, name), data, 0o600); err != nil {
		c.logger.Error("write marker", "marker", name, "error", err)
	}
}

// WriteNativeMarker records a fault reported by the native boundary. The
// next launch's reconciliation consumes it.
func (c *Cache) WriteNativeMarker(at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := []byte(at.UTC().Format(time.RFC3339Nano) + "\n")
	return fsutil.WriteFileAtomic(filepath.Join(c.dir, nativeCrashMarkerFile), data, 0o600)
}

// ConsumeCrashMarkers reads and deletes the crash and startup-crash
// markers left by the previous run. crashed reports whether the generic
// marker existed; startup whether the startup marker did.
func (c *Cache) ConsumeCrashMarkers() (crashed bool, crashedAt time.Time, startup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	crashedAt, crashed = c.consumeMarkerLocked(crashMarkerFile)
	_, startup = c.consumeMarkerLocked(startupCrashMarkerFile)
	return crashed, crashedAt, startup
}

// consumeNativeMarkerLocked reads and deletes the native crash marker.
func (c *Cache) consumeNativeMarkerLocked() (time.Time, bool) {
	return c.consumeMarkerLocked(nativeCrashMarkerFile)
}

// consumeMarkerLocked implements read-once-then-delete. Presence is what
// matters; an unreadable timestamp inside the marker degrades to the zero
// time, not to an error.
func (c *Cache) consumeMarkerLocked(name string) (time.Time, bool) {
	path := filepath.Join(c.dir, name)
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Error("read marker", "marker", name, "error", err)
		}
		return time.Time{}, false
	}

	var at time.Time
	if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data))); err == nil {
		at = parsed
	} else {
		c.logger.Warn("marker timestamp unreadable", "marker", name, "error", err)
	}

	if err := fsutil.RemoveIfExists(path); err != nil {
		c.logger.Error("delete marker", "marker", name, "error", err)
	}
	return at, true
}
