// Package store is the durable envelope cache. Everything the pipeline
// persists lives in one flat cache directory: envelope files, the current
// and previous session files, crash markers, and the run records the
// exit scanner reads on the next launch. A single mutex serializes all
// mutation of the directory; none of the methods call each other while
// holding it.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/flush"
	"github.com/faultline-io/faultline/internal/fsutil"
	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/metrics"
)

const (
	currentSessionFile  = "current_session.json"
	previousSessionFile = "previous_session.json"
	installIDFile       = "install_id"
	envelopeSuffix      = ".envelope.json"

	// DefaultMaxEnvelopes bounds the cache directory.
	DefaultMaxEnvelopes = 30
)

// ErrCorruptSession wraps session files that no longer parse.
var ErrCorruptSession = errors.New("corrupt session file")

// Hint tells Store what the envelope means beyond its payload bytes. The
// flags are never serialized.
type Hint struct {
	SessionStart bool
	SessionEnd   bool

	// Fatal marks a failure-record envelope; RecordAt is the record's
	// creation time, used for the startup-crash decision.
	Fatal    bool
	RecordAt time.Time

	// Abnormal asks Store to mark the previous session abnormal as of
	// AbnormalAt with the given mechanism tag.
	Abnormal          bool
	AbnormalAt        time.Time
	AbnormalMechanism string

	// Latch, when set, is released once the envelope bytes are durable.
	Latch *flush.Latch
}

// Pending describes one undelivered envelope file.
type Pending struct {
	ID      string
	Path    string
	ModTime time.Time
	Size    int64
}

// Cache is the envelope cache over one directory.
type Cache struct {
	mu               sync.Mutex
	dir              string
	maxEnvelopes     int
	startupThreshold time.Duration
	initAt           time.Time
	clk              clock.Clock
	logger           *logging.Logger
	collector        *metrics.Collector
}

// Options configures a Cache.
type Options struct {
	MaxEnvelopes     int
	StartupThreshold time.Duration
	Clock            clock.Clock
	Logger           *logging.Logger
	Collector        *metrics.Collector
}

// New opens (creating if needed) the cache directory.
func New(dir string, opts Options) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("store: cache directory required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create cache dir: %w", err)
	}
	if opts.MaxEnvelopes <= 0 {
		opts.MaxEnvelopes = DefaultMaxEnvelopes
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Cache{
		dir:              dir,
		maxEnvelopes:     opts.MaxEnvelopes,
		startupThreshold: opts.StartupThreshold,
		initAt:           opts.Clock.Now(),
		clk:              opts.Clock,
		logger:           opts.Logger,
		collector:        opts.Collector,
	}, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string { return c.dir }

// InitTime returns the moment this cache (and with it the SDK) was
// initialized. The startup-crash decision measures against it.
func (c *Cache) InitTime() time.Time { return c.initAt }

// Store persists one envelope and applies its side effects, in a fixed
// order: capacity first, session rotation, the durable write itself, then
// crash markers, session-end cleanup, and the abnormal-exit update. The
// latch is released only after the envelope bytes are synced and closed;
// a write failure leaves it unreleased so the waiter's timeout fires.
func (c *Cache) Store(env *event.Envelope, hint Hint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enforceCapacityLocked()

	if hint.SessionStart {
		c.rotateCurrentLocked()
	}

	stored, err := c.writeEnvelopeLocked(env)
	if err != nil {
		c.collector.StoreFailed()
		return err
	}

	if hint.Fatal {
		c.writeCrashMarkersLocked(hint.RecordAt)
	}

	if hint.SessionEnd {
		if err := fsutil.RemoveIfExists(filepath.Join(c.dir, currentSessionFile)); err != nil {
			c.logger.Error("delete current session file", "error", err)
		}
	}

	if hint.Abnormal {
		c.markPreviousAbnormalLocked(hint.AbnormalAt, hint.AbnormalMechanism)
	}

	if hint.Latch != nil {
		hint.Latch.Release()
	}
	if stored {
		c.collector.EnvelopeStored()
	}
	return nil
}

// writeEnvelopeLocked writes the envelope under its event ID, refusing to
// overwrite. An existing file means the record is already durably pending
// delivery; that is success, not an error. Returns whether a new file was
// written.
func (c *Cache) writeEnvelopeLocked(env *event.Envelope) (bool, error) {
	data, err := env.Encode()
	if err != nil {
		c.logger.Error("encode envelope", "envelope_id", env.Header.EventID, "error", err)
		return false, err
	}

	path := filepath.Join(c.dir, env.Header.EventID+envelopeSuffix)
	if err := fsutil.WriteFileDurable(path, data, 0o600); err != nil {
		if fsutil.IsExist(err) {
			c.logger.Info("envelope already pending delivery",
				"envelope_id", env.Header.EventID)
			return false, nil
		}
		c.logger.Error("write envelope",
			"envelope_id", env.Header.EventID, "error", err)
		return false, err
	}
	return true, nil
}

// enforceCapacityLocked deletes the oldest envelope files until there is
// room for one more.
func (c *Cache) enforceCapacityLocked() {
	pending, err := c.pendingLocked()
	if err != nil {
		c.logger.Error("list envelopes for capacity check", "error", err)
		return
	}
	if len(pending) < c.maxEnvelopes {
		return
	}

	excess := len(pending) - c.maxEnvelopes + 1
	for _, p := range pending[:excess] {
		if err := os.Remove(p.Path); err != nil {
			c.logger.Error("evict envelope", "envelope_id", p.ID, "error", err)
			continue
		}
		c.logger.Info("evicted oldest envelope", "envelope_id", p.ID)
	}
}

// rotateCurrentLocked moves the current session file to previous. The
// prior session was never cleanly ended; reconciliation picks it up from
// the previous slot.
func (c *Cache) rotateCurrentLocked() {
	src := filepath.Join(c.dir, currentSessionFile)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return
	}
	dst := filepath.Join(c.dir, previousSessionFile)
	if err := fsutil.MoveFile(src, dst); err != nil {
		c.logger.Error("rotate current session to previous", "error", err)
		return
	}
	c.logger.Debug("moved unfinished session to previous slot")
}

// markPreviousAbnormalLocked rewrites the previous session as abnormal as
// of the given timestamp. An abnormal exit that predates the session's
// own start cannot belong to it and leaves the file untouched.
func (c *Cache) markPreviousAbnormalLocked(at time.Time, mechanism string) {
	sess, err := c.readSessionLocked(previousSessionFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("no previous session to mark abnormal")
			return
		}
		c.logger.Warn("read previous session for abnormal update", "error", err)
		if errors.Is(err, ErrCorruptSession) {
			c.discardLocked(previousSessionFile)
		}
		return
	}

	if at.Before(sess.StartedAt) {
		c.logger.Info("abnormal exit predates previous session, leaving untouched",
			"session_id", sess.ID,
			"abnormal_at", at,
			"session_start", sess.StartedAt)
		return
	}

	if !sess.Transition(event.StatusAbnormal, at) {
		c.logger.Debug("previous session status outranks abnormal",
			"session_id", sess.ID, "status", sess.Status)
		return
	}
	if mechanism != "" {
		sess.AbnormalMechanism = mechanism
	}
	sess.Finalize(at)

	if err := c.writeSessionLocked(previousSessionFile, sess); err != nil {
		c.logger.Error("rewrite previous session", "session_id", sess.ID, "error", err)
		return
	}
	c.logger.Info("marked previous session abnormal",
		"session_id", sess.ID, "mechanism", mechanism)
}

// WriteCurrentSession persists the live session snapshot.
func (c *Cache) WriteCurrentSession(sess *event.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeSessionLocked(currentSessionFile, sess)
}

// ReadCurrentSession loads the live session file. fs.ErrNotExist means no
// session is on disk.
func (c *Cache) ReadCurrentSession() (*event.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readSessionLocked(currentSessionFile)
}

// ReadPreviousSession loads the previous session file.
func (c *Cache) ReadPreviousSession() (*event.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readSessionLocked(previousSessionFile)
}

func (c *Cache) writeSessionLocked(name string, sess *event.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal session: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(c.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return nil
}

func (c *Cache) readSessionLocked(name string) (*event.Session, error) {
	data, err := fsutil.ReadFileScoped(filepath.Join(c.dir, name))
	if err != nil {
		return nil, err
	}
	var sess event.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSession, name, err)
	}
	if sess.ID == "" || !event.ValidStatus(sess.Status) {
		return nil, fmt.Errorf("%w: %s: missing id or status", ErrCorruptSession, name)
	}
	return &sess, nil
}

func (c *Cache) discardLocked(name string) {
	if err := fsutil.RemoveIfExists(filepath.Join(c.dir, name)); err != nil {
		c.logger.Error("discard file", "file", name, "error", err)
	}
}

// PendingEnvelopes lists undelivered envelope files, oldest first.
func (c *Cache) PendingEnvelopes() ([]Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Cache) pendingLocked() ([]Pending, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("store: read cache dir: %w", err)
	}

	var pending []Pending
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, envelopeSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		pending = append(pending, Pending{
			ID:      strings.TrimSuffix(name, envelopeSuffix),
			Path:    filepath.Join(c.dir, name),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ModTime.Before(pending[j].ModTime)
	})
	return pending, nil
}

// OpenEnvelope decodes one cached envelope by ID.
func (c *Cache) OpenEnvelope(id string) (*event.Envelope, error) {
	data, err := fsutil.ReadFileScoped(filepath.Join(c.dir, id+envelopeSuffix))
	if err != nil {
		return nil, err
	}
	return event.Decode(strings.NewReader(string(data)))
}

// DeleteEnvelope removes a delivered envelope file.
func (c *Cache) DeleteEnvelope(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fsutil.RemoveIfExists(filepath.Join(c.dir, id+envelopeSuffix))
}

// InstallID returns the stable per-installation identifier, creating it
// on first use.
func (c *Cache) InstallID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(c.dir, installIDFile)
	data, err := fsutil.ReadFileScoped(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("store: read install id: %w", err)
	}

	id := uuid.NewString()
	if err := fsutil.WriteFileAtomic(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("store: write install id: %w", err)
	}
	return id, nil
}
