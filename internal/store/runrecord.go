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
	"time"

	"github.com/faultline-io/faultline/internal/fsutil"
)

const (
	runCurrentFile  = "run_current.json"
	runPreviousFile = "run_previous.json"

	stallDumpPrefix = "stall-"
	stallDumpSuffix = ".dump"
	maxStallDumps   = 5
)

// RunRecord is the liveness evidence one process generation leaves for
// the next. The watchdog refreshes LastAliveAt on every heartbeat and
// flips Stalled when it confirms the main loop is stuck; a clean Close
// removes the file entirely.
type RunRecord struct {
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	LastAliveAt time.Time `json:"last_alive_at"`
	SessionID   string    `json:"session_id,omitempty"`
	Stalled     bool      `json:"stalled"`
	StalledAt   time.Time `json:"stalled_at"`
	StallDump   string    `json:"stall_dump,omitempty"`
}

// RotateRunRecord moves the current run record into the previous slot and
// returns what was there from the prior generation, or nil. A corrupt
// leftover is logged and discarded.
func (c *Cache) RotateRunRecord() *RunRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := filepath.Join(c.dir, runCurrentFile)
	dst := filepath.Join(c.dir, runPreviousFile)

	if _, err := os.Stat(src); err == nil {
		if err := fsutil.MoveFile(src, dst); err != nil {
			c.logger.Error("rotate run record", "error", err)
		}
	}

	rr, err := c.readRunRecordLocked(runPreviousFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("previous run record unreadable, discarding", "error", err)
			c.discardLocked(runPreviousFile)
		}
		return nil
	}
	return rr
}

// WriteRunRecord persists the current generation's liveness evidence.
func (c *Cache) WriteRunRecord(rr *RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal run record: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(c.dir, runCurrentFile), data, 0o600); err != nil {
		return fmt.Errorf("store: write run record: %w", err)
	}
	return nil
}

// RemoveRunRecord deletes the current run record on clean shutdown, so
// the next generation finds no evidence of an unclean exit.
func (c *Cache) RemoveRunRecord() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fsutil.RemoveIfExists(filepath.Join(c.dir, runCurrentFile))
}

// DeletePreviousRunRecord clears consumed evidence.
func (c *Cache) DeletePreviousRunRecord() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked(runPreviousFile)
}

func (c *Cache) readRunRecordLocked(name string) (*RunRecord, error) {
	data, err := fsutil.ReadFileScoped(filepath.Join(c.dir, name))
	if err != nil {
		return nil, err
	}
	var rr RunRecord
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("store: decode run record: %w", err)
	}
	if rr.PID == 0 {
		return nil, errors.New("store: run record missing pid")
	}
	return &rr, nil
}

// WriteStallDump saves a raw goroutine dump for the exit scanner and
// returns its path. Old dumps are pruned oldest-first so a flapping
// watchdog cannot fill the disk.
func (c *Cache) WriteStallDump(data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneStallDumpsLocked()

	name := fmt.Sprintf("%s%d%s", stallDumpPrefix, c.clk.Now().UnixNano(), stallDumpSuffix)
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("store: write stall dump: %w", err)
	}
	return path, nil
}

// ReadStallDump loads a dump previously written by WriteStallDump. The
// path must live inside the cache directory.
func (c *Cache) ReadStallDump(path string) ([]byte, error) {
	if filepath.Dir(path) != filepath.Clean(c.dir) {
		return nil, fmt.Errorf("store: stall dump outside cache dir: %s", path)
	}
	return fsutil.ReadFileScoped(path)
}

func (c *Cache) pruneStallDumpsLocked() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type dump struct {
		path string
		mod  time.Time
	}
	var dumps []dump
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, stallDumpPrefix) || !strings.HasSuffix(name, stallDumpSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dumps = append(dumps, dump{path: filepath.Join(c.dir, name), mod: info.ModTime()})
	}
	if len(dumps) < maxStallDumps {
		return
	}

	sort.Slice(dumps, func(i, j int) bool { return dumps[i].mod.Before(dumps[j].mod) })
	for _, d := range dumps[:len(dumps)-maxStallDumps+1] {
		if err := os.Remove(d.path); err != nil {
			c.logger.Error("prune stall dump", "path", d.path, "error", err)
		}
	}
}
