package store

import (
	"errors"
	"io/fs"
	"time"

	"github.com/faultline-io/faultline/event"
)

// ReconcilePreviousSession settles the session the last process never
// finalized. A native crash marker outranks whatever status the file
// carries; otherwise a still-live session exits with the best available
// end timestamp. The previous-session file is deleted no matter which
// branch runs, and the native marker is consumed even when the session
// file is missing or corrupt, so stale evidence cannot leak into a later
// launch. Returns the finalized session to envelope, or nil.
func (c *Cache) ReconcilePreviousSession() *event.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	nativeAt, nativeCrash := c.consumeNativeMarkerLocked()

	sess, err := c.readSessionLocked(previousSessionFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		c.logger.Warn("previous session unreadable, discarding", "error", err)
		c.discardLocked(previousSessionFile)
		return nil
	}
	defer c.discardLocked(previousSessionFile)

	switch {
	case nativeCrash:
		end := nativeAt
		if end.IsZero() {
			end = sess.UpdatedAt
		}
		sess.Transition(event.StatusCrashed, end)
		sess.Finalize(end)
		c.logger.Info("previous session crashed natively",
			"session_id", sess.ID, "crashed_at", end)

	case !sess.Status.Terminal():
		sess.Finalize(bestEnd(sess))
		c.logger.Debug("finalized unfinished previous session",
			"session_id", sess.ID, "status", sess.Status)

	default:
		// Already terminal on disk (crash or abnormal recorded before
		// the process died); just make sure the duration is frozen.
		if sess.Duration == nil {
			sess.Finalize(bestEnd(sess))
		}
	}

	return sess
}

// bestEnd picks the latest timestamp the dead process left behind.
func bestEnd(sess *event.Session) time.Time {
	if sess.UpdatedAt.After(sess.StartedAt) {
		return sess.UpdatedAt
	}
	return sess.StartedAt
}
