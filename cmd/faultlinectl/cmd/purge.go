package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/faultline-io/faultline/internal/journal"
)

var (
	purgeAll       bool
	purgeOlderThan time.Duration
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete pending envelopes from the cache",
	RunE: func(_ *cobra.Command, _ []string) error {
		if !purgeAll && purgeOlderThan == 0 {
			return errors.New("pass --all or --older-than")
		}
		cache, err := openCache()
		if err != nil {
			return err
		}
		pending, err := cache.PendingEnvelopes()
		if err != nil {
			return err
		}

		// Best effort: evictions are recorded when the journal opens.
		var jrnl *journal.Journal
		if j, err := journal.Open(filepath.Join(cache.Dir(), "journal.db")); err == nil {
			jrnl = j
			defer jrnl.Close()
		}

		cutoff := time.Now().Add(-purgeOlderThan)
		purged := 0
		for _, p := range pending {
			if !purgeAll && p.ModTime.After(cutoff) {
				continue
			}
			sessionID := ""
			if env, err := cache.OpenEnvelope(p.ID); err == nil {
				sessionID = env.Header.SessionID
			}
			if err := cache.DeleteEnvelope(p.ID); err != nil {
				logger.Error("purge envelope", "id", p.ID, "error", err)
				continue
			}
			if jrnl != nil {
				_ = jrnl.Append(journal.Entry{
					EnvelopeID:  p.ID,
					SessionID:   sessionID,
					Outcome:     journal.OutcomeEvicted,
					AttemptedAt: time.Now(),
				})
			}
			purged++
		}
		fmt.Printf("Purged %d of %d envelopes.\n", purged, len(pending))
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "delete every pending envelope")
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0,
		"delete envelopes older than this duration (e.g. 72h)")
	rootCmd.AddCommand(purgeCmd)
}
