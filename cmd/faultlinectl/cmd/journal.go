package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/faultline-io/faultline/internal/journal"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent delivery attempts from the journal",
	RunE: func(_ *cobra.Command, _ []string) error {
		dir, err := resolveCacheDir()
		if err != nil {
			return err
		}
		jrnl, err := journal.Open(filepath.Join(dir, "journal.db"))
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer jrnl.Close()

		entries, err := jrnl.Recent(journalLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No delivery attempts recorded.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Envelope", "Session", "Outcome", "Ref", "Error", "At")
		for _, e := range entries {
			if err := table.Append(e.EnvelopeID, e.SessionID, string(e.Outcome),
				e.TransportRef, e.Error, e.AttemptedAt.Format("2006-01-02 15:04:05"),
			); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() {
	journalCmd.Flags().IntVar(&journalLimit, "limit", 50, "maximum entries to show")
	rootCmd.AddCommand(journalCmd)
}
