package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/faultline-io/faultline/event"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending envelopes in the cache",
	RunE: func(_ *cobra.Command, _ []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		pending, err := cache.PendingEnvelopes()
		if err != nil {
			return fmt.Errorf("listing envelopes: %w", err)
		}
		if len(pending) == 0 {
			fmt.Println("No pending envelopes.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Kind", "Session", "Size", "Age")
		now := time.Now()
		for _, p := range pending {
			kind := "?"
			session := ""
			if env, err := cache.OpenEnvelope(p.ID); err == nil {
				kind = envelopeKind(env)
				session = env.Header.SessionID
			}
			if err := table.Append(p.ID, kind, session,
				fmt.Sprintf("%d B", p.Size),
				now.Sub(p.ModTime).Round(time.Second).String(),
			); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func envelopeKind(env *event.Envelope) string {
	switch {
	case env.HasItem(event.ItemRecord):
		return string(event.ItemRecord)
	case env.HasItem(event.ItemSession):
		return string(event.ItemSession)
	default:
		return "?"
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
}
