package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Finalize a leftover previous-session file",
	Long: `Reconcile inspects the previous-session file a dead process left
behind, decides its terminal status, and prints the finalized session.
Useful when the owning application is gone for good and its next launch
will never run the startup reconciliation itself.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		sess := cache.ReconcilePreviousSession()
		if sess == nil {
			fmt.Println("Nothing to reconcile.")
			return nil
		}
		logger.Info("reconciled previous session",
			"session_id", sess.ID, "status", sess.Status)
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(sess)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
