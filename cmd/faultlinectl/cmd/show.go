package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <envelope-id>",
	Short: "Print one envelope as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}
		env, err := cache.OpenEnvelope(args[0])
		if err != nil {
			return fmt.Errorf("opening envelope %s: %w", args[0], err)
		}
		data, err := env.Encode()
		if err != nil {
			return err
		}
		data = append(data, '\n')
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
