package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/faultline-io/faultline/event"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show the current and previous session files",
	RunE: func(_ *cobra.Command, _ []string) error {
		cache, err := openCache()
		if err != nil {
			return err
		}

		out := struct {
			Current  *event.Session `yaml:"current,omitempty"`
			Previous *event.Session `yaml:"previous,omitempty"`
		}{}

		out.Current, err = cache.ReadCurrentSession()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading current session: %w", err)
		}
		out.Previous, err = cache.ReadPreviousSession()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading previous session: %w", err)
		}

		if out.Current == nil && out.Previous == nil {
			fmt.Println("No session files.")
			return nil
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
