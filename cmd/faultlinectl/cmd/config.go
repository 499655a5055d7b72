package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter .faultline.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := ".faultline.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		starter := map[string]any{
			"cache_dir":               "",
			"max_envelopes":           30,
			"release":                 "",
			"environment":             "",
			"startup_crash_threshold": "2s",
			"session": map[string]any{
				"gap": "30s",
			},
			"watchdog": map[string]any{
				"enabled":                       false,
				"poll_interval":                 "500ms",
				"timeout":                       "5s",
				"report_while_debugging":        false,
				"assume_stalled_on_probe_error": true,
			},
			"flush": map[string]any{
				"timeout":         "2s",
				"startup_timeout": "5s",
			},
			"scrub": map[string]any{
				"patterns": []string{},
			},
			"log": map[string]any{
				"level":  "info",
				"format": "auto",
			},
		}

		data, err := yaml.Marshal(starter)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
