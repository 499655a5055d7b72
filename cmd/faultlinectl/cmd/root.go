// Package cmd implements the faultlinectl operator CLI: offline
// inspection and maintenance of a faultline cache directory. It works
// on the files, never against a live process.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faultline-io/faultline/internal/logging"
	"github.com/faultline-io/faultline/internal/store"
)

var (
	cfgFile   string
	cacheDir  string
	logLevel  string
	logFormat string

	logger *logging.Logger

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "faultlinectl",
	Short: "Inspect and maintain a faultline cache directory",
	Long: `faultlinectl operates on the on-disk cache a faultline-embedded
application writes: pending envelopes, session files, crash markers,
and the delivery journal. All commands are offline — they read and
modify files, not the running process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// SetVersion injects build-time version information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .faultline.yaml)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "",
		"faultline cache directory to operate on")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".faultline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("FAULTLINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	logger = logging.New(logging.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	})
	return nil
}

// openCache opens the cache directory read-write for the offline
// commands.
func openCache() (*store.Cache, error) {
	dir, err := resolveCacheDir()
	if err != nil {
		return nil, err
	}
	return store.New(dir, store.Options{Logger: logger})
}

// resolveCacheDir returns the cache directory from flag/env/config and
// verifies it exists.
func resolveCacheDir() (string, error) {
	dir := viper.GetString("cache_dir")
	if dir == "" {
		return "", fmt.Errorf("no cache directory: pass --cache-dir or set FAULTLINE_CACHE_DIR")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cache directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cache directory %s is not a directory", dir)
	}
	return dir, nil
}
