package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Loader reads configuration from defaults, a file, and the environment.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with a fresh viper instance.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "FAULTLINE",
	}
}

// NewLoaderWithViper wraps an existing viper instance so CLI flag
// bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "FAULTLINE",
	}
}

// WithConfigFile pins an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load resolves the configuration. Precedence, highest first: bound CLI
// flags, FAULTLINE_* environment variables, .faultline.yaml in the
// working directory, ~/.config/faultline/config.yaml, defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".faultline")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "faultline"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("cache_dir", defaultCacheDir())
	l.v.SetDefault("max_envelopes", 30)
	l.v.SetDefault("release", "")
	l.v.SetDefault("environment", "")
	l.v.SetDefault("startup_crash_threshold", 2*time.Second)

	l.v.SetDefault("session.gap", 30*time.Second)

	l.v.SetDefault("watchdog.enabled", true)
	l.v.SetDefault("watchdog.poll_interval", 500*time.Millisecond)
	l.v.SetDefault("watchdog.timeout", 5*time.Second)
	l.v.SetDefault("watchdog.report_while_debugging", false)
	l.v.SetDefault("watchdog.assume_stalled_on_probe_error", true)

	l.v.SetDefault("flush.timeout", 2*time.Second)
	l.v.SetDefault("flush.startup_timeout", 5*time.Second)

	l.v.SetDefault("scrub.patterns", []string{})

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
}

// defaultCacheDir places the cache under the user cache root, falling
// back to a dot directory beside the process.
func defaultCacheDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "faultline")
	}
	return ".faultline-cache"
}
