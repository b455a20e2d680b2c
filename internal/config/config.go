package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds the settings of the mntwatch command
type Config struct {
	// Namespace is a mount namespace file, e.g. /proc/<pid>/ns/mnt. Empty
	// watches the namespace of the process.
	Namespace string

	// Classic selects the /proc/self/mountinfo monitor instead of fanotify
	Classic bool

	// Veiled hides kernel events while VeilMarker exists
	Veiled bool

	// VeilMarker is the file signalling a userspace mount table update
	VeilMarker string

	// Timeout bounds a single wait for events
	Timeout time.Duration

	// Resolve looks up the mountinfo entry of attached mounts
	Resolve bool

	// MetricsAddr enables the Prometheus endpoint when non-empty
	MetricsAddr string

	// LogLevel is a zap level name
	LogLevel string

	// LogJSON selects JSON log output
	LogJSON bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		VeilMarker: "/run/mount/utab.act",
		Timeout:    time.Second,
		Resolve:    true,
		LogLevel:   "info",
	}
}

func envBool(v string) bool {
	return v == "1" || v == "true" || v == "TRUE"
}

// LoadFromEnv loads configuration from MNTWATCH_* environment variables
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("MNTWATCH_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("MNTWATCH_CLASSIC"); v != "" {
		cfg.Classic = envBool(v)
	}
	if v := os.Getenv("MNTWATCH_VEILED"); v != "" {
		cfg.Veiled = envBool(v)
	}
	if v := os.Getenv("MNTWATCH_VEIL_MARKER"); v != "" {
		cfg.VeilMarker = v
	}
	if v := os.Getenv("MNTWATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("MNTWATCH_RESOLVE"); v != "" {
		cfg.Resolve = envBool(v)
	}
	if v := os.Getenv("MNTWATCH_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("MNTWATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MNTWATCH_LOG_JSON"); v != "" {
		cfg.LogJSON = envBool(v)
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", c.Timeout)
	}
	if c.Classic && c.Namespace != "" {
		return fmt.Errorf("namespace %s requires the fanotify monitor", c.Namespace)
	}
	if c.Veiled && c.VeilMarker == "" {
		return fmt.Errorf("veiled mode requires a veil marker path")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}
