package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.Namespace)
	assert.False(t, cfg.Classic)
	assert.False(t, cfg.Veiled)
	assert.Equal(t, "/run/mount/utab.act", cfg.VeilMarker)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.True(t, cfg.Resolve)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MNTWATCH_NAMESPACE", "/proc/1/ns/mnt")
	t.Setenv("MNTWATCH_VEILED", "1")
	t.Setenv("MNTWATCH_VEIL_MARKER", "/tmp/utab.act")
	t.Setenv("MNTWATCH_TIMEOUT", "250ms")
	t.Setenv("MNTWATCH_RESOLVE", "false")
	t.Setenv("MNTWATCH_METRICS_ADDR", ":9105")
	t.Setenv("MNTWATCH_LOG_LEVEL", "debug")
	t.Setenv("MNTWATCH_LOG_JSON", "true")

	cfg := LoadFromEnv()
	assert.Equal(t, "/proc/1/ns/mnt", cfg.Namespace)
	assert.True(t, cfg.Veiled)
	assert.Equal(t, "/tmp/utab.act", cfg.VeilMarker)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.False(t, cfg.Resolve)
	assert.Equal(t, ":9105", cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvIgnoresBadDuration(t *testing.T) {
	t.Setenv("MNTWATCH_TIMEOUT", "soon")
	assert.Equal(t, time.Second, LoadFromEnv().Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"classic with namespace", func(c *Config) { c.Classic = true; c.Namespace = "/proc/1/ns/mnt" }},
		{"veiled without marker", func(c *Config) { c.Veiled = true; c.VeilMarker = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
