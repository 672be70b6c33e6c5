package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, Validate(cfg))
	require.Equal(t, "embedded", cfg.NATS.Mode)
	require.Equal(t, 100, cfg.Engine.Threshold.Default)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
simulation:
  duration: 90s
chats:
  count: 10
  distribution: exponential
producers:
  count: 2
claimers:
  perDrop: 20
  delay:
    min: 10ms
    max: 20ms
engine:
  threshold:
    default: 5
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.Simulation.Duration)
	require.Equal(t, 10, cfg.Chats.Count)
	require.Equal(t, int64(100), cfg.Chats.Weights.Exponential.ExtremeWeight)
	require.Equal(t, 20, cfg.Claimers.PerDrop)
	require.Equal(t, 5, cfg.Engine.Threshold.Default)
	require.Equal(t, 10000, cfg.Engine.Threshold.Max, "engine defaults survive a partial section")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown distribution", func(c *Config) { c.Chats.Distribution = "zipf" }},
		{"more producers than chats", func(c *Config) { c.Producers.Count = c.Chats.Count + 1 }},
		{"accuracy above one", func(c *Config) { c.Claimers.Accuracy = 1.5 }},
		{"inverted delay", func(c *Config) { c.Claimers.Delay = Range{Min: time.Second, Max: time.Millisecond} }},
		{"unknown nats mode", func(c *Config) { c.NATS.Mode = "cluster" }},
		{"bad prometheus port", func(c *Config) {
			c.Metrics.Prometheus.Enabled = true
			c.Metrics.Prometheus.Port = 70000
		}},
		{"invalid engine", func(c *Config) { c.Engine.Threshold.Min = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}
