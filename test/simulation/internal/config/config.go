// Package config loads the load simulator configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/spawn"
)

// Config is the root configuration structure.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Chats      ChatsConfig      `yaml:"chats"`
	Producers  ProducersConfig  `yaml:"producers"`
	Claimers   ClaimersConfig   `yaml:"claimers"`
	NATS       NATSConfig       `yaml:"nats"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Engine     spawn.Config     `yaml:"engine"`
}

// SimulationConfig configures the simulation runtime.
type SimulationConfig struct {
	Duration       time.Duration `yaml:"duration"`       // e.g., "10m"
	ReportInterval time.Duration `yaml:"reportInterval"` // e.g., "30s"
}

// ChatsConfig configures the simulated chats and their traffic.
type ChatsConfig struct {
	Count          int           `yaml:"count"`        // Number of group chats
	MessageRate    float64       `yaml:"messageRate"`  // Messages per second per chat
	Distribution   string        `yaml:"distribution"` // "uniform", "exponential"
	Weights        WeightsConfig `yaml:"weights"`
	SendersPerChat int           `yaml:"sendersPerChat"` // Distinct users talking in each chat
}

// WeightsConfig configures chat activity distributions.
type WeightsConfig struct {
	Exponential ExponentialWeightsConfig `yaml:"exponential"`
}

// ExponentialWeightsConfig makes a few chats much busier than the rest.
type ExponentialWeightsConfig struct {
	ExtremePercent float64 `yaml:"extremePercent"` // 0.05 = 5% of chats
	ExtremeWeight  int64   `yaml:"extremeWeight"`  // Relative activity of busy chats
	NormalWeight   int64   `yaml:"normalWeight"`   // Relative activity of quiet chats
}

// ProducersConfig defines producer configuration.
type ProducersConfig struct {
	Count int `yaml:"count"`
}

// ClaimersConfig configures the simulated users racing for each drop.
type ClaimersConfig struct {
	PerDrop  int     `yaml:"perDrop"`  // Users guessing each announced drop
	Accuracy float64 `yaml:"accuracy"` // Probability a guess names the right entity
	Delay    Range   `yaml:"delay"`    // Reaction time before guessing
}

// Range is a closed duration interval.
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	Mode string `yaml:"mode"` // "embedded", "external"
	URL  string `yaml:"url"`  // "nats://localhost:4222"
}

// MetricsConfig configures metrics exposure.
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// PrometheusConfig configures the Prometheus endpoint.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns a configuration suitable for a short local run.
func Default() *Config {
	cfg := &Config{Engine: spawn.DefaultConfig()}
	applyDefaults(cfg)

	return cfg
}

// LoadConfig loads configuration from a YAML file.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded configuration with defaults applied
//   - error: Error if file cannot be read, parsed or validated
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{Engine: spawn.DefaultConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Simulation.Duration == 0 {
		cfg.Simulation.Duration = 5 * time.Minute
	}
	if cfg.Simulation.ReportInterval == 0 {
		cfg.Simulation.ReportInterval = 30 * time.Second
	}

	if cfg.Chats.Count == 0 {
		cfg.Chats.Count = 50
	}
	if cfg.Chats.MessageRate == 0 {
		cfg.Chats.MessageRate = 2
	}
	if cfg.Chats.Distribution == "" {
		cfg.Chats.Distribution = "uniform"
	}
	if cfg.Chats.Weights.Exponential.ExtremePercent == 0 {
		cfg.Chats.Weights.Exponential.ExtremePercent = 0.05
	}
	if cfg.Chats.Weights.Exponential.ExtremeWeight == 0 {
		cfg.Chats.Weights.Exponential.ExtremeWeight = 100
	}
	if cfg.Chats.Weights.Exponential.NormalWeight == 0 {
		cfg.Chats.Weights.Exponential.NormalWeight = 1
	}
	if cfg.Chats.SendersPerChat == 0 {
		cfg.Chats.SendersPerChat = 20
	}

	if cfg.Producers.Count == 0 {
		cfg.Producers.Count = 4
	}

	if cfg.Claimers.PerDrop == 0 {
		cfg.Claimers.PerDrop = 8
	}
	if cfg.Claimers.Accuracy == 0 {
		cfg.Claimers.Accuracy = 0.5
	}
	if cfg.Claimers.Delay.Max == 0 {
		cfg.Claimers.Delay = Range{Min: 50 * time.Millisecond, Max: 500 * time.Millisecond}
	}

	if cfg.NATS.Mode == "" {
		cfg.NATS.Mode = "embedded"
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Metrics.Prometheus.Port == 0 {
		cfg.Metrics.Prometheus.Port = 9090
	}

	spawn.SetDefaults(&cfg.Engine)
}

// Validate checks the configuration for logical consistency.
func Validate(cfg *Config) error { //nolint:cyclop
	if cfg.Simulation.Duration <= 0 {
		return errors.New("simulation duration must be positive")
	}
	if cfg.Simulation.ReportInterval <= 0 {
		return errors.New("report interval must be positive")
	}

	if cfg.Chats.Count <= 0 {
		return errors.New("chat count must be positive")
	}
	if cfg.Chats.MessageRate <= 0 {
		return errors.New("message rate must be positive")
	}
	switch cfg.Chats.Distribution {
	case "uniform", "exponential":
	default:
		return fmt.Errorf("invalid distribution: %s (must be one of: uniform, exponential)", cfg.Chats.Distribution)
	}
	if cfg.Chats.Distribution == "exponential" {
		exp := cfg.Chats.Weights.Exponential
		if exp.ExtremePercent <= 0 || exp.ExtremePercent >= 1 {
			return errors.New("extreme percent must be between 0 and 1")
		}
		if exp.ExtremeWeight <= 0 || exp.NormalWeight <= 0 {
			return errors.New("chat weights must be positive")
		}
	}
	if cfg.Chats.SendersPerChat <= 0 {
		return errors.New("senders per chat must be positive")
	}

	if cfg.Producers.Count <= 0 {
		return errors.New("producer count must be positive")
	}
	if cfg.Producers.Count > cfg.Chats.Count {
		return fmt.Errorf("producer count %d exceeds chat count %d", cfg.Producers.Count, cfg.Chats.Count)
	}

	if cfg.Claimers.PerDrop < 0 {
		return errors.New("claimers per drop cannot be negative")
	}
	if cfg.Claimers.Accuracy < 0 || cfg.Claimers.Accuracy > 1 {
		return errors.New("claimer accuracy must be between 0 and 1")
	}
	if cfg.Claimers.Delay.Min < 0 || cfg.Claimers.Delay.Min > cfg.Claimers.Delay.Max {
		return errors.New("claimer delay range is invalid")
	}

	switch cfg.NATS.Mode {
	case "embedded", "external":
	default:
		return fmt.Errorf("invalid NATS mode: %s (must be one of: embedded, external)", cfg.NATS.Mode)
	}

	if cfg.Metrics.Prometheus.Enabled && (cfg.Metrics.Prometheus.Port <= 0 || cfg.Metrics.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid Prometheus port: %d (must be 1-65535)", cfg.Metrics.Prometheus.Port)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	return nil
}
