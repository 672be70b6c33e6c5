package spawn

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/spawn/internal/matcher"
)

// ThresholdConfig controls how many qualifying messages trigger a spawn.
type ThresholdConfig struct {
	// Default is the threshold for chats without an override.
	Default int `yaml:"default"`

	// Min and Max bound values accepted by SetThreshold.
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// SelectionConfig controls entity selection and prefetching.
type SelectionConfig struct {
	// CacheTTL is how long pools and rarity settings are served from cache.
	//
	// Default: 30 seconds
	CacheTTL time.Duration `yaml:"cacheTtl"`

	// MaxCachedPools bounds the number of distinct exclusion sets kept in cache.
	MaxCachedPools int `yaml:"maxCachedPools"`

	// PrefetchDepth is the number of picks buffered per chat (0 disables prefetching).
	PrefetchDepth int `yaml:"prefetchDepth"`

	// Seed seeds the default randomness source. Zero seeds from the clock.
	Seed uint64 `yaml:"seed"`
}

// GovernorConfig controls the overload governor.
//
// Load is the number of messages being processed plus the number queued.
// The governor turns hot at HighWater and cold again at LowWater; while hot,
// new activity is queued instead of processed inline.
type GovernorConfig struct {
	QueueCapacity int           `yaml:"queueCapacity"`
	HighWater     int           `yaml:"highWater"`
	LowWater      int           `yaml:"lowWater"`
	Workers       int           `yaml:"workers"`
	PopTimeout    time.Duration `yaml:"popTimeout"`
}

// SpamConfig limits how often a single sender counts towards a spawn.
type SpamConfig struct {
	// MaxMessages is the number of counted messages per sender per window (0 disables).
	MaxMessages int `yaml:"maxMessages"`

	Window time.Duration `yaml:"window"`
}

// ClaimConfig controls claim matching and attribution.
type ClaimConfig struct {
	// SourceTag is passed to the attributor to mark grants made by this engine.
	SourceTag string `yaml:"sourceTag"`

	// MinWordLength is the shortest single word that matches a multi-word name.
	MinWordLength int `yaml:"minWordLength"`

	// ForbiddenChars rejects any guess containing one of them.
	ForbiddenChars string `yaml:"forbiddenChars"`
}

// RegistryConfig bounds per-chat state kept in memory.
type RegistryConfig struct {
	// MaxChats is the number of chats above which idle chats are evicted (0 disables eviction).
	MaxChats int `yaml:"maxChats"`

	// IdleAfter is how long a chat must be unused before eviction.
	IdleAfter time.Duration `yaml:"idleAfter"`
}

// BonusConfig controls the optional currency award after a claim.
type BonusConfig struct {
	// Chance is the probability (0.0-1.0) of an award per accepted claim.
	Chance float64 `yaml:"chance"`

	// Min and Max bound the awarded amount (inclusive).
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// Config is the engine configuration.
type Config struct {
	Threshold ThresholdConfig `yaml:"threshold"`
	Selection SelectionConfig `yaml:"selection"`
	Governor  GovernorConfig  `yaml:"governor"`
	Spam      SpamConfig      `yaml:"spam"`
	Claim     ClaimConfig     `yaml:"claim"`
	Registry  RegistryConfig  `yaml:"registry"`
	Bonus     BonusConfig     `yaml:"bonus"`

	// FlushInterval is how often every live drop is re-persisted.
	//
	// Default: 60 seconds
	FlushInterval time.Duration `yaml:"flushInterval"`

	// PinDrops pins each announcement after it is published.
	PinDrops bool `yaml:"pinDrops"`

	// OperationTimeout bounds store and collaborator calls made from background tasks.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds the final drain and flush in Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig returns a configuration with production defaults.
//
// Returns:
//   - Config: Configuration with defaults applied
//
// Example:
//
//	cfg := spawn.DefaultConfig()
//	cfg.Threshold.Default = 50
//	eng, err := spawn.NewEngine(&cfg, deps)
func DefaultConfig() Config {
	return Config{
		Threshold: ThresholdConfig{
			Default: 100,
			Min:     1,
			Max:     10000,
		},
		Selection: SelectionConfig{
			CacheTTL:       30 * time.Second,
			MaxCachedPools: 64,
			PrefetchDepth:  3,
		},
		Governor: GovernorConfig{
			QueueCapacity: 1024,
			HighWater:     256,
			LowWater:      64,
			Workers:       4,
			PopTimeout:    100 * time.Millisecond,
		},
		Spam: SpamConfig{
			MaxMessages: 8,
			Window:      10 * time.Second,
		},
		Claim: ClaimConfig{
			SourceTag:      "collected",
			MinWordLength:  matcher.DefaultMinWordLength,
			ForbiddenChars: matcher.DefaultForbidden,
		},
		Registry: RegistryConfig{
			MaxChats:  100000,
			IdleAfter: time.Hour,
		},
		Bonus: BonusConfig{
			Chance: 0,
			Min:    10,
			Max:    50,
		},
		FlushInterval:    60 * time.Second,
		OperationTimeout: 5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SetDefaults fills zero-valued fields of cfg with defaults.
//
// Booleans and fields where zero is meaningful (PrefetchDepth, Spam.MaxMessages,
// Registry.MaxChats, Bonus.Chance, Selection.Seed) are left untouched.
//
// Parameters:
//   - cfg: Configuration to fill in place
func SetDefaults(cfg *Config) {
	def := DefaultConfig()

	if cfg.Threshold.Default == 0 {
		cfg.Threshold.Default = def.Threshold.Default
	}
	if cfg.Threshold.Min == 0 {
		cfg.Threshold.Min = def.Threshold.Min
	}
	if cfg.Threshold.Max == 0 {
		cfg.Threshold.Max = def.Threshold.Max
	}

	if cfg.Selection.CacheTTL == 0 {
		cfg.Selection.CacheTTL = def.Selection.CacheTTL
	}
	if cfg.Selection.MaxCachedPools == 0 {
		cfg.Selection.MaxCachedPools = def.Selection.MaxCachedPools
	}

	if cfg.Governor.QueueCapacity == 0 {
		cfg.Governor.QueueCapacity = def.Governor.QueueCapacity
	}
	if cfg.Governor.HighWater == 0 {
		cfg.Governor.HighWater = def.Governor.HighWater
	}
	if cfg.Governor.LowWater == 0 {
		cfg.Governor.LowWater = def.Governor.LowWater
	}
	if cfg.Governor.Workers == 0 {
		cfg.Governor.Workers = def.Governor.Workers
	}
	if cfg.Governor.PopTimeout == 0 {
		cfg.Governor.PopTimeout = def.Governor.PopTimeout
	}

	if cfg.Spam.Window == 0 {
		cfg.Spam.Window = def.Spam.Window
	}

	if cfg.Claim.SourceTag == "" {
		cfg.Claim.SourceTag = def.Claim.SourceTag
	}
	if cfg.Claim.MinWordLength == 0 {
		cfg.Claim.MinWordLength = def.Claim.MinWordLength
	}
	if cfg.Claim.ForbiddenChars == "" {
		cfg.Claim.ForbiddenChars = def.Claim.ForbiddenChars
	}

	if cfg.Registry.IdleAfter == 0 {
		cfg.Registry.IdleAfter = def.Registry.IdleAfter
	}

	if cfg.Bonus.Min == 0 {
		cfg.Bonus.Min = def.Bonus.Min
	}
	if cfg.Bonus.Max == 0 {
		cfg.Bonus.Max = def.Bonus.Max
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Validate checks configuration constraints.
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.Threshold.Min < 1 {
		return fmt.Errorf("Threshold.Min must be >= 1, got %d", cfg.Threshold.Min)
	}
	if cfg.Threshold.Max < cfg.Threshold.Min {
		return fmt.Errorf("Threshold.Max (%d) must be >= Threshold.Min (%d)", cfg.Threshold.Max, cfg.Threshold.Min)
	}
	if cfg.Threshold.Default < cfg.Threshold.Min || cfg.Threshold.Default > cfg.Threshold.Max {
		return fmt.Errorf(
			"Threshold.Default (%d) must be within [%d, %d]",
			cfg.Threshold.Default, cfg.Threshold.Min, cfg.Threshold.Max,
		)
	}

	if cfg.Selection.CacheTTL < 0 {
		return fmt.Errorf("Selection.CacheTTL must be >= 0, got %v", cfg.Selection.CacheTTL)
	}
	if cfg.Selection.PrefetchDepth < 0 {
		return fmt.Errorf("Selection.PrefetchDepth must be >= 0, got %d", cfg.Selection.PrefetchDepth)
	}

	g := cfg.Governor
	if g.QueueCapacity < 1 || g.Workers < 1 {
		return fmt.Errorf("Governor.QueueCapacity (%d) and Governor.Workers (%d) must be >= 1", g.QueueCapacity, g.Workers)
	}
	if g.LowWater < 0 || g.LowWater >= g.HighWater {
		return fmt.Errorf("Governor.LowWater (%d) must be >= 0 and < Governor.HighWater (%d)", g.LowWater, g.HighWater)
	}
	if g.PopTimeout <= 0 {
		return fmt.Errorf("Governor.PopTimeout must be > 0, got %v", g.PopTimeout)
	}

	if cfg.Spam.MaxMessages < 0 {
		return fmt.Errorf("Spam.MaxMessages must be >= 0, got %d", cfg.Spam.MaxMessages)
	}
	if cfg.Spam.MaxMessages > 0 && cfg.Spam.Window <= 0 {
		return fmt.Errorf("Spam.Window must be > 0 when Spam.MaxMessages is set, got %v", cfg.Spam.Window)
	}

	if cfg.Claim.SourceTag == "" {
		return errors.New("Claim.SourceTag must not be empty")
	}
	if cfg.Claim.MinWordLength < 1 {
		return fmt.Errorf("Claim.MinWordLength must be >= 1, got %d", cfg.Claim.MinWordLength)
	}

	if cfg.Registry.MaxChats < 0 {
		return fmt.Errorf("Registry.MaxChats must be >= 0, got %d", cfg.Registry.MaxChats)
	}

	if cfg.Bonus.Chance < 0 || cfg.Bonus.Chance > 1 {
		return fmt.Errorf("Bonus.Chance must be within [0, 1], got %v", cfg.Bonus.Chance)
	}
	if cfg.Bonus.Min < 0 || cfg.Bonus.Max < cfg.Bonus.Min {
		return fmt.Errorf("Bonus range [%d, %d] is invalid", cfg.Bonus.Min, cfg.Bonus.Max)
	}

	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be > 0, got %v", cfg.FlushInterval)
	}
	if cfg.OperationTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("OperationTimeout and ShutdownTimeout must be > 0")
	}

	return nil
}

// ValidateWithWarnings logs warnings for values that are valid but unusual.
//
// Called by NewEngine after Validate.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Governor.QueueCapacity < cfg.Governor.HighWater {
		logger.Warn(
			"governor queue is smaller than its high-water mark; overflow will bypass the queue early",
			"queueCapacity", cfg.Governor.QueueCapacity,
			"highWater", cfg.Governor.HighWater,
		)
	}

	if cfg.FlushInterval < time.Second {
		logger.Warn(
			"FlushInterval is very short, every live drop is rewritten each cycle",
			"flushInterval", cfg.FlushInterval,
			"recommended", "30s or higher",
		)
	}

	if cfg.Selection.CacheTTL == 0 {
		logger.Warn("Selection.CacheTTL is zero, every spawn fetches settings and pool from the source")
	}
}

// TestConfig returns a configuration tuned for tests.
//
// Thresholds are low, prefetching and spam suppression are off, and
// background intervals are short.
//
// Example:
//
//	cfg := spawn.TestConfig()
//	cfg.Threshold.Default = 3
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.Threshold.Default = 1
	cfg.Selection.CacheTTL = 50 * time.Millisecond
	cfg.Selection.PrefetchDepth = 0
	cfg.Selection.Seed = 1
	cfg.Spam.MaxMessages = 0
	cfg.Governor.PopTimeout = 10 * time.Millisecond
	cfg.FlushInterval = 100 * time.Millisecond
	cfg.OperationTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second

	return cfg
}

// LoadConfig reads a YAML configuration file and applies defaults.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: Parsed configuration with defaults filled in
//   - error: Read, parse or validation error
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}
