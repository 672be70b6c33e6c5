package spawn

import (
	"time"

	"github.com/arloliu/spawn/internal/selector"
)

// Rand is the randomness source for entity selection and bonus awards.
// *math/rand/v2.Rand satisfies it. It is used from many goroutines and is
// wrapped with a lock by the engine.
type Rand = selector.Rand

// Option configures an Engine with optional dependencies.
type Option func(*engineOptions)

// engineOptions holds optional Engine configuration.
type engineOptions struct {
	hooks      *Hooks
	metrics    MetricsCollector
	logger     Logger
	rng        Rand
	clock      func() time.Time
	thresholds ThresholdStore
	rewarder   Rewarder
	captioner  Captioner
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewEngine
//
// Example:
//
//	hooks := &spawn.Hooks{
//	    OnClaimed: func(ctx context.Context, drop spawn.DropRecord, claimantID int64) error {
//	        return audit.Record(ctx, drop, claimantID)
//	    },
//	}
//	eng, err := spawn.NewEngine(&cfg, deps, spawn.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *engineOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewEngine
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *engineOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation
//
// Returns:
//   - Option: Functional option for NewEngine
//
// Example:
//
//	eng, err := spawn.NewEngine(&cfg, deps, spawn.WithLogger(logging.NewSlogDefault()))
func WithLogger(logger Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithRand replaces the randomness source. Tests use it to script draws.
func WithRand(rng Rand) Option {
	return func(o *engineOptions) {
		o.rng = rng
	}
}

// WithClock replaces time.Now. Daily caps roll over on the UTC day of this clock.
func WithClock(clock func() time.Time) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithThresholdStore persists per-chat threshold overrides.
//
// Overrides are loaded in Start and written by SetThreshold. Without a
// threshold store, overrides live in memory only. A DropStore that also
// implements ThresholdStore is used automatically.
func WithThresholdStore(store ThresholdStore) Option {
	return func(o *engineOptions) {
		o.thresholds = store
	}
}

// WithRewarder enables the bonus award after accepted claims (see BonusConfig).
func WithRewarder(r Rewarder) Option {
	return func(o *engineOptions) {
		o.rewarder = r
	}
}

// WithCaptioner replaces the default announcement and claim captions.
func WithCaptioner(c Captioner) Option {
	return func(o *engineOptions) {
		o.captioner = c
	}
}
