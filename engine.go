package spawn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/spawn/internal/chatstate"
	"github.com/arloliu/spawn/internal/flush"
	"github.com/arloliu/spawn/internal/governor"
	"github.com/arloliu/spawn/internal/hooks"
	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/matcher"
	"github.com/arloliu/spawn/internal/metrics"
	"github.com/arloliu/spawn/internal/poolcache"
	"github.com/arloliu/spawn/internal/prefetch"
	"github.com/arloliu/spawn/internal/selector"
	"github.com/arloliu/spawn/internal/supervise"
)

// Dependencies are the collaborators the engine cannot run without.
type Dependencies struct {
	// Pool supplies eligible entities.
	Pool PoolSource

	// Settings supplies rarity weights, caps and daily counts.
	Settings SettingsSource

	// Bans reports banned users. Optional; without it nobody is banned.
	Bans BanChecker

	// Attributor grants claimed entities to users.
	Attributor Attributor

	// Transport publishes announcements to chats.
	Transport Transport

	// Store persists live drops across restarts.
	Store DropStore
}

// tombstone identifies a durable record whose delete failed and is retried by Flush.
type tombstone struct {
	chatID   int64
	entityID string
}

// Engine schedules spawns from chat activity and resolves claims on them.
//
// Engine is the main entry point of the library. It handles:
//   - Per-chat activity counting and threshold triggers
//   - Weighted entity selection with daily caps and prefetching
//   - Announcing drops, with at most one live drop per chat
//   - Exclusive claims guarded against concurrent attempts
//   - Persisting live drops and restoring them on start
//   - Queueing activity when the process is overloaded
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Unrelated chats never wait on each other
//
// Lifecycle:
//   - Create with NewEngine()
//   - Call Start() to restore persisted drops and start background tasks
//   - Feed chat messages through OnChatMessage()
//   - Call Stop() to drain queued activity and flush
type Engine struct {
	cfg  Config
	deps Dependencies

	hooks      Hooks
	metrics    MetricsCollector
	logger     Logger
	clock      func() time.Time
	rng        *selector.LockedRand
	captioner  Captioner
	thresholds ThresholdStore
	rewarder   Rewarder
	rules      matcher.Rules

	chats      *chatstate.Registry
	cache      *poolcache.Cache
	selector   *selector.Selector
	prefetch   *prefetch.Queue
	governor   *governor.Governor
	flusher    *flush.Loop
	tasks      atomic.Pointer[supervise.Supervisor]
	tombstones *xsync.Map[tombstone, struct{}]

	state atomic.Int32 // State
	mu    sync.Mutex
}

// NewEngine creates an engine.
//
// Returns a concrete *Engine following the "accept interfaces, return structs"
// principle. Consumers can define their own interfaces for testing.
//
// Parameters:
//   - cfg: Configuration; zero fields are filled with defaults
//   - deps: Required collaborators (Bans is optional)
//   - opts: Optional logger, metrics, hooks, randomness, clock, threshold store, rewarder, captioner
//
// Returns:
//   - *Engine: Engine in StateInit
//   - error: ErrInvalidConfig or ErrMissingDependency
//
// Example:
//
//	cfg := spawn.DefaultConfig()
//	eng, err := spawn.NewEngine(&cfg, spawn.Dependencies{
//	    Pool: catalog, Settings: catalog, Bans: catalog,
//	    Attributor: inventory, Transport: hub, Store: store,
//	})
func NewEngine(cfg *Config, deps Dependencies, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	switch {
	case deps.Pool == nil:
		return nil, fmt.Errorf("%w: pool source", ErrMissingDependency)
	case deps.Settings == nil:
		return nil, fmt.Errorf("%w: settings source", ErrMissingDependency)
	case deps.Attributor == nil:
		return nil, fmt.Errorf("%w: attributor", ErrMissingDependency)
	case deps.Transport == nil:
		return nil, fmt.Errorf("%w: transport", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: drop store", ErrMissingDependency)
	}

	c := *cfg
	SetDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	logger := options.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	c.ValidateWithWarnings(logger)

	collector := options.metrics
	if collector == nil {
		collector = metrics.NewNop()
	}

	clock := options.clock
	if clock == nil {
		clock = time.Now
	}

	seed := c.Selection.Seed
	if seed == 0 {
		seed = uint64(clock().UnixNano()) //nolint:gosec // seed bits only
	}

	thresholds := options.thresholds
	if thresholds == nil {
		if ts, ok := deps.Store.(ThresholdStore); ok {
			thresholds = ts
		}
	}

	captioner := options.captioner
	if captioner == nil {
		captioner = defaultCaptioner{}
	}

	e := &Engine{
		cfg:        c,
		deps:       deps,
		hooks:      hooks.Merge(options.hooks),
		metrics:    collector,
		logger:     logger,
		clock:      clock,
		rng:        selector.NewLockedRand(options.rng, seed),
		captioner:  captioner,
		thresholds: thresholds,
		rewarder:   options.rewarder,
		rules:      matcher.Rules{MinWordLength: c.Claim.MinWordLength, Forbidden: c.Claim.ForbiddenChars},
		tombstones: xsync.NewMap[tombstone, struct{}](),
	}

	e.chats = chatstate.New(chatstate.Options{
		MaxChats:  c.Registry.MaxChats,
		IdleAfter: c.Registry.IdleAfter,
		Clock:     clock,
	})
	e.cache = poolcache.New(deps.Pool, deps.Settings, poolcache.Options{
		TTL:      c.Selection.CacheTTL,
		MaxPools: c.Selection.MaxCachedPools,
		Clock:    clock,
		Logger:   logger,
	})
	e.selector = selector.New(e.cache, e.rng, clock)
	e.prefetch = prefetch.New(c.Selection.PrefetchDepth, e.prefetchFill, e.launch, collector)
	e.governor = governor.New(governor.Config{
		Capacity:   c.Governor.QueueCapacity,
		HighWater:  c.Governor.HighWater,
		LowWater:   c.Governor.LowWater,
		Workers:    c.Governor.Workers,
		PopTimeout: c.Governor.PopTimeout,
	}, e.handleQueued, logger, collector)
	e.flusher = flush.New(c.FlushInterval, c.OperationTimeout, e.Flush, logger)

	e.state.Store(int32(StateInit))

	return e, nil
}

// Start restores persisted drops and starts background tasks.
//
// Restoring installs the newest persisted drop of each chat as its live drop
// and deletes older duplicates. Persisted threshold overrides are loaded
// when a threshold store is configured.
//
// Parameters:
//   - ctx: Context for the restore calls
//
// Returns:
//   - error: ErrAlreadyStarted, or a wrapped ErrPersistenceFailed if the store could not be read
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateInit {
		return ErrAlreadyStarted
	}
	e.transitionState(StateInit, StateRestoring)

	tasks := supervise.New(context.Background(), supervise.Options{
		Seed:    int64(e.cfg.Selection.Seed), //nolint:gosec // seed bits only
		Logger:  e.logger,
		Metrics: e.metrics,
	})

	if err := e.restore(ctx); err != nil {
		_ = tasks.Stop(ctx)
		e.transitionState(StateRestoring, StateStopped)

		return err
	}

	e.tasks.Store(tasks)

	if err := e.governor.Start(tasks); err != nil {
		return fmt.Errorf("failed to start overload governor: %w", err)
	}
	if err := e.flusher.Start(tasks); err != nil {
		return fmt.Errorf("failed to start flush loop: %w", err)
	}

	e.transitionState(StateRestoring, StateRunning)

	return nil
}

// restore rehydrates live drops and threshold overrides from storage.
func (e *Engine) restore(ctx context.Context) error {
	started := time.Now()
	persisted, err := e.deps.Store.LoadAll(ctx)
	e.metrics.RecordStoreOperation("load_all", time.Since(started).Seconds(), err == nil)
	if err != nil {
		return fmt.Errorf("%w: load drops: %w", ErrPersistenceFailed, err)
	}

	restored := 0
	for chatID, loaded := range persisted {
		drops := make([]DropRecord, 0, len(loaded))
		for _, drop := range loaded {
			if err := drop.Validate(); err != nil {
				e.logger.Warn("discarding malformed persisted drop",
					"chat_id", chatID, "entity_id", drop.EntityID, "error", err)
				continue
			}
			if drop.ChatID != chatID {
				e.logger.Warn("discarding persisted drop filed under another chat",
					"chat_id", chatID, "drop_chat_id", drop.ChatID, "entity_id", drop.EntityID)
				continue
			}
			drops = append(drops, drop)
		}
		if len(drops) == 0 {
			continue
		}

		// Newest first; a chat can only have one live drop.
		slices.SortFunc(drops, func(a, b DropRecord) int {
			return b.SpawnedAt.Compare(a.SpawnedAt)
		})
		live := drops[0]

		c := e.chats.Acquire(chatID)
		c.Install(live)
		e.chats.Release(c)
		restored++

		for _, stale := range drops[1:] {
			if stale.EntityID == live.EntityID {
				continue
			}
			e.logger.Warn("discarding duplicate persisted drop",
				"chat_id", chatID, "entity_id", stale.EntityID, "kept_entity_id", live.EntityID)
			if err := e.deps.Store.Delete(ctx, chatID, stale.EntityID); err != nil {
				e.tombstones.Store(tombstone{chatID: chatID, entityID: stale.EntityID}, struct{}{})
			}
		}
	}

	if e.thresholds != nil {
		overrides, err := e.thresholds.LoadThresholds(ctx)
		if err != nil {
			return fmt.Errorf("%w: load thresholds: %w", ErrPersistenceFailed, err)
		}
		for chatID, n := range overrides {
			e.chats.SetThreshold(chatID, n)
		}
	}

	e.metrics.RecordActiveChats(e.chats.Len())
	e.logger.Info("restored persisted drops", "drops", restored)

	return nil
}

// Stop drains queued activity, writes every live drop once more and stops
// background tasks.
//
// The shutdown is bounded by ctx and, if ctx has no deadline, by
// Config.ShutdownTimeout.
//
// Returns:
//   - error: ErrNotStarted if the engine is not running, or a shutdown error
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.State() != StateRunning {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.transitionState(StateRunning, StateStopping)
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := e.governor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop overload governor: %w", err))
	}
	if err := e.flusher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	if tasks := e.tasks.Load(); tasks != nil {
		if err := tasks.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop background tasks: %w", err))
		}
	}

	e.mu.Lock()
	e.transitionState(StateStopping, StateStopped)
	e.mu.Unlock()

	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) running() bool {
	return e.State() == StateRunning
}

// transitionState moves the engine between lifecycle states. Callers hold e.mu.
func (e *Engine) transitionState(from, to State) {
	if !from.CanTransitionTo(to) {
		e.logger.Error("invalid state transition attempted", "from", from.String(), "to", to.String())
		return
	}

	e.state.Store(int32(to)) //nolint:gosec // State values are a controlled enum
	e.logger.Info("state transition", "from", from.String(), "to", to.String())
	e.metrics.RecordStateTransition(from, to)
}

// launch runs fn on the background supervisor.
func (e *Engine) launch(name string, fn func(ctx context.Context) error) error {
	tasks := e.tasks.Load()
	if tasks == nil {
		return ErrNotStarted
	}

	return tasks.Once(name, fn)
}

// runHook calls a user hook in the background and logs its error.
func (e *Engine) runHook(name string, fn func(ctx context.Context) error) {
	err := e.launch(name, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			e.logger.Warn("hook returned an error", "hook", name, "error", err)
		}

		return nil
	})
	if err != nil {
		e.logger.Debug("hook skipped, engine is shutting down", "hook", name)
	}
}

// reportError forwards an unexpected failure to the OnError hook.
func (e *Engine) reportError(err error) {
	e.runHook("on-error", func(ctx context.Context) error {
		return e.hooks.OnError(ctx, err)
	})
}

// opContext bounds a background store or collaborator call.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

// Flush writes every live drop to the store and retries failed deletes.
//
// Called periodically by the flush loop and once more by Stop. Failures are
// logged and counted; the next cycle retries them. Idle chats over the
// registry bound are evicted afterwards.
//
// Returns:
//   - error: Joined save/delete errors of this cycle, nil if all succeeded
func (e *Engine) Flush(ctx context.Context) error {
	var errs []error
	saved, failed := 0, 0

	e.tombstones.Range(func(key tombstone, _ struct{}) bool {
		c, ok := e.chats.Peek(key.chatID)
		if ok {
			if err := e.deleteRecord(ctx, c, key.entityID); err != nil {
				errs = append(errs, err)
				failed++
			}

			return true
		}

		if err := e.storeDelete(ctx, key.chatID, key.entityID); err != nil {
			errs = append(errs, err)
			failed++

			return true
		}
		e.tombstones.Delete(key)

		return true
	})

	e.chats.Range(func(c *chatstate.Chat) bool {
		drop, ok := c.ActiveDrop()
		if !ok {
			return true
		}

		unlock := c.LockPersist()
		if c.IsActive(drop) {
			if err := e.storeSave(ctx, drop); err != nil {
				errs = append(errs, err)
				failed++
			} else {
				saved++
			}
		}
		unlock()

		return ctx.Err() == nil
	})

	for _, id := range e.chats.Sweep() {
		e.prefetch.Forget(id)
	}

	e.metrics.RecordFlush(saved, failed)
	e.metrics.RecordActiveChats(e.chats.Len())

	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d writes failed: %w", ErrPersistenceFailed, failed, saved+failed, errors.Join(errs...))
	}

	return nil
}

// storeSave persists drop and records the operation.
func (e *Engine) storeSave(ctx context.Context, drop DropRecord) error {
	started := time.Now()
	err := e.deps.Store.Save(ctx, drop)
	e.metrics.RecordStoreOperation("save", time.Since(started).Seconds(), err == nil)

	return err
}

// storeDelete removes a durable record and records the operation.
func (e *Engine) storeDelete(ctx context.Context, chatID int64, entityID string) error {
	started := time.Now()
	err := e.deps.Store.Delete(ctx, chatID, entityID)
	e.metrics.RecordStoreOperation("delete", time.Since(started).Seconds(), err == nil)

	return err
}

// deleteRecord removes the durable record of a retired drop.
//
// Records are keyed by chat and entity, so a newer live drop of the same
// entity shares the key; its record is left alone. A failed delete is
// remembered and retried by Flush.
func (e *Engine) deleteRecord(ctx context.Context, c *chatstate.Chat, entityID string) error {
	key := tombstone{chatID: c.ID(), entityID: entityID}

	unlock := c.LockPersist()
	defer unlock()

	if live, ok := c.ActiveDrop(); ok && live.EntityID == entityID {
		e.tombstones.Delete(key)
		return nil
	}

	if err := e.storeDelete(ctx, c.ID(), entityID); err != nil {
		e.tombstones.Store(key, struct{}{})
		e.logger.Warn("failed to delete persisted drop, will retry on next flush",
			"chat_id", c.ID(), "entity_id", entityID, "error", err)

		return fmt.Errorf("%w: delete drop: %w", ErrPersistenceFailed, err)
	}
	e.tombstones.Delete(key)

	return nil
}
