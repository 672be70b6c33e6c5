package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spawn/internal/kvutil"
	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/natsutil"
	"github.com/arloliu/spawn/types"
)

// DefaultLeaseBucket is the bucket holding leases when LeaseConfig.Bucket is empty.
const DefaultLeaseBucket = "spawn-leases"

// Lease errors.
var (
	ErrLeaseHeld    = errors.New("natskv: lease held by another engine")
	ErrLeaseNotHeld = errors.New("natskv: lease not held")
)

// LeaseConfig configures a Lease.
type LeaseConfig struct {
	// Bucket is the lease bucket. Every key in it expires after TTL, so it
	// must not be the drop bucket.
	Bucket string `yaml:"bucket"`

	// Name identifies the guarded resource, usually the drop bucket name.
	Name string `yaml:"name"`

	// Owner identifies this process (random when empty).
	Owner string `yaml:"owner"`

	// TTL is how long the lease survives without renewal (15s when zero).
	TTL time.Duration `yaml:"ttl"`

	// Storage selects file or memory storage (file when empty).
	Storage string `yaml:"storage"`
}

// Lease keeps a single engine in charge of a drop bucket.
//
// Claims are only exclusive inside one engine, so two engines sharing a
// bucket could both grant the same drop. The lease is a KV key created
// atomically and renewed with compare-and-set at a third of its TTL; a
// crashed holder's lease expires on its own.
type Lease struct {
	kv     jetstream.KeyValue
	key    string
	owner  string
	ttl    time.Duration
	logger types.Logger

	mu       sync.Mutex
	revision uint64
	held     bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
}

// NewLease opens the lease bucket.
//
// Parameters:
//   - ctx: Context for bucket bootstrap
//   - js: JetStream context
//   - cfg: Lease configuration
//   - logger: Receives renewal failures (nil for none)
//
// Returns:
//   - *Lease: Lease ready to Acquire
//   - error: Bucket bootstrap error
//
// Example:
//
//	lease, _ := natskv.NewLease(ctx, js, natskv.LeaseConfig{Name: "spawn-drops"}, logger)
//	if err := lease.Acquire(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer lease.Release(context.Background())
func NewLease(ctx context.Context, js jetstream.JetStream, cfg LeaseConfig, logger types.Logger) (*Lease, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultLeaseBucket
	}
	if cfg.Name == "" {
		cfg.Name = DefaultBucket
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	storage := jetstream.FileStorage
	if cfg.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Engine ownership of drop buckets",
		History:     1,
		TTL:         cfg.TTL,
		Storage:     storage,
	}, 3)
	if err != nil {
		return nil, err
	}

	return &Lease{
		kv:     kv,
		key:    cfg.Name,
		owner:  cfg.Owner,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Owner returns the identity written into the lease.
func (l *Lease) Owner() string {
	return l.owner
}

// Acquire takes the lease and starts renewing it.
//
// Returns:
//   - error: ErrLeaseHeld when another owner holds it, or a NATS error
func (l *Lease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}

	rev, err := l.kv.Create(ctx, l.key, []byte(l.owner))
	if err != nil {
		if natsutil.IsRevisionConflict(err) {
			holder := "unknown"
			if entry, getErr := l.kv.Get(ctx, l.key); getErr == nil {
				holder = string(entry.Value())
			}

			return fmt.Errorf("%w: %s", ErrLeaseHeld, holder)
		}

		return fmt.Errorf("acquire lease %s: %w", l.key, err)
	}

	l.revision = rev
	l.held = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.lost = make(chan struct{})
	l.lostOnce = sync.Once{}

	go l.renewalLoop(l.stopCh, l.doneCh)

	l.logger.Info("lease acquired", "name", l.key, "owner", l.owner, "ttl", l.ttl)

	return nil
}

// Lost is closed when renewal fails for longer than the TTL or the lease was
// taken over. The holder should stop its engine. Nil before Acquire.
func (l *Lease) Lost() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lost
}

func (l *Lease) renewalLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		err := l.renew()
		if err == nil {
			lastRenewed = time.Now()
			continue
		}

		taken := natsutil.IsRevisionConflict(err) || natsutil.IsKeyNotFound(err)
		if taken || time.Since(lastRenewed) >= l.ttl {
			l.logger.Error("lease lost", "name", l.key, "owner", l.owner, "error", err)
			l.markLost()

			return
		}

		l.logger.Warn("lease renewal failed, retrying", "name", l.key, "error", err)
	}
}

func (l *Lease) renew() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	rev, err := l.kv.Update(ctx, l.key, []byte(l.owner), l.revision)
	if err != nil {
		return err
	}
	l.revision = rev

	return nil
}

func (l *Lease) markLost() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = false
	l.lostOnce.Do(func() { close(l.lost) })
}

// Release stops renewal and deletes the lease so another engine can take over at once.
//
// Returns:
//   - error: ErrLeaseNotHeld if the lease was never acquired or already lost
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	stopCh, doneCh := l.stopCh, l.doneCh
	if stopCh == nil {
		l.mu.Unlock()
		return ErrLeaseNotHeld
	}
	select {
	case <-stopCh:
		l.mu.Unlock()
		return ErrLeaseNotHeld
	default:
		close(stopCh)
	}
	l.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrLeaseNotHeld
	}
	l.held = false

	if err := l.kv.Delete(ctx, l.key, jetstream.LastRevision(l.revision)); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}

	return nil
}
