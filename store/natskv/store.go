// Package natskv stores live drops and threshold overrides in a NATS
// JetStream KeyValue bucket.
//
// Key layout:
//
//	drop.<chat_id>.<base64url(entity_id)>   JSON DropRecord
//	threshold.<chat_id>                     decimal threshold
//
// Entity IDs are base64url encoded because catalog IDs may contain
// characters that are not valid in KV keys.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spawn/internal/kvutil"
	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/natsutil"
	"github.com/arloliu/spawn/types"
)

const (
	dropPrefix      = "drop."
	thresholdPrefix = "threshold."

	// DefaultBucket is the bucket name used when Config.Bucket is empty.
	DefaultBucket = "spawn-drops"
)

// ErrUnavailable marks write failures caused by a lost or slow NATS
// connection. The engine keeps such drops in memory and retries on flush.
var ErrUnavailable = errors.New("natskv: store unavailable")

// Config configures the bucket.
type Config struct {
	// Bucket is the KV bucket name.
	Bucket string `yaml:"bucket"`

	// Replicas is the bucket replication factor (1 when zero).
	Replicas int `yaml:"replicas"`

	// Storage selects file or memory storage (file when empty).
	Storage string `yaml:"storage"`
}

// Store implements types.DropStore and types.ThresholdStore on a KV bucket.
type Store struct {
	kv     jetstream.KeyValue
	logger types.Logger
}

var (
	_ types.DropStore      = (*Store)(nil)
	_ types.ThresholdStore = (*Store)(nil)
)

// New creates or opens the bucket and returns a store over it.
//
// Parameters:
//   - ctx: Context for bucket bootstrap
//   - js: JetStream context
//   - cfg: Bucket configuration
//   - logger: Receives warnings about skipped records (nil for none)
//
// Returns:
//   - *Store: Ready store
//   - error: Bucket bootstrap error
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	drops, err := natskv.New(ctx, js, natskv.Config{Bucket: "spawn-drops"}, logger)
func New(ctx context.Context, js jetstream.JetStream, cfg Config, logger types.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}

	storage := jetstream.FileStorage
	if cfg.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "Live spawn drops and threshold overrides",
		History:     1,
		Replicas:    cfg.Replicas,
		Storage:     storage,
	}, 3)
	if err != nil {
		return nil, err
	}

	return NewFromKV(kv, logger), nil
}

// NewFromKV wraps an existing bucket.
func NewFromKV(kv jetstream.KeyValue, logger types.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Store{kv: kv, logger: logger}
}

// KV returns the underlying bucket.
func (s *Store) KV() jetstream.KeyValue {
	return s.kv
}

func chatPrefix(chatID int64) string {
	return dropPrefix + strconv.FormatInt(chatID, 10) + "."
}

func dropKey(chatID int64, entityID string) string {
	return chatPrefix(chatID) + base64.RawURLEncoding.EncodeToString([]byte(entityID))
}

// Save upserts drop.
func (s *Store) Save(ctx context.Context, drop types.DropRecord) error {
	if err := drop.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(drop)
	if err != nil {
		return fmt.Errorf("marshal drop: %w", err)
	}

	if _, err := s.kv.Put(ctx, dropKey(drop.ChatID, drop.EntityID), data); err != nil {
		return fmt.Errorf("put drop for chat %d: %w", drop.ChatID, classify(err))
	}

	return nil
}

// Delete removes the record for (chatID, entityID).
func (s *Store) Delete(ctx context.Context, chatID int64, entityID string) error {
	if entityID == "" {
		return nil
	}

	err := s.kv.Delete(ctx, dropKey(chatID, entityID))
	if err != nil && !natsutil.IsKeyNotFound(err) {
		return fmt.Errorf("delete drop for chat %d: %w", chatID, classify(err))
	}

	return nil
}

// LoadAll returns every stored record grouped by chat.
//
// Records that fail to decode or validate, or whose key disagrees with the
// payload, are logged and skipped.
func (s *Store) LoadAll(ctx context.Context) (map[int64][]types.DropRecord, error) {
	keys, err := kvutil.ListKeys(ctx, s.kv)
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]types.DropRecord)
	for _, key := range keys {
		if !strings.HasPrefix(key, dropPrefix) {
			continue
		}

		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsutil.IsKeyNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		var drop types.DropRecord
		if err := json.Unmarshal(entry.Value(), &drop); err != nil {
			s.logger.Warn("skipping undecodable drop record", "key", key, "error", err)
			continue
		}
		if err := drop.Validate(); err != nil {
			s.logger.Warn("skipping malformed drop record", "key", key, "error", err)
			continue
		}
		if key != dropKey(drop.ChatID, drop.EntityID) {
			s.logger.Warn("skipping drop record stored under a foreign key", "key", key, "chat_id", drop.ChatID)
			continue
		}

		out[drop.ChatID] = append(out[drop.ChatID], drop)
	}

	return out, nil
}

// Clear removes every record for chatID.
func (s *Store) Clear(ctx context.Context, chatID int64) error {
	keys, err := kvutil.ListKeys(ctx, s.kv)
	if err != nil {
		return classify(err)
	}

	prefix := chatPrefix(chatID)
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil && !natsutil.IsKeyNotFound(err) {
			return fmt.Errorf("clear chat %d: %w", chatID, classify(err))
		}
	}

	return nil
}

// SaveThreshold stores the override for chatID.
func (s *Store) SaveThreshold(ctx context.Context, chatID int64, threshold int) error {
	key := thresholdPrefix + strconv.FormatInt(chatID, 10)
	if _, err := s.kv.PutString(ctx, key, strconv.Itoa(threshold)); err != nil {
		return fmt.Errorf("put threshold for chat %d: %w", chatID, classify(err))
	}

	return nil
}

func classify(err error) error {
	if natsutil.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

// LoadThresholds returns all stored overrides.
func (s *Store) LoadThresholds(ctx context.Context) (map[int64]int, error) {
	keys, err := kvutil.ListKeys(ctx, s.kv)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]int)
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, thresholdPrefix)
		if !ok {
			continue
		}

		chatID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			s.logger.Warn("skipping threshold with invalid chat key", "key", key)
			continue
		}

		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsutil.IsKeyNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("get %s: %w", key, err)
		}

		n, err := strconv.Atoi(string(entry.Value()))
		if err != nil {
			s.logger.Warn("skipping threshold with invalid value", "key", key, "error", err)
			continue
		}
		out[chatID] = n
	}

	return out, nil
}

// Ping checks bucket reachability within timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.kv.Status(ctx); err != nil {
		return fmt.Errorf("kv status: %w", err)
	}

	return nil
}
