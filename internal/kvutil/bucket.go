// Package kvutil provides helpers for NATS JetStream KeyValue buckets.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spawn/types"
)

const defaultMaxRetries = 3

// EnsureKVBucketWithRetry creates or opens a KV bucket, retrying transient failures.
//
// Several engine instances may bootstrap the same bucket at once; losing the
// creation race is resolved by opening the existing bucket.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (3 when <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Last error after all attempts
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
//	    Bucket:  "spawn-drops",
//	    History: 1,
//	}, 3)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := range maxRetries {
		kv, err := createOrOpen(ctx, js, config)
		if err == nil {
			return kv, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}
		if attempt == maxRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

func createOrOpen(ctx context.Context, js jetstream.JetStream, config jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, config)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketExists) {
		return nil, err
	}

	kv, err = js.KeyValue(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists but failed to open: %w", err)
	}

	return kv, nil
}

// retryDelay doubles from 10ms: 10ms, 20ms, 40ms...
func retryDelay(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}

	return time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is clamped above
}

// ListKeys returns the keys of a bucket, treating an empty bucket as no keys.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - kv: Bucket to list
//
// Returns:
//   - []string: Keys (nil for an empty bucket)
//   - error: Listing error other than "no keys found"
func ListKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) || types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list keys in %s: %w", kv.Bucket(), err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	return keys, nil
}
