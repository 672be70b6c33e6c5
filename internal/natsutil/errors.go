// Package natsutil classifies NATS client errors.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// IsConnectivityError reports whether err is caused by a lost or slow NATS connection.
//
// The KV store uses it to tell a transient outage from a rejected write.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if err indicates a connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsKeyNotFound reports whether err means a KV key does not exist or was deleted.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// IsRevisionConflict reports whether a KV create or update lost a
// compare-and-set race: the key exists or moved past the expected revision.
func IsRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}
