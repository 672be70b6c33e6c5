// Package testing provides test utilities for the spawn engine.
//
// It offers an embedded NATS server with JetStream for store and ingest
// tests, a logger writing through testing.T, and recording fakes for the
// engine's external collaborators (transport, attributor, ban checker,
// rewarder). It follows Go's convention of shipping test helpers in a
// dedicated package, similar to net/http/httptest.
//
// Example usage:
//
//	import (
//	    "testing"
//	    spawntest "github.com/arloliu/spawn/testing"
//	)
//
//	func TestEngine(t *testing.T) {
//	    transport := spawntest.NewTransport()
//	    attributor := spawntest.NewAttributor()
//	    // wire into spawn.Dependencies
//	}
package testing
