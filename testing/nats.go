package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StartEmbeddedNATS starts an in-process NATS server with JetStream enabled.
//
// The server listens on a random port and keeps its JetStream data in t.TempDir().
// Server and client are shut down through t.Cleanup.
//
// Parameters:
//   - t: Testing context for logging and cleanup
//
// Returns:
//   - *server.Server: The embedded NATS server instance
//   - *nats.Conn: Connected NATS client
//
// Example:
//
//	func TestDropStore(t *testing.T) {
//	    _, nc := spawntest.StartEmbeddedNATS(t)
//	    // nc is closed automatically
//	}
func StartEmbeddedNATS(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	if err != nil {
		t.Fatalf("Failed to create embedded NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("Embedded NATS server not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		ns.Shutdown()
		t.Fatalf("Failed to connect to embedded NATS server: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	return ns, nc
}

// StartJetStream starts an embedded server and returns a JetStream context on it.
//
// Example:
//
//	js := spawntest.StartJetStream(t)
//	drops, err := natskv.New(t.Context(), js, natskv.Config{Storage: "memory"}, nil)
func StartJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	_, nc := StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to get JetStream context: %v", err)
	}

	return js
}

// CreateJetStreamKV creates a memory-backed KV bucket for testing.
//
// The bucket keeps one revision per key, like the drop and lease buckets.
//
// Parameters:
//   - t: Testing context
//   - nc: NATS connection (from StartEmbeddedNATS)
//   - bucketName: Name of the KV bucket to create
//
// Returns:
//   - jetstream.KeyValue: The created bucket
func CreateJetStreamKV(t *testing.T, nc *nats.Conn, bucketName string) jetstream.KeyValue {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Failed to get JetStream context: %v", err)
	}

	kv, err := js.CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:  bucketName,
		History: 1,
		Storage: jetstream.MemoryStorage,
	})
	if err != nil {
		t.Fatalf("Failed to create KV bucket %s: %v", bucketName, err)
	}

	return kv
}
