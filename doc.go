// Package spawn provides a chat spawn engine: it turns chat activity into
// collectible drops and resolves races between users claiming them.
//
// Each chat counts qualifying messages. When a chat reaches its threshold a
// weighted selector picks an entity, the transport announces it, and the
// drop becomes the chat's single live drop. Users claim it by guessing its
// name; exactly one concurrent attempt per drop and per user is admitted,
// and a drop is granted at most once.
//
// # Quick Start
//
//	catalog, _ := source.LoadCatalogFile("catalog.yaml")
//	cfg := spawn.DefaultConfig()
//
//	eng, err := spawn.NewEngine(&cfg, spawn.Dependencies{
//	    Pool:       catalog,
//	    Settings:   catalog,
//	    Bans:       catalog,
//	    Attributor: inventory,
//	    Transport:  hub,
//	    Store:      memory.New(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(context.Background())
//
//	outcome, err := eng.OnChatMessage(ctx, spawn.ChatMessage{ChatID: -100, SenderID: 42, Group: true})
//
// # Key Features
//
//   - Per-chat thresholds with persisted overrides
//   - Rarity weights, locks and UTC daily caps with a TTL cache and prefetching
//   - Last write wins: a new spawn abandons an unclaimed drop
//   - In-flight guards per drop and per claimant, released on every path
//   - Durable drops restored on start and re-written by a periodic flush
//   - Overload governor that queues activity under load
//
// # Architecture
//
// The engine moves through a small state machine:
//
//	Init → Restoring → Running → Stopping → Stopped
//
// Durability stores live under store/ (memory, NATS KV, Postgres). Chat
// events can be fed from a JetStream stream (ingest) or a websocket hub
// (transport/wschat). See the examples/ directory for complete programs.
package spawn
