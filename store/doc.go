// Package store groups the durability store implementations.
//
// Every implementation satisfies types.DropStore and types.ThresholdStore:
//
//   - store/memory: process-local maps, for tests and single-process setups
//     that accept losing drops on restart
//   - store/natskv: NATS JetStream KeyValue bucket
//   - store/postgres: relational table keyed by (chat_id, entity_id)
//
// The shared behavior is verified by store/storetest.
package store
