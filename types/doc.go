// Package types provides core type definitions and interfaces for the spawn engine.
//
// This package contains shared types that are used across multiple packages in the
// module. By keeping these types in a separate package, we avoid import cycles
// between the root spawn package and its internal implementations.
//
// Key types:
//   - DropRecord: A live, claimable spawn in one chat
//   - Entity: A collectible candidate returned by the pool source
//   - RaritySettings: Weighted rarity table with daily caps and locks
//   - ClaimResult: Outcome of a claim attempt
//   - State: Engine lifecycle state
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
