// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/spawn/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	eng, err := spawn.NewEngine(&cfg, deps, spawn.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// EngineMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State) {}

// RecordActiveChats discards the registry size metric.
func (n *NopMetrics) RecordActiveChats(_ /* count */ int) {}

// RecordTaskRestart discards the task restart metric.
func (n *NopMetrics) RecordTaskRestart(_ /* task */ string) {}

// ActivityMetrics implementation

// RecordActivity discards the activity metric.
func (n *NopMetrics) RecordActivity(_ /* result */ string) {}

// SpawnMetrics implementation

// RecordSpawn discards the spawn metric.
func (n *NopMetrics) RecordSpawn(_ /* rarity */ types.Rarity, _ /* result */ string) {}

// RecordSupersession discards the supersession metric.
func (n *NopMetrics) RecordSupersession() {}

// RecordPrefetch discards the prefetch metric.
func (n *NopMetrics) RecordPrefetch(_ /* result */ string) {}

// ClaimMetrics implementation

// RecordClaim discards the claim metric.
func (n *NopMetrics) RecordClaim(_ /* result */ string) {}

// RecordAttributionDuration discards the attribution latency metric.
func (n *NopMetrics) RecordAttributionDuration(_ /* duration */ float64, _ /* success */ bool) {}

// GovernorMetrics implementation

// RecordQueueDepth discards the queue depth metric.
func (n *NopMetrics) RecordQueueDepth(_ /* depth */ int) {}

// RecordGovernorMode discards the governor mode metric.
func (n *NopMetrics) RecordGovernorMode(_ /* hot */ bool) {}

// RecordQueueOverflow discards the overflow metric.
func (n *NopMetrics) RecordQueueOverflow() {}

// StoreMetrics implementation

// RecordStoreOperation discards the store operation metric.
func (n *NopMetrics) RecordStoreOperation(_ /* operation */ string, _ /* duration */ float64, _ /* success */ bool) {
}

// RecordFlush discards the flush metric.
func (n *NopMetrics) RecordFlush(_ /* saved */, _ /* failed */ int) {}

// IngestMetrics implementation

// RecordIngestMessage discards the ingest metric.
func (n *NopMetrics) RecordIngestMessage(_ /* result */ string) {}

// RecordIngestIteratorRestart discards the iterator restart metric.
func (n *NopMetrics) RecordIngestIteratorRestart(_ /* reason */ string) {}
