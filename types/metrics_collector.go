package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	EngineMetrics
	ActivityMetrics
	SpawnMetrics
	ClaimMetrics
	GovernorMetrics
	StoreMetrics
	IngestMetrics
}

// EngineMetrics defines metrics for engine lifecycle operations.
type EngineMetrics interface {
	// RecordStateTransition records an engine state transition event.
	RecordStateTransition(from, to State)

	// RecordActiveChats sets the number of chats tracked by the registry (gauge metric).
	RecordActiveChats(count int)

	// RecordTaskRestart records a supervised background task restart.
	RecordTaskRestart(task string)
}

// ActivityMetrics defines metrics for activity counting.
type ActivityMetrics interface {
	// RecordActivity records a chat message evaluation.
	//
	// Parameters:
	//   - result: "counted", "ignored_banned", "ignored_private", "ignored_spam", "queued"
	RecordActivity(result string)
}

// SpawnMetrics defines metrics for selection and announcement.
type SpawnMetrics interface {
	// RecordSpawn records a spawn attempt outcome.
	//
	// Parameters:
	//   - rarity: Rarity of the spawned entity ("" on failure)
	//   - result: "spawned", "pool_exhausted", "transport_failed", "selection_failed"
	RecordSpawn(rarity Rarity, result string)

	// RecordSupersession records an unclaimed drop abandoned for a new one.
	RecordSupersession()

	// RecordPrefetch records prefetch queue usage.
	//
	// Parameters:
	//   - result: "hit", "miss", "stale", "refill_failed"
	RecordPrefetch(result string)
}

// ClaimMetrics defines metrics for the claim coordinator.
type ClaimMetrics interface {
	// RecordClaim records a claim outcome ("accepted" or a RejectReason string).
	RecordClaim(result string)

	// RecordAttributionDuration records grant call latency in seconds.
	RecordAttributionDuration(duration float64, success bool)
}

// GovernorMetrics defines metrics for the overload governor.
type GovernorMetrics interface {
	// RecordQueueDepth sets the current overload queue depth (gauge metric).
	RecordQueueDepth(depth int)

	// RecordGovernorMode sets whether activity is routed through the queue (gauge metric).
	RecordGovernorMode(hot bool)

	// RecordQueueOverflow records an event processed directly because the queue was full.
	RecordQueueOverflow()
}

// StoreMetrics defines metrics for durability store operations.
type StoreMetrics interface {
	// RecordStoreOperation records a durability store call.
	//
	// Parameters:
	//   - operation: "save", "delete", "load_all", "clear"
	//   - duration: Time taken in seconds
	//   - success: true if the call succeeded
	RecordStoreOperation(operation string, duration float64, success bool)

	// RecordFlush records a periodic flush cycle.
	RecordFlush(saved int, failed int)
}

// IngestMetrics defines metrics for the JetStream chat event consumer.
type IngestMetrics interface {
	// RecordIngestMessage records a consumed event ("ok", "decode_error", "handler_error").
	RecordIngestMessage(result string)

	// RecordIngestIteratorRestart records a pull iterator restart by reason.
	RecordIngestIteratorRestart(reason string)
}
