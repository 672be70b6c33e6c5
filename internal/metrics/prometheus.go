package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/spawn/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so constructing
// a collector that is never used leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions *prometheus.CounterVec
	activeChats      prometheus.Gauge
	taskRestarts     *prometheus.CounterVec

	activity *prometheus.CounterVec

	spawns        *prometheus.CounterVec
	supersessions prometheus.Counter
	prefetch      *prometheus.CounterVec

	claims              *prometheus.CounterVec
	attributionDuration *prometheus.HistogramVec

	queueDepth     prometheus.Gauge
	governorHot    prometheus.Gauge
	queueOverflows prometheus.Counter

	storeOps     *prometheus.HistogramVec
	flushRecords *prometheus.CounterVec

	ingestMessages *prometheus.CounterVec
	ingestRestarts *prometheus.CounterVec
}

var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "spawn" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "spawn"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (p *PrometheusCollector) gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = p.counterVec("engine", "state_transitions_total", "Engine state transitions.", "from", "to")
		p.activeChats = p.gauge("engine", "active_chats", "Chats currently tracked by the registry.")
		p.taskRestarts = p.counterVec("engine", "task_restarts_total", "Supervised background task restarts.", "task")

		p.activity = p.counterVec("activity", "messages_total", "Chat messages evaluated for activity by result.", "result")

		p.spawns = p.counterVec("spawn", "attempts_total", "Spawn attempts by rarity and result.", "rarity", "result")
		p.supersessions = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "spawn",
			Name:      "supersessions_total",
			Help:      "Unclaimed drops abandoned for a newer drop.",
		})
		p.prefetch = p.counterVec("spawn", "prefetch_total", "Prefetch queue usage by result.", "result")

		p.claims = p.counterVec("claim", "attempts_total", "Claim attempts by result.", "result")
		p.attributionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "claim",
			Name:      "attribution_duration_seconds",
			Help:      "Latency of attribution grant calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"success"})

		p.queueDepth = p.gauge("governor", "queue_depth", "Events waiting in the overload queue.")
		p.governorHot = p.gauge("governor", "hot", "Whether activity is routed through the overload queue (1) or processed directly (0).")
		p.queueOverflows = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "governor",
			Name:      "overflows_total",
			Help:      "Events processed directly because the overload queue was full.",
		})

		p.storeOps = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Durability store call latency by operation and outcome.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation", "success"})
		p.flushRecords = p.counterVec("store", "flush_records_total", "Records re-persisted by the periodic flush by outcome.", "result")

		p.ingestMessages = p.counterVec("ingest", "messages_total", "Chat events consumed from JetStream by result.", "result")
		p.ingestRestarts = p.counterVec("ingest", "iterator_restarts_total", "Pull iterator restarts by reason.", "reason")

		p.reg.MustRegister(
			p.stateTransitions, p.activeChats, p.taskRestarts,
			p.activity,
			p.spawns, p.supersessions, p.prefetch,
			p.claims, p.attributionDuration,
			p.queueDepth, p.governorHot, p.queueOverflows,
			p.storeOps, p.flushRecords,
			p.ingestMessages, p.ingestRestarts,
		)
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}

	return "false"
}

// RecordStateTransition increments the transition counter.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordActiveChats sets the registry size gauge.
func (p *PrometheusCollector) RecordActiveChats(count int) {
	p.ensureRegistered()
	p.activeChats.Set(float64(count))
}

// RecordTaskRestart increments the restart counter for task.
func (p *PrometheusCollector) RecordTaskRestart(task string) {
	p.ensureRegistered()
	p.taskRestarts.WithLabelValues(task).Inc()
}

// RecordActivity increments the activity counter for result.
func (p *PrometheusCollector) RecordActivity(result string) {
	p.ensureRegistered()
	p.activity.WithLabelValues(result).Inc()
}

// RecordSpawn increments the spawn counter.
func (p *PrometheusCollector) RecordSpawn(rarity types.Rarity, result string) {
	p.ensureRegistered()
	p.spawns.WithLabelValues(string(rarity), result).Inc()
}

// RecordSupersession increments the supersession counter.
func (p *PrometheusCollector) RecordSupersession() {
	p.ensureRegistered()
	p.supersessions.Inc()
}

// RecordPrefetch increments the prefetch counter for result.
func (p *PrometheusCollector) RecordPrefetch(result string) {
	p.ensureRegistered()
	p.prefetch.WithLabelValues(result).Inc()
}

// RecordClaim increments the claim counter for result.
func (p *PrometheusCollector) RecordClaim(result string) {
	p.ensureRegistered()
	p.claims.WithLabelValues(result).Inc()
}

// RecordAttributionDuration observes a grant call latency.
func (p *PrometheusCollector) RecordAttributionDuration(duration float64, success bool) {
	p.ensureRegistered()
	p.attributionDuration.WithLabelValues(boolLabel(success)).Observe(duration)
}

// RecordQueueDepth sets the queue depth gauge.
func (p *PrometheusCollector) RecordQueueDepth(depth int) {
	p.ensureRegistered()
	p.queueDepth.Set(float64(depth))
}

// RecordGovernorMode sets the governor mode gauge (1 hot, 0 direct).
func (p *PrometheusCollector) RecordGovernorMode(hot bool) {
	p.ensureRegistered()
	if hot {
		p.governorHot.Set(1)
	} else {
		p.governorHot.Set(0)
	}
}

// RecordQueueOverflow increments the overflow counter.
func (p *PrometheusCollector) RecordQueueOverflow() {
	p.ensureRegistered()
	p.queueOverflows.Inc()
}

// RecordStoreOperation observes a store call latency.
func (p *PrometheusCollector) RecordStoreOperation(operation string, duration float64, success bool) {
	p.ensureRegistered()
	p.storeOps.WithLabelValues(operation, boolLabel(success)).Observe(duration)
}

// RecordFlush adds flush outcomes to the flush counter.
func (p *PrometheusCollector) RecordFlush(saved int, failed int) {
	p.ensureRegistered()
	p.flushRecords.WithLabelValues("saved").Add(float64(saved))
	p.flushRecords.WithLabelValues("failed").Add(float64(failed))
}

// RecordIngestMessage increments the ingest counter for result.
func (p *PrometheusCollector) RecordIngestMessage(result string) {
	p.ensureRegistered()
	p.ingestMessages.WithLabelValues(result).Inc()
}

// RecordIngestIteratorRestart increments the iterator restart counter for reason.
func (p *PrometheusCollector) RecordIngestIteratorRestart(reason string) {
	p.ensureRegistered()
	p.ingestRestarts.WithLabelValues(reason).Inc()
}
