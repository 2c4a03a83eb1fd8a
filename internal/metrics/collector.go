package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the pipeline's Prometheus metrics.
//
// The collector fallback counter is load-bearing: a healthy system never
// reads payloads from the durable store while a run is active, so sustained
// nonzero fallback counts mean the registry path is broken.
type Collector struct {
	// Agent execution metrics
	agentExecutionsTotal   *prometheus.CounterVec
	agentExecutionDuration *prometheus.HistogramVec
	duplicateCompletions   *prometheus.CounterVec

	// Collector metrics
	collectorFallbackTotal *prometheus.CounterVec
	collectDuration        *prometheus.HistogramVec

	// Synthesis metrics
	synthesesTotal *prometheus.CounterVec
	conflictsTotal *prometheus.CounterVec

	// Stage metrics
	stageTransitions *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec

	// Store metrics
	storeWriteFailures *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered against reg.
// Passing a fresh registry keeps test instances isolated.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.agentExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_executions_total",
			Help:      "Total number of agent executions by role and terminal status",
		},
		[]string{"role", "status"},
	)

	c.agentExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_execution_duration_seconds",
			Help:      "Agent execution duration from spawn to completion",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"role"},
	)

	c.duplicateCompletions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_completions_total",
			Help:      "Completion signals discarded because the agent was already terminal",
		},
		[]string{"role"},
	)

	c.collectorFallbackTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_fallback_total",
			Help:      "Payload collections served by the durable-store fallback instead of the registry",
		},
		[]string{"stage"},
	)

	c.collectDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_duration_seconds",
			Help:      "Payload collection duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage", "source"},
	)

	c.synthesesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntheses_total",
			Help:      "Synthesis records produced by stage and status",
		},
		[]string{"stage", "status"},
	)

	c.conflictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_conflicts_total",
			Help:      "Decision-field conflicts detected during synthesis",
		},
		[]string{"stage"},
	)

	c.stageTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Coordinator state transitions",
		},
		[]string{"stage", "to"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage gate duration from spawn to terminal state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"stage", "result"},
	)

	c.storeWriteFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Result store writes that returned an error",
		},
		[]string{"op"},
	)

	return c
}

// RoleLabel sanitizes an agent role for use as a metric label value
func RoleLabel(role string) string {
	var b strings.Builder
	lastSep := false
	for _, ch := range strings.ToLower(role) {
		isAlnum := (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
		if isAlnum {
			b.WriteRune(ch)
			lastSep = false
		} else if b.Len() > 0 && !lastSep {
			b.WriteByte('_')
			lastSep = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "agent"
	}
	return slug
}

// RecordExecution records a terminal agent execution
func (c *Collector) RecordExecution(role, status string, duration time.Duration) {
	c.agentExecutionsTotal.WithLabelValues(RoleLabel(role), status).Inc()
	c.agentExecutionDuration.WithLabelValues(RoleLabel(role)).Observe(duration.Seconds())
}

// RecordDuplicateCompletion records a discarded duplicate completion signal
func (c *Collector) RecordDuplicateCompletion(role string) {
	c.duplicateCompletions.WithLabelValues(RoleLabel(role)).Inc()
}

// RecordFallback records a payload collection served by the fallback path
func (c *Collector) RecordFallback(stage string) {
	c.collectorFallbackTotal.WithLabelValues(stage).Inc()
}

// RecordCollect records a payload collection
func (c *Collector) RecordCollect(stage, source string, duration time.Duration) {
	c.collectDuration.WithLabelValues(stage, source).Observe(duration.Seconds())
}

// RecordSynthesis records a produced synthesis
func (c *Collector) RecordSynthesis(stage, status string, conflicts int) {
	c.synthesesTotal.WithLabelValues(stage, status).Inc()
	if conflicts > 0 {
		c.conflictsTotal.WithLabelValues(stage).Add(float64(conflicts))
	}
}

// RecordTransition records a coordinator state transition
func (c *Collector) RecordTransition(stage, to string) {
	c.stageTransitions.WithLabelValues(stage, to).Inc()
}

// RecordStageDuration records a completed stage gate
func (c *Collector) RecordStageDuration(stage, result string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage, result).Observe(duration.Seconds())
}

// RecordStoreWriteFailure records a failed result store write
func (c *Collector) RecordStoreWriteFailure(op string) {
	c.storeWriteFailures.WithLabelValues(op).Inc()
}

// FallbackCounter exposes the fallback counter for a stage so tests and
// health diagnostics can read it via testutil.ToFloat64.
func (c *Collector) FallbackCounter(stage string) prometheus.Counter {
	return c.collectorFallbackTotal.WithLabelValues(stage)
}
