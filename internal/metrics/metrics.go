// Package metrics defines the Prometheus metrics Capsule records for a
// single CLI invocation: calls per tool, policy decisions, and run
// duration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric Capsule records. Pass to the
// orchestrators that need to record them.
type Metrics struct {
	ToolCallsTotal   *prometheus.CounterVec
	PolicyDecisions  *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	QuotaExceeded    *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
	ReplayMismatches prometheus.Counter
}

// NewMetrics creates and registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "capsule",
				Name:      "tool_calls_total",
				Help:      "Total tool calls recorded, by tool and result status",
			},
			[]string{"tool", "status"}, // status=success/error/denied
		),
		PolicyDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "capsule",
				Name:      "policy_decisions_total",
				Help:      "Total policy evaluations, by tool and decision",
			},
			[]string{"tool", "decision"}, // decision=allow/deny
		),
		RunDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "capsule",
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of a plan or agent run",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"}, // mode=run/agent; replays record no duration
		),
		QuotaExceeded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "capsule",
				Name:      "quota_exceeded_total",
				Help:      "Calls denied for exceeding max_calls_per_tool, by tool",
			},
			[]string{"tool"},
		),
		ActiveRuns: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "capsule",
				Name:      "active_runs",
				Help:      "Number of runs currently executing in this process",
			},
		),
		ReplayMismatches: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "capsule",
				Name:      "replay_mismatches_total",
				Help:      "Total hash mismatches detected across all replay operations",
			},
		),
	}
}
