// Package metric provides Prometheus metrics for StreamVet.
//
// The registry covers the coordination protocol end to end: elements
// emitted by the deterministic source, snapshot triggers and their
// outcomes, and job counts by lifecycle status. Metrics are collected
// into a private prometheus.Registry; there is no exposition endpoint,
// the harness has no network surface.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all harness metrics.
type Registry struct {
	// Source metrics
	ElementsEmitted prometheus.Counter

	// Snapshot metrics
	SnapshotsTriggered prometheus.Counter
	SnapshotsCompleted prometheus.Counter
	SnapshotsFailed    prometheus.Counter
	SnapshotDuration   prometheus.Histogram

	// Job metrics
	JobsByStatus *prometheus.GaugeVec

	// Verification metrics
	VerificationsTotal *prometheus.CounterVec

	reg *prometheus.Registry
}

// NewRegistry creates a registry with all metrics registered.
func NewRegistry() *Registry {
	r := &Registry{
		ElementsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamvet",
			Subsystem: "source",
			Name:      "elements_emitted_total",
			Help:      "Elements emitted by the deterministic source.",
		}),
		SnapshotsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamvet",
			Subsystem: "snapshot",
			Name:      "triggered_total",
			Help:      "Snapshot triggers accepted by the cluster.",
		}),
		SnapshotsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamvet",
			Subsystem: "snapshot",
			Name:      "completed_total",
			Help:      "Snapshots fully materialized.",
		}),
		SnapshotsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamvet",
			Subsystem: "snapshot",
			Name:      "failed_total",
			Help:      "Snapshots aborted by a flush or write failure.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamvet",
			Subsystem: "snapshot",
			Name:      "duration_seconds",
			Help:      "Wall time from trigger to materialization.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		JobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamvet",
			Subsystem: "cluster",
			Name:      "jobs",
			Help:      "Jobs currently tracked, by lifecycle status.",
		}, []string{"status"}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamvet",
			Subsystem: "verify",
			Name:      "runs_total",
			Help:      "Verification runs by state name and outcome.",
		}, []string{"state", "outcome"}),
		reg: prometheus.NewRegistry(),
	}

	r.reg.MustRegister(
		r.ElementsEmitted,
		r.SnapshotsTriggered,
		r.SnapshotsCompleted,
		r.SnapshotsFailed,
		r.SnapshotDuration,
		r.JobsByStatus,
		r.VerificationsTotal,
	)

	return r
}

// Gather returns current values summed per metric family, mainly for
// tests and debug dumps. Histograms report their sample count.
func (r *Registry) Gather() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
