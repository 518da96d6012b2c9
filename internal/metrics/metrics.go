// Package metrics holds the Prometheus collectors exported by the worker
// pool and the import session.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "archivedrop"

// Metrics groups the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	SlotsInUse  prometheus.Gauge
	SlotsTotal  prometheus.Gauge
	Jobs        *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	Progress    prometheus.Gauge
	Renamed     *prometheus.CounterVec
}

// New builds the collectors and registers them with reg when reg is not
// nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_slots_in_use", Help: "Number of pool slots currently held by a job",
		}),
		SlotsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_slots", Help: "Capacity of the worker pool",
		}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total", Help: "Processing jobs finished, by type and outcome",
		}, []string{"type", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of processing jobs",
			Buckets:   prometheus.ExponentialBucketsRange(0.05, float64(30*time.Minute/time.Second), 20),
		}, []string{"type"}),
		Progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "import_progress_ratio", Help: "Fraction of the current batch that reached a terminal state",
		}),
		Renamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "renamed_entries_total", Help: "Entries renamed, by kind",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.SlotsInUse, m.SlotsTotal, m.Jobs, m.JobDuration, m.Progress, m.Renamed)
	}
	return m
}

// SlotAcquired and SlotReleased track pool occupancy.
func (m *Metrics) SlotAcquired() {
	if m != nil {
		m.SlotsInUse.Inc()
	}
}

func (m *Metrics) SlotReleased() {
	if m != nil {
		m.SlotsInUse.Dec()
	}
}

// SetCapacity records the pool size.
func (m *Metrics) SetCapacity(n int) {
	if m != nil {
		m.SlotsTotal.Set(float64(n))
	}
}

// JobFinished records one terminal job outcome.
func (m *Metrics) JobFinished(jobType string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.Jobs.WithLabelValues(jobType, outcome).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(took.Seconds())
}

// SetProgress records the fraction of the running batch that is done.
func (m *Metrics) SetProgress(fraction float64) {
	if m != nil {
		m.Progress.Set(fraction)
	}
}

// EntriesRenamed counts renamed entries of a kind ("folder" or "file").
func (m *Metrics) EntriesRenamed(kind string, n int) {
	if m != nil && n > 0 {
		m.Renamed.WithLabelValues(kind).Add(float64(n))
	}
}
