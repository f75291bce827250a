package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/batsched/batsched/pkg/batprotocol"
)

const (
	NAMESPACE = "batsched"
	SUBSYSTEM = "scheduler"
)

// SchedulerMetrics tracks what a decision component decides over the course of a simulation.
type SchedulerMetrics struct {
	decisions            *prometheus.CounterVec
	queuedJobs           prometheus.Gauge
	runningJobs          prometheus.Gauge
	backfilledJobs       prometheus.Histogram
	probeInconsistencies prometheus.Counter
}

// NewSchedulerMetrics creates the metrics and registers them with registerer, unless registerer is nil.
func NewSchedulerMetrics(registerer prometheus.Registerer) (*SchedulerMetrics, error) {
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "decisions_total",
			Help:      "Number of decisions sent, by type.",
		},
		[]string{
			"type",
		},
	)

	queuedJobs := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "queued_jobs",
			Help:      "Number of jobs waiting to be started at the end of the last cycle.",
		},
	)

	runningJobs := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "running_jobs",
			Help:      "Number of jobs running at the end of the last cycle.",
		},
	)

	backfilledJobs := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "backfilled_jobs",
			Help:      "Number of jobs started ahead of the priority job each cycle.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	probeInconsistencies := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "probe_inconsistencies_total",
			Help:      "Number of inconsistencies found in probe data.",
		},
	)

	if registerer != nil {
		for _, collector := range []prometheus.Collector{decisions, queuedJobs, runningJobs, backfilledJobs, probeInconsistencies} {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}

	return &SchedulerMetrics{
		decisions:            decisions,
		queuedJobs:           queuedJobs,
		runningJobs:          runningJobs,
		backfilledJobs:       backfilledJobs,
		probeInconsistencies: probeInconsistencies,
	}, nil
}

func (metrics *SchedulerMetrics) ReportDecisions(msg *batprotocol.Message) {
	counts := make(map[batprotocol.EventType]int)
	for _, decision := range msg.Events {
		counts[decision.Type()]++
	}
	types := maps.Keys(counts)
	slices.Sort(types)
	for _, t := range types {
		metrics.decisions.WithLabelValues(string(t)).Add(float64(counts[t]))
	}
}

func (metrics *SchedulerMetrics) ReportCycle(result *CycleResult) {
	metrics.backfilledJobs.Observe(float64(len(result.Backfilled)))
}

func (metrics *SchedulerMetrics) ReportJobCounts(queued, running int) {
	metrics.queuedJobs.Set(float64(queued))
	metrics.runningJobs.Set(float64(running))
}

func (metrics *SchedulerMetrics) ReportProbeInconsistencies(n int) {
	metrics.probeInconsistencies.Add(float64(n))
}
