package scheduler

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
	"github.com/batsched/batsched/pkg/intervalset"
)

func TestSchedulerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewSchedulerMetrics(registry)
	require.NoError(t, err)

	mb := batprotocol.NewMessageBuilder()
	mb.Clear(0)
	mb.AddRejectJob("w0!1")
	mb.AddExecuteJob("w0!2", intervalset.MustFromString("0-1"), batprotocol.StrategySpreadOverHostsFirst)
	mb.AddExecuteJob("w0!3", intervalset.MustFromString("2"), batprotocol.StrategySpreadOverHostsFirst)
	msg, err := mb.Finish(0)
	require.NoError(t, err)
	metrics.ReportDecisions(msg)
	metrics.ReportCycle(&CycleResult{Backfilled: []*jobdb.Job{{Id: "w0!3"}}})
	metrics.ReportJobCounts(3, 2)
	metrics.ReportProbeInconsistencies(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues(string(batprotocol.EventTypeExecuteJob))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues(string(batprotocol.EventTypeRejectJob))))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.queuedJobs))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.runningJobs))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.probeInconsistencies))
	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	_, err = NewSchedulerMetrics(registry)
	assert.Error(t, err, "registering the same metrics twice")
}

func TestSchedulerMetrics_Unregistered(t *testing.T) {
	metrics, err := NewSchedulerMetrics(nil)
	require.NoError(t, err)
	metrics.ReportJobCounts(1, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.queuedJobs))
}
