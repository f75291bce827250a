package probecheck

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/pkg/batprotocol"
)

func vectorial(values ...float64) *batprotocol.ProbeDataEmitted {
	return &batprotocol.ProbeDataEmitted{ProbeId: "hosts-vec", Vectorial: values}
}

func aggregated(value float64) *batprotocol.ProbeDataEmitted {
	return &batprotocol.ProbeDataEmitted{ProbeId: "hosts-agg", Aggregated: &value}
}

func testConfig() Config {
	return Config{
		VectorialProbeId:  "hosts-vec",
		AggregatedProbeId: "hosts-agg",
		HostCount:         2,
	}
}

func TestCompare(t *testing.T) {
	tests := map[string]struct {
		hostTotals []float64
		aggregate  float64
		epsilon    float64
		consistent bool
	}{
		"exact": {
			hostTotals: []float64{60, 40},
			aggregate:  100,
			epsilon:    DefaultEpsilon,
			consistent: true,
		},
		"beyond default epsilon": {
			hostTotals: []float64{60, 40.005},
			aggregate:  100,
			epsilon:    1e-3,
			consistent: false,
		},
		"within larger epsilon": {
			hostTotals: []float64{60, 40.005},
			aggregate:  100,
			epsilon:    1e-2,
			consistent: true,
		},
		"difference below epsilon": {
			hostTotals: []float64{60, 40.0005},
			aggregate:  100,
			epsilon:    1e-3,
			consistent: true,
		},
		"aggregate larger than sum": {
			hostTotals: []float64{50, 40},
			aggregate:  100,
			epsilon:    1e-3,
			consistent: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Compare("hosts-agg", 3, tc.hostTotals, tc.aggregate, tc.epsilon)
			if tc.consistent {
				assert.NoError(t, err)
				return
			}
			var inconsistency *edcerrors.ErrProbeDataInconsistency
			require.ErrorAs(t, err, &inconsistency)
			assert.Equal(t, -1, inconsistency.Host)
			assert.Equal(t, tc.aggregate, inconsistency.Expected)
			assert.Equal(t, tc.epsilon, inconsistency.Tolerance)
			assert.Equal(t, 3.0, inconsistency.Timestamp)
			assert.False(t, edcerrors.IsFatal(err))
		})
	}
}

func TestChecker_ConsistentSamples(t *testing.T) {
	checker := New(testConfig())
	// Cumulative values, so totals are the latest values.
	for i, now := range []float64{1, 2, 3} {
		e := float64(i + 1)
		require.NoError(t, checker.Observe(now, vectorial(10*e, 20*e)))
		require.NoError(t, checker.Observe(now, aggregated(30*e)))
	}
	assert.Equal(t, []float64{30, 60}, checker.HostTotals())
	assert.Equal(t, 90.0, checker.AggregatedTotal())
}

func TestChecker_AggregatedFirst(t *testing.T) {
	checker := New(testConfig())
	require.NoError(t, checker.Observe(1, aggregated(30)))
	require.NoError(t, checker.Observe(1, vectorial(10, 20)))
}

func TestChecker_DetectsMismatch(t *testing.T) {
	checker := New(testConfig())
	require.NoError(t, checker.Observe(1, vectorial(50, 50)))
	// Only checked once both samples of a timestamp arrived.
	require.NoError(t, checker.Observe(2, vectorial(60, 40.005)))
	err := checker.Observe(2, aggregated(100))
	var inconsistency *edcerrors.ErrProbeDataInconsistency
	require.ErrorAs(t, err, &inconsistency)
	assert.InDelta(t, 100.005, inconsistency.Actual, 1e-9)
	assert.InDelta(t, 0.005, inconsistency.Difference, 1e-9)
}

func TestChecker_PowerBounds(t *testing.T) {
	config := testConfig()
	config.MinPower = 10
	config.MaxPower = 100
	checker := New(config)

	require.NoError(t, checker.Observe(0, vectorial(0, 0)))
	require.NoError(t, checker.Observe(0, aggregated(0)))
	// Over 2 seconds each host must consume between 20 and 200 joules.
	require.NoError(t, checker.Observe(2, vectorial(20, 200)))
	require.NoError(t, checker.Observe(2, aggregated(220)))

	err := checker.Observe(4, vectorial(25, 500))
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 2)

	var low, high *edcerrors.ErrProbeDataInconsistency
	require.ErrorAs(t, merr.Errors[0], &low)
	require.ErrorAs(t, merr.Errors[1], &high)
	assert.Equal(t, 0, low.Host)
	assert.Equal(t, 5.0, low.Actual)
	assert.Equal(t, 20.0, low.Expected)
	assert.Equal(t, 1, high.Host)
	assert.Equal(t, 300.0, high.Actual)
	assert.Equal(t, 200.0, high.Expected)
	assert.False(t, edcerrors.IsFatal(err))
}

func TestChecker_PowerBoundsTolerance(t *testing.T) {
	tests := map[string]struct {
		delta float64
		valid bool
	}{
		"at max power":              {delta: 200, valid: true},
		"within epsilon above max":  {delta: 200 + DefaultEpsilon/2, valid: true},
		"beyond epsilon above max":  {delta: 200 + 2*DefaultEpsilon, valid: false},
		"at min power":              {delta: 20, valid: true},
		"within epsilon below min":  {delta: 20 - DefaultEpsilon/2, valid: true},
		"beyond epsilon below min":  {delta: 20 - 2*DefaultEpsilon, valid: false},
		"between min and max power": {delta: 110, valid: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := testConfig()
			config.HostCount = 1
			config.Epsilon = DefaultEpsilon
			config.MinPower = 10
			config.MaxPower = 100
			checker := New(config)
			require.NoError(t, checker.Observe(0, vectorial(0)))

			err := checker.Observe(2, vectorial(tc.delta))
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			var inconsistency *edcerrors.ErrProbeDataInconsistency
			require.ErrorAs(t, err, &inconsistency)
			assert.Equal(t, DefaultEpsilon, inconsistency.Tolerance)
		})
	}
}

func TestChecker_ProtocolViolations(t *testing.T) {
	checker := New(testConfig())
	assert.True(t, edcerrors.IsProtocolViolation(checker.Observe(1, vectorial(1, 2, 3))))
	wrongKind := aggregated(1)
	wrongKind.ProbeId = "hosts-vec"
	assert.True(t, edcerrors.IsProtocolViolation(checker.Observe(1, wrongKind)))
	assert.NoError(t, checker.Observe(1, &batprotocol.ProbeDataEmitted{ProbeId: "other", Vectorial: []float64{1}}))
}
