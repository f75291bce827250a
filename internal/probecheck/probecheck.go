// Package probecheck validates energy probe samples.
//
// A decision component typically creates two probes on the same hosts: one reporting the cumulative energy
// of every host, the other the same energy summed over hosts. The Checker turns both into running totals and
// verifies that they agree, and optionally that every host consumed an amount of energy consistent with its
// power bounds.
package probecheck

import (
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/pkg/batprotocol"
)

const DefaultEpsilon = 1e-3

type Config struct {
	// Id of the probe emitting one value per host.
	VectorialProbeId string
	// Id of the probe emitting the sum over hosts.
	AggregatedProbeId string
	HostCount         uint32
	// Maximum absolute difference between the sum of host totals and the aggregated total.
	// Per-host deltas may also exceed the power bounds by Epsilon.
	Epsilon float64
	// If both are zero, deltas are not checked against power bounds.
	MinPower float64
	MaxPower float64
}

// Checker keeps running energy totals for a pair of probes.
type Checker struct {
	config Config

	hostLast      []float64
	hostTotals    []float64
	aggregateLast float64
	aggregate     float64

	lastVectorialTime float64
	vectorialSeen     bool
	// Timestamps of the most recent sample of each kind not yet cross-checked, NaN if none.
	pendingVectorial  float64
	pendingAggregated float64
}

func New(config Config) *Checker {
	if config.Epsilon <= 0 {
		config.Epsilon = DefaultEpsilon
	}
	return &Checker{
		config:            config,
		hostLast:          make([]float64, config.HostCount),
		hostTotals:        make([]float64, config.HostCount),
		pendingVectorial:  math.NaN(),
		pendingAggregated: math.NaN(),
	}
}

func (c *Checker) HostTotals() []float64 {
	rv := make([]float64, len(c.hostTotals))
	copy(rv, c.hostTotals)
	return rv
}

func (c *Checker) AggregatedTotal() float64 {
	return c.aggregate
}

// Observe processes one sample emitted at timestamp. Samples of probes other than the configured pair are ignored.
// The returned error, if any, lists every *edcerrors.ErrProbeDataInconsistency found in the sample.
// It is a protocol violation for a sample not to match the kind of its probe.
func (c *Checker) Observe(timestamp float64, sample *batprotocol.ProbeDataEmitted) error {
	switch sample.ProbeId {
	case c.config.VectorialProbeId:
		if sample.IsAggregated() {
			return edcerrors.NewProtocolViolation("probe %s emitted aggregated data", sample.ProbeId)
		}
		return c.observeVectorial(timestamp, sample)
	case c.config.AggregatedProbeId:
		if !sample.IsAggregated() {
			return edcerrors.NewProtocolViolation("probe %s emitted vectorial data", sample.ProbeId)
		}
		return c.observeAggregated(timestamp, sample)
	default:
		return nil
	}
}

func (c *Checker) observeVectorial(timestamp float64, sample *batprotocol.ProbeDataEmitted) error {
	if uint32(len(sample.Vectorial)) != c.config.HostCount {
		return edcerrors.NewProtocolViolation(
			"probe %s emitted %d values for %d hosts", sample.ProbeId, len(sample.Vectorial), c.config.HostCount,
		)
	}
	var result *multierror.Error
	dt := 0.0
	if c.vectorialSeen {
		dt = timestamp - c.lastVectorialTime
	}
	for host, value := range sample.Vectorial {
		delta := value - c.hostLast[host]
		c.hostLast[host] = value
		c.hostTotals[host] += delta
		if c.vectorialSeen {
			if err := c.checkBounds(sample.ProbeId, timestamp, host, delta, dt); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	c.vectorialSeen = true
	c.lastVectorialTime = timestamp
	c.pendingVectorial = timestamp
	if err := c.crossCheck(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (c *Checker) observeAggregated(timestamp float64, sample *batprotocol.ProbeDataEmitted) error {
	value := *sample.Aggregated
	delta := value - c.aggregateLast
	c.aggregateLast = value
	c.aggregate += delta
	c.pendingAggregated = timestamp
	return c.crossCheck()
}

func (c *Checker) checkBounds(probeId string, timestamp float64, host int, delta, dt float64) error {
	if c.config.MinPower == 0 && c.config.MaxPower == 0 {
		return nil
	}
	low := c.config.MinPower*dt - c.config.Epsilon
	high := c.config.MaxPower*dt + c.config.Epsilon
	if delta >= low && delta <= high {
		return nil
	}
	expected := c.config.MinPower * dt
	if delta > high {
		expected = c.config.MaxPower * dt
	}
	return errors.WithStack(&edcerrors.ErrProbeDataInconsistency{
		ProbeId:    probeId,
		Timestamp:  timestamp,
		Host:       host,
		Expected:   expected,
		Actual:     delta,
		Difference: math.Abs(delta - expected),
		Tolerance:  c.config.Epsilon,
		Message:    "energy consumed outside of power bounds",
	})
}

// crossCheck compares the totals once both kinds of sample have arrived for the same timestamp.
func (c *Checker) crossCheck() error {
	if math.IsNaN(c.pendingVectorial) || c.pendingVectorial != c.pendingAggregated {
		return nil
	}
	timestamp := c.pendingVectorial
	c.pendingVectorial = math.NaN()
	c.pendingAggregated = math.NaN()
	return Compare(c.config.AggregatedProbeId, timestamp, c.hostTotals, c.aggregate, c.config.Epsilon)
}

// Compare returns an *edcerrors.ErrProbeDataInconsistency if the sum of hostTotals differs from aggregate by more than epsilon.
func Compare(probeId string, timestamp float64, hostTotals []float64, aggregate, epsilon float64) error {
	sum := 0.0
	for _, total := range hostTotals {
		sum += total
	}
	difference := math.Abs(sum - aggregate)
	if difference <= epsilon {
		return nil
	}
	return errors.WithStack(&edcerrors.ErrProbeDataInconsistency{
		ProbeId:    probeId,
		Timestamp:  timestamp,
		Host:       -1,
		Expected:   aggregate,
		Actual:     sum,
		Difference: difference,
		Tolerance:  epsilon,
		Message:    "sum of host energies differs from aggregated energy",
	})
}
