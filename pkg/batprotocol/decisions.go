package batprotocol

import (
	"github.com/pkg/errors"
)

type EDCHello struct {
	BatprotocolVersion          string   `json:"batprotocol_version"`
	DecisionComponentName       string   `json:"decision_component_name"`
	DecisionComponentVersion    string   `json:"decision_component_version"`
	DecisionComponentCommit     string   `json:"decision_component_commit,omitempty"`
	RequestedSimulationFeatures Features `json:"requested_simulation_features"`
}

type RejectJob struct {
	JobId string `json:"job_id"`
}

type PlacementType string

const (
	PlacementTypeNone               PlacementType = "none"
	PlacementTypePredefinedStrategy PlacementType = "predefined_strategy"
	PlacementTypeCustomMapping      PlacementType = "custom_mapping"
)

type PredefinedStrategy string

const (
	// Executor i goes to the i-th host of the allocation, wrapping around.
	StrategySpreadOverHostsFirst PredefinedStrategy = "spread_over_hosts_first"
	// Executors fill all cores of the first host before moving to the next one.
	StrategyFillOneHostCoresFirst PredefinedStrategy = "fill_one_host_cores_first"
)

// ExecutorPlacement tells how the executors of a job are mapped onto the hosts of its allocation.
type ExecutorPlacement struct {
	Type     PlacementType      `json:"type"`
	Strategy PredefinedStrategy `json:"strategy,omitempty"`
	// Executor index to host id.
	Mapping []uint32 `json:"mapping,omitempty"`
}

type Allocation struct {
	// Host range string, e.g. "0-3,7".
	HostAllocation    string            `json:"host_allocation"`
	ExecutorPlacement ExecutorPlacement `json:"executor_placement"`
}

type ProfileAllocationOverride struct {
	ProfileId         string            `json:"profile_id"`
	HostAllocation    string            `json:"host_allocation"`
	ExecutorPlacement ExecutorPlacement `json:"executor_placement"`
}

type StoragePlacement struct {
	StorageName string `json:"storage_name"`
	HostId      uint32 `json:"host_id"`
}

type ExecuteJob struct {
	JobId                     string                      `json:"job_id"`
	Allocation                Allocation                  `json:"allocation"`
	ProfileAllocationOverride []ProfileAllocationOverride `json:"profile_allocation_override,omitempty"`
	StoragePlacement          []StoragePlacement          `json:"storage_placement,omitempty"`
}

type ProbeMetric string

const (
	ProbeMetricPower ProbeMetric = "power"
	ProbeMetricLinks ProbeMetric = "links"
)

type ProbeAggregation string

const (
	ProbeAggregationNone ProbeAggregation = "none"
	ProbeAggregationSum  ProbeAggregation = "sum"
)

type ProbeAccumulation string

const (
	// Samples are instantaneous values.
	ProbeAccumulationNone ProbeAccumulation = "none"
	// Samples are cumulative since the creation of the probe.
	ProbeAccumulationNoReset ProbeAccumulation = "no_reset"
)

type ProbeTrigger struct {
	// Seconds of simulated time between two samples.
	Period float64 `json:"period"`
}

type CreateProbe struct {
	ProbeId string      `json:"probe_id"`
	Metric  ProbeMetric `json:"metric"`
	// Host range string the probe is attached to.
	Resources    string            `json:"resources"`
	Trigger      ProbeTrigger      `json:"trigger"`
	Aggregation  ProbeAggregation  `json:"aggregation"`
	Accumulation ProbeAccumulation `json:"accumulation"`
}

type StopProbe struct {
	ProbeId string `json:"probe_id"`
}

func (*EDCHello) EventType() EventType    { return EventTypeEDCHello }
func (*RejectJob) EventType() EventType   { return EventTypeRejectJob }
func (*ExecuteJob) EventType() EventType  { return EventTypeExecuteJob }
func (*CreateProbe) EventType() EventType { return EventTypeCreateProbe }
func (*StopProbe) EventType() EventType   { return EventTypeStopProbe }

func (*EDCHello) isPayload()    {}
func (*RejectJob) isPayload()   {}
func (*ExecuteJob) isPayload()  {}
func (*CreateProbe) isPayload() {}
func (*StopProbe) isPayload()   {}

func (d *EDCHello) check() error {
	if d.DecisionComponentName == "" {
		return errors.New("missing decision component name")
	}
	return nil
}

func (d *RejectJob) check() error {
	if d.JobId == "" {
		return errors.New("missing job id")
	}
	return nil
}

func (d *ExecuteJob) check() error {
	if d.JobId == "" {
		return errors.New("missing job id")
	}
	_, err := DecodeAllocation(d)
	return err
}

func (d *CreateProbe) check() error {
	if d.ProbeId == "" {
		return errors.New("missing probe id")
	}
	if d.Trigger.Period <= 0 {
		return errors.Errorf("probe %s has non-positive period %g", d.ProbeId, d.Trigger.Period)
	}
	if _, err := ParseHostRange(d.Resources); err != nil {
		return err
	}
	return nil
}

func (d *StopProbe) check() error {
	if d.ProbeId == "" {
		return errors.New("missing probe id")
	}
	return nil
}
