package batprotocol

import (
	"github.com/pkg/errors"
)

type EventType string

const (
	// Sent by the kernel.
	EventTypeBatsimHello            EventType = "BatsimHello"
	EventTypeSimulationBegins       EventType = "SimulationBegins"
	EventTypeJobSubmitted           EventType = "JobSubmitted"
	EventTypeJobCompleted           EventType = "JobCompleted"
	EventTypeJobsKilled             EventType = "JobsKilled"
	EventTypeProbeDataEmitted       EventType = "ProbeDataEmitted"
	EventTypeAllStaticJobsSubmitted EventType = "AllStaticJobsSubmitted"
	EventTypeUnknownExternal        EventType = "UnknownExternal"

	// Sent by the decision component.
	EventTypeEDCHello    EventType = "EDCHello"
	EventTypeRejectJob   EventType = "RejectJob"
	EventTypeExecuteJob  EventType = "ExecuteJob"
	EventTypeCreateProbe EventType = "CreateProbe"
	EventTypeStopProbe   EventType = "StopProbe"

	// Sent by both sides.
	EventTypeKillJobs EventType = "KillJobs"
)

// Payload is the type-specific content of an event.
type Payload interface {
	EventType() EventType
	isPayload()
}

// Event is a payload tagged with the simulated time at which it happened.
type Event struct {
	Timestamp float64
	Payload   Payload
}

func (e Event) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// Message is a batch of events, or of decisions, sent at simulated time Now.
type Message struct {
	Now    float64
	Events []Event
}

type BatsimHello struct {
	BatprotocolVersion string `json:"batprotocol_version"`
}

type HostState string

const (
	HostStateIdle         HostState = "IDLE"
	HostStateComputing    HostState = "COMPUTING"
	HostStateSwitchingOn  HostState = "SWITCHING_ON"
	HostStateSwitchingOff HostState = "SWITCHING_OFF"
	HostStateSleeping     HostState = "SLEEPING"
	HostStateUnavailable  HostState = "UNAVAILABLE"
)

type Host struct {
	Id                uint32            `json:"id"`
	Name              string            `json:"name"`
	Pstate            uint32            `json:"pstate"`
	PstateCount       uint32            `json:"pstate_count"`
	State             HostState         `json:"state"`
	CoreCount         uint32            `json:"core_count"`
	ComputationSpeeds []float64         `json:"computation_speeds,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
}

type SimulationBegins struct {
	HostNumber            uint32 `json:"host_number"`
	ComputationHostNumber uint32 `json:"computation_host_number"`
	StorageHostNumber     uint32 `json:"storage_host_number"`
	// Computation hosts first, then storage hosts.
	Hosts []Host `json:"hosts,omitempty"`
	// Workload name to workload file.
	Workloads map[string]string `json:"workloads,omitempty"`
	// Only set if profiles are forwarded on simulation begins.
	Profiles               []*Profile `json:"profiles,omitempty"`
	BatsimExecutionContext string     `json:"batsim_execution_context,omitempty"`
}

// Job is the static description of a job, as found in workloads.
type Job struct {
	ResourceRequest uint32  `json:"resource_request"`
	Walltime        float64 `json:"walltime"`
	Profile         string  `json:"profile"`
	ExtraData       string  `json:"extra_data,omitempty"`
}

type JobSubmitted struct {
	JobId string `json:"job_id"`
	Job   Job    `json:"job"`
	// Only set if profiles are forwarded on job submission.
	Profile *Profile `json:"profile,omitempty"`
}

type FinalJobState string

const (
	FinalJobStateCompletedSuccessfully    FinalJobState = "COMPLETED_SUCCESSFULLY"
	FinalJobStateCompletedFailed          FinalJobState = "COMPLETED_FAILED"
	FinalJobStateCompletedWalltimeReached FinalJobState = "COMPLETED_WALLTIME_REACHED"
	FinalJobStateCompletedKilled          FinalJobState = "COMPLETED_KILLED"
	FinalJobStateRejected                 FinalJobState = "REJECTED"
)

type JobCompleted struct {
	JobId      string        `json:"job_id"`
	State      FinalJobState `json:"state"`
	ReturnCode int32         `json:"return_code"`
}

// JobsKilled acknowledges a KillJobs decision. Progress holds the progress of each killed job that was running.
type JobsKilled struct {
	JobIds   []string                 `json:"job_ids"`
	Progress map[string]*KillProgress `json:"progress,omitempty"`
}

// ProbeDataEmitted carries one sample of a probe. Exactly one of Vectorial and Aggregated is set.
type ProbeDataEmitted struct {
	ProbeId           string    `json:"probe_id"`
	ManuallyTriggered bool      `json:"manually_triggered,omitempty"`
	Vectorial         []float64 `json:"vectorial,omitempty"`
	Aggregated        *float64  `json:"aggregated,omitempty"`
}

func (p *ProbeDataEmitted) IsAggregated() bool {
	return p.Aggregated != nil
}

type AllStaticJobsSubmitted struct{}

// UnknownExternal is an event from an external source that the kernel forwards without interpreting it.
type UnknownExternal struct {
	Data string `json:"data"`
}

// KillJobs asks for jobs to be killed.
type KillJobs struct {
	JobIds []string `json:"job_ids"`
}

func (*BatsimHello) EventType() EventType            { return EventTypeBatsimHello }
func (*SimulationBegins) EventType() EventType       { return EventTypeSimulationBegins }
func (*JobSubmitted) EventType() EventType           { return EventTypeJobSubmitted }
func (*JobCompleted) EventType() EventType           { return EventTypeJobCompleted }
func (*JobsKilled) EventType() EventType             { return EventTypeJobsKilled }
func (*ProbeDataEmitted) EventType() EventType       { return EventTypeProbeDataEmitted }
func (*AllStaticJobsSubmitted) EventType() EventType { return EventTypeAllStaticJobsSubmitted }
func (*UnknownExternal) EventType() EventType        { return EventTypeUnknownExternal }
func (*KillJobs) EventType() EventType               { return EventTypeKillJobs }

func (*BatsimHello) isPayload()            {}
func (*SimulationBegins) isPayload()       {}
func (*JobSubmitted) isPayload()           {}
func (*JobCompleted) isPayload()           {}
func (*JobsKilled) isPayload()             {}
func (*ProbeDataEmitted) isPayload()       {}
func (*AllStaticJobsSubmitted) isPayload() {}
func (*UnknownExternal) isPayload()        {}
func (*KillJobs) isPayload()               {}

// checkable is implemented by payloads with constraints that json decoding alone does not enforce.
type checkable interface {
	check() error
}

func (e *BatsimHello) check() error {
	if e.BatprotocolVersion == "" {
		return errors.New("missing batprotocol version")
	}
	return nil
}

func (e *SimulationBegins) check() error {
	if e.ComputationHostNumber > e.HostNumber {
		return errors.Errorf("%d computation hosts out of %d hosts", e.ComputationHostNumber, e.HostNumber)
	}
	for i, host := range e.Hosts {
		if host.Id != uint32(i) {
			return errors.Errorf("host at position %d has id %d", i, host.Id)
		}
	}
	return nil
}

func (e *JobSubmitted) check() error {
	if e.JobId == "" {
		return errors.New("missing job id")
	}
	if e.Profile != nil && e.Profile.Id != e.Job.Profile {
		return errors.Errorf("job %s uses profile %s but profile %s was forwarded", e.JobId, e.Job.Profile, e.Profile.Id)
	}
	return nil
}

func (e *JobCompleted) check() error {
	if e.JobId == "" {
		return errors.New("missing job id")
	}
	return nil
}

func (e *ProbeDataEmitted) check() error {
	if e.ProbeId == "" {
		return errors.New("missing probe id")
	}
	if (e.Vectorial == nil) == (e.Aggregated == nil) {
		return errors.Errorf("probe %s data must be either vectorial or aggregated", e.ProbeId)
	}
	return nil
}

func (e *KillJobs) check() error {
	if len(e.JobIds) == 0 {
		return errors.New("no job to kill")
	}
	return nil
}
