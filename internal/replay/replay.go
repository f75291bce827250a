// Package replay drives a decision component through a workload, playing the part of the simulation kernel.
//
// The replay is not a simulation engine: jobs run for a duration given by a fixed execution model,
// and hosts draw power according to a linear idle/busy model. It exists to exercise decision components end
// to end over the wire protocol.
package replay

import (
	"container/heap"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/taskprogress"
	"github.com/batsched/batsched/pkg/batprotocol"
	"github.com/batsched/batsched/pkg/intervalset"
)

// DecisionComponent is the decision side of the protocol, as loaded by the kernel.
type DecisionComponent interface {
	Init(data []byte, flags uint32) error
	TakeDecisions(data []byte) ([]byte, error)
	Deinit() error
}

type jobState int

const (
	jobPending jobState = iota
	jobSubmitted
	jobRunning
	jobFinished
)

// supportedFeatures are the optional simulation features replays honor. Profiles are never forwarded
// and no job is registered dynamically.
const supportedFeatures batprotocol.FeatureBits = 0

type jobRecord struct {
	spec  *JobSpec
	id    string
	state jobState
	// Set once the job is finished.
	finalState batprotocol.FinalJobState
	submitTime float64
	startTime  float64
	finishTime float64
	hosts      intervalset.Set
	// Hosts running at least one executor of the job.
	busyHosts intervalset.Set
	// Set when the job runs for longer than its walltime.
	walltimeReached bool
	progress        *batprotocol.KillProgress
}

type activeProbe struct {
	*batprotocol.CreateProbe
	hosts []uint32
	// Energy of each host at the previous sample, for probes that reset their accumulation.
	last []float64
}

// Replayer replays one workload on one platform.
type Replayer struct {
	RunId    string
	Platform *PlatformSpec
	Workload *WorkloadSpec

	edc      DecisionComponent
	initData []byte
	codec    *batprotocol.Codec
	model    *executionModel
	meter    *energyMeter

	// Current simulated time.
	time float64
	// Sequence number of the next event to be published.
	sequenceNumber int
	// Events stored in a priority queue ordered first by time and second by sequence number.
	eventLog EventLog

	jobs         map[string]*jobRecord
	jobOrder     []*jobRecord
	unfinished   int
	available    intervalset.Set
	probes       map[string]*activeProbe
	edcName      string
	numMessages  int
	numDecisions int
}

// NewReplayer returns a replayer initialising edc with initData, and exchanging messages in format.
func NewReplayer(
	platform *PlatformSpec,
	workload *WorkloadSpec,
	edc DecisionComponent,
	initData []byte,
	format batprotocol.Format,
) *Replayer {
	r := &Replayer{
		RunId:     uuid.NewString(),
		Platform:  platform,
		Workload:  workload,
		edc:       edc,
		initData:  initData,
		codec:     batprotocol.NewCodec(format),
		model:     newExecutionModel(platform, workload.Profiles),
		meter:     newEnergyMeter(platform),
		jobs:      make(map[string]*jobRecord, len(workload.Jobs)),
		available: intervalset.ClosedInterval(0, platform.Hosts-1),
		probes:    make(map[string]*activeProbe),
	}
	for _, spec := range workload.Jobs {
		record := &jobRecord{spec: spec, id: workload.JobId(spec)}
		r.jobs[record.id] = record
		r.jobOrder = append(r.jobOrder, record)
	}
	r.unfinished = len(r.jobOrder)
	return r
}

// Run replays the workload until every job is finished.
func (r *Replayer) Run(ctx *edccontext.Context) (*Result, error) {
	ctx = edccontext.WithLogFields(ctx, logrus.Fields{
		"runId":    r.RunId,
		"platform": r.Platform.Name,
		"workload": r.Workload.Name,
	})
	if err := r.edc.Init(r.initData, r.codec.Format().Flags()); err != nil {
		return nil, errors.WithMessage(err, "failed to initialise decision component")
	}
	defer func() {
		if err := r.edc.Deinit(); err != nil {
			ctx.Warnf("failed to deinitialise decision component: %s", err)
		}
	}()

	r.pushNotification(0, &batprotocol.BatsimHello{BatprotocolVersion: batprotocol.ProtocolVersion})
	r.pushNotification(0, &batprotocol.SimulationBegins{
		HostNumber:            r.Platform.Hosts,
		ComputationHostNumber: r.Platform.Hosts,
		Workloads:             map[string]string{r.Workload.Name: r.Workload.Name},
	})
	lastSubmission := 0.0
	for _, record := range r.jobOrder {
		r.pushNotification(record.spec.Subtime, &batprotocol.JobSubmitted{
			JobId: record.id,
			Job: batprotocol.Job{
				ResourceRequest: record.spec.Res,
				Walltime:        record.spec.Walltime,
				Profile:         record.spec.Profile,
			},
		})
		lastSubmission = record.spec.Subtime
	}
	r.pushNotification(lastSubmission, &batprotocol.AllStaticJobsSubmitted{})

	// Once nothing but probe samples is pending, no job can start or end any more.
	for r.eventLog.Len() > 0 && !r.eventLog.onlyProbeSamples() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.step(ctx); err != nil {
			return nil, err
		}
	}
	if r.unfinished > 0 {
		return nil, errors.Errorf("replay stopped at %g with %d unfinished jobs", r.time, r.unfinished)
	}
	result := r.result()
	ctx.Infof("replay finished: %s", result)
	return result, nil
}

// step processes every event happening at the earliest time and sends the resulting notifications, if any.
func (r *Replayer) step(ctx *edccontext.Context) error {
	r.time = r.eventLog[0].time
	var outgoing []batprotocol.Event
	for r.eventLog.Len() > 0 && r.eventLog[0].time == r.time {
		event := heap.Pop(&r.eventLog).(Event)
		switch payload := event.payload.(type) {
		case notification:
			if submitted, ok := payload.Payload.(*batprotocol.JobSubmitted); ok {
				record := r.jobs[submitted.JobId]
				record.state = jobSubmitted
				record.submitTime = r.time
			}
			outgoing = append(outgoing, batprotocol.Event{Timestamp: r.time, Payload: payload.Payload})
		case decision:
			if err := r.apply(ctx, payload.Payload); err != nil {
				return err
			}
		case probeSample:
			if sample := r.sample(payload.probeId); sample != nil {
				outgoing = append(outgoing, batprotocol.Event{Timestamp: r.time, Payload: sample})
			}
		case jobEnd:
			if completed := r.endJob(payload.jobId); completed != nil {
				outgoing = append(outgoing, batprotocol.Event{Timestamp: r.time, Payload: completed})
			}
		default:
			return errors.Errorf("unknown event %T", payload)
		}
	}
	if len(outgoing) == 0 {
		return nil
	}
	return r.exchange(ctx, outgoing)
}

// exchange sends events to the decision component and schedules the decisions it returns.
func (r *Replayer) exchange(ctx *edccontext.Context, events []batprotocol.Event) error {
	data, err := r.codec.EncodeEvents(&batprotocol.Message{Now: r.time, Events: events})
	if err != nil {
		return err
	}
	out, err := r.edc.TakeDecisions(data)
	if err != nil {
		return errors.WithMessagef(err, "decision component failed at %g", r.time)
	}
	decisions, err := r.codec.DecodeDecisions(out)
	if err != nil {
		return err
	}
	if decisions.Now < r.time {
		return edcerrors.NewProtocolViolation("decisions sent at %g answer events sent at %g", decisions.Now, r.time)
	}
	r.numMessages++
	r.numDecisions += len(decisions.Events)
	ctx.Debugf("sent %d events at %g, received %d decisions", len(events), r.time, len(decisions.Events))
	for i, event := range decisions.Events {
		if event.Timestamp < r.time {
			return errors.WithStack(&edcerrors.ErrProtocolViolation{
				EventIndex: i,
				EventType:  string(event.Type()),
				Message:    "decision takes effect before the events it answers",
			})
		}
		r.push(event.Timestamp, decision{event.Payload})
	}
	return nil
}

func (r *Replayer) apply(ctx *edccontext.Context, payload batprotocol.Payload) error {
	switch d := payload.(type) {
	case *batprotocol.EDCHello:
		if err := batprotocol.CheckProtocolVersion(d.BatprotocolVersion); err != nil {
			return err
		}
		r.edcName = d.DecisionComponentName
		ctx.Infof("decision component %s %s", d.DecisionComponentName, d.DecisionComponentVersion)
		if unsupported := d.RequestedSimulationFeatures.Bits() &^ supportedFeatures; unsupported != 0 {
			ctx.Warnf("ignoring unsupported simulation features %+v", batprotocol.FeaturesFromBits(unsupported))
		}
	case *batprotocol.RejectJob:
		record, err := r.submittedJob(d.JobId, d.EventType())
		if err != nil {
			return err
		}
		r.finish(record, batprotocol.FinalJobStateRejected)
	case *batprotocol.ExecuteJob:
		return r.startJob(d)
	case *batprotocol.KillJobs:
		r.killJobs(ctx, d.JobIds)
	case *batprotocol.CreateProbe:
		return r.createProbe(d)
	case *batprotocol.StopProbe:
		if _, ok := r.probes[d.ProbeId]; !ok {
			return edcerrors.NewProtocolViolation("cannot stop unknown probe %s", d.ProbeId)
		}
		delete(r.probes, d.ProbeId)
	default:
		return edcerrors.NewProtocolViolation("unexpected decision %s", payload.EventType())
	}
	return nil
}

func (r *Replayer) submittedJob(jobId string, decisionType batprotocol.EventType) (*jobRecord, error) {
	record, ok := r.jobs[jobId]
	if !ok || record.state == jobPending {
		return nil, edcerrors.NewProtocolViolation("%s for unknown job %s", decisionType, jobId)
	}
	if record.state != jobSubmitted {
		return nil, edcerrors.NewProtocolViolation("%s for job %s, which is no longer waiting", decisionType, jobId)
	}
	return record, nil
}

func (r *Replayer) startJob(d *batprotocol.ExecuteJob) error {
	record, err := r.submittedJob(d.JobId, d.EventType())
	if err != nil {
		return err
	}
	placement, err := batprotocol.DecodeAllocation(d)
	if err != nil {
		return err
	}
	if err := placement.Validate(record.spec.Res, r.Platform.Hosts); err != nil {
		return err
	}
	if !placement.Hosts.IsSubsetOf(r.available) {
		return edcerrors.NewProtocolViolation(
			"job %s allocated on %s but only %s is available", d.JobId, placement.Hosts, r.available,
		)
	}
	// One executor per requested host. Allocated hosts running no executor stay idle.
	executorHosts, err := placement.ExecutorHosts(int(record.spec.Res), r.Platform.CoresPerHost)
	if err != nil {
		return edcerrors.NewProtocolViolation("cannot place the executors of job %s: %v", d.JobId, err)
	}
	runtime, err := r.model.Runtime(record.spec.Profile, record.spec.Res, record.spec.Walltime)
	if err != nil {
		return err
	}
	if record.spec.Walltime > 0 && runtime > record.spec.Walltime {
		runtime = record.spec.Walltime
		record.walltimeReached = true
	}
	record.state = jobRunning
	record.startTime = r.time
	record.hosts = placement.Hosts
	record.busyHosts = intervalset.New(executorHosts...)
	r.available = r.available.Difference(placement.Hosts)
	r.meter.setBusy(r.time, record.busyHosts, true)
	r.push(r.time+runtime, jobEnd{jobId: d.JobId})
	return nil
}

func (r *Replayer) endJob(jobId string) *batprotocol.JobCompleted {
	record := r.jobs[jobId]
	if record.state != jobRunning {
		// Killed before its end.
		return nil
	}
	state := batprotocol.FinalJobStateCompletedSuccessfully
	if record.walltimeReached {
		state = batprotocol.FinalJobStateCompletedWalltimeReached
	}
	r.release(record)
	r.finish(record, state)
	return &batprotocol.JobCompleted{JobId: jobId, State: state}
}

// killJobs kills running jobs right away and acknowledges them with their progress.
// Jobs that are not running are left alone.
func (r *Replayer) killJobs(ctx *edccontext.Context, jobIds []string) {
	killed := &batprotocol.JobsKilled{Progress: make(map[string]*batprotocol.KillProgress)}
	for _, jobId := range jobIds {
		record, ok := r.jobs[jobId]
		if !ok || record.state != jobRunning {
			ctx.Warnf("not killing job %s: not running", jobId)
			continue
		}
		task, err := r.model.TaskTree(
			jobId, record.spec.Profile, record.spec.Res, record.spec.Walltime, record.startTime, r.time,
		)
		if err != nil {
			ctx.Warnf("no progress for killed job %s: %s", jobId, err)
		} else {
			record.progress = taskprogress.Compute(task, r.time)
			killed.Progress[jobId] = record.progress
		}
		r.release(record)
		r.finish(record, batprotocol.FinalJobStateCompletedKilled)
		killed.JobIds = append(killed.JobIds, jobId)
	}
	if len(killed.JobIds) > 0 {
		r.pushNotification(r.time, killed)
	}
}

func (r *Replayer) release(record *jobRecord) {
	r.available = r.available.Union(record.hosts)
	r.meter.setBusy(r.time, record.busyHosts, false)
}

func (r *Replayer) finish(record *jobRecord, state batprotocol.FinalJobState) {
	record.state = jobFinished
	record.finalState = state
	record.finishTime = r.time
	r.unfinished--
}

func (r *Replayer) createProbe(d *batprotocol.CreateProbe) error {
	if _, ok := r.probes[d.ProbeId]; ok {
		return edcerrors.NewProtocolViolation("probe %s already exists", d.ProbeId)
	}
	if d.Metric != batprotocol.ProbeMetricPower {
		return errors.Errorf("probe %s: metric %s is not supported", d.ProbeId, d.Metric)
	}
	if d.Trigger.Period <= 0 {
		return edcerrors.NewProtocolViolation("probe %s has period %g", d.ProbeId, d.Trigger.Period)
	}
	hosts, err := batprotocol.ParseHostRange(d.Resources)
	if err != nil {
		return edcerrors.NewProtocolViolation("probe %s: %s", d.ProbeId, err)
	}
	if !hosts.IsSubsetOf(intervalset.ClosedInterval(0, r.Platform.Hosts-1)) {
		return edcerrors.NewProtocolViolation("probe %s is attached to hosts %s outside of the platform", d.ProbeId, hosts)
	}
	r.probes[d.ProbeId] = &activeProbe{
		CreateProbe: d,
		hosts:       hosts.Hosts(),
		last:        make([]float64, hosts.Cardinality()),
	}
	r.push(r.time+d.Trigger.Period, probeSample{probeId: d.ProbeId})
	return nil
}

// sample returns the data of a probe at the current time and schedules its next sample.
// It returns nil if the probe was stopped.
func (r *Replayer) sample(probeId string) *batprotocol.ProbeDataEmitted {
	probe, ok := r.probes[probeId]
	if !ok {
		return nil
	}
	energy := r.meter.Energy(r.time)
	values := make([]float64, len(probe.hosts))
	for i, host := range probe.hosts {
		values[i] = energy[host]
		if probe.Accumulation == batprotocol.ProbeAccumulationNone {
			values[i] -= probe.last[i]
			probe.last[i] = energy[host]
		}
	}
	r.push(r.time+probe.Trigger.Period, probeSample{probeId: probeId})

	sample := &batprotocol.ProbeDataEmitted{ProbeId: probeId}
	if probe.Aggregation == batprotocol.ProbeAggregationSum {
		total := 0.0
		for _, value := range values {
			total += value
		}
		sample.Aggregated = &total
	} else {
		sample.Vectorial = values
	}
	return sample
}

func (r *Replayer) pushNotification(time float64, payload batprotocol.Payload) {
	r.push(time, notification{payload})
}

func (r *Replayer) push(time float64, payload eventPayload) {
	heap.Push(&r.eventLog, Event{time: time, sequenceNumber: r.sequenceNumber, payload: payload})
	r.sequenceNumber++
}
