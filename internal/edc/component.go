// Package edc implements an external decision component: the process-side half of the simulator protocol that
// receives batches of simulation events and answers with scheduling decisions.
package edc

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/batsched/batsched/internal/common/build"
	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/common/logging"
	"github.com/batsched/batsched/internal/edc/configuration"
	"github.com/batsched/batsched/internal/probecheck"
	"github.com/batsched/batsched/internal/scheduler"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
	"github.com/batsched/batsched/pkg/intervalset"
)

const (
	VectorialProbeId  = "hosts-vec"
	AggregatedProbeId = "hosts-agg"
)

// Component is a decision component. Its lifecycle is Init, any number of TakeDecisions, then Deinit.
// It is not safe for concurrent use: the protocol is strictly request/response.
type Component struct {
	logger  *logrus.Logger
	metrics *scheduler.SchedulerMetrics

	config  configuration.Configuration
	codec   *batprotocol.Codec
	builder *batprotocol.MessageBuilder
	policy  scheduler.Policy
	// Nil until the simulation begins.
	state   *scheduler.SchedulerState
	checker *probecheck.Checker

	initialized            bool
	called                 bool
	lastNow                float64
	allStaticJobsSubmitted bool
	probesRunning          bool
}

// NewComponent returns a component logging to logger, which defaults to the standard logger,
// and registering its metrics with registerer, if not nil.
func NewComponent(logger *logrus.Logger, registerer prometheus.Registerer) (*Component, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	metrics, err := scheduler.NewSchedulerMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Component{
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Init parses the initialization payload data and selects the wire format from flags.
func (c *Component) Init(data []byte, flags uint32) error {
	format, err := batprotocol.FormatFromFlags(flags)
	if err != nil {
		return err
	}
	config, err := configuration.Load(data)
	if err != nil {
		return errors.WithMessage(err, "invalid initialization payload")
	}
	policy, err := scheduler.NewPolicy(config.Behavior)
	if err != nil {
		return err
	}
	c.logger.SetLevel(config.LogLevel)
	c.config = config
	c.codec = batprotocol.NewCodec(format)
	c.builder = batprotocol.NewMessageBuilder()
	c.policy = policy
	c.state = nil
	c.checker = nil
	c.called = false
	c.lastNow = 0
	c.allStaticJobsSubmitted = false
	c.probesRunning = false
	c.initialized = true
	c.logger.WithFields(logrus.Fields{"policy": policy.Name(), "format": format}).Info("decision component initialized")
	return nil
}

// Deinit releases the simulation state. The component may be initialized again afterwards.
func (c *Component) Deinit() error {
	c.initialized = false
	c.state = nil
	c.checker = nil
	c.builder = nil
	return nil
}

// TakeDecisions decodes a message of events, decides, and returns the encoded decisions.
func (c *Component) TakeDecisions(data []byte) ([]byte, error) {
	if !c.initialized {
		return nil, errors.New("decision component is not initialized")
	}
	msg, err := c.codec.DecodeEvents(data)
	if err != nil {
		return nil, err
	}
	decisions, err := c.Decide(edccontext.New(context.Background(), logrus.NewEntry(c.logger)), msg)
	if err != nil {
		return nil, err
	}
	return c.codec.EncodeDecisions(decisions)
}

// Decide processes the events of msg in order and returns the decisions made.
// Jobs are scheduled once, after every event has been processed.
// Changes to jobs are not committed if an error is returned.
func (c *Component) Decide(ctx *edccontext.Context, msg *batprotocol.Message) (*batprotocol.Message, error) {
	if !c.initialized {
		return nil, errors.New("decision component is not initialized")
	}
	if c.called && msg.Now < c.lastNow {
		return nil, edcerrors.NewProtocolViolation("now went back from %g to %g", c.lastNow, msg.Now)
	}
	ctx = edccontext.WithLogField(ctx, "now", msg.Now)
	c.builder.Clear(msg.Now)

	var txn *scheduler.Txn
	defer func() {
		if txn != nil {
			txn.Abort()
		}
	}()
	for i, event := range msg.Events {
		if txn == nil && c.state != nil {
			txn = c.state.WriteTxn()
		}
		if err := c.handleEvent(ctx, txn, event); err != nil {
			return nil, withEventIndex(err, i, event)
		}
	}
	if txn == nil && c.state != nil {
		txn = c.state.WriteTxn()
	}

	if txn != nil {
		if err := c.schedule(ctx, txn, msg.Now); err != nil {
			return nil, err
		}
	}
	decisions, err := c.builder.Finish(msg.Now)
	if err != nil {
		return nil, err
	}
	if txn != nil {
		txn.Commit()
		txn = nil
	}
	c.called = true
	c.lastNow = msg.Now
	c.metrics.ReportDecisions(decisions)
	return decisions, nil
}

func (c *Component) handleEvent(ctx *edccontext.Context, txn *scheduler.Txn, event batprotocol.Event) error {
	if txn == nil {
		switch event.Payload.(type) {
		case *batprotocol.BatsimHello, *batprotocol.SimulationBegins, *batprotocol.UnknownExternal:
		default:
			return edcerrors.NewProtocolViolation("event received before the simulation began")
		}
	}
	switch payload := event.Payload.(type) {
	case *batprotocol.BatsimHello:
		if err := batprotocol.CheckProtocolVersion(payload.BatprotocolVersion); err != nil {
			return err
		}
		c.builder.AddEDCHello(c.Name(), build.ReleaseVersion, build.GitCommit, batprotocol.Features{})
	case *batprotocol.SimulationBegins:
		return c.simulationBegins(ctx, payload)
	case *batprotocol.JobSubmitted:
		return c.jobSubmitted(ctx, txn, event.Timestamp, payload)
	case *batprotocol.JobCompleted:
		c.release(ctx, txn, payload.JobId, "completed")
	case *batprotocol.JobsKilled:
		for _, jobId := range payload.JobIds {
			c.release(ctx, txn, jobId, "killed")
			if progress, ok := payload.Progress[jobId]; ok && progress != nil {
				ctx.Debugf("job %s killed with root task %s", jobId, progress.RootTask)
			}
		}
	case *batprotocol.KillJobs:
		return c.killJobs(ctx, txn, payload)
	case *batprotocol.ProbeDataEmitted:
		return c.probeDataEmitted(ctx, event.Timestamp, payload)
	case *batprotocol.AllStaticJobsSubmitted:
		c.allStaticJobsSubmitted = true
	case *batprotocol.UnknownExternal:
		ctx.Debugf("ignoring external event %q", payload.Data)
	default:
		return edcerrors.NewProtocolViolation("unexpected %s event", event.Type())
	}
	return nil
}

// Name is the name the component introduces itself with.
func (c *Component) Name() string {
	if c.policy == nil {
		return "batsched"
	}
	return "batsched-" + c.policy.Name()
}

func (c *Component) simulationBegins(ctx *edccontext.Context, payload *batprotocol.SimulationBegins) error {
	if c.state != nil {
		return edcerrors.NewProtocolViolation("simulation began twice")
	}
	state, err := scheduler.NewSchedulerState(payload.ComputationHostNumber)
	if err != nil {
		return edcerrors.NewProtocolViolation("%s", err)
	}
	c.state = state
	ctx.Infof("simulation begins on %d computation hosts", payload.ComputationHostNumber)
	if !c.config.Probes.Enabled {
		return nil
	}

	hosts := intervalset.ClosedInterval(0, payload.ComputationHostNumber-1).String()
	probe := batprotocol.CreateProbe{
		ProbeId:      VectorialProbeId,
		Metric:       batprotocol.ProbeMetricPower,
		Resources:    hosts,
		Trigger:      batprotocol.ProbeTrigger{Period: c.config.Probes.Period},
		Aggregation:  batprotocol.ProbeAggregationNone,
		Accumulation: batprotocol.ProbeAccumulationNoReset,
	}
	vectorial := probe
	c.builder.AddCreateProbe(&vectorial)
	aggregated := probe
	aggregated.ProbeId = AggregatedProbeId
	aggregated.Aggregation = batprotocol.ProbeAggregationSum
	c.builder.AddCreateProbe(&aggregated)

	c.checker = probecheck.New(probecheck.Config{
		VectorialProbeId:  VectorialProbeId,
		AggregatedProbeId: AggregatedProbeId,
		HostCount:         payload.ComputationHostNumber,
		Epsilon:           c.config.Probes.Epsilon,
		MinPower:          c.config.Probes.MinPower,
		MaxPower:          c.config.Probes.MaxPower,
	})
	c.probesRunning = true
	return nil
}

func (c *Component) jobSubmitted(ctx *edccontext.Context, txn *scheduler.Txn, now float64, payload *batprotocol.JobSubmitted) error {
	job := &jobdb.Job{
		Id:             payload.JobId,
		RequestedHosts: payload.Job.ResourceRequest,
		Walltime:       payload.Job.Walltime,
		Profile:        payload.Job.Profile,
		SubmitTime:     now,
	}
	if err := c.policy.Admit(job, txn.HostCount()); err != nil {
		var invalid *edcerrors.ErrInvalidJobRequest
		if !errors.As(err, &invalid) {
			return err
		}
		ctx.Infof("rejecting job: %s", err)
		c.builder.AddRejectJob(job.Id)
		return nil
	}
	if _, err := txn.Enqueue(job); err != nil {
		return edcerrors.NewProtocolViolation("%s", err)
	}
	return nil
}

func (c *Component) release(ctx *edccontext.Context, txn *scheduler.Txn, jobId string, reason string) {
	job, err := txn.Release(jobId)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Errorf("failed to release job %s", jobId)
		return
	}
	if job == nil {
		ctx.Warnf("ignoring %s job %s: unknown job", reason, jobId)
		return
	}
	ctx.Debugf("job %s %s, hosts %s released", jobId, reason, job.Alloc)
}

// killJobs rejects queued jobs and asks the kernel to kill running ones. The hosts of running jobs are released
// once the kernel acknowledges the kill.
func (c *Component) killJobs(ctx *edccontext.Context, txn *scheduler.Txn, payload *batprotocol.KillJobs) error {
	running := make([]string, 0, len(payload.JobIds))
	for _, jobId := range payload.JobIds {
		job, err := txn.GetJob(jobId)
		if err != nil {
			return err
		}
		switch {
		case job == nil:
			ctx.Warnf("cannot kill job %s: unknown job", jobId)
		case job.IsRunning():
			running = append(running, jobId)
		default:
			if _, err := txn.Release(jobId); err != nil {
				return err
			}
			c.builder.AddRejectJob(jobId)
		}
	}
	if len(running) > 0 {
		c.builder.AddKillJobs(running...)
	}
	return nil
}

func (c *Component) probeDataEmitted(ctx *edccontext.Context, timestamp float64, payload *batprotocol.ProbeDataEmitted) error {
	if c.checker == nil {
		ctx.Warnf("ignoring data of probe %s: probes are disabled", payload.ProbeId)
		return nil
	}
	err := c.checker.Observe(timestamp, payload)
	if err == nil {
		return nil
	}
	if edcerrors.IsFatal(err) {
		return err
	}
	n := 1
	var merr *multierror.Error
	if errors.As(err, &merr) {
		n = len(merr.Errors)
	}
	c.metrics.ReportProbeInconsistencies(n)
	logging.WithStacktrace(ctx.Log, err).Warnf("inconsistent data from probe %s", payload.ProbeId)
	if c.config.Probes.Fatal {
		return err
	}
	return nil
}

// schedule runs the policy, then stops the probes once there is nothing left to run.
func (c *Component) schedule(ctx *edccontext.Context, txn *scheduler.Txn, now float64) error {
	result, err := c.policy.Schedule(ctx, txn, now, c.builder)
	if err != nil {
		return err
	}
	c.metrics.ReportCycle(result)
	queued, err := txn.QueuedJobs()
	if err != nil {
		return err
	}
	running, err := txn.RunningJobs()
	if err != nil {
		return err
	}
	c.metrics.ReportJobCounts(len(queued), len(running))

	if !c.probesRunning || !c.allStaticJobsSubmitted || len(queued) > 0 || len(running) > 0 {
		return nil
	}
	c.builder.AddStopProbe(VectorialProbeId)
	if err := c.builder.SetCurrentTime(c.builder.CurrentTime() + c.config.InterStopProbeDelay); err != nil {
		return err
	}
	c.builder.AddStopProbe(AggregatedProbeId)
	c.probesRunning = false
	ctx.Infof("all jobs done, probes stopped")
	return nil
}

// withEventIndex attributes a protocol violation raised while handling an event to that event.
func withEventIndex(err error, index int, event batprotocol.Event) error {
	var violation *edcerrors.ErrProtocolViolation
	if errors.As(err, &violation) && violation.EventIndex < 0 {
		violation.EventIndex = index
		violation.EventType = string(event.Type())
	}
	return err
}
