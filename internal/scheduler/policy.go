package scheduler

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// Policy decides which queued jobs to start and where.
type Policy interface {
	Name() string
	// Admit returns an *edcerrors.ErrInvalidJobRequest if job can never be executed.
	Admit(job *jobdb.Job, hostCount uint32) error
	// Schedule starts queued jobs at time now, adding an ExecuteJob decision to decisions for each of them.
	Schedule(ctx *edccontext.Context, txn *Txn, now float64, decisions *batprotocol.MessageBuilder) (*CycleResult, error)
}

// CycleResult summarises one scheduling cycle.
type CycleResult struct {
	// Jobs started in queue order.
	Started []*jobdb.Job
	// Jobs started ahead of the priority job.
	Backfilled []*jobdb.Job
	// First queued job that could not start, if any.
	PriorityJob *jobdb.Job
	// Set by policies reserving hosts for the priority job.
	Reservation *Reservation
}

func (r *CycleResult) NumStarted() int {
	return len(r.Started) + len(r.Backfilled)
}

type PolicyKind string

const (
	PolicyEasyBackfill PolicyKind = "easy"
	PolicyFCFS         PolicyKind = "fcfs"
	PolicyExec1by1     PolicyKind = "exec1by1"
	PolicyRejecter     PolicyKind = "rejecter"
)

var policyKinds = []PolicyKind{PolicyEasyBackfill, PolicyFCFS, PolicyExec1by1, PolicyRejecter}

func (k *PolicyKind) UnmarshalText(text []byte) error {
	kind := PolicyKind(strings.ToLower(strings.TrimSpace(string(text))))
	for _, known := range policyKinds {
		if kind == known {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown policy %q; valid policies are %v", string(text), policyKinds)
}

func NewPolicy(kind PolicyKind) (Policy, error) {
	switch kind {
	case PolicyEasyBackfill:
		return &EasyBackfill{}, nil
	case PolicyFCFS:
		return &FCFS{}, nil
	case PolicyExec1by1:
		return &Exec1by1{}, nil
	case PolicyRejecter:
		return &Rejecter{}, nil
	default:
		return nil, errors.Errorf("unknown policy %q", kind)
	}
}

// startJob starts a queued job and reports it to decisions.
func startJob(
	ctx *edccontext.Context,
	txn *Txn,
	job *jobdb.Job,
	now float64,
	decisions *batprotocol.MessageBuilder,
) (*jobdb.Job, error) {
	alloc := txn.Available().Left(job.RequestedHosts)
	running, err := txn.StartJob(job.Id, alloc, now)
	if err != nil {
		return nil, err
	}
	decisions.AddExecuteJob(job.Id, alloc, batprotocol.StrategySpreadOverHostsFirst)
	ctx.Debugf("starting job %s on hosts %s until at most %g", job.Id, alloc, running.MaximumFinishTime)
	return running, nil
}
