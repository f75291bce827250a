package scheduler

import (
	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// FCFS starts jobs in submission order, stopping at the first one that does not fit.
type FCFS struct{}

func (p *FCFS) Name() string {
	return string(PolicyFCFS)
}

func (p *FCFS) Admit(job *jobdb.Job, hostCount uint32) error {
	return checkHostCount(job, hostCount)
}

func (p *FCFS) Schedule(ctx *edccontext.Context, txn *Txn, now float64, decisions *batprotocol.MessageBuilder) (*CycleResult, error) {
	result := &CycleResult{}
	queued, err := txn.QueuedJobs()
	if err != nil {
		return nil, err
	}
	started, priorityJob, err := startInOrder(ctx, txn, queued, now, decisions)
	if err != nil {
		return nil, err
	}
	result.Started = started
	result.PriorityJob = priorityJob
	return result, nil
}

// startInOrder starts jobs from the head of queued while they fit on the available hosts.
// It returns the started jobs and the first job that did not fit, if any.
func startInOrder(
	ctx *edccontext.Context,
	txn *Txn,
	queued []*jobdb.Job,
	now float64,
	decisions *batprotocol.MessageBuilder,
) ([]*jobdb.Job, *jobdb.Job, error) {
	started := make([]*jobdb.Job, 0)
	for _, job := range queued {
		if job.RequestedHosts > txn.AvailableCount() {
			return started, job, nil
		}
		running, err := startJob(ctx, txn, job, now, decisions)
		if err != nil {
			return nil, nil, err
		}
		started = append(started, running)
	}
	return started, nil, nil
}
