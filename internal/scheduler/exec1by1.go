package scheduler

import (
	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
	"github.com/batsched/batsched/pkg/intervalset"
)

// Exec1by1 runs one job at a time, on the first hosts of the platform.
type Exec1by1 struct{}

func (p *Exec1by1) Name() string {
	return string(PolicyExec1by1)
}

func (p *Exec1by1) Admit(job *jobdb.Job, hostCount uint32) error {
	return checkHostCount(job, hostCount)
}

func (p *Exec1by1) Schedule(ctx *edccontext.Context, txn *Txn, now float64, decisions *batprotocol.MessageBuilder) (*CycleResult, error) {
	result := &CycleResult{}
	running, err := txn.RunningJobs()
	if err != nil {
		return nil, err
	}
	queued, err := txn.QueuedJobs()
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return result, nil
	}
	if len(running) > 0 {
		result.PriorityJob = queued[0]
		return result, nil
	}
	job := queued[0]
	alloc := intervalset.ClosedInterval(0, job.RequestedHosts-1)
	started, err := txn.StartJob(job.Id, alloc, now)
	if err != nil {
		return nil, err
	}
	decisions.AddExecuteJob(job.Id, alloc, batprotocol.StrategySpreadOverHostsFirst)
	ctx.Debugf("starting job %s on hosts %s", job.Id, alloc)
	result.Started = []*jobdb.Job{started}
	if len(queued) > 1 {
		result.PriorityJob = queued[1]
	}
	return result, nil
}
