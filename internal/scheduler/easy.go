package scheduler

import (
	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// EasyBackfill implements EASY backfilling.
// Jobs start in submission order until one does not fit: this priority job gets a reservation at the earliest time
// enough hosts are guaranteed to be free, given the walltimes of running jobs. Later jobs may then start right away
// if doing so cannot delay the reservation.
type EasyBackfill struct{}

// Reservation is the earliest time at which the priority job is guaranteed to start.
type Reservation struct {
	StartTime float64
	// Hosts still free at StartTime once the priority job has started.
	ExtraHosts uint32
}

func (p *EasyBackfill) Name() string {
	return string(PolicyEasyBackfill)
}

func (p *EasyBackfill) Admit(job *jobdb.Job, hostCount uint32) error {
	if err := checkHostCount(job, hostCount); err != nil {
		return err
	}
	if job.Walltime <= 0 {
		return &edcerrors.ErrInvalidJobRequest{JobId: job.Id, Reason: "walltime must be positive"}
	}
	return nil
}

func (p *EasyBackfill) Schedule(ctx *edccontext.Context, txn *Txn, now float64, decisions *batprotocol.MessageBuilder) (*CycleResult, error) {
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
	if priorityJob == nil {
		return result, nil
	}
	result.PriorityJob = priorityJob

	running, err := txn.RunningJobs()
	if err != nil {
		return nil, err
	}
	reservation, err := reserve(priorityJob, txn.AvailableCount(), running)
	if err != nil {
		return nil, err
	}
	result.Reservation = reservation
	ctx.Debugf(
		"job %s reserved at %g with %d extra hosts", priorityJob.Id, reservation.StartTime, reservation.ExtraHosts,
	)

	extraHosts := reservation.ExtraHosts
	for _, job := range queued[len(started)+1:] {
		if txn.AvailableCount() == 0 {
			break
		}
		if job.RequestedHosts > txn.AvailableCount() {
			continue
		}
		endsBeforeReservation := now+job.Walltime <= reservation.StartTime
		if !endsBeforeReservation && job.RequestedHosts > extraHosts {
			continue
		}
		backfilled, err := startJob(ctx, txn, job, now, decisions)
		if err != nil {
			return nil, err
		}
		// Hosts of jobs still running at the reservation come out of the extra hosts.
		if !endsBeforeReservation {
			extraHosts -= job.RequestedHosts
		}
		result.Backfilled = append(result.Backfilled, backfilled)
	}
	return result, nil
}

// reserve computes the reservation of priorityJob, given the number of hosts available now and the running jobs
// ordered by maximum finish time.
func reserve(priorityJob *jobdb.Job, availableCount uint32, running []*jobdb.Job) (*Reservation, error) {
	hostCount := availableCount
	for _, job := range running {
		hostCount += job.Alloc.Cardinality()
		if hostCount >= priorityJob.RequestedHosts {
			return &Reservation{
				StartTime:  job.MaximumFinishTime,
				ExtraHosts: hostCount - priorityJob.RequestedHosts,
			}, nil
		}
	}
	return nil, errors.Errorf(
		"job %s requests %d hosts but at most %d can ever be available", priorityJob.Id, priorityJob.RequestedHosts, hostCount,
	)
}
