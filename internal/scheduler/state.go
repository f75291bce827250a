package scheduler

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/intervalset"
)

// SchedulerState is everything a decision component knows about the platform and its jobs.
// It is created when the simulation begins and only modified through transactions.
type SchedulerState struct {
	hostCount uint32
	available intervalset.Set
	jobDb     *jobdb.JobDb
}

func NewSchedulerState(hostCount uint32) (*SchedulerState, error) {
	if hostCount == 0 {
		return nil, errors.New("platform has no computation host")
	}
	jobDb, err := jobdb.NewJobDb()
	if err != nil {
		return nil, err
	}
	return &SchedulerState{
		hostCount: hostCount,
		available: intervalset.ClosedInterval(0, hostCount-1),
		jobDb:     jobDb,
	}, nil
}

func (s *SchedulerState) HostCount() uint32 {
	return s.hostCount
}

// Available returns the hosts not allocated to any job as of the last committed transaction.
func (s *SchedulerState) Available() intervalset.Set {
	return s.available
}

// WriteTxn starts a transaction. Changes are only visible once committed.
// Only a single write transaction may be open at any given time.
func (s *SchedulerState) WriteTxn() *Txn {
	return &Txn{
		Txn:       s.jobDb.WriteTxn(),
		state:     s,
		available: s.available,
	}
}

// ReadTxn returns a read-only transaction.
func (s *SchedulerState) ReadTxn() *Txn {
	return &Txn{
		Txn:       s.jobDb.ReadTxn(),
		state:     s,
		available: s.available,
	}
}

// Txn is a transaction over the job db and the set of available hosts.
type Txn struct {
	*memdb.Txn
	state     *SchedulerState
	available intervalset.Set
}

func (txn *Txn) Commit() {
	txn.Txn.Commit()
	txn.state.available = txn.available
}

func (txn *Txn) HostCount() uint32 {
	return txn.state.hostCount
}

func (txn *Txn) Available() intervalset.Set {
	return txn.available
}

func (txn *Txn) AvailableCount() uint32 {
	return txn.available.Cardinality()
}

// Enqueue appends job to the queue. Admission checks are up to the policy.
func (txn *Txn) Enqueue(job *jobdb.Job) (*jobdb.Job, error) {
	return txn.state.jobDb.Enqueue(txn.Txn, job)
}

// StartJob allocates alloc to a queued job from now on.
func (txn *Txn) StartJob(id string, alloc intervalset.Set, now float64) (*jobdb.Job, error) {
	if !alloc.IsSubsetOf(txn.available) {
		return nil, errors.Errorf("cannot start job %s on %s: only %s is available", id, alloc, txn.available)
	}
	queued, err := txn.state.jobDb.GetQueued(txn.Txn, id)
	if err != nil {
		return nil, err
	}
	if queued != nil && alloc.Cardinality() != queued.RequestedHosts {
		return nil, errors.Errorf("job %s requested %d hosts but got %s", id, queued.RequestedHosts, alloc)
	}
	job, err := txn.state.jobDb.Start(txn.Txn, id, alloc, now)
	if err != nil {
		return nil, err
	}
	txn.available = txn.available.Difference(alloc)
	return job, nil
}

// Release removes a job, queued or running, and returns the hosts of a running job.
// It returns nil if the job is unknown.
func (txn *Txn) Release(id string) (*jobdb.Job, error) {
	job, err := txn.state.jobDb.Remove(txn.Txn, id)
	if err != nil || job == nil {
		return nil, err
	}
	txn.available = txn.available.Union(job.Alloc)
	return job, nil
}

func (txn *Txn) GetJob(id string) (*jobdb.Job, error) {
	return txn.state.jobDb.GetById(txn.Txn, id)
}

func (txn *Txn) QueuedJobs() ([]*jobdb.Job, error) {
	return txn.state.jobDb.QueuedJobs(txn.Txn)
}

func (txn *Txn) RunningJobs() ([]*jobdb.Job, error) {
	return txn.state.jobDb.RunningJobs(txn.Txn)
}

// Idle returns true if no job is queued or running.
func (txn *Txn) Idle() (bool, error) {
	hasQueued, err := txn.state.jobDb.HasQueuedJobs(txn.Txn)
	if err != nil || hasQueued {
		return false, err
	}
	hasRunning, err := txn.state.jobDb.HasRunningJobs(txn.Txn)
	if err != nil {
		return false, err
	}
	return !hasRunning, nil
}

// checkHostCount rejects jobs that could never run on the platform.
func checkHostCount(job *jobdb.Job, hostCount uint32) error {
	if job.RequestedHosts == 0 {
		return &edcerrors.ErrInvalidJobRequest{JobId: job.Id, Reason: "no host requested"}
	}
	if job.RequestedHosts > hostCount {
		return &edcerrors.ErrInvalidJobRequest{
			JobId:  job.Id,
			Reason: "requested more hosts than the platform has",
		}
	}
	return nil
}
