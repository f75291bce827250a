package jobdb

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/batsched/batsched/pkg/intervalset"
)

const (
	queuedTable  = "queued"
	runningTable = "running"
	idIndex      = "id"     // index for looking up jobs by id
	orderIndex   = "order"  // index for iterating over queued jobs in submission order
	finishIndex  = "finish" // index for iterating over running jobs by maximum finish time
)

// JobDb stores the queued and running jobs of a decision component.
// Queued jobs are iterated over in submission order and running jobs in order of maximum finish time,
// ties being broken by the order in which jobs started.
// JobDb is implemented on top of https://github.com/hashicorp/go-memdb which is a simple in-memory database built on
// immutable radix trees. Jobs stored in the db must not be modified.
type JobDb struct {
	Db *memdb.MemDB
	// Logical clocks for submissions and starts.
	submitSeq uint64
	startSeq  uint64
}

// Job is the decision-component-side representation of a job.
type Job struct {
	Id             string
	RequestedHosts uint32
	Walltime       float64
	Profile        string
	SubmitTime     float64
	// Logical timestamp indicating the order in which jobs were submitted.
	SubmitSeq uint64
	// Hosts allocated to the job. Empty while queued.
	Alloc     intervalset.Set
	StartTime float64
	// Logical timestamp indicating the order in which jobs started.
	StartSeq          uint64
	MaximumFinishTime float64
	// Sort keys of the order and finish indexes.
	// Strings since memdb's integer indexes do not preserve numerical ordering.
	OrderKey  string
	FinishKey string
}

func (job *Job) IsRunning() bool {
	return !job.Alloc.IsEmpty()
}

func NewJobDb() (*JobDb, error) {
	db, err := memdb.NewMemDB(jobDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &JobDb{
		Db: db,
	}, nil
}

// ReadTxn returns a read-only transaction.
func (jobDb *JobDb) ReadTxn() *memdb.Txn {
	return jobDb.Db.Txn(false)
}

// WriteTxn returns a writeable transaction.
// Only a single write transaction may access the db at any given time
func (jobDb *JobDb) WriteTxn() *memdb.Txn {
	return jobDb.Db.Txn(true)
}

// Enqueue appends a copy of job to the queue.
func (jobDb *JobDb) Enqueue(txn *memdb.Txn, job *Job) (*Job, error) {
	if existing, err := jobDb.GetById(txn, job.Id); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errors.Errorf("job %s already exists", job.Id)
	}
	queued := *job
	queued.Alloc = intervalset.Set{}
	queued.SubmitSeq = jobDb.submitSeq
	queued.OrderKey = fmt.Sprintf("%016x", jobDb.submitSeq)
	jobDb.submitSeq++
	if err := txn.Insert(queuedTable, &queued); err != nil {
		return nil, errors.WithStack(err)
	}
	return &queued, nil
}

// Start moves a queued job to the running table, allocated on alloc from now on.
// It returns the running job.
func (jobDb *JobDb) Start(txn *memdb.Txn, id string, alloc intervalset.Set, now float64) (*Job, error) {
	queued, err := jobDb.GetQueued(txn, id)
	if err != nil {
		return nil, err
	}
	if queued == nil {
		return nil, errors.Errorf("job %s is not queued", id)
	}
	if alloc.IsEmpty() {
		return nil, errors.Errorf("empty allocation for job %s", id)
	}
	if err := txn.Delete(queuedTable, queued); err != nil {
		return nil, errors.WithStack(err)
	}
	running := *queued
	running.Alloc = alloc
	running.StartTime = now
	running.StartSeq = jobDb.startSeq
	running.MaximumFinishTime = now + queued.Walltime
	running.FinishKey = fmt.Sprintf("%016x%016x", orderedFloatBits(running.MaximumFinishTime), jobDb.startSeq)
	jobDb.startSeq++
	if err := txn.Insert(runningTable, &running); err != nil {
		return nil, errors.WithStack(err)
	}
	return &running, nil
}

// Remove deletes the job with the given id, whether it is queued or running, and returns it.
// It returns nil if no such job exists.
func (jobDb *JobDb) Remove(txn *memdb.Txn, id string) (*Job, error) {
	job, err := jobDb.GetById(txn, id)
	if err != nil || job == nil {
		return nil, err
	}
	table := queuedTable
	if job.IsRunning() {
		table = runningTable
	}
	if err := txn.Delete(table, job); err != nil {
		return nil, errors.WithStack(err)
	}
	return job, nil
}

// GetById returns the job with the given id, queued or running, or nil if no such job exists.
func (jobDb *JobDb) GetById(txn *memdb.Txn, id string) (*Job, error) {
	if job, err := jobDb.GetQueued(txn, id); err != nil || job != nil {
		return job, err
	}
	return jobDb.GetRunning(txn, id)
}

func (jobDb *JobDb) GetQueued(txn *memdb.Txn, id string) (*Job, error) {
	return getById(txn, queuedTable, id)
}

func (jobDb *JobDb) GetRunning(txn *memdb.Txn, id string) (*Job, error) {
	return getById(txn, runningTable, id)
}

func getById(txn *memdb.Txn, table, id string) (*Job, error) {
	obj, err := txn.First(table, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*Job), nil
}

// QueuedJobs returns all queued jobs in submission order.
func (jobDb *JobDb) QueuedJobs(txn *memdb.Txn) ([]*Job, error) {
	return getAll(txn, queuedTable, orderIndex)
}

// RunningJobs returns all running jobs by ascending maximum finish time, then by start order.
func (jobDb *JobDb) RunningJobs(txn *memdb.Txn) ([]*Job, error) {
	return getAll(txn, runningTable, finishIndex)
}

func (jobDb *JobDb) HasQueuedJobs(txn *memdb.Txn) (bool, error) {
	return hasAny(txn, queuedTable)
}

func (jobDb *JobDb) HasRunningJobs(txn *memdb.Txn) (bool, error) {
	return hasAny(txn, runningTable)
}

func hasAny(txn *memdb.Txn, table string) (bool, error) {
	obj, err := txn.First(table, idIndex)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return obj != nil, nil
}

func getAll(txn *memdb.Txn, table, index string) ([]*Job, error) {
	iter, err := txn.Get(table, index)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*Job, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*Job))
	}
	return result, nil
}

// orderedFloatBits maps f to an integer with the same ordering.
func orderedFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

// jobDbSchema creates the database schema.
// This is a simple schema consisting of a table of queued jobs and a table of running jobs.
func jobDbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			queuedTable: {
				Name: queuedTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex, // lookup by primary key
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					orderIndex: {
						Name:    orderIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "OrderKey"},
					},
				},
			},
			runningTable: {
				Name: runningTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					finishIndex: {
						Name:    finishIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "FinishKey"},
					},
				},
			},
		},
	}
}
