package scheduler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/internal/common/edccontext"
	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// testHarness plays the part of the decision component around a policy.
type testHarness struct {
	t      *testing.T
	state  *SchedulerState
	policy Policy
}

func newTestHarness(t *testing.T, kind PolicyKind, hostCount uint32) *testHarness {
	state, err := NewSchedulerState(hostCount)
	require.NoError(t, err)
	policy, err := NewPolicy(kind)
	require.NoError(t, err)
	return &testHarness{t: t, state: state, policy: policy}
}

func (h *testHarness) submit(now float64, id string, hosts uint32, walltime float64) error {
	job := &jobdb.Job{Id: id, RequestedHosts: hosts, Walltime: walltime, SubmitTime: now}
	if err := h.policy.Admit(job, h.state.HostCount()); err != nil {
		return err
	}
	txn := h.state.WriteTxn()
	defer txn.Abort()
	_, err := txn.Enqueue(job)
	require.NoError(h.t, err)
	txn.Commit()
	return nil
}

func (h *testHarness) complete(id string) *jobdb.Job {
	txn := h.state.WriteTxn()
	defer txn.Abort()
	job, err := txn.Release(id)
	require.NoError(h.t, err)
	txn.Commit()
	return job
}

// schedule runs one cycle and returns its result along with the ExecuteJob decisions it made.
func (h *testHarness) schedule(now float64) (*CycleResult, map[string]string) {
	txn := h.state.WriteTxn()
	defer txn.Abort()
	mb := batprotocol.NewMessageBuilder()
	mb.Clear(now)
	result, err := h.policy.Schedule(edccontext.Background(), txn, now, mb)
	require.NoError(h.t, err)
	txn.Commit()

	msg, err := mb.Finish(now)
	require.NoError(h.t, err)
	executed := make(map[string]string)
	for _, event := range msg.Events {
		decision, ok := event.Payload.(*batprotocol.ExecuteJob)
		require.True(h.t, ok)
		executed[decision.JobId] = decision.Allocation.HostAllocation
	}
	assert.Equal(h.t, result.NumStarted(), len(executed))
	return result, executed
}

func TestEasyBackfill_Scenario(t *testing.T) {
	h := newTestHarness(t, PolicyEasyBackfill, 4)

	require.NoError(t, h.submit(0, "A", 4, 10))
	_, executed := h.schedule(0)
	assert.Equal(t, map[string]string{"A": "0-3"}, executed)

	require.NoError(t, h.submit(1, "B", 2, 3))
	result, executed := h.schedule(1)
	assert.Empty(t, executed)
	require.NotNil(t, result.PriorityJob)
	assert.Equal(t, "B", result.PriorityJob.Id)
	assert.Equal(t, &Reservation{StartTime: 10, ExtraHosts: 2}, result.Reservation)

	a := h.complete("A")
	assert.Equal(t, "0-3", a.Alloc.String())
	result, executed = h.schedule(10)
	assert.Equal(t, map[string]string{"B": "0-1"}, executed)
	require.Len(t, result.Started, 1)
	assert.Equal(t, 13.0, result.Started[0].MaximumFinishTime)
	assert.Equal(t, "2-3", h.state.Available().String())
}

func TestEasyBackfill_Backfilling(t *testing.T) {
	tests := map[string]struct {
		// Submitted at time 1, once job "big" (3 hosts until 10) runs and "priority" (4 hosts) waits.
		hosts    uint32
		walltime float64
		started  bool
	}{
		"ends before reservation": {
			hosts:    2,
			walltime: 5,
			started:  true,
		},
		"ends exactly at reservation": {
			hosts:    1,
			walltime: 9,
			started:  true,
		},
		"ends after reservation on extra host": {
			hosts:    1,
			walltime: 100,
			started:  true,
		},
		"too large for extra hosts": {
			hosts:    2,
			walltime: 100,
			started:  false,
		},
		"does not fit now": {
			hosts:    3,
			walltime: 1,
			started:  false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newTestHarness(t, PolicyEasyBackfill, 5)
			require.NoError(t, h.submit(0, "big", 3, 10))
			h.schedule(0)
			require.NoError(t, h.submit(1, "priority", 4, 5))
			require.NoError(t, h.submit(1, "candidate", tc.hosts, tc.walltime))

			result, executed := h.schedule(1)
			assert.Equal(t, "priority", result.PriorityJob.Id)
			assert.Equal(t, &Reservation{StartTime: 10, ExtraHosts: 1}, result.Reservation)
			_, started := executed["candidate"]
			assert.Equal(t, tc.started, started)
		})
	}
}

func TestEasyBackfill_ExtraHostsAreConsumed(t *testing.T) {
	h := newTestHarness(t, PolicyEasyBackfill, 6)
	require.NoError(t, h.submit(0, "big", 4, 10))
	h.schedule(0)
	// At 10 the priority job takes 4 of the 6 hosts, leaving 2 extra hosts.
	require.NoError(t, h.submit(1, "priority", 4, 5))
	require.NoError(t, h.submit(1, "long1", 1, 100))
	require.NoError(t, h.submit(1, "long2", 1, 100))
	require.NoError(t, h.submit(1, "long3", 1, 100))

	result, executed := h.schedule(1)
	assert.Equal(t, &Reservation{StartTime: 10, ExtraHosts: 2}, result.Reservation)
	assert.Equal(t, map[string]string{"long1": "4", "long2": "5"}, executed)
	require.Len(t, result.Backfilled, 2)
	assert.Empty(t, result.Started)
}

func TestEasyBackfill_StopsWhenPlatformIsFull(t *testing.T) {
	h := newTestHarness(t, PolicyEasyBackfill, 4)
	require.NoError(t, h.submit(0, "a", 3, 10))
	require.NoError(t, h.submit(0, "b", 4, 10))
	require.NoError(t, h.submit(0, "c", 1, 1))
	require.NoError(t, h.submit(0, "d", 1, 1))

	result, executed := h.schedule(0)
	assert.Equal(t, map[string]string{"a": "0-2", "c": "3"}, executed)
	assert.Equal(t, "b", result.PriorityJob.Id)
	assert.True(t, h.state.Available().IsEmpty())
}

func TestEasyBackfill_ReservationWaitsForJobsEndingTogether(t *testing.T) {
	h := newTestHarness(t, PolicyEasyBackfill, 4)
	require.NoError(t, h.submit(0, "first", 2, 10))
	require.NoError(t, h.submit(0, "second", 2, 10))
	require.NoError(t, h.submit(0, "priority", 3, 1))
	result, _ := h.schedule(0)
	// Both running jobs end at 10: the reservation needs both of them.
	assert.Equal(t, &Reservation{StartTime: 10, ExtraHosts: 1}, result.Reservation)
}

func TestAdmission(t *testing.T) {
	tests := map[string]struct {
		kind     PolicyKind
		hosts    uint32
		walltime float64
		valid    bool
	}{
		"easy valid":              {kind: PolicyEasyBackfill, hosts: 4, walltime: 1, valid: true},
		"easy too many hosts":     {kind: PolicyEasyBackfill, hosts: 5, walltime: 1, valid: false},
		"easy zero walltime":      {kind: PolicyEasyBackfill, hosts: 1, walltime: 0, valid: false},
		"easy negative walltime":  {kind: PolicyEasyBackfill, hosts: 1, walltime: -1, valid: false},
		"easy no host":            {kind: PolicyEasyBackfill, hosts: 0, walltime: 1, valid: false},
		"fcfs ignores walltime":   {kind: PolicyFCFS, hosts: 1, walltime: -1, valid: true},
		"fcfs too many hosts":     {kind: PolicyFCFS, hosts: 5, walltime: 1, valid: false},
		"exec1by1 too many hosts": {kind: PolicyExec1by1, hosts: 5, walltime: 1, valid: false},
		"rejecter valid job":      {kind: PolicyRejecter, hosts: 1, walltime: 1, valid: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newTestHarness(t, tc.kind, 4)
			err := h.submit(0, "job", tc.hosts, tc.walltime)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			var invalid *edcerrors.ErrInvalidJobRequest
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "job", invalid.JobId)
			assert.False(t, edcerrors.IsFatal(err))
		})
	}
}

func TestFCFS_StopsAtFirstJobThatDoesNotFit(t *testing.T) {
	h := newTestHarness(t, PolicyFCFS, 4)
	require.NoError(t, h.submit(0, "a", 3, 10))
	require.NoError(t, h.submit(0, "b", 2, 1))
	require.NoError(t, h.submit(0, "c", 1, 1))

	result, executed := h.schedule(0)
	assert.Equal(t, map[string]string{"a": "0-2"}, executed)
	assert.Equal(t, "b", result.PriorityJob.Id)
	assert.Nil(t, result.Reservation)

	h.complete("a")
	_, executed = h.schedule(10)
	assert.Equal(t, map[string]string{"b": "0-1", "c": "2"}, executed)
}

func TestExec1by1_OneJobAtATime(t *testing.T) {
	h := newTestHarness(t, PolicyExec1by1, 4)
	require.NoError(t, h.submit(0, "a", 1, 10))
	require.NoError(t, h.submit(0, "b", 3, 10))

	_, executed := h.schedule(0)
	assert.Equal(t, map[string]string{"a": "0"}, executed)
	_, executed = h.schedule(1)
	assert.Empty(t, executed)

	h.complete("a")
	_, executed = h.schedule(5)
	assert.Equal(t, map[string]string{"b": "0-2"}, executed)
}

func TestRejecter_NeverStartsJobs(t *testing.T) {
	h := newTestHarness(t, PolicyRejecter, 4)
	assert.Equal(t, "rejecter", h.policy.Name())
	for _, id := range []string{"a", "b"} {
		var invalid *edcerrors.ErrInvalidJobRequest
		require.ErrorAs(t, h.submit(0, id, 1, 10), &invalid)
		assert.Equal(t, id, invalid.JobId)
	}

	result, executed := h.schedule(0)
	assert.Empty(t, executed)
	assert.Nil(t, result.PriorityJob)
	assert.Equal(t, uint32(4), h.state.Available().Cardinality())
}

func TestPolicyKind_UnmarshalText(t *testing.T) {
	var kind PolicyKind
	require.NoError(t, kind.UnmarshalText([]byte(" EASY ")))
	assert.Equal(t, PolicyEasyBackfill, kind)
	require.NoError(t, kind.UnmarshalText([]byte("rejecter")))
	assert.Equal(t, PolicyRejecter, kind)
	assert.Error(t, kind.UnmarshalText([]byte("sjf")))
	_, err := NewPolicy("sjf")
	assert.Error(t, err)
}

type pendingCompletion struct {
	id   string
	time float64
}

// Jobs run for their whole walltime and are submitted at random times. Whenever a job becomes the priority job,
// the start time reserved for it must never move later, and it must eventually start no later than first reserved.
func TestEasyBackfill_ReservationNeverRegresses(t *testing.T) {
	const hostCount = 16
	for seed := int64(0); seed < 20; seed++ {
		r := rand.New(rand.NewSource(seed))
		h := newTestHarness(t, PolicyEasyBackfill, hostCount)

		type submission struct {
			time     float64
			hosts    uint32
			walltime float64
		}
		submissions := make([]submission, 60)
		now := 0.0
		for i := range submissions {
			now += float64(r.Intn(4))
			submissions[i] = submission{time: now, hosts: uint32(1 + r.Intn(hostCount)), walltime: float64(1 + r.Intn(20))}
		}

		reserved := make(map[string]float64)
		running := make([]pendingCompletion, 0)
		next := 0
		for next < len(submissions) || len(running) > 0 {
			// Advance to the next event time.
			now = -1
			if next < len(submissions) {
				now = submissions[next].time
			}
			for _, c := range running {
				if now < 0 || c.time < now {
					now = c.time
				}
			}
			remaining := running[:0]
			for _, c := range running {
				if c.time == now {
					h.complete(c.id)
				} else {
					remaining = append(remaining, c)
				}
			}
			running = remaining
			for next < len(submissions) && submissions[next].time == now {
				s := submissions[next]
				require.NoError(t, h.submit(now, fmt.Sprintf("job%d", next), s.hosts, s.walltime))
				next++
			}

			result, _ := h.schedule(now)
			for _, job := range append(result.Started, result.Backfilled...) {
				running = append(running, pendingCompletion{id: job.Id, time: job.MaximumFinishTime})
				if start, ok := reserved[job.Id]; ok {
					assert.LessOrEqual(t, now, start, "seed %d: job %s started after its reservation", seed, job.Id)
				}
			}
			if result.Reservation != nil {
				id := result.PriorityJob.Id
				if previous, ok := reserved[id]; ok {
					assert.LessOrEqual(t, result.Reservation.StartTime, previous, "seed %d: reservation of %s moved later", seed, id)
				}
				reserved[id] = result.Reservation.StartTime
			}
		}
		idle, err := h.state.ReadTxn().Idle()
		require.NoError(t, err)
		assert.True(t, idle)
		assert.Equal(t, "0-15", h.state.Available().String())
	}
}
