package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/internal/scheduler/jobdb"
	"github.com/batsched/batsched/pkg/intervalset"
)

func TestNewSchedulerState_NoHost(t *testing.T) {
	_, err := NewSchedulerState(0)
	assert.Error(t, err)
}

func TestTxn_AbortDiscardsChanges(t *testing.T) {
	state, err := NewSchedulerState(4)
	require.NoError(t, err)

	txn := state.WriteTxn()
	_, err = txn.Enqueue(&jobdb.Job{Id: "a", RequestedHosts: 2, Walltime: 10})
	require.NoError(t, err)
	_, err = txn.StartJob("a", intervalset.MustFromString("0-1"), 0)
	require.NoError(t, err)
	assert.Equal(t, "2-3", txn.Available().String())
	txn.Abort()

	assert.Equal(t, "0-3", state.Available().String())
	job, err := state.ReadTxn().GetJob("a")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestTxn_StartAndRelease(t *testing.T) {
	state, err := NewSchedulerState(4)
	require.NoError(t, err)

	txn := state.WriteTxn()
	_, err = txn.Enqueue(&jobdb.Job{Id: "a", RequestedHosts: 2, Walltime: 10})
	require.NoError(t, err)
	_, err = txn.Enqueue(&jobdb.Job{Id: "b", RequestedHosts: 2, Walltime: 10})
	require.NoError(t, err)

	_, err = txn.StartJob("a", intervalset.MustFromString("0-2"), 0)
	assert.Error(t, err, "allocation size differs from request")
	_, err = txn.StartJob("a", intervalset.MustFromString("4-5"), 0)
	assert.Error(t, err, "allocation outside of available hosts")
	_, err = txn.StartJob("a", intervalset.MustFromString("1,3"), 0)
	require.NoError(t, err)
	_, err = txn.StartJob("b", intervalset.MustFromString("1-2"), 0)
	assert.Error(t, err, "hosts already allocated")
	assert.Equal(t, uint32(2), txn.AvailableCount())
	txn.Commit()
	assert.Equal(t, "0,2", state.Available().String())

	txn = state.WriteTxn()
	released, err := txn.Release("a")
	require.NoError(t, err)
	assert.Equal(t, "1,3", released.Alloc.String())
	released, err = txn.Release("unknown")
	require.NoError(t, err)
	assert.Nil(t, released)
	released, err = txn.Release("b")
	require.NoError(t, err)
	assert.True(t, released.Alloc.IsEmpty())
	idle, err := txn.Idle()
	require.NoError(t, err)
	assert.True(t, idle)
	txn.Commit()
	assert.Equal(t, "0-3", state.Available().String())
}
