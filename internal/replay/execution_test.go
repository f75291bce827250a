package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/internal/taskprogress"
	"github.com/batsched/batsched/pkg/batprotocol"
	"github.com/batsched/batsched/pkg/intervalset"
)

func testExecutionModel() *executionModel {
	return newExecutionModel(
		&PlatformSpec{Hosts: 4, Speed: 1e9, Bandwidth: 1e8},
		[]*batprotocol.Profile{
			{Id: "d2", Data: &batprotocol.Delay{Duration: 2}},
			{Id: "pt", Data: &batprotocol.ParallelTask{
				Variant:           batprotocol.ProfileTypeParallelTaskHomogeneous,
				ComputationAmount: 4e9,
			}},
			{Id: "ptcomm", Data: &batprotocol.ParallelTask{
				Variant:             batprotocol.ProfileTypeParallelTask,
				ComputationVector:   []float64{1e9, 3e9},
				CommunicationMatrix: []float64{0, 2e8, 1e8, 0},
			}},
			{Id: "trace", Data: &batprotocol.Replay{Variant: batprotocol.ProfileTypeReplaySmpi}},
			{Id: "seq", Data: &batprotocol.SequentialComposition{Repeat: 2, Sequence: []string{"d2", "pt"}}},
			{Id: "loop", Data: &batprotocol.SequentialComposition{Sequence: []string{"loop"}}},
		},
	)
}

func TestExecutionModel_Runtime(t *testing.T) {
	tests := map[string]struct {
		profile  string
		walltime float64
		runtime  float64
		valid    bool
	}{
		"delay":                   {profile: "d2", runtime: 2, valid: true},
		"homogeneous ptask":       {profile: "pt", runtime: 4, valid: true},
		"ptask with comms":        {profile: "ptcomm", runtime: 5, valid: true},
		"trace runs for walltime": {profile: "trace", walltime: 7, runtime: 7, valid: true},
		"trace without walltime":  {profile: "trace", valid: false},
		"composition":             {profile: "seq", runtime: 12, valid: true},
		"cyclic composition":      {profile: "loop", valid: false},
		"unknown profile":         {profile: "missing", valid: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runtime, err := testExecutionModel().Runtime(tc.profile, 2, tc.walltime)
			if !tc.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.runtime, runtime, 1e-9)
		})
	}
}

func TestExecutionModel_TaskTree(t *testing.T) {
	tests := map[string]struct {
		now        float64
		repetition uint32
		step       uint32
		childRatio float64
	}{
		"first delay": {
			now:        1,
			repetition: 0,
			step:       0,
			childRatio: 0.5,
		},
		"second repetition, ptask": {
			now:        9,
			repetition: 1,
			step:       1,
			childRatio: 0.25,
		},
		"past the end": {
			now:        12,
			repetition: 1,
			step:       1,
			childRatio: 1,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			task, err := testExecutionModel().TaskTree("w!1", "seq", 2, 100, 0, tc.now)
			require.NoError(t, err)
			progress := taskprogress.Compute(task, tc.now)

			assert.Equal(t, "w!1", progress.RootTask)
			require.Equal(t, 2, progress.Tasks.Len())
			root, ok := progress.Tasks.Get("w!1")
			require.True(t, ok)
			assert.Equal(t, batprotocol.TaskProgressSequential, root.Kind)
			assert.Equal(t, tc.repetition, root.Sequential.CurrentRepetition)
			assert.Equal(t, tc.step, root.Sequential.CurrentTaskIndex)

			child, ok := progress.Tasks.Get(root.Sequential.CurrentTask)
			require.True(t, ok)
			assert.InDelta(t, tc.childRatio, child.Ratio, 1e-9)
		})
	}
}

func TestEnergyMeter(t *testing.T) {
	meter := newEnergyMeter(&PlatformSpec{Hosts: 3, IdlePower: 10, BusyPower: 50})
	meter.setBusy(2, intervalset.MustFromString("0-1"), true)
	meter.setBusy(4, intervalset.MustFromString("1"), false)
	assert.Equal(t, []float64{20 + 50*3, 20 + 50*2 + 10, 50}, meter.Energy(5))
	assert.Equal(t, 170.0+130+50, meter.Total(5))
}
