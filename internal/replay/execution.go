package replay

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/internal/taskprogress"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// maxCompositionDepth bounds the nesting of sequential compositions, which rules out cyclic definitions.
const maxCompositionDepth = 64

// executionModel computes how long profiles take on a platform.
// Every executor runs on its own host, hosts compute at the platform speed and communications use the whole
// bandwidth of the link between two hosts. Computation and communication do not overlap.
type executionModel struct {
	platform *PlatformSpec
	profiles map[string]*batprotocol.Profile
}

func newExecutionModel(platform *PlatformSpec, profiles []*batprotocol.Profile) *executionModel {
	byId := make(map[string]*batprotocol.Profile, len(profiles))
	for _, profile := range profiles {
		byId[profile.Id] = profile
	}
	return &executionModel{platform: platform, profiles: byId}
}

// Runtime returns how long a job with the given profile runs when it is allocated hosts hosts and has the given
// walltime. Replayed traces are not modelled: they run until their walltime.
func (m *executionModel) Runtime(profileId string, hosts uint32, walltime float64) (float64, error) {
	return m.runtime(profileId, hosts, walltime, 0)
}

func (m *executionModel) runtime(profileId string, hosts uint32, walltime float64, depth int) (float64, error) {
	if depth > maxCompositionDepth {
		return 0, errors.Errorf("profile %s nests more than %d sequential compositions", profileId, maxCompositionDepth)
	}
	profile, ok := m.profiles[profileId]
	if !ok {
		return 0, errors.Errorf("unknown profile %s", profileId)
	}
	switch data := profile.Data.(type) {
	case *batprotocol.ParallelTask:
		return m.parallelTaskRuntime(data, hosts), nil
	case *batprotocol.Delay:
		return data.Duration, nil
	case *batprotocol.Replay:
		if walltime <= 0 {
			return 0, errors.Errorf("profile %s replays a trace but the job has no walltime", profileId)
		}
		return walltime, nil
	case *batprotocol.SequentialComposition:
		iteration := 0.0
		for _, step := range data.Sequence {
			runtime, err := m.runtime(step, hosts, walltime, depth+1)
			if err != nil {
				return 0, err
			}
			iteration += runtime
		}
		return float64(repetitions(data)) * iteration, nil
	default:
		return 0, &edcerrors.ErrUnimplementedProfileKind{Kind: string(data.ProfileType()), Operation: "runtime"}
	}
}

func (m *executionModel) parallelTaskRuntime(data *batprotocol.ParallelTask, hosts uint32) float64 {
	computation := data.ComputationAmount
	for _, flops := range data.ComputationVector {
		computation = math.Max(computation, flops)
	}
	communication := data.CommunicationAmount
	for _, bytes := range data.CommunicationMatrix {
		communication = math.Max(communication, bytes)
	}
	if hosts <= 1 && len(data.CommunicationMatrix) == 0 {
		communication = 0
	}
	return computation/m.platform.Speed + communication/m.platform.Bandwidth
}

func repetitions(data *batprotocol.SequentialComposition) uint32 {
	if data.Repeat == 0 {
		return 1
	}
	return data.Repeat
}

// fixedExecution is a parallel task progressing linearly over its runtime.
type fixedExecution struct {
	start   float64
	runtime float64
	now     float64
}

func (e fixedExecution) RemainingRatio() float64 {
	if e.runtime <= 0 {
		return 0
	}
	return math.Max(0, 1-(e.now-e.start)/e.runtime)
}

// TaskTree returns the task being executed at time now by a job started at start, with the tasks it runs.
func (m *executionModel) TaskTree(jobId, profileId string, hosts uint32, walltime, start, now float64) (*taskprogress.Task, error) {
	return m.taskTree(jobId, profileId, hosts, walltime, start, now, 0)
}

func (m *executionModel) taskTree(name, profileId string, hosts uint32, walltime, start, now float64, depth int) (*taskprogress.Task, error) {
	if depth > maxCompositionDepth {
		return nil, errors.Errorf("profile %s nests more than %d sequential compositions", profileId, maxCompositionDepth)
	}
	profile, ok := m.profiles[profileId]
	if !ok {
		return nil, errors.Errorf("unknown profile %s", profileId)
	}
	task := &taskprogress.Task{UniqueName: name, Profile: profile}
	switch data := profile.Data.(type) {
	case *batprotocol.ParallelTask:
		task.Execution = fixedExecution{start: start, runtime: m.parallelTaskRuntime(data, hosts), now: now}
	case *batprotocol.Delay:
		task.DelayStarted = true
		task.DelayStart = start
	case *batprotocol.Replay:
	case *batprotocol.SequentialComposition:
		// Find the step running at now. If the composition is over, the last step is reported.
		stepStart := start
		found := false
		for repetition := uint32(0); repetition < repetitions(data) && !found; repetition++ {
			for i, step := range data.Sequence {
				runtime, err := m.runtime(step, hosts, walltime, depth+1)
				if err != nil {
					return nil, err
				}
				task.CurrentRepetition = repetition
				task.CurrentStepIndex = uint32(i)
				if now < stepStart+runtime {
					found = true
					break
				}
				if repetition < repetitions(data)-1 || i < len(data.Sequence)-1 {
					stepStart += runtime
				}
			}
		}
		childName := fmt.Sprintf("%s/%d/%d", name, task.CurrentRepetition, task.CurrentStepIndex)
		child, err := m.taskTree(
			childName, data.Sequence[task.CurrentStepIndex], hosts, walltime, stepStart, now, depth+1,
		)
		if err != nil {
			return nil, err
		}
		task.SubTasks = []*taskprogress.Task{child}
	default:
		return nil, &edcerrors.ErrUnimplementedProfileKind{Kind: string(data.ProfileType()), Operation: "task tree"}
	}
	return task, nil
}
