// Package taskprogress computes how far a job had gone when it was killed.
package taskprogress

import (
	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// ParallelTaskExecution is the runtime handle of a started parallel task.
type ParallelTaskExecution interface {
	// RemainingRatio is the share of the task's work still to be done, between 0 and 1.
	RemainingRatio() float64
}

// Task is a profile being executed. A task owns its sub-tasks.
type Task struct {
	UniqueName string
	Profile    *batprotocol.Profile
	// Nil until a parallel task starts.
	Execution ParallelTaskExecution
	// Set when a delay task starts.
	DelayStarted bool
	DelayStart   float64
	// Position of a sequential composition: the repetition and the step of the sequence being run.
	CurrentRepetition uint32
	CurrentStepIndex  uint32
	// A sequential composition has exactly one sub-task: the step being run.
	SubTasks []*Task
}

// Compute returns the progress of root and all of its descendants at time now, in depth-first order.
//
// Compute panics on trees that cannot come out of a running simulation: unknown profile kinds,
// delay tasks that never started, or sequential compositions without exactly one sub-task.
func Compute(root *Task, now float64) *batprotocol.KillProgress {
	progress := batprotocol.NewKillProgress(root.UniqueName)
	stack := []*Task{root}
	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if task.Profile == nil || task.Profile.Data == nil {
			panic(errors.Errorf("task %s has no profile", task.UniqueName))
		}

		switch data := task.Profile.Data.(type) {
		case *batprotocol.ParallelTask:
			ratio := 0.0
			if task.Execution != nil {
				ratio = 1 - task.Execution.RemainingRatio()
			}
			progress.AddAtomic(task.UniqueName, task.Profile.Id, ratio)
		case *batprotocol.Delay:
			if !task.DelayStarted {
				panic(errors.Errorf("delay task %s has not started", task.UniqueName))
			}
			ratio := 1.0
			if data.Duration != 0 {
				ratio = (now - task.DelayStart) / data.Duration
			}
			progress.AddAtomic(task.UniqueName, task.Profile.Id, ratio)
		case *batprotocol.Replay:
			progress.AddAtomic(task.UniqueName, task.Profile.Id, batprotocol.UnsupportedProgress)
		case *batprotocol.SequentialComposition:
			if len(task.SubTasks) != 1 {
				panic(errors.Errorf("sequential task %s has %d sub-tasks instead of 1", task.UniqueName, len(task.SubTasks)))
			}
			child := task.SubTasks[0]
			progress.AddSequential(
				task.UniqueName, task.Profile.Id, task.CurrentRepetition, task.CurrentStepIndex, child.UniqueName,
			)
			stack = append(stack, child)
		default:
			panic(&edcerrors.ErrUnimplementedProfileKind{
				Kind:      string(data.ProfileType()),
				Operation: "kill progress",
			})
		}
	}
	return progress
}
