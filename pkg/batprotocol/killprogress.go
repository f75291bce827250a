package batprotocol

import (
	"encoding/json"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"
)

type TaskProgressKind string

const (
	TaskProgressAtomic     TaskProgressKind = "atomic"
	TaskProgressSequential TaskProgressKind = "sequential"
)

// UnsupportedProgress is the ratio reported for tasks whose progress cannot be measured.
const UnsupportedProgress = -1.0

// TaskProgress is the progress of one task of a killed job.
type TaskProgress struct {
	ProfileName string
	Kind        TaskProgressKind
	// Between 0 and 1 for atomic tasks, or UnsupportedProgress.
	Ratio float64
	// Only set for sequential tasks.
	Sequential *SequentialProgress
}

type SequentialProgress struct {
	CurrentRepetition uint32 `json:"current_repetition"`
	CurrentTaskIndex  uint32 `json:"current_task_index"`
	CurrentTask       string `json:"current_task"`
}

// KillProgress is the progress of a killed job: its root task and every task reachable from it,
// by unique name, in traversal order.
type KillProgress struct {
	RootTask string
	Tasks    *orderedmap.OrderedMap[string, *TaskProgress]
}

func NewKillProgress(rootTask string) *KillProgress {
	return &KillProgress{
		RootTask: rootTask,
		Tasks:    orderedmap.NewOrderedMap[string, *TaskProgress](),
	}
}

func (kp *KillProgress) AddAtomic(name, profileName string, ratio float64) {
	kp.Tasks.Set(name, &TaskProgress{
		ProfileName: profileName,
		Kind:        TaskProgressAtomic,
		Ratio:       ratio,
	})
}

func (kp *KillProgress) AddSequential(name, profileName string, repetition, taskIndex uint32, currentTask string) {
	kp.Tasks.Set(name, &TaskProgress{
		ProfileName: profileName,
		Kind:        TaskProgressSequential,
		Sequential: &SequentialProgress{
			CurrentRepetition: repetition,
			CurrentTaskIndex:  taskIndex,
			CurrentTask:       currentTask,
		},
	})
}

type rawTaskProgress struct {
	Name        string              `json:"name"`
	ProfileName string              `json:"profile_name"`
	Kind        TaskProgressKind    `json:"kind"`
	Ratio       float64             `json:"progress_ratio,omitempty"`
	Sequential  *SequentialProgress `json:"sequential,omitempty"`
}

type rawKillProgress struct {
	RootTask string            `json:"root_task"`
	Tasks    []rawTaskProgress `json:"tasks"`
}

// MarshalJSON encodes the tasks as a list to keep their order.
func (kp *KillProgress) MarshalJSON() ([]byte, error) {
	raw := rawKillProgress{RootTask: kp.RootTask, Tasks: []rawTaskProgress{}}
	if kp.Tasks != nil {
		for el := kp.Tasks.Front(); el != nil; el = el.Next() {
			raw.Tasks = append(raw.Tasks, rawTaskProgress{
				Name:        el.Key,
				ProfileName: el.Value.ProfileName,
				Kind:        el.Value.Kind,
				Ratio:       el.Value.Ratio,
				Sequential:  el.Value.Sequential,
			})
		}
	}
	return json.Marshal(raw)
}

func (kp *KillProgress) UnmarshalJSON(b []byte) error {
	var raw rawKillProgress
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.WithStack(err)
	}
	tasks := orderedmap.NewOrderedMap[string, *TaskProgress]()
	for _, task := range raw.Tasks {
		switch task.Kind {
		case TaskProgressAtomic:
			if task.Sequential != nil {
				return errors.Errorf("atomic task %s has sequential progress", task.Name)
			}
		case TaskProgressSequential:
			if task.Sequential == nil {
				return errors.Errorf("sequential task %s has no sequential progress", task.Name)
			}
		default:
			return errors.Errorf("task %s has unknown progress kind %q", task.Name, task.Kind)
		}
		if !tasks.Set(task.Name, &TaskProgress{
			ProfileName: task.ProfileName,
			Kind:        task.Kind,
			Ratio:       task.Ratio,
			Sequential:  task.Sequential,
		}) {
			return errors.Errorf("task %s appears several times", task.Name)
		}
	}
	if _, ok := tasks.Get(raw.RootTask); !ok && tasks.Len() > 0 {
		return errors.Errorf("root task %s has no progress", raw.RootTask)
	}
	kp.RootTask = raw.RootTask
	kp.Tasks = tasks
	return nil
}
