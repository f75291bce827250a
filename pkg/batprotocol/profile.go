package batprotocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
)

type ProfileType string

const (
	ProfileTypeParallelTask                     ProfileType = "ptask"
	ProfileTypeParallelTaskHomogeneous          ProfileType = "ptask_homogeneous"
	ProfileTypeParallelTaskOnStorageHomogeneous ProfileType = "ptask_on_storage_homogeneous"
	ProfileTypeParallelTaskDataStaging          ProfileType = "ptask_data_staging_between_storages"
	ProfileTypeDelay                            ProfileType = "delay"
	ProfileTypeReplaySmpi                       ProfileType = "replay_smpi"
	ProfileTypeReplayUsage                      ProfileType = "replay_usage"
	ProfileTypeSequentialComposition            ProfileType = "sequential_composition"
)

// ProfileData is the type-specific part of a profile.
// It is implemented by ParallelTask, Delay, Replay and SequentialComposition only.
type ProfileData interface {
	ProfileType() ProfileType
	isProfileData()
}

// ParallelTask covers every parallel task variant. Which fields are meaningful depends on the variant.
type ParallelTask struct {
	Variant ProfileType `json:"-"`
	// Flops computed by each executor (ptask).
	ComputationVector []float64 `json:"computation_vector,omitempty"`
	// Bytes sent between each pair of executors, row major (ptask).
	CommunicationMatrix []float64 `json:"communication_matrix,omitempty"`
	// Flops computed by every executor (homogeneous variants).
	ComputationAmount float64 `json:"computation_amount,omitempty"`
	// Bytes sent between every pair of executors (homogeneous variants).
	CommunicationAmount float64 `json:"communication_amount,omitempty"`
	StorageName         string  `json:"storage_name,omitempty"`
	EmitterStorageName  string  `json:"emitter_storage_name,omitempty"`
	ReceiverStorageName string  `json:"receiver_storage_name,omitempty"`
}

// Delay is a task that takes a fixed amount of time regardless of the hosts it runs on.
type Delay struct {
	Duration float64 `json:"duration"`
}

// Replay covers trace replay variants, whose progress cannot be measured.
type Replay struct {
	Variant   ProfileType `json:"-"`
	TraceFile string      `json:"trace_file"`
}

// SequentialComposition runs the profiles named in Sequence one after the other, Repeat times.
type SequentialComposition struct {
	Repeat   uint32   `json:"repeat"`
	Sequence []string `json:"sequence"`
}

func (p *ParallelTask) ProfileType() ProfileType          { return p.Variant }
func (p *Delay) ProfileType() ProfileType                 { return ProfileTypeDelay }
func (p *Replay) ProfileType() ProfileType                { return p.Variant }
func (p *SequentialComposition) ProfileType() ProfileType { return ProfileTypeSequentialComposition }

func (*ParallelTask) isProfileData()          {}
func (*Delay) isProfileData()                 {}
func (*Replay) isProfileData()                {}
func (*SequentialComposition) isProfileData() {}

// Profile is a named description of what a job does when executed.
type Profile struct {
	Id   string
	Data ProfileData
}

type rawProfile struct {
	Id   string          `json:"id"`
	Type ProfileType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p *Profile) MarshalJSON() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.Errorf("profile %s has no data", p.Id)
	}
	data, err := json.Marshal(p.Data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return json.Marshal(rawProfile{Id: p.Id, Type: p.Data.ProfileType(), Data: data})
}

func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw rawProfile
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.WithStack(err)
	}
	var data ProfileData
	switch raw.Type {
	case ProfileTypeParallelTask,
		ProfileTypeParallelTaskHomogeneous,
		ProfileTypeParallelTaskOnStorageHomogeneous,
		ProfileTypeParallelTaskDataStaging:
		data = &ParallelTask{Variant: raw.Type}
	case ProfileTypeDelay:
		data = &Delay{}
	case ProfileTypeReplaySmpi, ProfileTypeReplayUsage:
		data = &Replay{Variant: raw.Type}
	case ProfileTypeSequentialComposition:
		data = &SequentialComposition{}
	default:
		return errors.Errorf("profile %s has unknown type %q", raw.Id, raw.Type)
	}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			return errors.Wrapf(err, "invalid data for profile %s", raw.Id)
		}
	}
	if err := checkProfileData(data); err != nil {
		return errors.WithMessagef(err, "invalid profile %s", raw.Id)
	}
	p.Id = raw.Id
	p.Data = data
	return nil
}

func checkProfileData(data ProfileData) error {
	switch d := data.(type) {
	case *ParallelTask:
		return nil
	case *Delay:
		if d.Duration < 0 {
			return errors.Errorf("negative delay %g", d.Duration)
		}
	case *Replay:
		return nil
	case *SequentialComposition:
		if len(d.Sequence) == 0 {
			return errors.New("empty sequence")
		}
	default:
		panic(&edcerrors.ErrUnimplementedProfileKind{Kind: string(data.ProfileType()), Operation: "validation"})
	}
	return nil
}
