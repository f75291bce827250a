package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	"github.com/renstrom/shortuuid"
	"github.com/spf13/viper"
	"golang.org/x/exp/slices"
	"sigs.k8s.io/yaml"

	commonconfig "github.com/batsched/batsched/internal/common/config"
	"github.com/batsched/batsched/pkg/batprotocol"
)

// PlatformSpec describes a homogeneous cluster.
type PlatformSpec struct {
	Name string `mapstructure:"name"`
	// Number of computation hosts.
	Hosts uint32 `mapstructure:"hosts" validate:"gt=0"`
	// Cores of every host, used to place executors with the fill_one_host_cores_first strategy.
	CoresPerHost uint32 `mapstructure:"cores_per_host" validate:"gt=0"`
	// Flops per second of every host.
	Speed float64 `mapstructure:"speed" validate:"gt=0"`
	// Bytes per second between any two hosts.
	Bandwidth float64 `mapstructure:"bandwidth" validate:"gt=0"`
	// Power draw in watts of a host without and with a job.
	IdlePower float64 `mapstructure:"idle_power" validate:"gte=0"`
	BusyPower float64 `mapstructure:"busy_power" validate:"gte=0"`
}

// WorkloadSpec is a set of jobs along with the profiles they execute.
type WorkloadSpec struct {
	Name     string                 `json:"name"`
	Jobs     []*JobSpec             `json:"jobs"`
	Profiles []*batprotocol.Profile `json:"profiles"`
}

type JobSpec struct {
	// Unique within the workload. The job id sent to decision components is prefixed by the workload name.
	Id string `json:"id"`
	// Submission time.
	Subtime  float64 `json:"subtime"`
	Res      uint32  `json:"res"`
	Walltime float64 `json:"walltime"`
	Profile  string  `json:"profile"`
}

func PlatformSpecsFromPattern(pattern string) ([]*PlatformSpec, error) {
	filePaths, err := zglob.Glob(pattern)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rv := make([]*PlatformSpec, len(filePaths))
	for i, filePath := range filePaths {
		if rv[i], err = PlatformSpecFromFilePath(filePath); err != nil {
			return nil, err
		}
	}
	return rv, nil
}

func WorkloadSpecsFromPattern(pattern string) ([]*WorkloadSpec, error) {
	filePaths, err := zglob.Glob(pattern)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rv := make([]*WorkloadSpec, len(filePaths))
	for i, filePath := range filePaths {
		if rv[i], err = WorkloadSpecFromFilePath(filePath); err != nil {
			return nil, err
		}
	}
	return rv, nil
}

func PlatformSpecFromFilePath(filePath string) (*PlatformSpec, error) {
	rv := &PlatformSpec{
		CoresPerHost: 1,
		Speed:        1,
		Bandwidth:    1,
	}
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		err = errors.WithMessagef(err, "failed to read in PlatformSpec %s", filePath)
		return nil, errors.WithStack(err)
	}
	if err := v.Unmarshal(rv, commonconfig.CustomHooks...); err != nil {
		err = errors.WithMessagef(err, "failed to unmarshal PlatformSpec %s", filePath)
		return nil, errors.WithStack(err)
	}
	if err := commonconfig.Validate(rv); err != nil {
		return nil, errors.WithMessagef(err, "invalid PlatformSpec %s", filePath)
	}

	// If no name is provided, set it to be the filename.
	if rv.Name == "" {
		rv.Name = nameFromFilePath(filePath)
	}
	return rv, nil
}

// WorkloadSpecFromFilePath reads a workload in YAML or JSON.
func WorkloadSpecFromFilePath(filePath string) (*WorkloadSpec, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rv := &WorkloadSpec{}
	if err := yaml.Unmarshal(data, rv); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal WorkloadSpec %s", filePath)
	}
	if rv.Name == "" {
		rv.Name = nameFromFilePath(filePath)
	}
	if err := initialiseWorkloadSpec(rv); err != nil {
		return nil, errors.WithMessagef(err, "invalid WorkloadSpec %s", filePath)
	}
	return rv, nil
}

func nameFromFilePath(filePath string) string {
	fileName := filepath.Base(filePath)
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// initialiseWorkloadSpec assigns ids to anonymous jobs and sorts jobs by submission time.
// Jobs must be submitted at a non-negative time, request at least one host and refer to known profiles.
func initialiseWorkloadSpec(workloadSpec *WorkloadSpec) error {
	if strings.Contains(workloadSpec.Name, "!") {
		return errors.Errorf("workload name %q contains '!'", workloadSpec.Name)
	}
	profiles := make(map[string]*batprotocol.Profile, len(workloadSpec.Profiles))
	for _, profile := range workloadSpec.Profiles {
		if _, ok := profiles[profile.Id]; ok {
			return errors.Errorf("profile %s defined twice", profile.Id)
		}
		profiles[profile.Id] = profile
	}
	for _, profile := range workloadSpec.Profiles {
		if composition, ok := profile.Data.(*batprotocol.SequentialComposition); ok {
			for _, step := range composition.Sequence {
				if _, ok := profiles[step]; !ok {
					return errors.Errorf("profile %s refers to unknown profile %s", profile.Id, step)
				}
			}
		}
	}
	ids := make(map[string]bool, len(workloadSpec.Jobs))
	for _, job := range workloadSpec.Jobs {
		if job.Id == "" {
			job.Id = shortuuid.New()
		}
		if ids[job.Id] {
			return errors.Errorf("job %s defined twice", job.Id)
		}
		ids[job.Id] = true
		if job.Subtime < 0 {
			return errors.Errorf("job %s is submitted at negative time %g", job.Id, job.Subtime)
		}
		if job.Res == 0 {
			return errors.Errorf("job %s requests no host", job.Id)
		}
		if _, ok := profiles[job.Profile]; !ok {
			return errors.Errorf("job %s refers to unknown profile %s", job.Id, job.Profile)
		}
	}
	slices.SortStableFunc(workloadSpec.Jobs, func(a, b *JobSpec) int {
		switch {
		case a.Subtime < b.Subtime:
			return -1
		case a.Subtime > b.Subtime:
			return 1
		default:
			return 0
		}
	})
	return nil
}

// JobId is the id under which job is known to decision components.
func (workloadSpec *WorkloadSpec) JobId(job *JobSpec) string {
	return fmt.Sprintf("%s!%s", workloadSpec.Name, job.Id)
}
