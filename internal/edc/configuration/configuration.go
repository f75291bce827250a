package configuration

import (
	"github.com/sirupsen/logrus"

	"github.com/batsched/batsched/internal/common/config"
	"github.com/batsched/batsched/internal/probecheck"
	"github.com/batsched/batsched/internal/scheduler"
)

// Configuration is the initialization payload of a decision component.
type Configuration struct {
	// Scheduling policy; one of easy, fcfs, exec1by1 or rejecter.
	Behavior scheduler.PolicyKind `mapstructure:"behavior" validate:"required"`
	// Simulated seconds between stopping the vectorial probe and stopping the aggregated one.
	InterStopProbeDelay float64      `mapstructure:"inter_stop_probe_delay" validate:"gte=0"`
	Probes              ProbesConfig `mapstructure:"probes"`
	LogLevel            logrus.Level `mapstructure:"log_level"`
}

// ProbesConfig controls the energy probes created when the simulation begins.
type ProbesConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Simulated seconds between two samples.
	Period float64 `mapstructure:"period" validate:"gt=0"`
	// Per-host power bounds in watts. Energy deltas are only checked against them if one is set.
	MinPower float64 `mapstructure:"min_power" validate:"gte=0,ltefield=MaxPower"`
	MaxPower float64 `mapstructure:"max_power" validate:"gte=0"`
	Epsilon  float64 `mapstructure:"epsilon" validate:"gt=0"`
	// If true, inconsistent probe data makes the decision call fail instead of only being logged.
	Fatal bool `mapstructure:"fatal"`
}

func Default() Configuration {
	return Configuration{
		Behavior: scheduler.PolicyEasyBackfill,
		Probes: ProbesConfig{
			Period:  1,
			Epsilon: probecheck.DefaultEpsilon,
		},
		LogLevel: logrus.InfoLevel,
	}
}

// Load parses an initialization payload, either YAML or JSON, on top of the defaults.
func Load(data []byte) (Configuration, error) {
	c := Default()
	if err := config.LoadConfig(&c, data, "yaml"); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// LoadFile reads a configuration file on top of the defaults. Its format is given by its extension.
func LoadFile(path string) (Configuration, error) {
	c := Default()
	if err := config.LoadConfigFile(&c, path); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

func (c Configuration) Validate() error {
	return config.Validate(c)
}
