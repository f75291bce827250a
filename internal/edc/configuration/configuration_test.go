package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batsched/batsched/internal/scheduler"
)

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		data     string
		expected func(c *Configuration)
		valid    bool
	}{
		"empty payload keeps defaults": {
			data:     "",
			expected: func(c *Configuration) {},
			valid:    true,
		},
		"yaml": {
			data: `
behavior: fcfs
inter_stop_probe_delay: 2.5
log_level: debug
probes:
  enabled: true
  max_power: 200
`,
			expected: func(c *Configuration) {
				c.Behavior = scheduler.PolicyFCFS
				c.InterStopProbeDelay = 2.5
				c.LogLevel = logrus.DebugLevel
				c.Probes.Enabled = true
				c.Probes.MaxPower = 200
			},
			valid: true,
		},
		"json": {
			data: `{"behavior": "exec1by1", "probes": {"enabled": true, "epsilon": 0.5, "fatal": true}}`,
			expected: func(c *Configuration) {
				c.Behavior = scheduler.PolicyExec1by1
				c.Probes.Enabled = true
				c.Probes.Epsilon = 0.5
				c.Probes.Fatal = true
			},
			valid: true,
		},
		"unknown behavior": {
			data:  "behavior: sjf",
			valid: false,
		},
		"negative delay": {
			data:  "inter_stop_probe_delay: -1",
			valid: false,
		},
		"zero period": {
			data:  "probes: {period: 0}",
			valid: false,
		},
		"min power above max power": {
			data:  "probes: {min_power: 100, max_power: 10}",
			valid: false,
		},
		"min power without max power": {
			data:  "probes: {min_power: 100}",
			valid: false,
		},
		"unknown log level": {
			data:  "log_level: loud",
			valid: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			actual, err := Load([]byte(tc.data))
			if !tc.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			expected := Default()
			tc.expected(&expected)
			assert.Equal(t, expected, actual)
		})
	}
}

func TestLoadFile(t *testing.T) {
	tests := map[string]struct {
		fileName string
		data     string
		expected scheduler.PolicyKind
		valid    bool
	}{
		"yaml": {
			fileName: "fcfs.yaml",
			data:     "behavior: fcfs\n",
			expected: scheduler.PolicyFCFS,
			valid:    true,
		},
		"json": {
			fileName: "exec1by1.json",
			data:     `{"behavior": "exec1by1"}`,
			expected: scheduler.PolicyExec1by1,
			valid:    true,
		},
		"unknown behavior": {
			fileName: "sjf.yaml",
			data:     "behavior: sjf\n",
			valid:    false,
		},
		"unknown extension": {
			fileName: "fcfs.conf",
			data:     "behavior: fcfs\n",
			valid:    false,
		},
		"missing file": {
			fileName: "",
			valid:    false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tc.fileName != "" {
				path = filepath.Join(t.TempDir(), tc.fileName)
				require.NoError(t, os.WriteFile(path, []byte(tc.data), 0o644))
			}
			actual, err := LoadFile(path)
			if !tc.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			expected := Default()
			expected.Behavior = tc.expected
			assert.Equal(t, expected, actual)
		})
	}
}
