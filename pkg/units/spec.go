package units

import (
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/process"
)

// RestartPolicy decides which exits are followed by a restart
type RestartPolicy string

const (
	// RestartOnFailure restarts after a non-zero exit; exit 0 stops the unit
	RestartOnFailure RestartPolicy = "on-failure"
	// RestartAlways restarts after any exit
	RestartAlways RestartPolicy = "always"
	// RestartNever never restarts
	RestartNever RestartPolicy = "never"
)

const (
	DefaultRestartPolicy   = RestartOnFailure
	DefaultRestartDelay    = 1 * time.Second
	DefaultBackoffRate     = 1.0
	DefaultMaxRestartDelay = 30 * time.Second
	DefaultMaxRestarts     = 5
	DefaultRestartInterval = 60 * time.Second
	DefaultMinUptime       = 1 * time.Second
	DefaultStopGracePeriod = 10 * time.Second

	MaxUnitTimeout      = 10 * time.Minute
	MaxRestartInterval  = 24 * time.Hour
	MaxBackoffRate      = 10.0
	MaxUnitNameLength   = 64
	MaxRestartsInWindow = 1000
)

// RestartConfig bounds how and how often a unit is restarted
type RestartConfig struct {
	Policy RestartPolicy `yaml:"policy,omitempty"`

	// Delay before the first restart; later restarts multiply it by
	// BackoffRate up to MaxDelay
	Delay       time.Duration `yaml:"delay,omitempty"`
	BackoffRate float64       `yaml:"backoff_rate,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`

	// At most MaxRestarts restarts within any trailing Interval
	MaxRestarts int           `yaml:"max_restarts,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
}

// UnitSpec is the static description of one supervised unit
type UnitSpec struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description,omitempty"`
	Enabled     *bool                   `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Execution   process.ExecutionConfig `yaml:"execution"`

	// Units that must be ready before this one starts
	After []string `yaml:"after,omitempty"`

	Restart RestartConfig `yaml:"restart,omitempty"`

	// How long the process must stay alive to count as ready
	MinUptime time.Duration `yaml:"min_uptime,omitempty"`

	// How long to wait after SIGTERM before SIGKILL
	StopGracePeriod time.Duration `yaml:"stop_grace_period,omitempty"`
}

// IsEnabled reports whether the unit takes part in the run. Unset means enabled.
func (s UnitSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ApplyDefaults fills unset fields. Zero values count as unset.
func ApplyDefaults(spec *UnitSpec) {
	if spec.Restart.Policy == "" {
		spec.Restart.Policy = DefaultRestartPolicy
	}
	if spec.Restart.Delay == 0 {
		spec.Restart.Delay = DefaultRestartDelay
	}
	if spec.Restart.BackoffRate == 0 {
		spec.Restart.BackoffRate = DefaultBackoffRate
	}
	if spec.Restart.MaxDelay == 0 {
		spec.Restart.MaxDelay = DefaultMaxRestartDelay
	}
	if spec.Restart.MaxRestarts == 0 {
		spec.Restart.MaxRestarts = DefaultMaxRestarts
	}
	if spec.Restart.Interval == 0 {
		spec.Restart.Interval = DefaultRestartInterval
	}
	if spec.MinUptime == 0 {
		spec.MinUptime = DefaultMinUptime
	}
	if spec.StopGracePeriod == 0 {
		spec.StopGracePeriod = DefaultStopGracePeriod
	}
}

// Clone returns a deep copy
func (s UnitSpec) Clone() UnitSpec {
	clone := s
	if s.Enabled != nil {
		enabled := *s.Enabled
		clone.Enabled = &enabled
	}
	clone.Execution.Args = cloneStrings(s.Execution.Args)
	clone.Execution.Environment = cloneStrings(s.Execution.Environment)
	clone.After = cloneStrings(s.After)
	return clone
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
