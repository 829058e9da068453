package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-supervisor/pkg/depgraph"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrolimpl"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

const (
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
	DefaultForceShutdownTimeout = 60 * time.Second

	MaxForceShutdownTimeout = 30 * time.Minute
)

// Config represents the top-level configuration file structure
type Config struct {
	Supervisor SupervisorConfigOptions `yaml:"supervisor"`
	Units      []units.UnitSpec        `yaml:"units"`
}

// SupervisorConfigOptions represents supervisor-level configuration
type SupervisorConfigOptions struct {
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`

	// Loopback port of the control service, 0 disables it
	ControlPort int `yaml:"control_port,omitempty"`

	// Upper bound for the whole shutdown sequence
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`

	// Directory for unit PID files, empty disables them
	PIDDirectory string `yaml:"pid_directory,omitempty"`

	// Relay unit stdout and stderr through the supervisor log. Unset means true.
	CollectOutput *bool `yaml:"collect_output,omitempty"`

	// Log a warning when the configuration file changes on disk
	WatchConfig bool `yaml:"watch_config,omitempty"`
}

// IsOutputCollected reports whether unit output goes through the supervisor log
func (o SupervisorConfigOptions) IsOutputCollected() bool {
	return o.CollectOutput == nil || *o.CollectOutput
}

// LoadConfigFromFile loads supervisor configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

// ParseConfig decodes a YAML document and applies defaults. Unknown keys
// are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var config Config

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, errors.NewConfigError("failed to parse YAML configuration", err)
	}

	setConfigDefaults(&config)
	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.Supervisor.LogLevel == "" {
		config.Supervisor.LogLevel = DefaultLogLevel
	}
	if config.Supervisor.LogFormat == "" {
		config.Supervisor.LogFormat = DefaultLogFormat
	}
	if config.Supervisor.ForceShutdownTimeout == 0 {
		config.Supervisor.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}

	for i := range config.Units {
		unit := &config.Units[i]

		// Default enabled to true if not specified
		if unit.Enabled == nil {
			enabled := true
			unit.Enabled = &enabled
		}

		units.ApplyDefaults(unit)
	}
}

// ValidateConfig validates the entire configuration, including the
// dependency graph, so that no unit starts from a broken topology
func ValidateConfig(config *Config) error {
	_, _, err := BuildTopology(config)
	return err
}

// BuildTopology validates the configuration and returns the unit registry
// with its resolved start order
func BuildTopology(config *Config) (*units.Registry, *depgraph.Graph, error) {
	if config == nil {
		return nil, nil, errors.NewConfigError("configuration cannot be nil", nil)
	}

	if err := validateSupervisorConfig(&config.Supervisor); err != nil {
		return nil, nil, errors.NewConfigError("invalid supervisor configuration", err)
	}

	registry, err := units.NewRegistry(config.Units)
	if err != nil {
		return nil, nil, err
	}

	graph, err := depgraph.Resolve(registry.Dependencies())
	if err != nil {
		return nil, nil, err
	}

	if err := validateShutdownBudget(config.Supervisor.ForceShutdownTimeout, registry, graph); err != nil {
		return nil, nil, err
	}

	return registry, graph, nil
}

// ShutdownBudget is the longest an orderly shutdown can take: each tier
// waits for its slowest unit to exhaust its grace period and be killed.
func ShutdownBudget(registry *units.Registry, graph *depgraph.Graph) time.Duration {
	var budget time.Duration
	for _, tier := range graph.Tiers() {
		var slowest time.Duration
		for _, name := range tier {
			if spec, ok := registry.Get(name); ok && spec.StopGracePeriod > slowest {
				slowest = spec.StopGracePeriod
			}
		}
		budget += slowest + unitcontrolimpl.KillTimeout
	}
	return budget
}

// A force timeout shorter than the budget would signal a tier while a
// dependent in a later tier is still alive
func validateShutdownBudget(forceShutdownTimeout time.Duration, registry *units.Registry, graph *depgraph.Graph) error {
	if forceShutdownTimeout == 0 {
		forceShutdownTimeout = DefaultForceShutdownTimeout
	}
	budget := ShutdownBudget(registry, graph)
	if forceShutdownTimeout < budget {
		return errors.NewConfigError(
			fmt.Sprintf("force_shutdown_timeout %v is shorter than the reverse-order stop budget %v", forceShutdownTimeout, budget), nil).
			WithContext("force_shutdown_timeout", forceShutdownTimeout.String()).
			WithContext("required", budget.String())
	}
	return nil
}

// ValidateConfigFile validates a configuration file without starting anything
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}

	if err := ValidateConfig(config); err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("config_file", configFile)
		}
		return err
	}

	return nil
}

func validateSupervisorConfig(config *SupervisorConfigOptions) error {
	if _, err := logging.ParseLevel(config.LogLevel); err != nil {
		return errors.NewConfigError(fmt.Sprintf("invalid log level: %s", config.LogLevel), err).
			WithContext("valid_levels", "debug, info, warn, error")
	}

	switch config.LogFormat {
	case "console", "json":
	default:
		return errors.NewConfigError(fmt.Sprintf("invalid log format: %s", config.LogFormat), nil).
			WithContext("valid_formats", "console, json")
	}

	if config.ControlPort < 0 || config.ControlPort > 65535 {
		return errors.NewConfigError(fmt.Sprintf("invalid control port: %d", config.ControlPort), nil).
			WithContext("valid_range", "0-65535")
	}

	if config.ForceShutdownTimeout < 0 || config.ForceShutdownTimeout > MaxForceShutdownTimeout {
		return errors.NewConfigError(fmt.Sprintf("force_shutdown_timeout must be between 0 and %v", MaxForceShutdownTimeout), nil).
			WithContext("force_shutdown_timeout", config.ForceShutdownTimeout.String())
	}

	return nil
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(config *Config) ConfigSummary {
	if config == nil {
		return ConfigSummary{Error: "configuration is nil"}
	}

	summary := ConfigSummary{
		LogLevel:    config.Supervisor.LogLevel,
		ControlPort: config.Supervisor.ControlPort,
		Units:       make([]UnitSummary, 0, len(config.Units)),
	}

	for _, unit := range config.Units {
		summary.Units = append(summary.Units, UnitSummary{
			Name:           unit.Name,
			Enabled:        unit.IsEnabled(),
			ExecutablePath: unit.Execution.ExecutablePath,
			After:          unit.After,
			RestartPolicy:  string(unit.Restart.Policy),
		})
		if unit.IsEnabled() {
			summary.EnabledUnits++
		}
	}
	summary.TotalUnits = len(summary.Units)

	_, graph, err := BuildTopology(config)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}
	summary.Tiers = graph.Tiers()

	return summary
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	LogLevel     string        `json:"log_level"`
	ControlPort  int           `json:"control_port"`
	TotalUnits   int           `json:"total_units"`
	EnabledUnits int           `json:"enabled_units"`
	Units        []UnitSummary `json:"units"`
	Tiers        [][]string    `json:"tiers,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// UnitSummary provides a summary of unit configuration
type UnitSummary struct {
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	ExecutablePath string   `json:"executable_path"`
	After          []string `json:"after,omitempty"`
	RestartPolicy  string   `json:"restart_policy"`
}
