package units

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/process"
)

// ValidateUnitName validates unit name format and constraints
func ValidateUnitName(name string) error {
	if name == "" {
		return errors.NewConfigError("unit name is required", nil)
	}

	if len(name) > MaxUnitNameLength {
		return errors.NewConfigError(fmt.Sprintf("unit name cannot exceed %d characters", MaxUnitNameLength), nil).
			WithContext("unit", name)
	}

	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewConfigError("unit name contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil).
				WithContext("unit", name)
		}
	}

	return nil
}

// ValidateUnitSpec validates a unit after defaults have been applied.
// Cross-unit checks (duplicates, unknown dependencies) belong to NewRegistry.
func ValidateUnitSpec(spec UnitSpec) error {
	if err := ValidateUnitName(spec.Name); err != nil {
		return err
	}

	if err := process.ValidateExecutionConfig(spec.Execution); err != nil {
		return errors.NewConfigError("invalid execution configuration", err).WithContext("unit", spec.Name)
	}

	if err := ValidateRestartConfig(spec.Restart); err != nil {
		return errors.NewConfigError("invalid restart configuration", err).WithContext("unit", spec.Name)
	}

	if err := validateTimeout(spec.MinUptime, "min_uptime", MaxUnitTimeout); err != nil {
		return errors.NewConfigError("invalid min_uptime", err).WithContext("unit", spec.Name)
	}

	if err := validateTimeout(spec.StopGracePeriod, "stop_grace_period", MaxUnitTimeout); err != nil {
		return errors.NewConfigError("invalid stop_grace_period", err).WithContext("unit", spec.Name)
	}

	seen := make(map[string]bool, len(spec.After))
	for _, dep := range spec.After {
		if err := ValidateUnitName(dep); err != nil {
			return errors.NewConfigError("invalid dependency name", err).WithContext("unit", spec.Name)
		}
		if seen[dep] {
			return errors.NewConfigError("dependency listed twice: "+dep, nil).WithContext("unit", spec.Name)
		}
		seen[dep] = true
	}

	return nil
}

// ValidateRestartConfig validates restart configuration
func ValidateRestartConfig(config RestartConfig) error {
	switch config.Policy {
	case RestartOnFailure, RestartAlways, RestartNever:
	default:
		return errors.NewValidationError("invalid restart policy: "+string(config.Policy), nil)
	}

	if err := validateTimeout(config.Delay, "delay", MaxUnitTimeout); err != nil {
		return err
	}

	if err := validateTimeout(config.MaxDelay, "max_delay", MaxUnitTimeout); err != nil {
		return err
	}

	if config.MaxDelay < config.Delay {
		return errors.NewValidationError("max_delay cannot be less than delay", nil)
	}

	if config.BackoffRate < 1 || config.BackoffRate > MaxBackoffRate {
		return errors.NewValidationError(fmt.Sprintf("backoff_rate must be between 1 and %g", MaxBackoffRate), nil)
	}

	if config.MaxRestarts < 1 || config.MaxRestarts > MaxRestartsInWindow {
		return errors.NewValidationError(fmt.Sprintf("max_restarts must be between 1 and %d", MaxRestartsInWindow), nil)
	}

	if err := validateTimeout(config.Interval, "interval", MaxRestartInterval); err != nil {
		return err
	}

	return nil
}

func validateTimeout(timeout time.Duration, name string, max time.Duration) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" cannot be negative", nil)
	}

	if timeout > max {
		return errors.NewValidationError(fmt.Sprintf("%s cannot exceed %s", name, max), nil)
	}

	return nil
}

// Helper function to check if character is valid for a unit name
func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}
