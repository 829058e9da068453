package supervisor

import (
	"fmt"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

// Preflight checks on the host that every unit can be launched. Any
// failure is fatal to startup; nothing has been started yet.
func Preflight(registry *units.Registry, logger logging.Logger) error {
	errorCollection := errors.NewErrorCollection()

	for _, spec := range registry.Specs() {
		if err := process.CheckExecution(spec.Execution); err != nil {
			logger.Errorf("Preflight failed, unit: %s, error: %v", spec.Name, err)
			errorCollection.Add(errors.NewSpawnError("unit cannot be launched", err).
				WithContext("unit", spec.Name).
				WithContext("executable_path", spec.Execution.ExecutablePath))
			continue
		}
		logger.Debugf("Preflight passed, unit: %s", spec.Name)
	}

	if errorCollection.HasErrors() {
		return errors.NewSpawnError(
			fmt.Sprintf("preflight failed for %d unit(s)", len(errorCollection.Errors)),
			errorCollection.Errors[0],
		).WithContext("failures", errorCollection.Error())
	}

	return nil
}
