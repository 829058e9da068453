package processstate

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

// IsProcessRunning probes pid with signal 0. A process owned by another
// user counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	// FindProcess always succeeds on Unix
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, errors.NewProcessError("failed to find process", err).WithContext("pid", pid)
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, os.ErrProcessDone):
		return false, nil
	case stderrors.Is(err, syscall.ESRCH):
		return false, nil
	case stderrors.Is(err, syscall.EPERM):
		return true, nil
	}
	return false, errors.NewProcessError("failed to probe process", err).WithContext("pid", pid)
}
