package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

// ValidatePID validates PID value
func ValidatePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	return pid, nil
}

// ValidateExecutionConfig checks the shape of an execution configuration
// without touching the filesystem
func ValidateExecutionConfig(config ExecutionConfig) error {
	if config.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}

	if config.WorkingDirectory != "" && !filepath.IsAbs(config.WorkingDirectory) {
		return errors.NewValidationError("working directory must be absolute path", nil).
			WithContext("working_directory", config.WorkingDirectory)
	}

	for _, env := range config.Environment {
		key, _, found := strings.Cut(env, "=")
		if !found || key == "" {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	return nil
}

// CheckExecution verifies on the host that a configuration can be launched:
// the executable exists and is executable, the working directory is a
// directory, and the user and group resolve.
func CheckExecution(config ExecutionConfig) error {
	if err := ValidateExecutionConfig(config); err != nil {
		return err
	}

	if config.WorkingDirectory != "" {
		if info, err := os.Stat(config.WorkingDirectory); err != nil {
			return errors.NewIOError("working directory not accessible: "+config.WorkingDirectory, err)
		} else if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+config.WorkingDirectory, nil)
		}
	}

	if _, err := ResolveExecutable(config); err != nil {
		return err
	}

	if _, err := resolveCredential(config.User, config.Group); err != nil {
		return err
	}

	return nil
}

// ResolveExecutable returns the path that will be executed. A bare name is
// looked up in PATH; a relative path is taken relative to the working directory.
func ResolveExecutable(config ExecutionConfig) (string, error) {
	path := config.ExecutablePath

	if !strings.Contains(path, string(filepath.Separator)) {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return "", errors.NewNotFoundError("executable not found in PATH: "+path, err)
		}
		return resolved, nil
	}

	if !filepath.IsAbs(path) && config.WorkingDirectory != "" {
		path = filepath.Join(config.WorkingDirectory, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.NewNotFoundError("executable not found: "+path, err)
	}
	if info.IsDir() {
		return "", errors.NewValidationError("executable is a directory: "+path, nil)
	}
	if info.Mode()&0111 == 0 {
		return "", errors.NewPermissionError("file is not executable: "+path, nil)
	}

	return path, nil
}
