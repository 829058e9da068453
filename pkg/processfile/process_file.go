package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
)

// Default application name used for the PID subdirectory
const DefaultAppName = "hsu-supervisor"

// ProcessFileConfig holds configuration for unit PID files
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses the service context default
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string

	// Create subdirectory for the app
	UseSubdirectory bool
}

// ServiceContext defines the context in which the supervisor runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"
)

// ProcessFileManager writes and removes the PID files of launched units
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	if config.ServiceContext == "" {
		config.ServiceContext = SystemService
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath returns the PID file path for the given unit
func (m *ProcessFileManager) GeneratePIDFilePath(unitName string) string {
	baseDir := m.getBaseDirectory()

	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}

	return filepath.Join(baseDir, unitName+".pid")
}

// WritePIDFile atomically replaces the PID file of the given unit
func (m *ProcessFileManager) WritePIDFile(unitName string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(unitName)
	m.logger.Debugf("Writing PID file, unit: %s, pid: %d, path: %s", unitName, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, unit: %s, path: %s, error: %v", unitName, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := renameio.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, unit: %s, pid: %d, path: %s, error: %v", unitName, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, unit: %s, pid: %d, path: %s", unitName, pid, pidFilePath)
	return nil
}

// ReadPIDFile reads the PID recorded for the given unit
func (m *ProcessFileManager) ReadPIDFile(unitName string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(unitName)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}

	return pid, nil
}

// FindLeftoverProcess reports a process recorded in the unit's PID file by an
// earlier supervisor run that is still alive. A missing PID file, a stale
// PID and an unreadable file all report (0, false).
func (m *ProcessFileManager) FindLeftoverProcess(unitName string) (int, bool) {
	pid, err := m.ReadPIDFile(unitName)
	if err != nil {
		if !errors.IsIOError(err) {
			m.logger.Warnf("Ignoring PID file, unit: %s, error: %v", unitName, err)
		}
		return 0, false
	}

	running, err := processstate.IsProcessRunning(pid)
	if err != nil {
		m.logger.Warnf("Failed to probe recorded process, unit: %s, pid: %d, error: %v", unitName, pid, err)
		return 0, false
	}
	if !running {
		m.logger.Debugf("Removing stale PID file, unit: %s, pid: %d", unitName, pid)
		_ = m.RemovePIDFile(unitName)
		return 0, false
	}
	return pid, true
}

// RemovePIDFile deletes the PID file of the given unit. A missing file is not an error.
func (m *ProcessFileManager) RemovePIDFile(unitName string) error {
	pidFilePath := m.GeneratePIDFilePath(unitName)

	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, unit: %s, path: %s, error: %v", unitName, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}

	return nil
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case UserService:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

// ValidatePIDFileDirectory validates that the PID file directory exists and is writable,
// creating it when missing
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	} else {
		file.Close()
		os.Remove(testFile)
	}

	return nil
}
