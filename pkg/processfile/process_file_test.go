package processfile

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a simple mock implementation of Logger for testing
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, &ProcessFileMockLogger{})

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, SystemService, manager.config.ServiceContext)
}

func TestGeneratePIDFilePath(t *testing.T) {
	tests := []struct {
		name     string
		config   ProcessFileConfig
		expected string
	}{
		{
			name:     "custom base directory",
			config:   ProcessFileConfig{BaseDirectory: "/var/lib/emsys"},
			expected: "/var/lib/emsys/starter.pid",
		},
		{
			name:     "with subdirectory",
			config:   ProcessFileConfig{BaseDirectory: "/var/lib/emsys", AppName: "emsys", UseSubdirectory: true},
			expected: "/var/lib/emsys/emsys/starter.pid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewProcessFileManager(tt.config, &ProcessFileMockLogger{})
			assert.Equal(t, tt.expected, manager.GeneratePIDFilePath("starter"))
		})
	}
}

func TestGeneratePIDFilePath_SystemService(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{ServiceContext: SystemService}, &ProcessFileMockLogger{})
	path := manager.GeneratePIDFilePath("starter")

	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, "starter.pid", filepath.Base(path))
}

func TestGeneratePIDFilePath_UserService(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	manager := NewProcessFileManager(ProcessFileConfig{ServiceContext: UserService}, &ProcessFileMockLogger{})

	assert.Equal(t, filepath.Join(runtimeDir, "starter.pid"), manager.GeneratePIDFilePath("starter"))
}

func TestValidatePIDFileDirectory_CreateDirectory(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "non-existent")

	err := ValidatePIDFileDirectory(filepath.Join(testDir, "starter.pid"))

	assert.NoError(t, err)
	assert.DirExists(t, testDir)
}

func TestValidatePIDFileDirectory_NotADirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := ValidatePIDFileDirectory(filepath.Join(blocker, "starter.pid"))

	assert.Error(t, err)
}

func TestProcessFileManager_WriteReadRemove(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, &ProcessFileMockLogger{})

	require.NoError(t, manager.WritePIDFile("starter", 12345))

	content, err := os.ReadFile(manager.GeneratePIDFilePath("starter"))
	require.NoError(t, err)
	assert.Equal(t, "12345\n", string(content))

	pid, err := manager.ReadPIDFile("starter")
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	// Rewrite replaces the previous launch's PID
	require.NoError(t, manager.WritePIDFile("starter", 23456))
	pid, err = manager.ReadPIDFile("starter")
	require.NoError(t, err)
	assert.Equal(t, 23456, pid)

	require.NoError(t, manager.RemovePIDFile("starter"))
	assert.NoFileExists(t, manager.GeneratePIDFilePath("starter"))

	// Removing twice is fine
	assert.NoError(t, manager.RemovePIDFile("starter"))
}

func TestProcessFileManager_ReadPIDFile_InvalidContent(t *testing.T) {
	dir := t.TempDir()
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: dir}, &ProcessFileMockLogger{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "starter.pid"), []byte("not-a-pid\n"), 0644))

	_, err := manager.ReadPIDFile("starter")
	assert.Error(t, err)

	_, err = manager.ReadPIDFile("missing")
	assert.Error(t, err)
}

func TestFindLeftoverProcess(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: t.TempDir()}, &ProcessFileMockLogger{})

	t.Run("no PID file", func(t *testing.T) {
		_, found := manager.FindLeftoverProcess("starter")
		assert.False(t, found)
	})

	t.Run("live process", func(t *testing.T) {
		require.NoError(t, manager.WritePIDFile("emsys-app", os.Getpid()))

		pid, found := manager.FindLeftoverProcess("emsys-app")
		assert.True(t, found)
		assert.Equal(t, os.Getpid(), pid)
		assert.FileExists(t, manager.GeneratePIDFilePath("emsys-app"))
	})

	t.Run("stale PID is removed", func(t *testing.T) {
		cmd := exec.Command("/bin/sh", "-c", "exit 0")
		require.NoError(t, cmd.Run())
		require.NoError(t, manager.WritePIDFile("rnbo-query", cmd.Process.Pid))

		_, found := manager.FindLeftoverProcess("rnbo-query")
		assert.False(t, found)
		assert.NoFileExists(t, manager.GeneratePIDFilePath("rnbo-query"))
	})

	t.Run("garbage content", func(t *testing.T) {
		require.NoError(t, os.WriteFile(manager.GeneratePIDFilePath("display"), []byte("not-a-pid"), 0644))

		_, found := manager.FindLeftoverProcess("display")
		assert.False(t, found)
	})
}
