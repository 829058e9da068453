package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/processfile"
)

const outputDrainDelay = 5 * time.Second

type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
	User             string   `yaml:"user,omitempty"`
	Group            string   `yaml:"group,omitempty"`
}

// Handle is a launched unit process. Wait may be called from one
// goroutine only; the other methods are safe for concurrent use.
type Handle interface {
	Pid() int
	// InstanceID identifies this launch, unique across restarts
	InstanceID() string
	// Wait blocks until the process exits. A process killed by a signal
	// reports 128+signal, the shell convention.
	Wait() (int, error)
	// Signal delivers sig to the process group
	Signal(sig syscall.Signal) error
	Kill() error
}

// Launcher starts a unit process
type Launcher interface {
	Launch(ctx context.Context, unitName string, execution ExecutionConfig) (Handle, error)
}

// LaunchFunc adapts a function to the Launcher interface
type LaunchFunc func(ctx context.Context, unitName string, execution ExecutionConfig) (Handle, error)

func (f LaunchFunc) Launch(ctx context.Context, unitName string, execution ExecutionConfig) (Handle, error) {
	return f(ctx, unitName, execution)
}

// OutputSink receives the stdout and stderr of each launch
type OutputSink interface {
	Writers(unitName string) (stdout, stderr io.WriteCloser)
}

// StdLauncher launches units as child processes in their own process group
type StdLauncher struct {
	logger   logging.Logger
	output   OutputSink
	pidFiles *processfile.ProcessFileManager
}

// NewStdLauncher creates a launcher. output and pidFiles are optional:
// without an output sink units inherit the supervisor's stdout and stderr.
func NewStdLauncher(logger logging.Logger, output OutputSink, pidFiles *processfile.ProcessFileManager) *StdLauncher {
	return &StdLauncher{
		logger:   logger,
		output:   output,
		pidFiles: pidFiles,
	}
}

func (l *StdLauncher) Launch(ctx context.Context, unitName string, execution ExecutionConfig) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("launch cancelled", err).WithContext("unit", unitName)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		return nil, errors.NewSpawnError("invalid execution configuration", err).WithContext("unit", unitName)
	}

	credential, err := resolveCredential(execution.User, execution.Group)
	if err != nil {
		return nil, errors.NewSpawnError("failed to resolve process owner", err).WithContext("unit", unitName)
	}

	// Not CommandContext: a unit outlives the launching context until it is
	// explicitly stopped.
	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = append(os.Environ(), execution.Environment...)
	setupProcessAttributes(cmd, credential)

	var closers []io.Closer
	if l.output != nil {
		stdout, stderr := l.output.Writers(unitName)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		// bounds Wait when a descendant keeps the output pipes open
		cmd.WaitDelay = outputDrainDelay
		closers = append(closers, stdout, stderr)
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	instanceID := xid.New().String()
	l.logger.Debugf("Launching process, unit: %s, instance: %s, executable path: '%s', args: %v, working directory: '%s'",
		unitName, instanceID, execution.ExecutablePath, execution.Args, execution.WorkingDirectory)

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("unit", unitName).
			WithContext("executable_path", execution.ExecutablePath)
	}

	h := &handle{
		unitName:   unitName,
		instanceID: instanceID,
		cmd:        cmd,
		closers:    closers,
		launcher:   l,
	}

	if l.pidFiles != nil {
		if err := l.pidFiles.WritePIDFile(unitName, cmd.Process.Pid); err != nil {
			// The unit is running; a missing PID file only affects outside tooling
			l.logger.Warnf("Failed to write PID file, unit: %s, error: %v", unitName, err)
		}
	}

	l.logger.Infof("Launched process, unit: %s, instance: %s, PID: %d", unitName, instanceID, cmd.Process.Pid)
	return h, nil
}

type handle struct {
	unitName   string
	instanceID string
	cmd        *exec.Cmd
	closers    []io.Closer
	launcher   *StdLauncher

	waitOnce sync.Once
	exitCode int
	waitErr  error
}

func (h *handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *handle) InstanceID() string {
	return h.instanceID
}

func (h *handle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		h.exitCode, h.waitErr = exitStatus(h.cmd.Wait())
		for _, c := range h.closers {
			c.Close()
		}
		if h.launcher.pidFiles != nil {
			h.launcher.pidFiles.RemovePIDFile(h.unitName)
		}
	})
	return h.exitCode, h.waitErr
}

func (h *handle) Signal(sig syscall.Signal) error {
	return signalProcessGroup(h.cmd.Process, sig)
}

func (h *handle) Kill() error {
	return signalProcessGroup(h.cmd.Process, syscall.SIGKILL)
}

// exitStatus maps the result of cmd.Wait to an exit code. The returned
// error is non-nil only when the exit status could not be observed.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if err == exec.ErrWaitDelay {
		// exited cleanly, a descendant still held the output pipes
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, errors.NewProcessError("failed to wait for process", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
