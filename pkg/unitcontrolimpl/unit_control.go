package unitcontrolimpl

import (
	"context"
	"math"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrol"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

// KillTimeout is how long to wait for exit after SIGKILL before giving up on the process
const KillTimeout = 5 * time.Second

// UnitControlOptions provides configuration for UnitControl instances
type UnitControlOptions struct {
	Spec     units.UnitSpec
	Launcher process.Launcher

	// Observes every state transition, nil if not needed
	OnStateChange unitcontrol.StateChangeFunc
}

type exitResult struct {
	code int
	err  error
}

type unitControl struct {
	spec     units.UnitSpec
	launcher process.Launcher
	limiter  *RestartRateLimiter
	sm       *unitcontrol.StateMachine
	logger   logging.Logger

	// Lifecycle coordination between Run and Stop
	lifecycleMutex sync.Mutex
	started        bool
	stopRequested  bool
	stopCh         chan struct{}
	done           chan struct{}

	// Runtime state, written only by the lifecycle loop
	mutex               sync.RWMutex
	handle              process.Handle
	instanceID          string
	lastExitCode        *int
	restartCount        int
	consecutiveFailures int
	startTime           *time.Time
	readyTime           *time.Time
	everReady           bool
	lastError           error
	blockedBy           string
}

func NewUnitControl(options UnitControlOptions, logger logging.Logger) unitcontrol.UnitControl {
	spec := options.Spec.Clone()
	unitLogger := logging.NewUnitLogger(logger, spec.Name)

	return &unitControl{
		spec:     spec,
		launcher: options.Launcher,
		limiter:  NewRestartRateLimiter(spec.Name, spec.Restart.MaxRestarts, spec.Restart.Interval, unitLogger),
		sm:       unitcontrol.NewStateMachine(spec.Name, logger, options.OnStateChange),
		logger:   unitLogger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (uc *unitControl) Name() string {
	return uc.spec.Name
}

func (uc *unitControl) Run(ctx context.Context) error {
	uc.lifecycleMutex.Lock()
	if uc.started {
		uc.lifecycleMutex.Unlock()
		return errors.NewConflictError("unit is already running", nil).WithContext("unit", uc.spec.Name)
	}
	uc.started = true
	if uc.stopRequested {
		// Stop already took the unit from pending to stopped
		uc.lifecycleMutex.Unlock()
		return nil
	}
	uc.lifecycleMutex.Unlock()

	defer close(uc.done)

	for {
		if uc.isStopRequested() || ctx.Err() != nil {
			uc.transition(unitcontrol.UnitStateStopping, "stop", nil)
			uc.transition(unitcontrol.UnitStateStopped, "stop", nil)
			return nil
		}

		if err := uc.sm.Transition(unitcontrol.UnitStateStarting, "launch", nil); err != nil {
			return err
		}

		handle, err := uc.launcher.Launch(ctx, uc.spec.Name, uc.spec.Execution)
		if err != nil {
			uc.setLastError(err)
			uc.transition(unitcontrol.UnitStateFailed, "launch", err)
			if uc.spec.Restart.Policy == units.RestartNever {
				uc.transition(unitcontrol.UnitStateFailedPermanently, "restart policy never", err)
				return nil
			}
			if !uc.restartAfterFailure(ctx) {
				return nil
			}
			continue
		}

		uc.recordLaunch(handle)
		uc.transition(unitcontrol.UnitStateRunning, "launch", nil)

		result, stopped := uc.superviseProcess(ctx, handle)
		uc.recordExit(result)

		if stopped {
			uc.transition(unitcontrol.UnitStateStopped, "stop", nil)
			return nil
		}

		exitErr := errors.NewRuntimeExitError(result.code, result.err)
		uc.logger.Infof("Process exited, PID: %d, exit code: %d", handle.Pid(), result.code)

		switch {
		case result.code == 0 && uc.spec.Restart.Policy != units.RestartAlways:
			uc.transition(unitcontrol.UnitStateStopped, "exit", nil)
			return nil
		case uc.spec.Restart.Policy == units.RestartNever:
			uc.setLastError(exitErr)
			uc.transition(unitcontrol.UnitStateFailed, "exit", exitErr)
			uc.transition(unitcontrol.UnitStateFailedPermanently, "restart policy never", exitErr)
			return nil
		}

		uc.setLastError(exitErr)
		uc.transition(unitcontrol.UnitStateFailed, "exit", exitErr)
		if !uc.restartAfterFailure(ctx) {
			return nil
		}
	}
}

// superviseProcess waits for the process to exit, promoting the unit to
// ready once it outlives min uptime. A stop request or ctx cancellation
// terminates the process; stopped then reports true.
func (uc *unitControl) superviseProcess(ctx context.Context, handle process.Handle) (exitResult, bool) {
	exitCh := make(chan exitResult, 1)
	go func() {
		code, err := handle.Wait()
		exitCh <- exitResult{code: code, err: err}
	}()

	readyTimer := time.NewTimer(uc.spec.MinUptime)
	defer readyTimer.Stop()

	for {
		select {
		case <-readyTimer.C:
			uc.recordReady()
			uc.transition(unitcontrol.UnitStateReady, "min uptime reached", nil)

		case result := <-exitCh:
			return result, false

		case <-uc.stopCh:
			uc.transition(unitcontrol.UnitStateStopping, "stop", nil)
			return uc.terminate(handle, exitCh), true

		case <-ctx.Done():
			uc.transition(unitcontrol.UnitStateStopping, "context cancelled", nil)
			return uc.terminate(handle, exitCh), true
		}
	}
}

// terminate sends SIGTERM to the process group, waits the grace period,
// then sends SIGKILL
func (uc *unitControl) terminate(handle process.Handle, exitCh <-chan exitResult) exitResult {
	pid := handle.Pid()
	grace := uc.spec.StopGracePeriod

	uc.logger.Infof("Sending termination signal to PID %d, grace period: %v", pid, grace)
	if err := handle.Signal(syscall.SIGTERM); err != nil {
		uc.logger.Warnf("Failed to send termination signal to PID %d: %v", pid, err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case result := <-exitCh:
		uc.logger.Infof("Process PID %d terminated gracefully", pid)
		return result
	case <-graceTimer.C:
		uc.logger.Warnf("Process PID %d did not terminate within %v, forcing termination", pid, grace)
	}

	if err := handle.Kill(); err != nil {
		uc.logger.Errorf("Failed to kill process PID %d: %v", pid, err)
	}

	killTimer := time.NewTimer(KillTimeout)
	defer killTimer.Stop()

	select {
	case result := <-exitCh:
		uc.logger.Infof("Process PID %d force terminated", pid)
		return result
	case <-killTimer.C:
		err := errors.NewTimeoutError("process did not terminate even after force termination", nil).WithContext("pid", pid)
		uc.logger.Errorf("Abandoning process PID %d: %v", pid, err)
		return exitResult{code: -1, err: err}
	}
}

// restartAfterFailure takes a failed unit to restarting and waits out the
// backoff delay. It reports false when the unit ended instead, either
// failed permanently or stopped.
func (uc *unitControl) restartAfterFailure(ctx context.Context) bool {
	if uc.isStopRequested() || ctx.Err() != nil {
		uc.transition(unitcontrol.UnitStateStopping, "stop", nil)
		uc.transition(unitcontrol.UnitStateStopped, "stop", nil)
		return false
	}

	if !uc.limiter.TryAcquire(time.Now()) {
		state := uc.limiter.GetState()
		err := errors.NewRateLimitError("restart rate limit exceeded", uc.getLastError()).
			WithContext("unit", uc.spec.Name).
			WithContext("max_restarts", state.MaxRestarts).
			WithContext("interval", state.Interval.String())
		uc.setLastError(err)
		uc.transition(unitcontrol.UnitStateFailedPermanently, "restart denied", err)
		return false
	}

	uc.mutex.Lock()
	uc.restartCount++
	uc.consecutiveFailures++
	delay := backoffDelay(uc.spec.Restart, uc.consecutiveFailures)
	restartCount := uc.restartCount
	uc.mutex.Unlock()

	uc.transition(unitcontrol.UnitStateRestarting, "restart granted", nil)
	uc.logger.Warnf("Restarting, attempt: %d, delay: %v", restartCount, delay)

	backoffTimer := time.NewTimer(delay)
	defer backoffTimer.Stop()

	select {
	case <-backoffTimer.C:
		return true
	case <-uc.stopCh:
		uc.transition(unitcontrol.UnitStateStopping, "stop", nil)
		uc.transition(unitcontrol.UnitStateStopped, "stop", nil)
		return false
	case <-ctx.Done():
		uc.transition(unitcontrol.UnitStateStopping, "context cancelled", nil)
		uc.transition(unitcontrol.UnitStateStopped, "context cancelled", nil)
		return false
	}
}

// backoffDelay is delay * rate^(failures-1), capped at max delay
func backoffDelay(config units.RestartConfig, consecutiveFailures int) time.Duration {
	if consecutiveFailures < 1 {
		consecutiveFailures = 1
	}
	delay := float64(config.Delay) * math.Pow(config.BackoffRate, float64(consecutiveFailures-1))
	if delay > float64(config.MaxDelay) {
		return config.MaxDelay
	}
	return time.Duration(delay)
}

func (uc *unitControl) Stop(ctx context.Context) error {
	uc.lifecycleMutex.Lock()
	if !uc.stopRequested {
		uc.stopRequested = true
		close(uc.stopCh)

		if !uc.started {
			// Never ran, so no loop owns the state machine
			uc.transition(unitcontrol.UnitStateStopping, "stop", nil)
			uc.transition(unitcontrol.UnitStateStopped, "stop", nil)
			close(uc.done)
		}
	}
	uc.lifecycleMutex.Unlock()

	select {
	case <-uc.done:
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("unit did not stop in time", ctx.Err()).
			WithContext("unit", uc.spec.Name).
			WithContext("state", string(uc.sm.GetCurrentState()))
	}
}

func (uc *unitControl) isStopRequested() bool {
	select {
	case <-uc.stopCh:
		return true
	default:
		return false
	}
}

func (uc *unitControl) transition(to unitcontrol.UnitState, operation string, err error) {
	if transitionErr := uc.sm.Transition(to, operation, err); transitionErr != nil {
		uc.logger.Errorf("Unexpected state transition rejected: %v", transitionErr)
	}
}

func (uc *unitControl) MarkBlocked(dependency string) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	if uc.blockedBy == "" {
		uc.blockedBy = dependency
		uc.logger.Errorf("Dependency %s can no longer become ready, unit stays pending", dependency)
	}
}

func (uc *unitControl) BlockedBy() string {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.blockedBy
}

func (uc *unitControl) HasBeenReady() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.everReady
}

func (uc *unitControl) GetState() unitcontrol.UnitState {
	return uc.sm.GetCurrentState()
}

func (uc *unitControl) WaitFor(ctx context.Context, pred func(unitcontrol.UnitState) bool) (unitcontrol.UnitState, error) {
	return uc.sm.WaitFor(ctx, pred)
}

func (uc *unitControl) GetDiagnostics() unitcontrol.UnitDiagnostics {
	state := uc.sm.GetCurrentState()
	window := uc.limiter.GetState().Window

	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	diagnostics := unitcontrol.UnitDiagnostics{
		Name:          uc.spec.Name,
		State:         state,
		InstanceID:    uc.instanceID,
		RestartCount:  uc.restartCount,
		RestartWindow: window,
		LastError:     uc.lastError,
		BlockedBy:     uc.blockedBy,
	}
	if uc.handle != nil {
		diagnostics.PID = uc.handle.Pid()
	}
	if uc.lastExitCode != nil {
		code := *uc.lastExitCode
		diagnostics.LastExitCode = &code
	}
	if uc.startTime != nil {
		t := *uc.startTime
		diagnostics.StartTime = &t
	}
	if uc.readyTime != nil {
		t := *uc.readyTime
		diagnostics.ReadyTime = &t
	}
	return diagnostics
}

func (uc *unitControl) recordLaunch(handle process.Handle) {
	now := time.Now()
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.handle = handle
	uc.instanceID = handle.InstanceID()
	uc.startTime = &now
	uc.readyTime = nil
}

func (uc *unitControl) recordReady() {
	now := time.Now()
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.readyTime = &now
	uc.everReady = true
	uc.consecutiveFailures = 0
}

func (uc *unitControl) recordExit(result exitResult) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	code := result.code
	uc.lastExitCode = &code
	uc.handle = nil
}

func (uc *unitControl) setLastError(err error) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.lastError = err
}

func (uc *unitControl) getLastError() error {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.lastError
}
