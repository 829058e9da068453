package unitcontrolimpl

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/process/processtest"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrol"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

func TestUnitControl_ReadyAfterMinUptimeThenStop(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.Runs)
	uc := newTestUnit(testSpec("starter"), launcher)

	result := runUnit(context.Background(), uc)
	waitForState(t, uc, unitcontrol.UnitStateReady)
	assert.True(t, uc.HasBeenReady())

	diagnostics := uc.GetDiagnostics()
	assert.Equal(t, 1001, diagnostics.PID)
	assert.Equal(t, "instance-1001", diagnostics.InstanceID)
	assert.NotNil(t, diagnostics.StartTime)
	assert.NotNil(t, diagnostics.ReadyTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, uc.Stop(ctx))
	waitForRun(t, result)

	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, launcher.LastProcess("starter").Signals())
	assert.Equal(t, []unitcontrol.UnitState{
		unitcontrol.UnitStateStarting,
		unitcontrol.UnitStateRunning,
		unitcontrol.UnitStateReady,
		unitcontrol.UnitStateStopping,
		unitcontrol.UnitStateStopped,
	}, visitedStates(uc))

	diagnostics = uc.GetDiagnostics()
	require.NotNil(t, diagnostics.LastExitCode)
	assert.Equal(t, 128+int(syscall.SIGTERM), *diagnostics.LastExitCode)
	assert.Zero(t, diagnostics.PID)
}

func TestUnitControl_KillEscalation(t *testing.T) {
	launcher := processtest.NewLauncher(ignoresTerm)
	uc := newTestUnit(testSpec("emsys-app"), launcher)

	result := runUnit(context.Background(), uc)
	waitForState(t, uc, unitcontrol.UnitStateRunning)

	started := time.Now()
	require.NoError(t, uc.Stop(context.Background()))
	waitForRun(t, result)

	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL}, launcher.LastProcess("emsys-app").Signals())
	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
	assert.Equal(t, 137, *uc.GetDiagnostics().LastExitCode)
}

func TestUnitControl_CleanExitOnFailurePolicy(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 0))
	uc := newTestUnit(testSpec("starter"), launcher)

	waitForRun(t, runUnit(context.Background(), uc))

	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
	assert.Equal(t, 1, launcher.LaunchCount("starter"))
	assert.Zero(t, uc.GetDiagnostics().RestartCount)
	assert.NoError(t, uc.GetDiagnostics().LastError)
}

func TestUnitControl_CrashLoopEndsFailedPermanently(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 1))
	uc := newTestUnit(testSpec("rnbo-query"), launcher)

	waitForRun(t, runUnit(context.Background(), uc))

	// Initial start plus three restarts, the fourth crash is denied
	assert.Equal(t, unitcontrol.UnitStateFailedPermanently, uc.GetState())
	assert.Equal(t, 4, launcher.LaunchCount("rnbo-query"))
	assert.False(t, uc.HasBeenReady())

	diagnostics := uc.GetDiagnostics()
	assert.Equal(t, 3, diagnostics.RestartCount)
	assert.Len(t, diagnostics.RestartWindow, 4)
	require.NotNil(t, diagnostics.LastExitCode)
	assert.Equal(t, 1, *diagnostics.LastExitCode)
	assert.True(t, errors.IsRateLimitError(diagnostics.LastError))
	assert.True(t, errors.IsRuntimeExitError(diagnostics.LastError))
	code, ok := errors.ExitCode(diagnostics.LastError)
	assert.True(t, ok)
	assert.Equal(t, 1, code)

	// Stop on a finished unit returns at once
	require.NoError(t, uc.Stop(context.Background()))
	assert.Equal(t, unitcontrol.UnitStateFailedPermanently, uc.GetState())
}

func TestUnitControl_AlwaysPolicyRestartsCleanExit(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 0))
	spec := testSpec("starter")
	spec.Restart.Policy = units.RestartAlways
	spec.Restart.MaxRestarts = 2
	uc := newTestUnit(spec, launcher)

	waitForRun(t, runUnit(context.Background(), uc))

	assert.Equal(t, 3, launcher.LaunchCount("starter"))
	assert.Equal(t, unitcontrol.UnitStateFailedPermanently, uc.GetState())
}

func TestUnitControl_NeverPolicy(t *testing.T) {
	t.Run("failure is final", func(t *testing.T) {
		launcher := processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 2))
		spec := testSpec("emsys-app")
		spec.Restart.Policy = units.RestartNever
		uc := newTestUnit(spec, launcher)

		waitForRun(t, runUnit(context.Background(), uc))

		assert.Equal(t, 1, launcher.LaunchCount("emsys-app"))
		assert.Equal(t, unitcontrol.UnitStateFailedPermanently, uc.GetState())
		code, ok := errors.ExitCode(uc.GetDiagnostics().LastError)
		assert.True(t, ok)
		assert.Equal(t, 2, code)
		assert.Zero(t, uc.GetDiagnostics().RestartCount)
	})

	t.Run("clean exit stops", func(t *testing.T) {
		launcher := processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 0))
		spec := testSpec("emsys-app")
		spec.Restart.Policy = units.RestartNever
		uc := newTestUnit(spec, launcher)

		waitForRun(t, runUnit(context.Background(), uc))

		assert.Equal(t, 1, launcher.LaunchCount("emsys-app"))
		assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
	})

	t.Run("spawn failure is final", func(t *testing.T) {
		launcher := processtest.NewLauncher(processtest.FailsToSpawn)
		spec := testSpec("rnbo-query")
		spec.Restart.Policy = units.RestartNever
		uc := newTestUnit(spec, launcher)

		waitForRun(t, runUnit(context.Background(), uc))

		assert.Equal(t, 1, launcher.LaunchCount("rnbo-query"))
		assert.Equal(t, unitcontrol.UnitStateFailedPermanently, uc.GetState())
		assert.Zero(t, uc.GetDiagnostics().RestartCount)
		assert.True(t, errors.IsSpawnError(uc.GetDiagnostics().LastError))
		assert.False(t, errors.IsRateLimitError(uc.GetDiagnostics().LastError))
		assert.NotContains(t, visitedStates(uc), unitcontrol.UnitStateRestarting)
	})
}

func TestUnitControl_RecoversAfterTransientCrash(t *testing.T) {
	launcher := processtest.NewLauncher(func(unitName string, n int) processtest.Plan {
		if n == 1 {
			return processtest.Plan{ExitAfter: 5 * time.Millisecond, ExitCode: 1}
		}
		return processtest.Plan{}
	})
	uc := newTestUnit(testSpec("starter"), launcher)

	result := runUnit(context.Background(), uc)
	waitForState(t, uc, unitcontrol.UnitStateReady)

	assert.Equal(t, 2, launcher.LaunchCount("starter"))
	assert.Equal(t, 1, uc.GetDiagnostics().RestartCount)
	assert.Equal(t, "instance-1002", uc.GetDiagnostics().InstanceID)

	require.NoError(t, uc.Stop(context.Background()))
	waitForRun(t, result)
}

func TestUnitControl_StopWhilePending(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.Runs)
	uc := newTestUnit(testSpec("rnbo-query"), launcher)

	require.NoError(t, uc.Stop(context.Background()))
	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())

	waitForRun(t, runUnit(context.Background(), uc))
	assert.Zero(t, launcher.LaunchCount("rnbo-query"))
	assert.Equal(t, []unitcontrol.UnitState{
		unitcontrol.UnitStateStopping,
		unitcontrol.UnitStateStopped,
	}, visitedStates(uc))
}

func TestUnitControl_StopDuringBackoff(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 1))
	spec := testSpec("rnbo-query")
	spec.Restart.Delay = time.Minute
	spec.Restart.MaxDelay = time.Minute
	uc := newTestUnit(spec, launcher)

	result := runUnit(context.Background(), uc)
	waitForState(t, uc, unitcontrol.UnitStateRestarting)

	require.NoError(t, uc.Stop(context.Background()))
	waitForRun(t, result)

	assert.Equal(t, 1, launcher.LaunchCount("rnbo-query"))
	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
}

func TestUnitControl_ContextCancelStopsProcess(t *testing.T) {
	launcher := processtest.NewLauncher(processtest.Runs)
	uc := newTestUnit(testSpec("starter"), launcher)

	ctx, cancel := context.WithCancel(context.Background())
	result := runUnit(ctx, uc)
	waitForState(t, uc, unitcontrol.UnitStateRunning)

	cancel()
	waitForRun(t, result)

	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, launcher.LastProcess("starter").Signals())
}

func TestUnitControl_StopTimesOut(t *testing.T) {
	launcher := processtest.NewLauncher(ignoresTerm)
	spec := testSpec("emsys-app")
	spec.StopGracePeriod = time.Second
	uc := newTestUnit(spec, launcher)

	result := runUnit(context.Background(), uc)
	waitForState(t, uc, unitcontrol.UnitStateRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := uc.Stop(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))

	// The loop carries on and escalates regardless
	waitForRun(t, result)
	assert.Equal(t, unitcontrol.UnitStateStopped, uc.GetState())
}

func TestUnitControl_RunTwice(t *testing.T) {
	uc := newTestUnit(testSpec("starter"), processtest.NewLauncher(processtest.Runs))

	result := runUnit(context.Background(), uc)
	waitForState(t, uc, unitcontrol.UnitStateRunning)

	err := uc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	require.NoError(t, uc.Stop(context.Background()))
	waitForRun(t, result)
}

func TestUnitControl_SpawnFailureExhaustsRestarts(t *testing.T) {
	ctrl := gomock.NewController(t)
	launcher := NewMockLauncher(ctrl)

	spec := testSpec("emsys-app")
	spec.Restart.MaxRestarts = 2

	spawnErr := errors.NewSpawnError("executable not found", nil)
	launcher.EXPECT().
		Launch(gomock.Any(), "emsys-app", spec.Execution).
		Return(nil, spawnErr).
		Times(3)

	uc := newTestUnit(spec, launcher)
	waitForRun(t, runUnit(context.Background(), uc))

	assert.Equal(t, unitcontrol.UnitStateFailedPermanently, uc.GetState())
	diagnostics := uc.GetDiagnostics()
	assert.Equal(t, 2, diagnostics.RestartCount)
	assert.Nil(t, diagnostics.LastExitCode)
	assert.True(t, errors.IsRateLimitError(diagnostics.LastError))
	assert.True(t, errors.IsSpawnError(diagnostics.LastError))
	assert.Nil(t, diagnostics.StartTime)
}

func TestUnitControl_ObserverSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []unitcontrol.UnitState

	uc := NewUnitControl(UnitControlOptions{
		Spec:     testSpec("starter"),
		Launcher: processtest.NewLauncher(processtest.ExitsAfter(5*time.Millisecond, 0)),
		OnStateChange: func(unitName string, transition unitcontrol.UnitStateTransition) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, transition.To)
		},
	}, &SimpleLogger{})

	waitForRun(t, runUnit(context.Background(), uc))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []unitcontrol.UnitState{
		unitcontrol.UnitStateStarting,
		unitcontrol.UnitStateRunning,
		unitcontrol.UnitStateStopped,
	}, seen)
}

func TestUnitControl_MarkBlocked(t *testing.T) {
	uc := newTestUnit(testSpec("emsys-app"), processtest.NewLauncher(processtest.Runs))

	assert.Empty(t, uc.BlockedBy())
	uc.MarkBlocked("starter")
	uc.MarkBlocked("rnbo-query")

	assert.Equal(t, "starter", uc.BlockedBy())
	assert.Equal(t, "starter", uc.GetDiagnostics().BlockedBy)
	assert.Equal(t, unitcontrol.UnitStatePending, uc.GetState())
}

func TestUnitControl_SpecIsCopied(t *testing.T) {
	spec := testSpec("starter")
	spec.After = []string{"a"}
	uc := newTestUnit(spec, processtest.NewLauncher(processtest.Runs))

	spec.After[0] = "b"
	assert.Equal(t, []string{"a"}, uc.(*unitControl).spec.After)
}
