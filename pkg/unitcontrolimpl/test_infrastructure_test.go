package unitcontrolimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/process/processtest"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrol"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

// SimpleLogger implements a basic logger for testing
type SimpleLogger struct{}

func (l *SimpleLogger) Debugf(format string, args ...interface{})               {}
func (l *SimpleLogger) Infof(format string, args ...interface{})                {}
func (l *SimpleLogger) Warnf(format string, args ...interface{})                {}
func (l *SimpleLogger) Errorf(format string, args ...interface{})               {}
func (l *SimpleLogger) LogLevelf(level int, format string, args ...interface{}) {}

func ignoresTerm(unitName string, n int) processtest.Plan {
	return processtest.Plan{IgnoreTerm: true}
}

// testSpec is a unit with timings small enough for unit tests
func testSpec(name string) units.UnitSpec {
	return units.UnitSpec{
		Name: name,
		Execution: process.ExecutionConfig{
			ExecutablePath: "/usr/bin/" + name,
		},
		MinUptime:       20 * time.Millisecond,
		StopGracePeriod: 50 * time.Millisecond,
		Restart: units.RestartConfig{
			Policy:      units.RestartOnFailure,
			Delay:       time.Millisecond,
			BackoffRate: 1,
			MaxDelay:    10 * time.Millisecond,
			MaxRestarts: 3,
			Interval:    time.Minute,
		},
	}
}

func newTestUnit(spec units.UnitSpec, launcher process.Launcher) unitcontrol.UnitControl {
	return NewUnitControl(UnitControlOptions{Spec: spec, Launcher: launcher}, &SimpleLogger{})
}

// runUnit starts the lifecycle loop and returns a channel with its result
func runUnit(ctx context.Context, uc unitcontrol.UnitControl) <-chan error {
	result := make(chan error, 1)
	go func() { result <- uc.Run(ctx) }()
	return result
}

func waitForState(t *testing.T, uc unitcontrol.UnitControl, want unitcontrol.UnitState) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := uc.WaitFor(ctx, func(s unitcontrol.UnitState) bool { return s == want })
	require.NoError(t, err, "unit %s never reached %s, state: %s", uc.Name(), want, uc.GetState())
}

func waitForRun(t *testing.T, result <-chan error) {
	t.Helper()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func visitedStates(uc unitcontrol.UnitControl) []unitcontrol.UnitState {
	history := uc.(*unitControl).sm.GetTransitionHistory()
	states := make([]unitcontrol.UnitState, 0, len(history))
	for _, transition := range history {
		states = append(states, transition.To)
	}
	return states
}
