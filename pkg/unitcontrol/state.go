package unitcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// UnitState represents the current state of a unit in its lifecycle
type UnitState string

const (
	// UnitStatePending is the initial state, waiting for dependencies
	UnitStatePending UnitState = "pending"

	// UnitStateStarting means the process is being launched
	UnitStateStarting UnitState = "starting"

	// UnitStateRunning means the process is alive but younger than min uptime
	UnitStateRunning UnitState = "running"

	// UnitStateReady means the process stayed alive past min uptime
	UnitStateReady UnitState = "ready"

	// UnitStateStopping means a stop was requested and is in progress
	UnitStateStopping UnitState = "stopping"

	// UnitStateStopped is terminal: stopped on request or exited cleanly
	UnitStateStopped UnitState = "stopped"

	// UnitStateFailed means the process exited abnormally or could not be launched
	UnitStateFailed UnitState = "failed"

	// UnitStateRestarting means a restart was granted and the backoff delay runs
	UnitStateRestarting UnitState = "restarting"

	// UnitStateFailedPermanently is terminal: restarts are exhausted
	UnitStateFailedPermanently UnitState = "failed_permanently"
)

// IsTerminal reports whether no further transition can leave the state
func (s UnitState) IsTerminal() bool {
	return s == UnitStateStopped || s == UnitStateFailedPermanently
}

// HasProcess reports whether a live process belongs to the state
func (s UnitState) HasProcess() bool {
	return s == UnitStateRunning || s == UnitStateReady || s == UnitStateStopping
}

// UnitStateTransition represents a state transition with metadata
type UnitStateTransition struct {
	From      UnitState
	To        UnitState
	Operation string
	Timestamp time.Time
	Error     error
}

// StateChangeFunc observes every accepted transition
type StateChangeFunc func(unitName string, transition UnitStateTransition)

// StateMachine validates and records unit state transitions, and wakes
// waiters on every change
type StateMachine struct {
	unitName         string
	currentState     UnitState
	transitions      []UnitStateTransition
	validTransitions map[UnitState][]UnitState
	changed          chan struct{}
	onChange         StateChangeFunc
	mutex            sync.RWMutex
	logger           logging.Logger
}

// NewStateMachine creates a state machine in the pending state. onChange
// may be nil; it is called outside the machine's lock.
func NewStateMachine(unitName string, logger logging.Logger, onChange StateChangeFunc) *StateMachine {
	sm := &StateMachine{
		unitName:     unitName,
		currentState: UnitStatePending,
		transitions:  make([]UnitStateTransition, 0),
		changed:      make(chan struct{}),
		onChange:     onChange,
		logger:       logger,
	}

	sm.validTransitions = map[UnitState][]UnitState{
		UnitStatePending: {
			UnitStateStarting, // dependencies ready
			UnitStateStopping, // stopped before it ever ran
		},
		UnitStateStarting: {
			UnitStateRunning,  // launched
			UnitStateFailed,   // spawn failure
			UnitStateStopping, // stop during launch
		},
		UnitStateRunning: {
			UnitStateReady,    // min uptime reached
			UnitStateFailed,   // exit that triggers the restart policy
			UnitStateStopped,  // clean exit not restarted
			UnitStateStopping, // stop request
		},
		UnitStateReady: {
			UnitStateFailed,
			UnitStateStopped,
			UnitStateStopping,
		},
		UnitStateFailed: {
			UnitStateRestarting,        // limiter granted
			UnitStateFailedPermanently, // limiter denied, or policy never
			UnitStateStopping,          // stop arrived with the failure
		},
		UnitStateRestarting: {
			UnitStateStarting, // backoff elapsed
			UnitStateStopping, // stop during backoff
		},
		UnitStateStopping: {
			UnitStateStopped,
		},
	}

	return sm
}

// GetCurrentState returns the current state of the unit (thread-safe)
func (sm *StateMachine) GetCurrentState() UnitState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// CanTransition checks if a state transition is valid
func (sm *StateMachine) CanTransition(to UnitState) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.canTransitionUnsafe(to)
}

// Transition attempts to transition to a new state with validation
func (sm *StateMachine) Transition(to UnitState, operation string, err error) error {
	sm.mutex.Lock()

	from := sm.currentState

	if !sm.canTransitionUnsafe(to) {
		sm.mutex.Unlock()
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from %s to %s for operation %s", from, to, operation),
			nil,
		).WithContext("unit", sm.unitName).WithContext("current_state", string(from)).WithContext("target_state", string(to))
	}

	transition := UnitStateTransition{
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
		Error:     err,
	}

	sm.transitions = append(sm.transitions, transition)
	sm.currentState = to

	close(sm.changed)
	sm.changed = make(chan struct{})
	sm.mutex.Unlock()

	if err != nil {
		sm.logger.Warnf("Unit state transition, unit: %s, %s->%s, operation: %s, error: %v",
			sm.unitName, from, to, operation, err)
	} else {
		sm.logger.Infof("Unit state transition, unit: %s, %s->%s, operation: %s",
			sm.unitName, from, to, operation)
	}

	if sm.onChange != nil {
		sm.onChange(sm.unitName, transition)
	}

	return nil
}

// canTransitionUnsafe checks transition validity without locking (internal use)
func (sm *StateMachine) canTransitionUnsafe(to UnitState) bool {
	for _, validState := range sm.validTransitions[sm.currentState] {
		if validState == to {
			return true
		}
	}
	return false
}

// WaitFor blocks until pred holds for the current state or ctx is done
func (sm *StateMachine) WaitFor(ctx context.Context, pred func(UnitState) bool) (UnitState, error) {
	for {
		sm.mutex.RLock()
		state, changed := sm.currentState, sm.changed
		sm.mutex.RUnlock()

		if pred(state) {
			return state, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return state, errors.NewCancelledError("wait for unit state cancelled", ctx.Err()).
				WithContext("unit", sm.unitName).WithContext("current_state", string(state))
		}
	}
}

// GetTransitionHistory returns the complete transition history (thread-safe)
func (sm *StateMachine) GetTransitionHistory() []UnitStateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]UnitStateTransition, len(sm.transitions))
	copy(history, sm.transitions)
	return history
}
