package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/core-tools/hsu-supervisor/pkg/depgraph"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrol"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrolimpl"
	"github.com/core-tools/hsu-supervisor/pkg/units"
)

// Grace period given to unit goroutines once every unit has been stopped
const goroutineStopGrace = time.Second

type SupervisorOptions struct {
	Launcher             process.Launcher
	ForceShutdownTimeout time.Duration
}

// SupervisorState represents the current state of the supervisor
type SupervisorState string

const (
	// SupervisorStateNotStarted is the initial state before Start is called
	SupervisorStateNotStarted SupervisorState = "not_started"

	// SupervisorStateStarting means tiers are being brought up
	SupervisorStateStarting SupervisorState = "starting"

	// SupervisorStateRunning means every tier has settled
	SupervisorStateRunning SupervisorState = "running"

	// SupervisorStateStopping means units are being stopped in reverse tier order
	SupervisorStateStopping SupervisorState = "stopping"

	// SupervisorStateStopped means every unit is terminal
	SupervisorStateStopped SupervisorState = "stopped"
)

// UnitStatus is the externally visible status of one unit
type UnitStatus struct {
	unitcontrol.UnitDiagnostics
	Tier  int      `json:"tier"`
	After []string `json:"after,omitempty"`
}

type unitEntry struct {
	control unitcontrol.UnitControl
	tier    int
	after   []string
}

// Supervisor brings the units of a registry up tier by tier and takes
// them down in reverse order
type Supervisor struct {
	options SupervisorOptions
	graph   *depgraph.Graph
	logger  logging.Logger
	units   map[string]*unitEntry

	mutex        sync.Mutex
	state        SupervisorState
	sctx         *stopper.Context
	startCancel  context.CancelFunc
	startDone    chan struct{}
	shutdownDone chan struct{}
	shutdownErr  error

	// Closed and replaced whenever any unit changes state
	changeMutex sync.Mutex
	changed     chan struct{}
}

// NewSupervisor resolves the start order of the registry. A dependency
// cycle fails here, before any process exists.
func NewSupervisor(registry *units.Registry, options SupervisorOptions, logger logging.Logger) (*Supervisor, error) {
	if registry == nil {
		return nil, errors.NewConfigError("registry cannot be nil", nil)
	}
	if options.Launcher == nil {
		return nil, errors.NewValidationError("launcher cannot be nil", nil)
	}
	if options.ForceShutdownTimeout <= 0 {
		options.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}

	graph, err := depgraph.Resolve(registry.Dependencies())
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		options: options,
		graph:   graph,
		logger:  logger,
		units:   make(map[string]*unitEntry, registry.Len()),
		state:   SupervisorStateNotStarted,
		changed: make(chan struct{}),
	}

	for _, spec := range registry.Specs() {
		tier, _ := graph.TierOf(spec.Name)
		control := unitcontrolimpl.NewUnitControl(unitcontrolimpl.UnitControlOptions{
			Spec:          spec,
			Launcher:      options.Launcher,
			OnStateChange: s.onUnitStateChange,
		}, logger)

		s.units[spec.Name] = &unitEntry{
			control: control,
			tier:    tier,
			after:   graph.Dependencies(spec.Name),
		}
	}

	logger.Infof("Supervisor created, units: %d, tiers: %s", len(s.units), formatTiers(graph.Tiers()))
	return s, nil
}

// Start launches the units tier by tier. Each tier must settle, meaning
// every unit in it has been ready or can no longer become ready, before
// the next tier is launched. Start returns once the last tier settles or
// ctx ends; units keep running afterwards until Shutdown.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.state != SupervisorStateNotStarted {
		state := s.state
		s.mutex.Unlock()
		return errors.NewConflictError("supervisor was already started", nil).WithContext("state", string(state))
	}
	startCtx, cancel := context.WithCancel(ctx)
	startDone := make(chan struct{})
	s.state = SupervisorStateStarting
	s.startCancel = cancel
	s.startDone = startDone
	// Unit loops outlive ctx; they end through Shutdown
	s.sctx = stopper.WithContext(context.Background())
	s.mutex.Unlock()

	defer close(startDone)
	defer cancel()

	s.logger.Infof("Starting supervisor...")

	for i, tier := range s.graph.Tiers() {
		if err := startCtx.Err(); err != nil {
			return errors.NewCancelledError("supervisor start was cancelled", err).WithContext("tier", i)
		}

		s.logger.Infof("Starting tier %d: %s", i, strings.Join(tier, ", "))
		for _, name := range tier {
			s.launchUnit(s.units[name])
		}

		if err := s.awaitTier(startCtx, tier); err != nil {
			return errors.NewCancelledError("supervisor start was cancelled", err).WithContext("tier", i)
		}
		s.logger.Infof("Tier %d settled: %s", i, s.describeUnits(tier))
	}

	s.mutex.Lock()
	if s.state == SupervisorStateStarting {
		s.state = SupervisorStateRunning
	}
	s.mutex.Unlock()

	s.logger.Infof("Supervisor started, all tiers settled")
	return nil
}

// launchUnit runs the unit lifecycle in its own goroutine once all of its
// dependencies are ready
func (s *Supervisor) launchUnit(entry *unitEntry) {
	s.sctx.Go(func(sctx *stopper.Context) error {
		if !s.awaitDependencies(sctx, entry) {
			return nil
		}
		return entry.control.Run(sctx)
	})
}

// awaitDependencies blocks until every dependency is ready at the same
// time. It reports false when the unit must not start: a dependency
// ended or is itself blocked, the unit was stopped, or the supervisor is
// stopping.
func (s *Supervisor) awaitDependencies(sctx *stopper.Context, entry *unitEntry) bool {
	if len(entry.after) == 0 {
		return true
	}

	for {
		changed := s.changes()

		if entry.control.GetState().IsTerminal() {
			return false
		}

		allReady := true
		for _, dep := range entry.after {
			depControl := s.units[dep].control
			depState := depControl.GetState()
			if depState == unitcontrol.UnitStateReady {
				continue
			}
			allReady = false

			if depState.IsTerminal() || depControl.BlockedBy() != "" {
				entry.control.MarkBlocked(dep)
				s.notify()
				return false
			}
		}
		if allReady {
			return true
		}

		select {
		case <-changed:
		case <-sctx.Stopping():
			return false
		case <-sctx.Done():
			return false
		}
	}
}

// awaitTier blocks until every unit in the tier has settled
func (s *Supervisor) awaitTier(ctx context.Context, tier []string) error {
	for {
		changed := s.changes()

		settled := true
		for _, name := range tier {
			if !isSettled(s.units[name].control) {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isSettled(control unitcontrol.UnitControl) bool {
	return control.HasBeenReady() || control.GetState().IsTerminal() || control.BlockedBy() != ""
}

// Shutdown stops the units in strictly reverse tier order. A tier is
// signalled only after every unit of the later tiers is terminal. Units
// within a tier are stopped concurrently. A running Start is cancelled
// first. Concurrent calls wait for the same shutdown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mutex.Lock()
	if s.shutdownDone != nil {
		done := s.shutdownDone
		s.mutex.Unlock()
		select {
		case <-done:
			return s.shutdownErr
		case <-ctx.Done():
			return errors.NewTimeoutError("supervisor shutdown did not finish in time", ctx.Err())
		}
	}
	shutdownDone := make(chan struct{})
	s.shutdownDone = shutdownDone
	s.state = SupervisorStateStopping
	startCancel := s.startCancel
	startDone := s.startDone
	sctx := s.sctx
	s.mutex.Unlock()

	s.logger.Infof("Stopping supervisor...")

	if startCancel != nil {
		startCancel()
		<-startDone
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.ForceShutdownTimeout)
	defer cancel()

	errorCollection := errors.NewErrorCollection()
	tiers := s.graph.Tiers()
	for i := len(tiers) - 1; i >= 0; i-- {
		s.logger.Infof("Stopping tier %d: %s", i, strings.Join(tiers[i], ", "))
		s.stopTier(ctx, tiers[i], errorCollection)
	}

	if sctx != nil {
		sctx.Stop(goroutineStopGrace)
		if err := sctx.Wait(); err != nil {
			s.logger.Errorf("Unit goroutine ended with error: %v", err)
			errorCollection.Add(err)
		}
	}

	if errorCollection.HasErrors() {
		s.logger.Errorf("Some units failed to stop: %v", errorCollection.Error())
	}

	s.mutex.Lock()
	s.state = SupervisorStateStopped
	s.shutdownErr = errorCollection.ToError()
	s.mutex.Unlock()
	close(shutdownDone)

	s.logger.Infof("Supervisor stopped")
	return s.shutdownErr
}

func (s *Supervisor) stopTier(ctx context.Context, tier []string, errorCollection *errors.ErrorCollection) {
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for _, name := range tier {
		control := s.units[name].control
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := control.Stop(ctx); err != nil {
				s.logger.Errorf("Failed to stop unit, name: %s, error: %v", name, err)
				mutex.Lock()
				errorCollection.Add(errors.NewProcessError("failed to stop unit", err).WithContext("unit", name))
				mutex.Unlock()
			}
		}()
	}

	wg.Wait()
}

// State returns the current state of the supervisor
func (s *Supervisor) State() SupervisorState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Tiers returns the start order
func (s *Supervisor) Tiers() [][]string {
	return s.graph.Tiers()
}

// UnitStatuses returns the status of every unit in start order
func (s *Supervisor) UnitStatuses() []UnitStatus {
	nodes := s.graph.Nodes()
	statuses := make([]UnitStatus, 0, len(nodes))
	for _, name := range nodes {
		statuses = append(statuses, s.unitStatus(s.units[name]))
	}
	return statuses
}

// UnitStatus returns the status of the named unit
func (s *Supervisor) UnitStatus(name string) (UnitStatus, error) {
	entry, exists := s.units[name]
	if !exists {
		return UnitStatus{}, errors.NewNotFoundError("unit not found", nil).WithContext("unit", name)
	}
	return s.unitStatus(entry), nil
}

func (s *Supervisor) unitStatus(entry *unitEntry) UnitStatus {
	return UnitStatus{
		UnitDiagnostics: entry.control.GetDiagnostics(),
		Tier:            entry.tier,
		After:           append([]string(nil), entry.after...),
	}
}

// WaitForUnit blocks until the named unit satisfies pred
func (s *Supervisor) WaitForUnit(ctx context.Context, name string, pred func(unitcontrol.UnitState) bool) (unitcontrol.UnitState, error) {
	entry, exists := s.units[name]
	if !exists {
		return "", errors.NewNotFoundError("unit not found", nil).WithContext("unit", name)
	}
	return entry.control.WaitFor(ctx, pred)
}

func (s *Supervisor) onUnitStateChange(unitName string, transition unitcontrol.UnitStateTransition) {
	s.notify()
}

func (s *Supervisor) notify() {
	s.changeMutex.Lock()
	defer s.changeMutex.Unlock()
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Supervisor) changes() <-chan struct{} {
	s.changeMutex.Lock()
	defer s.changeMutex.Unlock()
	return s.changed
}

func (s *Supervisor) describeUnits(names []string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		control := s.units[name].control
		if blockedBy := control.BlockedBy(); blockedBy != "" {
			parts = append(parts, fmt.Sprintf("%s=blocked by %s", name, blockedBy))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, control.GetState()))
	}
	return strings.Join(parts, ", ")
}

func formatTiers(tiers [][]string) string {
	parts := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		parts = append(parts, "["+strings.Join(tier, " ")+"]")
	}
	return strings.Join(parts, " ")
}
