package unitcontrol

import (
	"context"
	"time"
)

// UnitControl supervises the process of one unit. Its runtime state is
// mutated only by its own lifecycle loop; every other caller reads
// snapshots.
type UnitControl interface {
	Name() string

	// Run drives the unit from pending until it is stopped or failed
	// permanently. Call it once, when every dependency is ready.
	Run(ctx context.Context) error

	// Stop requests termination and waits until the unit is stopped,
	// the unit ends in another terminal state, or ctx is done. A unit
	// that never ran goes straight to stopped.
	Stop(ctx context.Context) error

	// MarkBlocked records that a dependency can no longer become ready.
	// The unit stays pending.
	MarkBlocked(dependency string)

	// BlockedBy returns the dependency recorded by MarkBlocked
	BlockedBy() string

	// HasBeenReady reports whether the unit reached ready at least once
	HasBeenReady() bool

	GetState() UnitState

	// WaitFor blocks until pred holds for the unit state or ctx is done
	WaitFor(ctx context.Context, pred func(UnitState) bool) (UnitState, error)

	GetDiagnostics() UnitDiagnostics
}

// UnitDiagnostics is a point-in-time snapshot of a unit's runtime state
type UnitDiagnostics struct {
	Name         string
	State        UnitState
	PID          int    // 0 without a live process
	InstanceID   string // launch ID of the current or last process
	LastExitCode *int
	RestartCount int

	// Restart timestamps inside the current rate-limit window
	RestartWindow []time.Time

	StartTime *time.Time
	ReadyTime *time.Time
	LastError error
	BlockedBy string
}
