package domain

import (
	"context"
	"time"
)

// Contract is the operator surface of a running supervisor
type Contract interface {
	Status(ctx context.Context) (SupervisorStatus, error)
	Units(ctx context.Context) ([]UnitInfo, error)
	// Shutdown requests an orderly shutdown and returns without waiting for it
	Shutdown(ctx context.Context) error
}

type SupervisorStatus struct {
	State      string     `json:"state"`
	Tiers      [][]string `json:"tiers"`
	TotalUnits int        `json:"total_units"`
	ReadyUnits int        `json:"ready_units"`
	// Units that failed permanently or are blocked by one
	FailedUnits int `json:"failed_units"`
}

type UnitInfo struct {
	Name         string     `json:"name"`
	Tier         int        `json:"tier"`
	State        string     `json:"state"`
	PID          int        `json:"pid,omitempty"`
	InstanceID   string     `json:"instance_id,omitempty"`
	RestartCount int        `json:"restart_count"`
	LastExitCode *int       `json:"last_exit_code,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	BlockedBy    string     `json:"blocked_by,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	ReadyTime    *time.Time `json:"ready_time,omitempty"`
}
