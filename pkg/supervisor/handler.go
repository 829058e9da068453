package supervisor

import (
	"context"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/unitcontrol"
)

// NewControlHandler exposes a supervisor through the operator contract.
// requestShutdown must not block.
func NewControlHandler(supervisor *Supervisor, requestShutdown func(), logger logging.Logger) domain.Contract {
	return &controlHandler{
		supervisor:      supervisor,
		requestShutdown: requestShutdown,
		logger:          logger,
	}
}

type controlHandler struct {
	supervisor      *Supervisor
	requestShutdown func()
	logger          logging.Logger
}

func (h *controlHandler) Status(ctx context.Context) (domain.SupervisorStatus, error) {
	statuses := h.supervisor.UnitStatuses()

	supervisorStatus := domain.SupervisorStatus{
		State:      string(h.supervisor.State()),
		Tiers:      h.supervisor.Tiers(),
		TotalUnits: len(statuses),
	}
	for _, status := range statuses {
		switch {
		case status.State == unitcontrol.UnitStateReady:
			supervisorStatus.ReadyUnits++
		case status.State == unitcontrol.UnitStateFailedPermanently, status.BlockedBy != "":
			supervisorStatus.FailedUnits++
		}
	}
	return supervisorStatus, nil
}

func (h *controlHandler) Units(ctx context.Context) ([]domain.UnitInfo, error) {
	statuses := h.supervisor.UnitStatuses()
	units := make([]domain.UnitInfo, 0, len(statuses))
	for _, status := range statuses {
		units = append(units, toUnitInfo(status))
	}
	return units, nil
}

func (h *controlHandler) Shutdown(ctx context.Context) error {
	h.logger.Infof("Shutdown requested by operator")
	h.requestShutdown()
	return nil
}

func toUnitInfo(status UnitStatus) domain.UnitInfo {
	info := domain.UnitInfo{
		Name:         status.Name,
		Tier:         status.Tier,
		State:        string(status.State),
		PID:          status.PID,
		InstanceID:   status.InstanceID,
		RestartCount: status.RestartCount,
		LastExitCode: status.LastExitCode,
		BlockedBy:    status.BlockedBy,
		StartTime:    status.StartTime,
		ReadyTime:    status.ReadyTime,
	}
	if status.LastError != nil {
		info.LastError = status.LastError.Error()
	}
	return info
}
