package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (domain.SupervisorStatus, error) {
	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, statusMethod, &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return domain.SupervisorStatus{}, errors.NewNetworkError("status call failed", err)
	}

	var supervisorStatus domain.SupervisorStatus
	if err := fromMessage(response, &supervisorStatus); err != nil {
		return domain.SupervisorStatus{}, errors.NewInternalError("failed to decode status", err)
	}
	gw.logger.Debugf("Status client gateway done")
	return supervisorStatus, nil
}

func (gw *grpcClientGateway) Units(ctx context.Context) ([]domain.UnitInfo, error) {
	response := &structpb.ListValue{}
	if err := gw.conn.Invoke(ctx, unitsMethod, &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("Units client gateway: %v", err)
		return nil, errors.NewNetworkError("units call failed", err)
	}

	var units []domain.UnitInfo
	if err := fromMessage(response, &units); err != nil {
		return nil, errors.NewInternalError("failed to decode units", err)
	}
	gw.logger.Debugf("Units client gateway done, units: %d", len(units))
	return units, nil
}

func (gw *grpcClientGateway) Shutdown(ctx context.Context) error {
	if err := gw.conn.Invoke(ctx, shutdownMethod, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		gw.logger.Errorf("Shutdown client gateway: %v", err)
		return errors.NewNetworkError("shutdown call failed", err)
	}
	gw.logger.Debugf("Shutdown client gateway done")
	return nil
}
