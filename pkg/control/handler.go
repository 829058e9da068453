package control

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-supervisor/pkg/domain"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	registerControlServer(grpcServerRegistrar, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	supervisorStatus, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(err)
	}

	response := &structpb.Struct{}
	if err := toMessage(supervisorStatus, response); err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	h.logger.Debugf("Status server handler done")
	return response, nil
}

func (h *grpcServerHandler) Units(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	units, err := h.handler.Units(ctx)
	if err != nil {
		h.logger.Errorf("Units server handler: %v", err)
		return nil, toStatusError(err)
	}
	if units == nil {
		units = []domain.UnitInfo{}
	}

	response := &structpb.ListValue{}
	if err := toMessage(units, response); err != nil {
		h.logger.Errorf("Units server handler: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	h.logger.Debugf("Units server handler done, units: %d", len(units))
	return response, nil
}

func (h *grpcServerHandler) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := h.handler.Shutdown(ctx); err != nil {
		h.logger.Errorf("Shutdown server handler: %v", err)
		return nil, toStatusError(err)
	}
	h.logger.Infof("Shutdown requested through control service")
	return &emptypb.Empty{}, nil
}

// toMessage converts a JSON-tagged Go value into a well-known protobuf message
func toMessage(value interface{}, message proto.Message) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return protojson.Unmarshal(data, message)
}

// fromMessage converts a well-known protobuf message back into a Go value
func fromMessage(message proto.Message, value interface{}) error {
	data, err := protojson.Marshal(message)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}

func toStatusError(err error) error {
	switch {
	case errors.IsNotFoundError(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.IsConflictError(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.IsTimeoutError(err):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.IsCancelledError(err):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
