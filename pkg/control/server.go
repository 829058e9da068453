package control

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// The control service never leaves the host
const loopbackHost = "127.0.0.1"

type ServerOptions struct {
	Port int
}

// Server hosts the control service on a loopback listener
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	logger     logging.Logger
	done       chan struct{}
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	address := net.JoinHostPort(loopbackHost, fmt.Sprintf("%d", options.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen", err).WithContext("address", address)
	}
	return NewServerOnListener(listener, logger), nil
}

// NewServerOnListener serves on an existing listener
func NewServerOnListener(listener net.Listener, logger logging.Logger) *Server {
	return &Server{
		grpcServer: grpc.NewServer(),
		listener:   listener,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Start() {
	s.logger.Infof("Control service listening on %s", s.listener.Addr())
	go func() {
		defer close(s.done)
		if err := s.grpcServer.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
			s.logger.Errorf("Control service stopped with error: %v", err)
		}
	}()
}

// Shutdown drains in-flight calls, cutting them off when ctx ends
func (s *Server) Shutdown(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warnf("Control service did not drain in time, stopping")
		s.grpcServer.Stop()
		<-stopped
	}
	<-s.done
	s.logger.Infof("Control service stopped")
}

// Dial connects to a control service on the loopback interface
func Dial(ctx context.Context, port int) (*grpc.ClientConn, error) {
	address := net.JoinHostPort(loopbackHost, fmt.Sprintf("%d", port))
	conn, err := grpc.DialContext(ctx, address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, errors.NewNetworkError("failed to connect to control service", err).WithContext("address", address)
	}
	return conn, nil
}
