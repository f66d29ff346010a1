package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/api"
	"github.com/Joe3124t/pingy-sub002/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported alongside "".
const HealthService = "pingy.Daemon"

// Server owns the public HTTP listener and the gRPC health server on the
// data dir's Unix domain socket.
type Server struct {
	httpServer *http.Server
	httpLn     net.Listener
	baseCancel context.CancelFunc

	grpcServer *grpc.Server
	health     *health.Server
	grpcLn     net.Listener
	socketPath string

	logger *zap.Logger
}

// NewServer binds both listeners. The health status follows the state machine.
func NewServer(p Params, apiServer *api.Server, machine *status.Machine, logger *zap.Logger) (*Server, error) {
	socketPath := p.Config.SocketPath()

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	grpcLn, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = grpcLn.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	httpLn, err := net.Listen("tcp", p.Config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, fmt.Errorf("listen http: %w", err)
	}

	hs := health.NewServer()
	machine.OnChange(func(s status.State) {
		hs.SetServingStatus("", s.ServingStatus())
		hs.SetServingStatus(HealthService, s.ServingStatus())
	})
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	// WebSocket handlers run on hijacked connections that Shutdown does not
	// track; cancelling the base context is what ends them.
	baseCtx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return &Server{
		httpServer: httpServer,
		httpLn:     httpLn,
		baseCancel: cancel,
		grpcServer: srv,
		health:     hs,
		grpcLn:     grpcLn,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	return s.httpLn.Addr().String()
}

// SocketPath returns the health socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start serves HTTP and gRPC in the background.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.HTTPAddr()))
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.logger.Info("gRPC health server starting", zap.String("socket", s.socketPath))
	go func() {
		if err := s.grpcServer.Serve(s.grpcLn); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop reports NOT_SERVING, drains HTTP, then stops gRPC and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	s.logger.Info("http server stopping")
	s.baseCancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
		_ = s.httpServer.Close()
	}

	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
