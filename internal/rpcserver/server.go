package rpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps a grpc.Server with the ambient concerns every listener in
// this process needs — panic recovery, structured access logging, and
// health/reflection — so that mounting the generated swap/internal service
// bindings is the only thing left for the caller to do.
type Server struct {
	name     string
	listener net.Listener
	server   *grpc.Server
	health   *health.Server
}

// GRPCServer returns the underlying *grpc.Server so the caller can register
// the generated swap/internal service bindings on it before calling Serve.
func (s *Server) GRPCServer() *grpc.Server {
	return s.server
}

// NewServer builds a Server bound to addr. name is used only in log lines
// ("public", "internal") to tell the two listeners apart.
func NewServer(name, addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcserver: listen on %s: %w", addr, err)
	}

	healthServer := health.NewServer()

	grpcServer := grpc.NewServer(
		grpc_middleware.WithUnaryServerChain(
			loggingInterceptor(name),
			grpc_recovery.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &Server{name: name, listener: listener, server: grpcServer, health: healthServer}, nil
}

// Serve blocks accepting connections until the listener is closed (via
// Stop) or the underlying accept loop fails.
func (s *Server) Serve() error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	slog.Info("rpc server listening", "server", s.name, "addr", s.listener.Addr())
	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("rpcserver: %s: serve: %w", s.name, err)
	}
	return nil
}

// Stop gracefully drains in-flight RPCs and closes the listener.
func (s *Server) Stop() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.server.GracefulStop()
}

// loggingInterceptor logs every unary RPC call's method, duration, and
// outcome at the level its status code warrants.
func loggingInterceptor(serverName string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{"server", serverName, "method", info.FullMethod, "duration", time.Since(start)}
		if err != nil {
			slog.Error("rpc call failed", append(attrs, "error", err)...)
		} else {
			slog.Debug("rpc call completed", attrs...)
		}
		return resp, err
	}
}
