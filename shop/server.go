package shop

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// RegisterFunc registers gRPC services on a server.
type RegisterFunc func(*grpc.Server)

// ServerConfig configures a gRPC server.
type ServerConfig struct {
	Name    string
	Address string
}

// RunServer starts a gRPC server with health checks.
//
// Blocks until ctx is cancelled or the server fails. Cancellation triggers a
// graceful stop.
func RunServer(ctx context.Context, logger *zap.Logger, cfg ServerConfig, register RegisterFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}
	return Serve(ctx, logger, lis, cfg, register)
}

// Serve runs the gRPC server on an existing listener.
func Serve(ctx context.Context, logger *zap.Logger, lis net.Listener, cfg ServerConfig, register RegisterFunc) error {
	s := grpc.NewServer()
	register(s)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	logger.Info("grpc server started",
		zap.String("name", cfg.Name),
		zap.String("address", lis.Addr().String()),
	)

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		s.GracefulStop()
	}()

	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}
