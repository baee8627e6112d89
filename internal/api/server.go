// Package api provides the gRPC server for regimetrader, exposing Monte Carlo
// simulation, experiment lookup and the latest-signal endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"regimetrader/internal/config"
)

// Server hosts the Simulator gRPC service.
type Server struct {
	cfg      *config.Config
	grpcAddr string
	svc      SimulatorServer
	logger   *slog.Logger
	grpc     *grpc.Server
}

// NewServer creates a new Server configured from the given Config.
func NewServer(cfg *config.Config, svc SimulatorServer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	RegisterSimulatorServer(gs, svc)
	return &Server{
		cfg:      cfg,
		grpcAddr: cfg.Server.Addr(),
		svc:      svc,
		logger:   logger,
		grpc:     gs,
	}
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.grpcAddr
}

// ListenAndServe listens on the configured address and serves until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc server listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc server shutting down")
		s.grpc.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting new RPCs and waits for in-flight ones, or stops
// immediately when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
