// Package health exposes the gateway's radio link state over the standard
// gRPC health checking protocol.
package health

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceRadio is the health service name tracking the radio link
const ServiceRadio = "meshgate.radio"

// DefaultListen is the default health listen address
const DefaultListen = "127.0.0.1:9090"

// ErrAlreadyStarted is returned by Start when the server is running
var ErrAlreadyStarted = errors.New("health server already started")

// Server is a gRPC server carrying only the health service. The radio
// service starts NOT_SERVING and follows the link state.
type Server struct {
	listen string
	logger *slog.Logger
	grpc   *grpc.Server
	health *grpchealth.Server

	mu       sync.Mutex
	listener net.Listener
	started  bool
	stopped  bool
	done     chan struct{}
}

// New creates a health server for listen.
func New(listen string, logger *slog.Logger) *Server {
	if listen == "" {
		listen = DefaultListen
	}
	if logger == nil {
		logger = slog.Default()
	}

	hs := grpchealth.NewServer()
	hs.SetServingStatus(ServiceRadio, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		listen: listen,
		logger: logger.With("component", "health"),
		grpc:   gs,
		health: hs,
		done:   make(chan struct{}),
	}
}

// SetRadioServing reports the radio link as up or down.
func (s *Server) SetRadioServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceRadio, status)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.listen, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		lis.Close()
		return ErrAlreadyStarted
	}
	s.started = true
	s.listener = lis

	go func() {
		defer close(s.done)
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("health server stopped", "error", err)
		}
	}()
	s.logger.Info("health server listening", "addr", lis.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listen
}

// Stop marks every service NOT_SERVING and stops the server. It is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if started {
		<-s.done
	}
}
