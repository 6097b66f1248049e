// Package httpapi serves the gateway's local HTTP API.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/meshgate/internal/auth"
	"github.com/rmacdonaldsmith/meshgate/internal/packetlog"
	"github.com/rmacdonaldsmith/meshgate/internal/pipe"
)

// DefaultListen is the default API listen address
const DefaultListen = "127.0.0.1:8090"

var (
	// ErrNilRadio is returned when no radio is provided
	ErrNilRadio = errors.New("radio cannot be nil")
	// ErrAlreadyStarted is returned by Start when the server is running
	ErrAlreadyStarted = errors.New("http api already started")
)

// Config holds server configuration
type Config struct {
	Listen    string
	SecretKey string

	// NoAuth bypasses authentication on non-admin endpoints
	NoAuth bool

	Logger *slog.Logger
}

// Deps are the gateway components the API exposes
type Deps struct {
	Radio    Radio
	Packets  *packetlog.Log
	Commands pipe.LineHandler
	Status   StatusFunc
}

// Server represents the HTTP API server
type Server struct {
	jwtAuth    *auth.JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *slog.Logger

	// ctx bounds commands accepted over HTTP; cancelled by Stop
	ctx      context.Context
	cancel   context.CancelFunc
	commands sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a new HTTP API server
func NewServer(deps Deps, config Config) (*Server, error) {
	if deps.Radio == nil {
		return nil, ErrNilRadio
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	var jwtAuth *auth.JWTAuth
	if config.SecretKey != "" {
		a, err := auth.NewJWTAuth(config.SecretKey, 0)
		if err != nil {
			return nil, err
		}
		jwtAuth = a
	} else if !config.NoAuth {
		return nil, fmt.Errorf("api secret required: %w", auth.ErrEmptySecret)
	}

	if deps.Status == nil {
		deps.Status = func() HealthResponse { return HealthResponse{Healthy: true} }
	}
	if deps.Commands == nil {
		deps.Commands = &pipe.CommandHandler{Logger: logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jwtAuth:    jwtAuth,
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.handlers = &Handlers{
		radio:      deps.Radio,
		packets:    deps.Packets,
		commands:   deps.Commands,
		status:     deps.Status,
		logger:     logger,
		background: s.runCommand,
	}

	s.server = &http.Server{
		Addr:           config.Listen,
		Handler:        s.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyStarted
	}
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.server.Addr, err)
	}
	s.listener = lis
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http api stopped", "error", err)
		}
	}()
	s.logger.Info("http api listening", "addr", lis.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop gracefully stops the HTTP server and cancels running commands
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.commands.Wait()
	return err
}

func (s *Server) runCommand(line string) {
	s.commands.Add(1)
	go func() {
		defer s.commands.Done()
		if err := s.handlers.commands.HandleLine(s.ctx, line); err != nil {
			s.logger.Error("command failed", "line", line, "error", err)
		}
	}()
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.method(http.MethodGet, s.handlers.Health)))

	// Radio endpoints (auth required)
	mux.Handle("/api/v1/messages", withMiddleware(s.middleware.AuthRequired(s.method(http.MethodPost, s.handlers.SendMessage))))
	mux.Handle("/api/v1/nodes/{id}", withMiddleware(s.middleware.AuthRequired(s.method(http.MethodGet, s.handlers.GetNode))))
	mux.Handle("/api/v1/packets", withMiddleware(s.middleware.AuthRequired(s.method(http.MethodGet, s.handlers.ListPackets))))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/commands", withMiddleware(s.middleware.AdminRequired(s.method(http.MethodPost, s.handlers.RunCommand))))

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// method rejects requests with any other HTTP method
func (s *Server) method(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "meshgate HTTP API",
		"description": "Local control API for the Meshtastic gateway",
		"endpoints": map[string]interface{}{
			"health":   "GET /api/v1/health",
			"messages": "POST /api/v1/messages",
			"nodes":    "GET /api/v1/nodes/{id}",
			"packets":  "GET /api/v1/packets?offset={offset}&limit={limit}",
			"admin": map[string]string{
				"commands": "POST /api/v1/commands",
			},
		},
		"authentication": "Bearer JWT token required for all endpoints except health",
	}

	writeJSON(w, info, http.StatusOK)
}
