// Package gateway wires the radio connection, the pipes, the bridge and the
// local servers into one running process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/meshgate/internal/bridge"
	"github.com/rmacdonaldsmith/meshgate/internal/codec"
	"github.com/rmacdonaldsmith/meshgate/internal/config"
	"github.com/rmacdonaldsmith/meshgate/internal/connection"
	"github.com/rmacdonaldsmith/meshgate/internal/driver/stream"
	"github.com/rmacdonaldsmith/meshgate/internal/eventbus"
	"github.com/rmacdonaldsmith/meshgate/internal/health"
	"github.com/rmacdonaldsmith/meshgate/internal/httpapi"
	"github.com/rmacdonaldsmith/meshgate/internal/packetlog"
	"github.com/rmacdonaldsmith/meshgate/internal/pipe"
	"github.com/rmacdonaldsmith/meshgate/internal/sink"
	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// DefaultStopTimeout bounds Close
const DefaultStopTimeout = 10 * time.Second

var (
	// ErrNilConfig is returned when Options carry no configuration
	ErrNilConfig = errors.New("config cannot be nil")
	// ErrClosed is returned by Start after Stop or Close
	ErrClosed = errors.New("gateway closed")
)

// Options configure a Gateway. Only Config is required.
type Options struct {
	Config *config.Config

	// Dialer opens the radio; nil selects the Meshtastic stream driver
	Dialer radio.Dialer

	// Publisher receives encoded packets; nil builds one from Config.Sink
	Publisher sink.Publisher

	// ResetDB runs for the reset_db command
	ResetDB func(ctx context.Context) error

	// StartedAt is the process start time; zero means now
	StartedAt time.Time

	Logger *slog.Logger
}

// Gateway owns every component of a running gateway.
type Gateway struct {
	config    *config.Config
	logger    *slog.Logger
	startedAt time.Time

	conn      *connection.Connection
	bus       *eventbus.Bus
	bridge    *bridge.Bridge
	packets   *packetlog.Log
	publisher sink.Publisher
	commands  *pipe.CommandHandler
	health    *health.Server
	api       *httpapi.Server
	ingestors []*pipe.Ingestor

	errs chan error

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// New builds a Gateway from opts. Nothing is opened until Start.
func New(opts Options) (*Gateway, error) {
	if opts.Config == nil {
		return nil, ErrNilConfig
	}
	cfg := opts.Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	startedAt := opts.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	g := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		startedAt: startedAt,
		errs:      make(chan error, 2),
	}

	c, err := codec.ByName(cfg.Bridge.Format)
	if err != nil {
		return nil, err
	}

	g.publisher = opts.Publisher
	if g.publisher == nil {
		p, err := sink.New(cfg.SinkConfig(c.ContentType()), logger)
		if err != nil {
			return nil, err
		}
		g.publisher = p
	}

	g.packets = packetlog.New(cfg.Bridge.PacketLogSize)
	g.bus = eventbus.New(cfg.Bridge.BusBuffer, eventbus.WithLogger(logger))

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithPacketLog(g.packets),
		bridge.WithPublishTimeout(cfg.Bridge.PublishTimeout),
	}
	if cfg.Health.Enabled {
		g.health = health.New(cfg.Health.Listen, logger)
		bridgeOpts = append(bridgeOpts, bridge.WithStatusReporter(g.health))
	}
	g.bridge, err = bridge.New(c, g.publisher, bridgeOpts...)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = stream.NewDialer(stream.Config{Baud: cfg.Meshtastic.Baud, Logger: logger}, nil)
	}
	g.conn, err = connection.New(connection.Config{
		DevicePath:  cfg.Meshtastic.Device,
		RebootDelay: cfg.Meshtastic.RebootDelay,
		RebootGrace: cfg.Meshtastic.RebootGrace,
	}, dialer, g.bus.Sink(), startedAt, connection.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	resetDB := opts.ResetDB
	if resetDB == nil {
		resetDB = func(ctx context.Context) error {
			g.logger.Warn("reset_db requested but no node database is configured")
			return nil
		}
	}
	g.commands = &pipe.CommandHandler{
		Reboot:  g.conn.Reboot,
		ResetDB: resetDB,
		Logger:  logger.With("component", "commands"),
	}

	if cfg.API.Enabled {
		g.api, err = httpapi.NewServer(httpapi.Deps{
			Radio:    g.conn,
			Packets:  g.packets,
			Commands: g.commands,
			Status:   g.Status,
		}, httpapi.Config{
			Listen:    cfg.API.Listen,
			SecretKey: cfg.API.Secret,
			NoAuth:    cfg.API.NoAuth,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Meshtastic.PipesEnabled() {
		g.ingestors = []*pipe.Ingestor{
			{
				Name:    "message",
				Path:    cfg.Meshtastic.FIFO,
				Handler: pipe.MessageHandler(g.conn),
				Stop:    g.conn.Done(),
				Logger:  logger,
			},
			{
				Name:    "command",
				Path:    cfg.Meshtastic.FIFOCmd,
				Handler: g.commands,
				Stop:    g.conn.Done(),
				Logger:  logger,
			},
		}
	}

	return g, nil
}

// Start connects to the radio, then starts the pipes and servers. A failed
// connect is not retried and leaves nothing running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if g.started {
		return nil // Already started, idempotent
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.unsubscribe = g.bus.Subscribe(g.bridge)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.bus.Run(runCtx)
	}()

	if g.health != nil {
		if err := g.health.Start(); err != nil {
			g.abort(cancel)
			return err
		}
	}

	g.logger.Info("connecting to radio", "device", g.config.Meshtastic.Device)
	if err := g.conn.Connect(ctx); err != nil {
		g.abort(cancel)
		return err
	}

	if g.api != nil {
		if err := g.api.Start(); err != nil {
			g.abort(cancel)
			return err
		}
	}

	for _, ing := range g.ingestors {
		g.wg.Add(1)
		go func(ing *pipe.Ingestor) {
			defer g.wg.Done()
			err := ing.Run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				select {
				case g.errs <- fmt.Errorf("%s pipe: %w", ing.Name, err):
				default:
				}
			}
		}(ing)
	}

	g.cancel = cancel
	g.started = true
	g.logger.Info("gateway started",
		"pipes", len(g.ingestors) > 0,
		"api", g.api != nil,
		"health", g.health != nil)
	return nil
}

// abort undoes a partial Start. Called with mu held.
func (g *Gateway) abort(cancel context.CancelFunc) {
	g.conn.Shutdown()
	cancel()
	g.wg.Wait()
	g.unsubscribe()
	if g.health != nil {
		g.health.Stop()
	}
	g.conn.Close()
	g.publisher.Close()
	g.packets.Close()
	g.closed = true
}

// Errors reports pipes that failed while running.
func (g *Gateway) Errors() <-chan error {
	return g.errs
}

// Stop shuts everything down in reverse start order. The gateway cannot be
// restarted afterwards.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil // Not started, idempotent
	}
	g.started = false
	g.closed = true

	g.logger.Info("stopping gateway")
	g.conn.Shutdown()

	var errs []error
	if g.api != nil {
		if err := g.api.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http api: %w", err))
		}
	}

	g.cancel()
	g.wg.Wait()
	g.unsubscribe()

	if err := g.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close radio: %w", err))
	}
	if g.health != nil {
		g.health.Stop()
	}
	if err := g.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	g.packets.Close()

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

// Close stops the gateway within DefaultStopTimeout and marks it closed.
func (g *Gateway) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultStopTimeout)
	defer cancel()
	err := g.Stop(ctx)

	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return err
}

// Status reports gateway health for the HTTP API.
func (g *Gateway) Status() httpapi.HealthResponse {
	stats := g.bridge.Stats()
	resp := httpapi.HealthResponse{
		Connected:        g.conn.Connected(),
		Device:           g.conn.DevicePath(),
		Generation:       g.conn.Generation(),
		StartedAt:        g.startedAt,
		Uptime:           time.Since(g.startedAt).Round(time.Second).String(),
		PacketsReceived:  stats.Received,
		PacketsForwarded: stats.Forwarded,
		PublishErrors:    stats.PublishErrors,
		DroppedEvents:    g.conn.DroppedEvents() + g.bus.Stats().Dropped,
	}
	switch {
	case g.conn.Exiting():
		resp.Message = "shutting down"
	case !resp.Connected:
		resp.Message = "radio not connected"
	default:
		resp.Healthy = true
		resp.Message = "ok"
	}
	return resp
}

// Connection returns the radio connection.
func (g *Gateway) Connection() *connection.Connection {
	return g.conn
}

// Packets returns the received packet log.
func (g *Gateway) Packets() *packetlog.Log {
	return g.packets
}

// APIAddr returns the HTTP API address, or "" when the API is disabled.
func (g *Gateway) APIAddr() string {
	if g.api == nil {
		return ""
	}
	return g.api.Addr()
}

// HealthAddr returns the gRPC health address, or "" when disabled.
func (g *Gateway) HealthAddr() string {
	if g.health == nil {
		return ""
	}
	return g.health.Addr()
}
