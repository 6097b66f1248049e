// Package connection owns the link to the mesh radio.
//
// A Connection serializes every outbound frame under one mutex, chunks long
// text messages to the radio frame limit, and replaces its radio handle in
// place when the device is rebooted. Inbound driver events pass through a
// generation filter so nothing from a torn-down handle reaches subscribers.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// Config holds configuration for a Connection
type Config struct {
	// DevicePath is the serial device or tcp://host:port of the radio
	DevicePath string

	// RebootDelay is how long the radio waits before restarting
	RebootDelay time.Duration

	// RebootGrace is how long the gateway waits for the radio to come back
	RebootGrace time.Duration
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.RebootDelay <= 0 {
		c.RebootDelay = 10 * time.Second
	}
	if c.RebootGrace <= 0 {
		c.RebootGrace = 20 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DevicePath == "" {
		return errors.New("device path cannot be empty")
	}
	return nil
}

type handleRef struct {
	handle     radio.Handle
	generation uint64
}

// Connection is the gateway's single owner of the radio handle.
type Connection struct {
	config    Config
	dialer    radio.Dialer
	sink      radio.EventSink
	logger    *slog.Logger
	startedAt time.Time

	// mu is held for every frame send and for the whole reboot sequence
	mu sync.Mutex

	current    atomic.Pointer[handleRef]
	generation atomic.Uint64
	rebooting  atomic.Bool
	dropped    atomic.Uint64

	exit         atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Connection
type Option func(*Connection)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Connection. It does not open the radio; call Connect.
// sink receives inbound events from the live handle and may be nil.
func New(config Config, dialer radio.Dialer, sink radio.EventSink, startedAt time.Time, opts ...Option) (*Connection, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	if dialer == nil {
		return nil, errors.New("dialer cannot be nil")
	}

	c := &Connection{
		config:    config,
		dialer:    dialer,
		sink:      sink,
		logger:    slog.Default(),
		startedAt: startedAt,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "connection", "device", config.DevicePath)
	return c, nil
}

// Connect opens the radio. A failure is not retried.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// connectLocked dials a new handle. Callers hold c.mu.
func (c *Connection) connectLocked(ctx context.Context) error {
	if c.exit.Load() {
		return ErrShutdown
	}

	generation := c.generation.Add(1)
	handle, err := c.dialer.Dial(ctx, c.config.DevicePath, c.filter(generation))
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrConnection, c.config.DevicePath, err)
	}

	// At most one live handle
	if previous := c.current.Swap(&handleRef{handle: handle, generation: generation}); previous != nil {
		if err := previous.handle.Close(); err != nil {
			c.logger.Warn("closing previous radio handle failed", "error", err)
		}
	}

	c.logger.Info("radio connected", "generation", generation)
	return nil
}

// filter returns the event sink handed to the handle of the given generation.
// Events from stale generations or from inside a reboot window are dropped.
func (c *Connection) filter(generation uint64) radio.EventSink {
	return func(ev radio.Event) {
		if c.rebooting.Load() || generation != c.generation.Load() {
			c.dropped.Add(1)
			c.logger.Debug("dropping radio event from stale handle",
				"event", ev.Kind().String(), "generation", generation)
			return
		}
		c.emit(radio.WithGeneration(ev, generation))
	}
}

func (c *Connection) emit(ev radio.Event) {
	if c.sink != nil {
		c.sink(ev)
	}
}

// SendText sends message to dest. Messages shorter than radio.ChunkSize go out
// as a single frame; longer ones are split into radio.ChunkSize byte chunks and
// sent in order, each chunk holding the send lock only for its own frame.
func (c *Connection) SendText(ctx context.Context, message string, dest uint32, opts radio.SendOptions) error {
	if len(message) < radio.ChunkSize {
		return c.sendFrame(func(h radio.Handle) error {
			return h.SendText(ctx, message, dest, opts)
		})
	}

	chunks := Split(message, radio.ChunkSize)
	for i, chunk := range chunks {
		err := c.sendFrame(func(h radio.Handle) error {
			return h.SendText(ctx, chunk, dest, opts)
		})
		if err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	c.logger.Debug("sent chunked message", "bytes", len(message), "chunks", len(chunks))
	return nil
}

// SendData sends payload as one frame. Respecting the frame limit is the caller's job.
func (c *Connection) SendData(ctx context.Context, payload []byte, dest uint32, port radio.PortNum, opts radio.SendOptions) error {
	return c.sendFrame(func(h radio.Handle) error {
		return h.SendData(ctx, payload, dest, port, opts)
	})
}

func (c *Connection) sendFrame(send func(radio.Handle) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := c.current.Load()
	if ref == nil {
		return ErrNotConnected
	}
	if err := send(ref.handle); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}
	return nil
}

// NodeInfo looks up a node in the live handle's node table without locking.
// Unknown nodes yield the zero NodeInfo.
func (c *Connection) NodeInfo(num uint32) radio.NodeInfo {
	ref := c.current.Load()
	if ref == nil {
		return radio.NodeInfo{}
	}
	node, ok := ref.handle.Node(num)
	if !ok {
		return radio.NodeInfo{}
	}
	return node
}

// Reboot restarts the radio and reconnects. The send lock is held throughout,
// so no frame can be sent until the new handle is live. Failures to request
// the reboot or close the old handle are logged and the sequence continues.
func (c *Connection) Reboot(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("reboot requested")
	c.rebooting.Store(true)
	defer c.rebooting.Store(false)

	if ref := c.current.Swap(nil); ref != nil {
		c.emit(radio.ConnectionLost{
			Device: c.config.DevicePath,
			At:     time.Now(),
			Err:    ErrRebooting,
			Gen:    ref.generation,
		})
		if err := ref.handle.Reboot(ctx, c.config.RebootDelay); err != nil {
			c.logger.Warn("reboot request failed", "error", err)
		}
		if err := ref.handle.Close(); err != nil {
			c.logger.Warn("closing radio handle failed", "error", err)
		}
	}

	timer := time.NewTimer(c.config.RebootGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return fmt.Errorf("reboot interrupted: %w", ctx.Err())
	case <-c.done:
		return ErrShutdown
	}

	c.rebooting.Store(false)
	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	c.logger.Info("reboot completed")
	return nil
}

// Shutdown sets the exit flag. In-flight pipe reads are not interrupted here;
// ingestors observe the flag at their next loop boundary.
func (c *Connection) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.exit.Store(true)
		close(c.done)
		c.logger.Info("shutdown requested")
	})
}

// Exiting reports whether Shutdown has been called.
func (c *Connection) Exiting() bool {
	return c.exit.Load()
}

// Done is closed by Shutdown.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close closes the live radio handle.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := c.current.Swap(nil)
	if ref == nil {
		return nil
	}
	return ref.handle.Close()
}

// Connected reports whether a radio handle is live.
func (c *Connection) Connected() bool {
	return c.current.Load() != nil
}

// Generation returns the generation of the live handle, or 0.
func (c *Connection) Generation() uint64 {
	if ref := c.current.Load(); ref != nil {
		return ref.generation
	}
	return 0
}

// DroppedEvents returns how many inbound events the generation filter discarded.
func (c *Connection) DroppedEvents() uint64 {
	return c.dropped.Load()
}

// StartedAt returns the startup timestamp supplied to New.
func (c *Connection) StartedAt() time.Time {
	return c.startedAt
}

// DevicePath returns the configured radio device.
func (c *Connection) DevicePath() string {
	return c.config.DevicePath
}
