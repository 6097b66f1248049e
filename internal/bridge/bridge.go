// Package bridge forwards received radio packets to the message bus.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshgate/internal/codec"
	"github.com/rmacdonaldsmith/meshgate/internal/packetlog"
	"github.com/rmacdonaldsmith/meshgate/internal/sink"
	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// DefaultPublishTimeout bounds a single publish
const DefaultPublishTimeout = 5 * time.Second

var (
	// ErrNilCodec is returned when no codec is provided
	ErrNilCodec = errors.New("codec cannot be nil")
	// ErrNilPublisher is returned when no publisher is provided
	ErrNilPublisher = errors.New("publisher cannot be nil")
)

// StatusReporter is told when the radio link goes up or down
type StatusReporter interface {
	SetRadioServing(serving bool)
}

// Stats reports bridge counters
type Stats struct {
	Connected     bool   `json:"connected"`
	Received      uint64 `json:"received"`
	Forwarded     uint64 `json:"forwarded"`
	EncodeErrors  uint64 `json:"encodeErrors"`
	PublishErrors uint64 `json:"publishErrors"`
}

// Bridge is a radio.Listener that encodes every received packet and hands it
// to the publisher. Failures are logged and counted; nothing propagates back
// to the event bus.
type Bridge struct {
	codec     codec.Codec
	publisher sink.Publisher
	packets   *packetlog.Log
	status    StatusReporter
	timeout   time.Duration
	logger    *slog.Logger

	connected     atomic.Bool
	received      atomic.Uint64
	forwarded     atomic.Uint64
	encodeErrors  atomic.Uint64
	publishErrors atomic.Uint64
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPacketLog records every received packet in log.
func WithPacketLog(log *packetlog.Log) Option {
	return func(b *Bridge) { b.packets = log }
}

// WithStatusReporter mirrors link state into reporter.
func WithStatusReporter(reporter StatusReporter) Option {
	return func(b *Bridge) { b.status = reporter }
}

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(b *Bridge) {
		if timeout > 0 {
			b.timeout = timeout
		}
	}
}

// New creates a bridge publishing packets encoded with c.
func New(c codec.Codec, publisher sink.Publisher, opts ...Option) (*Bridge, error) {
	if c == nil {
		return nil, ErrNilCodec
	}
	if publisher == nil {
		return nil, ErrNilPublisher
	}

	b := &Bridge{
		codec:     c,
		publisher: publisher,
		timeout:   DefaultPublishTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge", "codec", c.Name())
	return b, nil
}

// OnConnectionEstablished marks the radio up and reports it serving.
func (b *Bridge) OnConnectionEstablished(ev radio.ConnectionEstablished) {
	b.connected.Store(true)
	b.logger.Info("radio connected", "device", ev.Device, "generation", ev.Gen)
	if b.status != nil {
		b.status.SetRadioServing(true)
	}
}

// OnConnectionLost marks the radio down and reports it not serving.
func (b *Bridge) OnConnectionLost(ev radio.ConnectionLost) {
	b.connected.Store(false)
	b.logger.Warn("radio connection lost", "device", ev.Device, "generation", ev.Gen, "error", ev.Err)
	if b.status != nil {
		b.status.SetRadioServing(false)
	}
}

// OnReceive records, encodes and publishes one packet. Failures are counted
// and logged, never returned.
func (b *Bridge) OnReceive(packet *radio.Packet) {
	b.received.Add(1)
	b.logger.Debug("received packet", "packet", packet.String())

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if b.packets != nil {
		if _, err := b.packets.Append(ctx, packet); err != nil {
			b.logger.Warn("failed to record packet", "id", packet.ID(), "error", err)
		}
	}

	payload, err := b.codec.Encode(packet)
	if err != nil {
		b.encodeErrors.Add(1)
		b.logger.Error("failed to encode packet", "id", packet.ID(), "error", err)
		return
	}

	if err := b.publisher.Publish(ctx, payload); err != nil {
		b.publishErrors.Add(1)
		b.logger.Error("failed to publish packet", "id", packet.ID(), "bytes", len(payload), "error", err)
		return
	}
	b.forwarded.Add(1)
}

// Connected reports the last observed link state.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected:     b.connected.Load(),
		Received:      b.received.Load(),
		Forwarded:     b.forwarded.Load(),
		EncodeErrors:  b.encodeErrors.Load(),
		PublishErrors: b.publishErrors.Load(),
	}
}

var _ radio.Listener = (*Bridge)(nil)
