// Package stream talks to a Meshtastic radio over its serial/TCP stream API.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

const (
	// DefaultConfigTimeout bounds the wait for the radio's config dump
	DefaultConfigTimeout = 30 * time.Second
	// DefaultHeartbeat is how often a heartbeat keeps the API session alive
	DefaultHeartbeat = 5 * time.Minute
	// DefaultHopLimit is used when a send does not set one
	DefaultHopLimit = 3

	wakeBytes = 32
)

var (
	// ErrClosed is returned by sends on a closed handle
	ErrClosed = errors.New("stream handle closed")
	// ErrPayloadTooLarge is returned when a payload exceeds radio.FrameLimit
	ErrPayloadTooLarge = errors.New("payload exceeds frame limit")
	// ErrConfigTimeout is returned when the radio never finishes its config dump
	ErrConfigTimeout = errors.New("timed out waiting for radio config")
)

// Opener opens the byte stream for a device path
type Opener func(ctx context.Context, devicePath string) (io.ReadWriteCloser, error)

// Config configures the stream driver
type Config struct {
	// Baud rate for serial devices
	Baud int

	ConfigTimeout time.Duration
	Heartbeat     time.Duration
	HopLimit      uint32

	Logger *slog.Logger
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Baud <= 0 {
		c.Baud = 115200
	}
	if c.ConfigTimeout <= 0 {
		c.ConfigTimeout = DefaultConfigTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.HopLimit == 0 {
		c.HopLimit = DefaultHopLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dialer opens Handles on serial or TCP devices
type Dialer struct {
	config Config
	open   Opener
}

// NewDialer creates a Dialer. A nil opener selects Open.
func NewDialer(config Config, open Opener) *Dialer {
	config.SetDefaults()
	if open == nil {
		baud := config.Baud
		open = func(ctx context.Context, devicePath string) (io.ReadWriteCloser, error) {
			return Open(ctx, devicePath, baud)
		}
	}
	return &Dialer{config: config, open: open}
}

// Dial opens devicePath, requests the radio's configuration and returns once
// the node table is loaded. ConnectionEstablished is emitted to sink at that
// point, before any PacketReceived.
func (d *Dialer) Dial(ctx context.Context, devicePath string, sink radio.EventSink) (radio.Handle, error) {
	rwc, err := d.open(ctx, devicePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}

	h := newHandle(rwc, devicePath, sink, d.config)
	if err := h.handshake(ctx, d.config.ConfigTimeout); err != nil {
		h.Close()
		return nil, err
	}
	go h.heartbeat(d.config.Heartbeat)
	return h, nil
}

// Handle is one live stream API session
type Handle struct {
	device   string
	rwc      io.ReadWriteCloser
	sink     radio.EventSink
	hopLimit uint32
	logger   *slog.Logger

	writeMu sync.Mutex

	nodesMu sync.RWMutex
	nodes   map[uint32]radio.NodeInfo
	myNum   atomic.Uint32

	nextID   atomic.Uint32
	configID uint32

	configured     chan struct{}
	configuredOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
	readerErr error
	done      chan struct{}
}

func newHandle(rwc io.ReadWriteCloser, device string, sink radio.EventSink, config Config) *Handle {
	if sink == nil {
		sink = func(radio.Event) {}
	}
	h := &Handle{
		device:     device,
		rwc:        rwc,
		sink:       sink,
		hopLimit:   config.HopLimit,
		logger:     config.Logger.With("component", "stream", "device", device),
		nodes:      make(map[uint32]radio.NodeInfo),
		configID:   rand.Uint32(),
		configured: make(chan struct{}),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.nextID.Store(rand.Uint32())
	return h
}

func (h *Handle) handshake(ctx context.Context, timeout time.Duration) error {
	go h.read()

	h.writeMu.Lock()
	_, err := h.rwc.Write(bytes.Repeat([]byte{start2}, wakeBytes))
	if err == nil {
		err = WriteFrame(h.rwc, encodeWantConfig(h.configID))
	}
	h.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("request config: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.configured:
		return nil
	case <-h.done:
		return fmt.Errorf("radio closed during config: %w", h.readerErr)
	case <-timer.C:
		return ErrConfigTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) read() {
	defer close(h.done)

	frames := NewFrameReader(h.rwc)
	for {
		frame, err := frames.ReadFrame()
		if err != nil {
			h.readerErr = err
			select {
			case <-h.closed:
			default:
				if h.isConfigured() {
					h.sink(radio.ConnectionLost{Device: h.device, At: time.Now(), Err: err})
				}
			}
			return
		}

		msg, err := decodeFromRadio(frame)
		if err != nil {
			h.logger.Debug("dropping undecodable frame", "bytes", len(frame), "error", err)
			continue
		}
		h.handle(msg)
	}
}

func (h *Handle) handle(msg fromRadio) {
	switch {
	case msg.HasMyInfo:
		h.myNum.Store(msg.MyNodeNum)
	case msg.NodeInfo != nil:
		h.nodesMu.Lock()
		h.nodes[msg.NodeInfo.Num] = *msg.NodeInfo
		h.nodesMu.Unlock()
	case msg.HasConfigDone:
		if msg.ConfigCompleteID != h.configID {
			return
		}
		h.configuredOnce.Do(func() {
			h.logger.Info("radio config loaded", "node", radio.FormatNodeID(h.myNum.Load()), "nodes", h.nodeCount())
			close(h.configured)
			h.sink(radio.ConnectionEstablished{Device: h.device, At: time.Now()})
		})
	case msg.Packet != nil:
		h.receive(*msg.Packet)
	}
}

func (h *Handle) receive(p meshPacket) {
	if p.Decoded == nil {
		h.logger.Debug("skipping encrypted packet", "id", p.ID, "from", radio.FormatNodeID(p.From))
		return
	}

	now := time.Now()
	h.nodesMu.Lock()
	node := h.nodes[p.From]
	node.Num = p.From
	if node.ID == "" {
		node.ID = radio.FormatNodeID(p.From)
	}
	node.LastHeard = now
	if p.RxSNR != 0 {
		node.SNR = p.RxSNR
	}
	h.nodes[p.From] = node
	h.nodesMu.Unlock()

	if !h.isConfigured() {
		return
	}

	info := radio.PacketInfo{
		ID:       p.ID,
		From:     p.From,
		To:       p.To,
		Channel:  p.Channel,
		PortNum:  p.Decoded.PortNum,
		RxSNR:    p.RxSNR,
		RxRSSI:   p.RxRSSI,
		HopLimit: p.HopLimit,
	}
	if p.RxTime != 0 {
		info.RxTime = time.Unix(int64(p.RxTime), 0)
	}
	h.sink(radio.PacketReceived{Packet: radio.NewPacket(info, p.Decoded.Payload, now)})
}

func (h *Handle) isConfigured() bool {
	select {
	case <-h.configured:
		return true
	default:
		return false
	}
}

func (h *Handle) nodeCount() int {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	return len(h.nodes)
}

func (h *Handle) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.write(encodeHeartbeat()); err != nil {
				h.logger.Warn("heartbeat failed", "error", err)
			}
		case <-h.done:
			return
		}
	}
}

func (h *Handle) write(payload []byte) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return WriteFrame(h.rwc, payload)
}

func (h *Handle) send(ctx context.Context, payload []byte, dest uint32, port radio.PortNum, opts radio.SendOptions) error {
	if len(payload) > radio.FrameLimit {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), radio.FrameLimit)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	hopLimit := opts.HopLimit
	if hopLimit == 0 {
		hopLimit = h.hopLimit
	}
	packet := meshPacket{
		To:       dest,
		Channel:  opts.Channel,
		ID:       h.nextID.Add(1),
		HopLimit: hopLimit,
		WantAck:  opts.WantAck,
		Decoded:  &data{PortNum: port, Payload: payload},
	}
	return h.write(encodeToRadioPacket(packet))
}

// SendText transmits one text frame.
func (h *Handle) SendText(ctx context.Context, text string, dest uint32, opts radio.SendOptions) error {
	return h.send(ctx, []byte(text), dest, radio.PortTextMessage, opts)
}

// SendData transmits one payload on port.
func (h *Handle) SendData(ctx context.Context, payload []byte, dest uint32, port radio.PortNum, opts radio.SendOptions) error {
	return h.send(ctx, payload, dest, port, opts)
}

// Node returns the node table entry for num.
func (h *Handle) Node(num uint32) (radio.NodeInfo, bool) {
	h.nodesMu.RLock()
	defer h.nodesMu.RUnlock()
	info, ok := h.nodes[num]
	return info, ok
}

// MyNodeNum returns the local radio's node number once known.
func (h *Handle) MyNodeNum() uint32 {
	return h.myNum.Load()
}

// Reboot sends an admin reboot request to the local radio.
func (h *Handle) Reboot(ctx context.Context, delay time.Duration) error {
	return h.send(ctx, encodeAdminReboot(delay), h.myNum.Load(), radio.PortAdmin, radio.SendOptions{WantAck: true})
}

// Close ends the session and waits for the reader to exit.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.rwc.Close()
		<-h.done
	})
	return err
}

var (
	_ radio.Dialer = (*Dialer)(nil)
	_ radio.Handle = (*Handle)(nil)
)
