// Package radiotest provides a fake radio driver for tests.
package radiotest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// ErrClosed is returned by a FakeHandle after Close
var ErrClosed = errors.New("fake handle closed")

// Send is one recorded frame handed to a FakeHandle
type Send struct {
	Text string
	Data []byte
	Dest uint32
	Port radio.PortNum
	Opts radio.SendOptions
}

// FakeHandle implements radio.Handle and records every frame it is given.
type FakeHandle struct {
	Device string

	mu       sync.Mutex
	sends    []Send
	nodes    map[uint32]radio.NodeInfo
	reboots  []time.Duration
	closed   bool
	sendErr  error
	sendWait time.Duration
	sink     radio.EventSink

	inFlight atomic.Int32
	overlaps atomic.Int32
}

// NewFakeHandle creates a fake handle for device.
func NewFakeHandle(device string, sink radio.EventSink) *FakeHandle {
	return &FakeHandle{
		Device: device,
		nodes:  make(map[uint32]radio.NodeInfo),
		sink:   sink,
	}
}

// SendText records a text frame.
func (h *FakeHandle) SendText(ctx context.Context, text string, dest uint32, opts radio.SendOptions) error {
	return h.record(ctx, Send{Text: text, Dest: dest, Port: radio.PortTextMessage, Opts: opts})
}

// SendData records a data frame.
func (h *FakeHandle) SendData(ctx context.Context, payload []byte, dest uint32, port radio.PortNum, opts radio.SendOptions) error {
	data := make([]byte, len(payload))
	copy(data, payload)
	return h.record(ctx, Send{Data: data, Dest: dest, Port: port, Opts: opts})
}

func (h *FakeHandle) record(ctx context.Context, s Send) error {
	// Overlapping calls mean the caller failed to serialize sends
	if h.inFlight.Add(1) > 1 {
		h.overlaps.Add(1)
	}
	defer h.inFlight.Add(-1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	h.mu.Lock()
	wait := h.sendWait
	err := h.sendErr
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	h.mu.Lock()
	h.sends = append(h.sends, s)
	h.mu.Unlock()
	return nil
}

// Node returns a node previously stored with SetNode.
func (h *FakeHandle) Node(num uint32) (radio.NodeInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[num]
	return node, ok
}

// Reboot records a reboot request.
func (h *FakeHandle) Reboot(ctx context.Context, delay time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.reboots = append(h.reboots, delay)
	return nil
}

// Close marks the handle closed.
func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// SetNode stores node info served by Node.
func (h *FakeHandle) SetNode(node radio.NodeInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes[node.Num] = node
}

// FailSends makes every following send return err (nil restores success).
func (h *FakeHandle) FailSends(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// SlowSends makes every following send take at least d.
func (h *FakeHandle) SlowSends(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendWait = d
}

// Emit delivers ev to the sink the handle was dialed with.
func (h *FakeHandle) Emit(ev radio.Event) {
	if h.sink != nil {
		h.sink(ev)
	}
}

// Sends returns a copy of all recorded frames in send order.
func (h *FakeHandle) Sends() []Send {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]Send, len(h.sends))
	copy(result, h.sends)
	return result
}

// Reboots returns the delays of all reboot requests.
func (h *FakeHandle) Reboots() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]time.Duration, len(h.reboots))
	copy(result, h.reboots)
	return result
}

// Closed reports whether Close was called.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Overlaps returns how many sends started while another was in progress.
func (h *FakeHandle) Overlaps() int {
	return int(h.overlaps.Load())
}

// FakeDialer implements radio.Dialer and hands out a new FakeHandle per Dial.
type FakeDialer struct {
	mu      sync.Mutex
	handles []*FakeHandle
	failErr error
	onDial  func(*FakeHandle)
}

// NewFakeDialer creates a fake dialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial creates a new FakeHandle unless FailDials was set.
func (d *FakeDialer) Dial(ctx context.Context, devicePath string, sink radio.EventSink) (radio.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failErr != nil {
		return nil, d.failErr
	}

	handle := NewFakeHandle(devicePath, sink)
	d.handles = append(d.handles, handle)
	if d.onDial != nil {
		d.onDial(handle)
	}
	return handle, nil
}

// FailDials makes every following Dial return err (nil restores success).
func (d *FakeDialer) FailDials(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
}

// OnDial registers a hook run on every new handle before Dial returns.
func (d *FakeDialer) OnDial(fn func(*FakeHandle)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDial = fn
}

// Handles returns every handle dialed so far, oldest first.
func (d *FakeDialer) Handles() []*FakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]*FakeHandle, len(d.handles))
	copy(result, d.handles)
	return result
}

// Last returns the most recently dialed handle or nil.
func (d *FakeDialer) Last() *FakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

// Verify the fakes implement the radio interfaces at compile time
var (
	_ radio.Handle = (*FakeHandle)(nil)
	_ radio.Dialer = (*FakeDialer)(nil)
)
