package radio

import (
	"context"
	"io"
	"time"
)

const (
	// FrameLimit is the payload capacity of one radio frame in bytes
	// (Meshtastic Constants.DATA_PAYLOAD_LEN).
	FrameLimit = 237

	// ChunkSize is the largest text chunk the gateway hands to the radio.
	// Half the frame limit leaves headroom for transport framing.
	ChunkSize = FrameLimit / 2

	// BroadcastAddr is the destination meaning "all reachable nodes".
	BroadcastAddr uint32 = 0xFFFFFFFF

	// LocalAddr addresses the radio attached to this gateway.
	LocalAddr uint32 = 0
)

// SendOptions carries per-send routing options
type SendOptions struct {
	// WantAck requests a delivery acknowledgement from the destination
	WantAck bool

	// Channel is the channel index to transmit on (0 is the primary channel)
	Channel uint32

	// HopLimit overrides the radio's default hop limit when non-zero
	HopLimit uint32
}

// Handle is a live connection to one mesh radio.
// Implementations must be safe for concurrent use; the gateway additionally
// serializes all sends and the reboot sequence.
type Handle interface {
	io.Closer

	// SendText transmits one text frame to dest.
	SendText(ctx context.Context, text string, dest uint32, opts SendOptions) error

	// SendData transmits one raw payload frame to dest on the given port.
	SendData(ctx context.Context, payload []byte, dest uint32, port PortNum, opts SendOptions) error

	// Node returns the radio's current knowledge of a node.
	Node(num uint32) (NodeInfo, bool)

	// Reboot asks the local radio to restart after delay.
	Reboot(ctx context.Context, delay time.Duration) error
}

// EventSink receives events emitted by a driver.
// It is called from the driver's own goroutine and must not block for long.
type EventSink func(Event)

// Dialer opens Handles.
type Dialer interface {
	// Dial connects to the radio at devicePath. Inbound events from the
	// returned Handle are delivered to sink until the Handle is closed.
	Dial(ctx context.Context, devicePath string, sink EventSink) (Handle, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, devicePath string, sink EventSink) (Handle, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, devicePath string, sink EventSink) (Handle, error) {
	return f(ctx, devicePath, sink)
}
