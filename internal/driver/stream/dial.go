package stream

import (
	"context"
	"io"
	"net"
	"strings"
)

// DefaultTCPPort is the Meshtastic firmware's stream API port
const DefaultTCPPort = "4403"

const tcpScheme = "tcp://"

// Open opens devicePath: "tcp://host[:port]" dials the radio's network API,
// anything else is treated as a serial TTY.
func Open(ctx context.Context, devicePath string, baud int) (io.ReadWriteCloser, error) {
	if addr, ok := strings.CutPrefix(devicePath, tcpScheme); ok {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, DefaultTCPPort)
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return openSerial(devicePath, baud)
}
