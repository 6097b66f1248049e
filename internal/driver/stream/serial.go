package stream

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// openSerial opens a serial port in 8N1 mode at baud. Reads block until data
// arrives; Close unblocks a pending Read.
func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return port, nil
}
