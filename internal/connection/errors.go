package connection

import "errors"

var (
	// ErrConnection is returned when the radio cannot be opened or reopened
	ErrConnection = errors.New("radio connection failed")
	// ErrTransportWrite is returned when the radio rejects a frame
	ErrTransportWrite = errors.New("radio write failed")
	// ErrNotConnected is returned when no radio handle is live
	ErrNotConnected = errors.New("radio not connected")
	// ErrShutdown is returned by Connect after Shutdown
	ErrShutdown = errors.New("connection shut down")
	// ErrRebooting is carried by the ConnectionLost event emitted when a reboot tears the link down
	ErrRebooting = errors.New("radio rebooting")
)
