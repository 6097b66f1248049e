package httpapi

import "time"

// Request/Response types for the HTTP API

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy          bool      `json:"healthy"`
	Connected        bool      `json:"connected"`
	Device           string    `json:"device"`
	Generation       uint64    `json:"generation"`
	StartedAt        time.Time `json:"startedAt"`
	Uptime           string    `json:"uptime"`
	PacketsReceived  uint64    `json:"packetsReceived"`
	PacketsForwarded uint64    `json:"packetsForwarded"`
	PublishErrors    uint64    `json:"publishErrors"`
	DroppedEvents    uint64    `json:"droppedEvents"`
	Message          string    `json:"message"`
}

// SendMessageRequest represents a text message send request
type SendMessageRequest struct {
	Text string `json:"text"`

	// Destination is a node ID ("!a1b2c3d4", decimal, "^all"); empty broadcasts
	Destination string `json:"destination,omitempty"`
	WantAck     bool   `json:"wantAck,omitempty"`
	Channel     uint32 `json:"channel,omitempty"`
}

// SendMessageResponse represents an accepted message
type SendMessageResponse struct {
	Destination string `json:"destination"`
	Bytes       int    `json:"bytes"`
	Chunks      int    `json:"chunks"`
}

// NodeResponse represents the radio's knowledge of one node
type NodeResponse struct {
	Num       uint32    `json:"num"`
	ID        string    `json:"id"`
	LongName  string    `json:"longName"`
	ShortName string    `json:"shortName"`
	HWModel   int32     `json:"hwModel"`
	SNR       float32   `json:"snr"`
	LastHeard time.Time `json:"lastHeard,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Altitude  *int32    `json:"altitude,omitempty"`
}

// PacketEntry represents one packet from the packet log
type PacketEntry struct {
	Offset     int64     `json:"offset"`
	ID         uint32    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Channel    uint32    `json:"channel"`
	PortNum    string    `json:"portnum"`
	Text       string    `json:"text,omitempty"`
	Payload    []byte    `json:"payload"`
	RxSNR      float32   `json:"rxSnr"`
	RxRSSI     int32     `json:"rxRssi"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// PacketsResponse represents a page of the packet log
type PacketsResponse struct {
	Packets     []PacketEntry `json:"packets"`
	StartOffset int64         `json:"startOffset"`
	EndOffset   int64         `json:"endOffset"`
	Count       int           `json:"count"`
}

// CommandRequest represents an administrative command request
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse represents a dispatched command
type CommandResponse struct {
	Command  string `json:"command"`
	Matched  string `json:"matched"`
	Accepted bool   `json:"accepted"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
