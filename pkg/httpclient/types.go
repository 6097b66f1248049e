package httpclient

import (
	"context"
	"time"
)

// TokenSource mints a bearer token without a login round trip
type TokenSource func(ctx context.Context) (string, error)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier used to log in to an EventMesh node
	ClientID string

	// Token is a pre-issued bearer token; it skips the login call
	Token string

	// TokenSource, when set, is asked for a fresh token on login and after a 401
	TokenSource TokenSource

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for requests failing with a transport error or a 502/503/504
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles per attempt
	RetryBackoff time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents an event publishing request
type PublishRequest struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// PublishResponse represents an event publishing response
type PublishResponse struct {
	EventID   string    `json:"eventId"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents an EventMesh node health check response
type HealthResponse struct {
	Healthy          bool   `json:"healthy"`
	ConnectedClients int    `json:"connectedClients"`
	ConnectedPeers   int    `json:"connectedPeers"`
	Message          string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// GatewayHealth is the gateway's health report
type GatewayHealth struct {
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

// SendMessageRequest asks the gateway to transmit a text message
type SendMessageRequest struct {
	Text        string `json:"text"`
	Destination string `json:"destination,omitempty"`
	WantAck     bool   `json:"wantAck,omitempty"`
	Channel     uint32 `json:"channel,omitempty"`
}

// SendMessageResponse reports an accepted message
type SendMessageResponse struct {
	Destination string `json:"destination"`
	Bytes       int    `json:"bytes"`
	Chunks      int    `json:"chunks"`
}

// NodeResponse carries what the radio knows about one node
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

// PacketEntry is one packet in the gateway's packet log
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

// PacketsResponse is a page of the packet log
type PacketsResponse struct {
	Packets     []PacketEntry `json:"packets"`
	StartOffset int64         `json:"startOffset"`
	EndOffset   int64         `json:"endOffset"`
	Count       int           `json:"count"`
}

// CommandRequest submits an administrative command line
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse reports how a command line was dispatched
type CommandResponse struct {
	Command  string `json:"command"`
	Matched  string `json:"matched"`
	Accepted bool   `json:"accepted"`
}
