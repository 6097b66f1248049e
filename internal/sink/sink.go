// Package sink publishes encoded packets to the message bus.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTopic is the bus topic received packets are published on
const DefaultTopic = "meshtastic.receive"

// ErrClosed is returned by Publish after Close
var ErrClosed = errors.New("publisher closed")

// Publisher delivers one encoded packet to the bus
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Config selects and configures a Publisher
type Config struct {
	// Type is "eventmesh", "websocket" or "log"
	Type string

	// URL of the EventMesh node or websocket endpoint
	URL string

	// ClientID logs in to EventMesh, or names the self-signed token subject
	ClientID string

	// Token is a pre-issued bearer token
	Token string

	// JWTSecret, when set, self-signs bearer tokens for ClientID
	JWTSecret string

	// Topic for EventMesh publishes
	Topic string

	// Timeout bounds connection setup and each request
	Timeout time.Duration

	// ContentType of the encoded payloads
	ContentType string
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = "log"
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ContentType == "" {
		c.ContentType = "application/json"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Type {
	case "log":
		return nil
	case "eventmesh":
		if c.URL == "" {
			return errors.New("eventmesh sink requires a url")
		}
		if c.ClientID == "" && c.Token == "" {
			return errors.New("eventmesh sink requires a client_id or token")
		}
	case "websocket":
		if c.URL == "" {
			return errors.New("websocket sink requires a url")
		}
		if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
			return fmt.Errorf("websocket sink url must start with ws:// or wss://, got %q", c.URL)
		}
	default:
		return fmt.Errorf("unknown sink type %q", c.Type)
	}
	if c.JWTSecret != "" && c.ClientID == "" {
		return errors.New("jwt_secret requires a client_id")
	}
	return nil
}

// New builds the Publisher selected by config.
func New(config Config, logger *slog.Logger) (Publisher, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sink config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sink", "sink", config.Type)

	switch config.Type {
	case "eventmesh":
		return NewEventMesh(config, logger)
	case "websocket":
		return NewWebSocket(config, logger)
	default:
		return NewLog(logger), nil
	}
}
