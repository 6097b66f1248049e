package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// GatewayClient talks to a running gateway's local HTTP API
type GatewayClient struct {
	*transport
}

// NewGatewayClient creates a client for the gateway API. Token may be empty
// when the gateway runs without authentication.
func NewGatewayClient(config Config) (*GatewayClient, error) {
	t, err := newTransport(config)
	if err != nil {
		return nil, err
	}
	return &GatewayClient{transport: t}, nil
}

// Health returns the gateway health report
func (c *GatewayClient) Health(ctx context.Context) (*GatewayHealth, error) {
	var resp GatewayHealth
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// SendMessage asks the gateway to transmit text. An empty destination broadcasts.
func (c *GatewayClient) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", nil, req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &resp, nil
}

// Node looks up a node by "!hex" or decimal ID
func (c *GatewayClient) Node(ctx context.Context, id string) (*NodeResponse, error) {
	var resp NodeResponse
	path := fmt.Sprintf("/api/v1/nodes/%s", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &resp, nil
}

// Packets reads the packet log starting at offset
func (c *GatewayClient) Packets(ctx context.Context, offset int64, limit int) (*PacketsResponse, error) {
	query := url.Values{}
	if offset >= 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp PacketsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/packets", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read packets: %w", err)
	}
	return &resp, nil
}

// Command submits an administrative command line (admin token required)
func (c *GatewayClient) Command(ctx context.Context, command string) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/commands", nil, CommandRequest{Command: command}, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to submit command: %w", err)
	}
	return &resp, nil
}
