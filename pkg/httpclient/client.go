package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrNotAuthenticated is returned by calls that need a token before one is available
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Status     string
	Response   ErrorResponse
	Body       string
}

func (e *APIError) Error() string {
	if e.Response.Error != "" {
		return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Status, e.Response.Error)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// transport issues JSON requests against one base URL
type transport struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL

	mu    sync.RWMutex
	token string
}

func newTransport(config Config) (*transport, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &transport{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
		token:      config.Token,
	}, nil
}

func (t *transport) getToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

func (t *transport) setToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

// do performs a request, retrying transport errors and gateway failures
// up to MaxRetries times.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}, requireAuth bool) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	backoff := t.config.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		retry, err := t.once(ctx, method, path, query, body, respBody, requireAuth)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (t *transport) once(ctx context.Context, method, path string, query url.Values, body []byte, respBody interface{}, requireAuth bool) (retry bool, err error) {
	// path may carry escaped segments; Parse keeps them in RawPath
	u, err := url.Parse(path)
	if err != nil {
		return false, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := t.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := t.getToken(); requireAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bodyBytes)}
		_ = json.Unmarshal(bodyBytes, &apiErr.Response)
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true, apiErr
		}
		return false, apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return false, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return false, nil
}

// Client publishes to an EventMesh node's HTTP API
type Client struct {
	*transport
}

// NewClient creates a new EventMesh HTTP client. A ClientID is required
// unless a Token or TokenSource is configured.
func NewClient(config Config) (*Client, error) {
	if config.ClientID == "" && config.Token == "" && config.TokenSource == nil {
		return nil, fmt.Errorf("ClientID is required")
	}

	t, err := newTransport(config)
	if err != nil {
		return nil, err
	}
	return &Client{transport: t}, nil
}

// Authenticate obtains a token, from the TokenSource when configured and
// otherwise by logging in with the client ID.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.config.TokenSource != nil {
		token, err := c.config.TokenSource(ctx)
		if err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		c.setToken(token)
		return nil
	}
	if c.config.ClientID == "" {
		return fmt.Errorf("authentication failed: no client ID configured")
	}

	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.setToken(authResp.Token)
	return nil
}

// PublishEvent publishes an event to a topic. A 401 triggers one
// re-authentication and retry when the client can obtain a new token.
func (c *Client) PublishEvent(ctx context.Context, topic string, payload interface{}) (*PublishResponse, error) {
	if c.getToken() == "" {
		return nil, ErrNotAuthenticated
	}

	req := PublishRequest{
		Topic:   topic,
		Payload: payload,
	}

	var resp PublishResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/events", nil, req, &resp, true)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && c.canReauthenticate() {
		if authErr := c.Authenticate(ctx); authErr != nil {
			return nil, fmt.Errorf("failed to publish event: %w", authErr)
		}
		err = c.do(ctx, http.MethodPost, "/api/v1/events", nil, req, &resp, true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	return &resp, nil
}

func (c *Client) canReauthenticate() bool {
	return c.config.TokenSource != nil || c.config.ClientID != ""
}

// GetHealth returns the health status of the EventMesh server
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	return &resp, nil
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.getToken() != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.getToken()
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.setToken(token)
}
