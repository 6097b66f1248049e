package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/meshgate/internal/auth"
	"github.com/rmacdonaldsmith/meshgate/pkg/httpclient"
)

// EventMesh publishes packets as events on an EventMesh node
type EventMesh struct {
	client *httpclient.Client
	topic  string
	isJSON bool
	logger *slog.Logger

	authMu sync.Mutex
	closed atomic.Bool
}

// NewEventMesh creates an EventMesh publisher. With a JWT secret the
// publisher signs its own tokens instead of logging in.
func NewEventMesh(config Config, logger *slog.Logger) (*EventMesh, error) {
	clientConfig := httpclient.Config{
		ServerURL: config.URL,
		ClientID:  config.ClientID,
		Token:     config.Token,
		Timeout:   config.Timeout,
	}

	if config.JWTSecret != "" {
		signer, err := auth.NewJWTAuth(config.JWTSecret, 0)
		if err != nil {
			return nil, err
		}
		clientID := config.ClientID
		clientConfig.TokenSource = func(ctx context.Context) (string, error) {
			token, _, err := signer.GenerateToken(clientID, false)
			return token, err
		}
	}

	client, err := httpclient.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("creating eventmesh client: %w", err)
	}

	return &EventMesh{
		client: client,
		topic:  config.Topic,
		isJSON: config.ContentType == "application/json",
		logger: logger,
	}, nil
}

// Publish sends payload to the configured topic. JSON payloads are embedded
// as documents; other encodings travel as base64 strings.
func (e *EventMesh) Publish(ctx context.Context, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.ensureAuthenticated(ctx); err != nil {
		return err
	}

	var body interface{} = payload
	if e.isJSON {
		body = json.RawMessage(payload)
	}

	resp, err := e.client.PublishEvent(ctx, e.topic, body)
	if err != nil {
		return err
	}
	e.logger.Debug("published packet", "topic", e.topic, "event_id", resp.EventID, "offset", resp.Offset)
	return nil
}

func (e *EventMesh) ensureAuthenticated(ctx context.Context) error {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	if e.client.IsAuthenticated() {
		return nil
	}
	if err := e.client.Authenticate(ctx); err != nil {
		return err
	}
	e.logger.Info("authenticated with eventmesh")
	return nil
}

// Close stops further publishes.
func (e *EventMesh) Close() error {
	e.closed.Store(true)
	return nil
}

var _ Publisher = (*EventMesh)(nil)
