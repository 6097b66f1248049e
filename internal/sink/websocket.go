package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket writes each packet as one websocket message. The connection is
// dialed on first use and redialed on the publish after a failure.
type WebSocket struct {
	url         string
	header      http.Header
	dialer      websocket.Dialer
	messageType int
	timeout     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket creates a websocket publisher.
func NewWebSocket(config Config, logger *slog.Logger) (*WebSocket, error) {
	header := http.Header{}
	if config.Token != "" {
		header.Set("Authorization", "Bearer "+config.Token)
	}

	messageType := websocket.BinaryMessage
	if config.ContentType == "application/json" {
		messageType = websocket.TextMessage
	}

	return &WebSocket{
		url:         config.URL,
		header:      header,
		dialer:      websocket.Dialer{HandshakeTimeout: config.Timeout, Proxy: http.ProxyFromEnvironment},
		messageType: messageType,
		timeout:     config.Timeout,
		logger:      logger,
	}, nil
}

// Publish writes payload, dialing first if needed.
func (w *WebSocket) Publish(ctx context.Context, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.conn == nil {
		conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
		if err != nil {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			return fmt.Errorf("websocket dial %s (status %d): %w", w.url, status, err)
		}
		w.conn = conn
		w.logger.Info("websocket connected", "url", w.url)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(w.timeout)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		w.dropLocked()
		return fmt.Errorf("websocket set deadline: %w", err)
	}
	if err := w.conn.WriteMessage(w.messageType, payload); err != nil {
		w.dropLocked()
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *WebSocket) dropLocked() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.logger.Warn("websocket connection dropped", "url", w.url)
	}
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "gateway shutting down")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}

var _ Publisher = (*WebSocket)(nil)
