package sink

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Log is the sink used when no bus is configured; it only logs
type Log struct {
	logger    *slog.Logger
	published atomic.Uint64
}

// NewLog creates a logging publisher.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Publish counts and logs the payload size.
func (l *Log) Publish(ctx context.Context, payload []byte) error {
	l.published.Add(1)
	l.logger.Debug("no bus configured, dropping packet", "bytes", len(payload))
	return nil
}

// Close is a no-op.
func (l *Log) Close() error { return nil }

// Published returns how many payloads were handed to the sink.
func (l *Log) Published() uint64 {
	return l.published.Load()
}

var _ Publisher = (*Log)(nil)
