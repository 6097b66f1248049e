// Package packetlog keeps a bounded, append-only history of received packets.
package packetlog

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// DefaultCapacity is the default number of packets retained
const DefaultCapacity = 1000

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrNilPacket is returned when a nil packet is appended
	ErrNilPacket = errors.New("packet cannot be nil")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("packet log closed")
)

// Entry is one logged packet with its offset
type Entry struct {
	Offset int64
	Packet *radio.Packet
}

// Stats provides aggregate statistics about the log
type Stats struct {
	TotalAppended int64            `json:"totalAppended"`
	Retained      int              `json:"retained"`
	Capacity      int              `json:"capacity"`
	StartOffset   int64            `json:"startOffset"`
	EndOffset     int64            `json:"endOffset"`
	PortCounts    map[string]int64 `json:"portCounts"`
}

// Log is an in-memory ring of the most recent packets. Offsets start at 0
// and increase by one per append; once full, the oldest packet is evicted.
// It is safe for concurrent use.
type Log struct {
	mu         sync.RWMutex
	buf        []Entry
	nextOffset int64
	portCounts map[radio.PortNum]int64
	closed     bool
}

// New creates a log retaining up to capacity packets.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:        make([]Entry, capacity),
		portCounts: make(map[radio.PortNum]int64),
	}
}

// Append stores packet and returns its entry.
func (l *Log) Append(ctx context.Context, packet *radio.Packet) (Entry, error) {
	if packet == nil {
		return Entry{}, ErrNilPacket
	}
	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}

	entry := Entry{Offset: l.nextOffset, Packet: packet}
	l.buf[l.nextOffset%int64(len(l.buf))] = entry
	l.nextOffset++
	l.portCounts[packet.PortNum()]++
	return entry, nil
}

// Read returns up to maxCount entries starting at startOffset. Offsets that
// were already evicted are skipped, so the first entry may start later.
func (l *Log) Read(ctx context.Context, startOffset int64, maxCount int) ([]Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	results := make([]Entry, 0, min(maxCount, len(l.buf)))
	for offset := max(startOffset, l.startOffsetLocked()); offset < l.nextOffset && len(results) < maxCount; offset++ {
		results = append(results, l.buf[offset%int64(len(l.buf))])
	}
	return results, nil
}

// EndOffset returns the next append position.
func (l *Log) EndOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset
}

// StartOffset returns the oldest retained offset.
func (l *Log) StartOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.startOffsetLocked()
}

func (l *Log) startOffsetLocked() int64 {
	return max(0, l.nextOffset-int64(len(l.buf)))
}

// Stats returns current statistics.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ports := make(map[string]int64, len(l.portCounts))
	for port, count := range l.portCounts {
		ports[port.String()] = count
	}
	start := l.startOffsetLocked()
	return Stats{
		TotalAppended: l.nextOffset,
		Retained:      int(l.nextOffset - start),
		Capacity:      len(l.buf),
		StartOffset:   start,
		EndOffset:     l.nextOffset,
		PortCounts:    ports,
	}
}

// Close drops all retained packets. It is idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.buf = make([]Entry, len(l.buf))
	l.closed = true
	return nil
}
