// Package eventbus delivers radio events to listeners off the driver's
// reader goroutine.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// DefaultBuffer is the default number of events queued ahead of dispatch
const DefaultBuffer = 256

// Stats reports bus counters
type Stats struct {
	Emitted   uint64 `json:"emitted"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
	Listeners int    `json:"listeners"`
}

// Bus queues events from the driver and dispatches them to every listener
// from a single goroutine, so listeners see events in emit order.
type Bus struct {
	events chan radio.Event
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[uint64]radio.Listener
	nextID    uint64

	emitted   atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bus holding up to buffer undelivered events.
func New(buffer int, opts ...Option) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Bus{
		events:    make(chan radio.Event, buffer),
		logger:    slog.Default(),
		listeners: make(map[uint64]radio.Listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "eventbus")
	return b
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l radio.Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
		})
	}
}

// Emit queues ev without blocking. It reports false and drops the event
// when the queue is full.
func (b *Bus) Emit(ev radio.Event) bool {
	if ev == nil {
		return false
	}
	b.emitted.Add(1)

	select {
	case b.events <- ev:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "event", ev.Kind().String())
		return false
	}
}

// Sink adapts Emit to a radio.EventSink.
func (b *Bus) Sink() radio.EventSink {
	return func(ev radio.Event) { b.Emit(ev) }
}

// Run dispatches queued events until ctx is cancelled. Events still queued
// at cancellation are delivered before Run returns.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case ev := <-b.events:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.events:
			b.dispatch(ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ev radio.Event) {
	for _, l := range b.snapshot() {
		b.deliver(l, ev)
	}
}

// snapshot returns listeners in subscription order.
func (b *Bus) snapshot() []radio.Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]uint64, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]radio.Listener, 0, len(ids))
	for _, id := range ids {
		result = append(result, b.listeners[id])
	}
	return result
}

// deliver calls one listener. A panicking or failing listener is logged and
// does not affect other listeners or later events.
func (b *Bus) deliver(l radio.Listener, ev radio.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("listener panicked", "event", ev.Kind().String(), "panic", fmt.Sprint(r))
		}
	}()

	if err := radio.Dispatch(l, ev); err != nil {
		b.logger.Warn("dispatching event failed", "event", ev.Kind().String(), "error", err)
		return
	}
	b.delivered.Add(1)
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	listeners := len(b.listeners)
	b.mu.RUnlock()

	return Stats{
		Emitted:   b.emitted.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Panics:    b.panics.Load(),
		Listeners: listeners,
	}
}
