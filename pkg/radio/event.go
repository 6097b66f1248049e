package radio

import (
	"fmt"
	"time"
)

// EventKind enumerates the inbound events a driver can emit
type EventKind int

const (
	// KindConnectionEstablished marks a ConnectionEstablished event
	KindConnectionEstablished EventKind = iota
	// KindConnectionLost marks a ConnectionLost event
	KindConnectionLost
	// KindPacketReceived marks a PacketReceived event
	KindPacketReceived
)

// String returns the event type name used in logs.
func (k EventKind) String() string {
	switch k {
	case KindConnectionEstablished:
		return "ConnectionEstablished"
	case KindConnectionLost:
		return "ConnectionLost"
	case KindPacketReceived:
		return "PacketReceived"
	default:
		return "Unknown"
	}
}

// Event is one of ConnectionEstablished, ConnectionLost or PacketReceived.
type Event interface {
	Kind() EventKind

	// Generation is the handle generation that produced the event.
	// Drivers leave it zero; the device connection stamps it.
	Generation() uint64
}

// ConnectionEstablished is emitted once a radio link is up and configured
type ConnectionEstablished struct {
	Device string
	At     time.Time
	Gen    uint64
}

func (ConnectionEstablished) Kind() EventKind      { return KindConnectionEstablished }
func (e ConnectionEstablished) Generation() uint64 { return e.Gen }

// ConnectionLost is emitted when a radio link goes down
type ConnectionLost struct {
	Device string
	At     time.Time
	Err    error
	Gen    uint64
}

func (ConnectionLost) Kind() EventKind      { return KindConnectionLost }
func (e ConnectionLost) Generation() uint64 { return e.Gen }

// PacketReceived carries one inbound mesh packet
type PacketReceived struct {
	Packet *Packet
	Gen    uint64
}

func (PacketReceived) Kind() EventKind      { return KindPacketReceived }
func (e PacketReceived) Generation() uint64 { return e.Gen }

// WithGeneration returns a copy of ev stamped with gen.
func WithGeneration(ev Event, gen uint64) Event {
	switch e := ev.(type) {
	case ConnectionEstablished:
		e.Gen = gen
		return e
	case ConnectionLost:
		e.Gen = gen
		return e
	case PacketReceived:
		e.Gen = gen
		return e
	default:
		return ev
	}
}

// Listener observes inbound radio events
type Listener interface {
	OnConnectionEstablished(ev ConnectionEstablished)
	OnConnectionLost(ev ConnectionLost)
	OnReceive(packet *Packet)
}

// Dispatch delivers ev to the matching Listener method.
func Dispatch(l Listener, ev Event) error {
	switch e := ev.(type) {
	case ConnectionEstablished:
		l.OnConnectionEstablished(e)
	case ConnectionLost:
		l.OnConnectionLost(e)
	case PacketReceived:
		if e.Packet == nil {
			return fmt.Errorf("packet event without packet")
		}
		l.OnReceive(e.Packet)
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
	return nil
}

// ListenerFuncs adapts optional functions to a Listener. Nil fields ignore the event.
type ListenerFuncs struct {
	Established func(ConnectionEstablished)
	Lost        func(ConnectionLost)
	Receive     func(*Packet)
}

// OnConnectionEstablished calls Established if set.
func (f ListenerFuncs) OnConnectionEstablished(ev ConnectionEstablished) {
	if f.Established != nil {
		f.Established(ev)
	}
}

// OnConnectionLost calls Lost if set.
func (f ListenerFuncs) OnConnectionLost(ev ConnectionLost) {
	if f.Lost != nil {
		f.Lost(ev)
	}
}

// OnReceive calls Receive if set.
func (f ListenerFuncs) OnReceive(packet *Packet) {
	if f.Receive != nil {
		f.Receive(packet)
	}
}

var _ Listener = ListenerFuncs{}
