package radio

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// PortNum identifies the application a mesh packet belongs to
type PortNum int32

const (
	PortUnknown        PortNum = 0
	PortTextMessage    PortNum = 1
	PortRemoteHardware PortNum = 2
	PortPosition       PortNum = 3
	PortNodeInfo       PortNum = 4
	PortRouting        PortNum = 5
	PortAdmin          PortNum = 6
	PortWaypoint       PortNum = 8
	PortDetection      PortNum = 10
	PortReply          PortNum = 32
	PortSerial         PortNum = 64
	PortStoreForward   PortNum = 65
	PortRangeTest      PortNum = 66
	PortTelemetry      PortNum = 67
	PortTraceroute     PortNum = 70
	PortNeighborInfo   PortNum = 71
	PortPrivate        PortNum = 256
)

var portNames = map[PortNum]string{
	PortUnknown:        "UNKNOWN_APP",
	PortTextMessage:    "TEXT_MESSAGE_APP",
	PortRemoteHardware: "REMOTE_HARDWARE_APP",
	PortPosition:       "POSITION_APP",
	PortNodeInfo:       "NODEINFO_APP",
	PortRouting:        "ROUTING_APP",
	PortAdmin:          "ADMIN_APP",
	PortWaypoint:       "WAYPOINT_APP",
	PortDetection:      "DETECTION_SENSOR_APP",
	PortReply:          "REPLY_APP",
	PortSerial:         "SERIAL_APP",
	PortStoreForward:   "STORE_FORWARD_APP",
	PortRangeTest:      "RANGE_TEST_APP",
	PortTelemetry:      "TELEMETRY_APP",
	PortTraceroute:     "TRACEROUTE_APP",
	PortNeighborInfo:   "NEIGHBORINFO_APP",
	PortPrivate:        "PRIVATE_APP",
}

// String returns the firmware name of the port, such as TEXT_MESSAGE_APP.
func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PORT_%d", int32(p))
}

// PacketInfo holds the header fields of a mesh packet
type PacketInfo struct {
	ID       uint32
	From     uint32
	To       uint32
	Channel  uint32
	PortNum  PortNum
	RxTime   time.Time
	RxSNR    float32
	RxRSSI   int32
	HopLimit uint32
}

// Packet is an inbound mesh packet. It is immutable once constructed.
type Packet struct {
	info       PacketInfo
	payload    []byte
	receivedAt time.Time
}

// NewPacket creates a Packet. The payload is copied to ensure immutability.
func NewPacket(info PacketInfo, payload []byte, receivedAt time.Time) *Packet {
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return &Packet{
		info:       info,
		payload:    payloadCopy,
		receivedAt: receivedAt,
	}
}

// Info returns the packet header fields.
func (p *Packet) Info() PacketInfo {
	return p.info
}

// ID returns the packet identifier assigned by the sender.
func (p *Packet) ID() uint32 {
	return p.info.ID
}

// From returns the sender node number.
func (p *Packet) From() uint32 {
	return p.info.From
}

// To returns the destination node number.
func (p *Packet) To() uint32 {
	return p.info.To
}

// PortNum returns the application port of the payload.
func (p *Packet) PortNum() PortNum {
	return p.info.PortNum
}

// Payload returns a copy of the packet payload.
func (p *Packet) Payload() []byte {
	result := make([]byte, len(p.payload))
	copy(result, p.payload)
	return result
}

// PayloadLen returns the payload size in bytes.
func (p *Packet) PayloadLen() int {
	return len(p.payload)
}

// ReceivedAt returns when the gateway received the packet.
func (p *Packet) ReceivedAt() time.Time {
	return p.receivedAt
}

// IsBroadcast reports whether the packet was sent to all nodes.
func (p *Packet) IsBroadcast() bool {
	return p.info.To == BroadcastAddr
}

// Text returns the payload as text for text message packets.
func (p *Packet) Text() (string, bool) {
	if p.info.PortNum != PortTextMessage || !utf8.Valid(p.payload) {
		return "", false
	}
	return string(p.payload), true
}

// String returns a short human readable description.
func (p *Packet) String() string {
	return fmt.Sprintf("packet id=%d from=%s to=%s port=%s len=%d",
		p.info.ID, FormatNodeID(p.info.From), FormatNodeID(p.info.To), p.info.PortNum, len(p.payload))
}
