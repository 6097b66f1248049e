// Package codec serializes received radio packets for the message bus.
package codec

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// Codec turns a packet into bytes for the publish sink
type Codec interface {
	// Name is the configuration name of the codec
	Name() string

	// ContentType is the media type of the encoded bytes
	ContentType() string

	Encode(packet *radio.Packet) ([]byte, error)
}

// Record is the transport-agnostic form of a received packet
type Record struct {
	ID         uint32  `json:"id" cbor:"id"`
	From       string  `json:"from" cbor:"from"`
	FromNum    uint32  `json:"from_num" cbor:"from_num"`
	To         string  `json:"to" cbor:"to"`
	ToNum      uint32  `json:"to_num" cbor:"to_num"`
	Channel    uint32  `json:"channel" cbor:"channel"`
	PortNum    string  `json:"portnum" cbor:"portnum"`
	Port       int32   `json:"port" cbor:"port"`
	Text       string  `json:"text,omitempty" cbor:"text,omitempty"`
	Payload    []byte  `json:"payload" cbor:"payload"`
	RxTime     int64   `json:"rx_time,omitempty" cbor:"rx_time,omitempty"`
	RxSNR      float32 `json:"rx_snr" cbor:"rx_snr"`
	RxRSSI     int32   `json:"rx_rssi" cbor:"rx_rssi"`
	HopLimit   uint32  `json:"hop_limit" cbor:"hop_limit"`
	ReceivedAt string  `json:"received_at" cbor:"received_at"`
}

// NewRecord builds the Record for packet.
func NewRecord(packet *radio.Packet) Record {
	info := packet.Info()
	record := Record{
		ID:         info.ID,
		From:       radio.FormatNodeID(info.From),
		FromNum:    info.From,
		To:         radio.FormatNodeID(info.To),
		ToNum:      info.To,
		Channel:    info.Channel,
		PortNum:    info.PortNum.String(),
		Port:       int32(info.PortNum),
		Payload:    packet.Payload(),
		RxSNR:      info.RxSNR,
		RxRSSI:     info.RxRSSI,
		HopLimit:   info.HopLimit,
		ReceivedAt: packet.ReceivedAt().UTC().Format(time.RFC3339Nano),
	}
	if !info.RxTime.IsZero() {
		record.RxTime = info.RxTime.Unix()
	}
	if text, ok := packet.Text(); ok {
		record.Text = text
	}
	return record
}

// fields returns the record as a generic map for document encoders.
func (r Record) fields() map[string]any {
	fields := map[string]any{
		"id":          r.ID,
		"from":        r.From,
		"from_num":    r.FromNum,
		"to":          r.To,
		"to_num":      r.ToNum,
		"channel":     r.Channel,
		"portnum":     r.PortNum,
		"port":        r.Port,
		"payload":     r.Payload,
		"rx_snr":      r.RxSNR,
		"rx_rssi":     r.RxRSSI,
		"hop_limit":   r.HopLimit,
		"received_at": r.ReceivedAt,
	}
	if r.Text != "" {
		fields["text"] = r.Text
	}
	if r.RxTime != 0 {
		fields["rx_time"] = r.RxTime
	}
	return fields
}

var registry = map[string]func() Codec{
	"json":     func() Codec { return JSON{} },
	"cbor":     func() Codec { return CBOR{} },
	"protobuf": func() Codec { return Protobuf{} },
}

// ByName returns the codec registered under name. An empty name selects JSON.
func ByName(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "json"
	}
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
