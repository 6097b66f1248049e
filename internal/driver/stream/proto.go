package stream

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// Field numbers from the Meshtastic mesh.proto and admin.proto schemas.
const (
	toRadioPacket       protowire.Number = 1
	toRadioWantConfigID protowire.Number = 3
	toRadioHeartbeat    protowire.Number = 7

	fromRadioID               protowire.Number = 1
	fromRadioPacket           protowire.Number = 2
	fromRadioMyInfo           protowire.Number = 3
	fromRadioNodeInfo         protowire.Number = 4
	fromRadioConfigCompleteID protowire.Number = 7

	packetFrom     protowire.Number = 1
	packetTo       protowire.Number = 2
	packetChannel  protowire.Number = 3
	packetDecoded  protowire.Number = 4
	packetID       protowire.Number = 6
	packetRxTime   protowire.Number = 7
	packetRxSNR    protowire.Number = 8
	packetHopLimit protowire.Number = 9
	packetWantAck  protowire.Number = 10
	packetRxRSSI   protowire.Number = 12

	dataPortNum protowire.Number = 1
	dataPayload protowire.Number = 2

	myInfoNodeNum protowire.Number = 1

	nodeNum       protowire.Number = 1
	nodeUser      protowire.Number = 2
	nodePosition  protowire.Number = 3
	nodeSNR       protowire.Number = 4
	nodeLastHeard protowire.Number = 5

	userID        protowire.Number = 1
	userLongName  protowire.Number = 2
	userShortName protowire.Number = 3
	userHWModel   protowire.Number = 5

	positionLatitudeI  protowire.Number = 1
	positionLongitudeI protowire.Number = 2
	positionAltitude   protowire.Number = 3
	positionTime       protowire.Number = 4

	adminRebootSeconds protowire.Number = 97
)

var errTruncated = errors.New("truncated protobuf")

type meshPacket struct {
	From     uint32
	To       uint32
	Channel  uint32
	ID       uint32
	RxTime   uint32
	RxSNR    float32
	HopLimit uint32
	WantAck  bool
	RxRSSI   int32

	// Decoded is nil for packets the radio could not decrypt
	Decoded *data
}

type data struct {
	PortNum radio.PortNum
	Payload []byte
}

type fromRadio struct {
	ID               uint32
	Packet           *meshPacket
	MyNodeNum        uint32
	HasMyInfo        bool
	NodeInfo         *radio.NodeInfo
	ConfigCompleteID uint32
	HasConfigDone    bool
}

func encodeData(d data) []byte {
	var b []byte
	b = protowire.AppendTag(b, dataPortNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.PortNum))
	b = protowire.AppendTag(b, dataPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, d.Payload)
	return b
}

func encodeMeshPacket(p meshPacket) []byte {
	var b []byte
	if p.From != 0 {
		b = protowire.AppendTag(b, packetFrom, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, p.From)
	}
	b = protowire.AppendTag(b, packetTo, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.To)
	if p.Channel != 0 {
		b = protowire.AppendTag(b, packetChannel, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Channel))
	}
	if p.Decoded != nil {
		b = protowire.AppendTag(b, packetDecoded, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeData(*p.Decoded))
	}
	b = protowire.AppendTag(b, packetID, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, p.ID)
	if p.HopLimit != 0 {
		b = protowire.AppendTag(b, packetHopLimit, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.HopLimit))
	}
	if p.WantAck {
		b = protowire.AppendTag(b, packetWantAck, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func encodeToRadioPacket(p meshPacket) []byte {
	var b []byte
	b = protowire.AppendTag(b, toRadioPacket, protowire.BytesType)
	return protowire.AppendBytes(b, encodeMeshPacket(p))
}

func encodeWantConfig(id uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, toRadioWantConfigID, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(id))
}

func encodeHeartbeat() []byte {
	var b []byte
	b = protowire.AppendTag(b, toRadioHeartbeat, protowire.BytesType)
	return protowire.AppendBytes(b, nil)
}

func encodeAdminReboot(delay time.Duration) []byte {
	seconds := int32(delay / time.Second)
	var b []byte
	b = protowire.AppendTag(b, adminRebootSeconds, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(seconds)))
}

// walk calls fn for every field in b. fn consumes the value and returns the
// number of bytes used, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if m > len(b) {
			return errTruncated
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(b []byte, out *uint64) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*out = v
	}
	return n
}

func consumeFixed32(b []byte, out *uint32) int {
	v, n := protowire.ConsumeFixed32(b)
	if n >= 0 {
		*out = v
	}
	return n
}

func consumeBytes(b []byte, out *[]byte) int {
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*out = v
	}
	return n
}

func decodeFromRadio(b []byte) (fromRadio, error) {
	var msg fromRadio
	var nested error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var raw []byte
		switch {
		case num == fromRadioID && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			msg.ID = uint32(v)
			return n
		case num == fromRadioPacket && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			if n >= 0 {
				p, err := decodeMeshPacket(raw)
				if err != nil {
					nested = fmt.Errorf("packet: %w", err)
				}
				msg.Packet = &p
			}
			return n
		case num == fromRadioMyInfo && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			if n >= 0 {
				msg.HasMyInfo = true
				msg.MyNodeNum, nested = decodeMyInfo(raw)
			}
			return n
		case num == fromRadioNodeInfo && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			if n >= 0 {
				info, err := decodeNodeInfo(raw)
				if err != nil {
					nested = fmt.Errorf("node info: %w", err)
				}
				msg.NodeInfo = &info
			}
			return n
		case num == fromRadioConfigCompleteID && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			msg.ConfigCompleteID = uint32(v)
			msg.HasConfigDone = true
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	if err != nil {
		return fromRadio{}, err
	}
	return msg, nested
}

func decodeMeshPacket(b []byte) (meshPacket, error) {
	var p meshPacket
	var nested error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var f uint32
		var raw []byte
		switch {
		case num == packetFrom && typ == protowire.Fixed32Type:
			return consumeFixed32(b, &p.From)
		case num == packetTo && typ == protowire.Fixed32Type:
			return consumeFixed32(b, &p.To)
		case num == packetChannel && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			p.Channel = uint32(v)
			return n
		case num == packetDecoded && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			if n >= 0 {
				d, err := decodeData(raw)
				if err != nil {
					nested = fmt.Errorf("decoded: %w", err)
				}
				p.Decoded = &d
			}
			return n
		case num == packetID && typ == protowire.Fixed32Type:
			return consumeFixed32(b, &p.ID)
		case num == packetRxTime && typ == protowire.Fixed32Type:
			return consumeFixed32(b, &p.RxTime)
		case num == packetRxSNR && typ == protowire.Fixed32Type:
			n := consumeFixed32(b, &f)
			p.RxSNR = math.Float32frombits(f)
			return n
		case num == packetHopLimit && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			p.HopLimit = uint32(v)
			return n
		case num == packetWantAck && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			p.WantAck = v != 0
			return n
		case num == packetRxRSSI && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			p.RxRSSI = int32(v)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	if err != nil {
		return meshPacket{}, err
	}
	return p, nested
}

func decodeData(b []byte) (data, error) {
	var d data
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		switch {
		case num == dataPortNum && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			d.PortNum = radio.PortNum(int32(v))
			return n
		case num == dataPayload && typ == protowire.BytesType:
			var raw []byte
			n := consumeBytes(b, &raw)
			d.Payload = append([]byte(nil), raw...)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	return d, err
}

func decodeMyInfo(b []byte) (uint32, error) {
	var num uint32
	err := walk(b, func(n protowire.Number, typ protowire.Type, b []byte) int {
		if n == myInfoNodeNum && typ == protowire.VarintType {
			var v uint64
			m := consumeVarint(b, &v)
			num = uint32(v)
			return m
		}
		return protowire.ConsumeFieldValue(n, typ, b)
	})
	return num, err
}

func decodeNodeInfo(b []byte) (radio.NodeInfo, error) {
	var info radio.NodeInfo
	var nested error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var f uint32
		var raw []byte
		switch {
		case num == nodeNum && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			info.Num = uint32(v)
			return n
		case num == nodeUser && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			if n >= 0 {
				if err := decodeUser(raw, &info); err != nil {
					nested = fmt.Errorf("user: %w", err)
				}
			}
			return n
		case num == nodePosition && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			if n >= 0 {
				pos, err := decodePosition(raw)
				if err != nil {
					nested = fmt.Errorf("position: %w", err)
				}
				info.Position = &pos
			}
			return n
		case num == nodeSNR && typ == protowire.Fixed32Type:
			n := consumeFixed32(b, &f)
			info.SNR = math.Float32frombits(f)
			return n
		case num == nodeLastHeard && typ == protowire.Fixed32Type:
			n := consumeFixed32(b, &f)
			if f != 0 {
				info.LastHeard = time.Unix(int64(f), 0)
			}
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	if err != nil {
		return radio.NodeInfo{}, err
	}
	if info.ID == "" && info.Num != 0 {
		info.ID = radio.FormatNodeID(info.Num)
	}
	return info, nested
}

func decodeUser(b []byte, info *radio.NodeInfo) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var raw []byte
		var v uint64
		switch {
		case num == userID && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			info.ID = string(raw)
			return n
		case num == userLongName && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			info.LongName = string(raw)
			return n
		case num == userShortName && typ == protowire.BytesType:
			n := consumeBytes(b, &raw)
			info.ShortName = string(raw)
			return n
		case num == userHWModel && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			info.HWModel = int32(v)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

func decodePosition(b []byte) (radio.Position, error) {
	var pos radio.Position
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var f uint32
		var v uint64
		switch {
		case num == positionLatitudeI && typ == protowire.Fixed32Type:
			n := consumeFixed32(b, &f)
			pos.Latitude = float64(int32(f)) * 1e-7
			return n
		case num == positionLongitudeI && typ == protowire.Fixed32Type:
			n := consumeFixed32(b, &f)
			pos.Longitude = float64(int32(f)) * 1e-7
			return n
		case num == positionAltitude && typ == protowire.VarintType:
			n := consumeVarint(b, &v)
			pos.Altitude = int32(v)
			return n
		case num == positionTime && typ == protowire.Fixed32Type:
			n := consumeFixed32(b, &f)
			if f != 0 {
				pos.Time = time.Unix(int64(f), 0)
			}
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	return pos, err
}
