package codec

import (
	"encoding/json"
	"errors"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

var errNilPacket = errors.New("packet cannot be nil")

// JSON encodes packets as a JSON Record; the payload is base64
type JSON struct{}

func (JSON) Name() string        { return "json" }
func (JSON) ContentType() string { return "application/json" }

// Encode marshals the packet Record.
func (JSON) Encode(packet *radio.Packet) ([]byte, error) {
	if packet == nil {
		return nil, errNilPacket
	}
	return json.Marshal(NewRecord(packet))
}
