package codec

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// encMode uses Core Deterministic Encoding, so the same packet always
// produces the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
}

// CBOR encodes packets as a deterministic CBOR Record
type CBOR struct{}

func (CBOR) Name() string        { return "cbor" }
func (CBOR) ContentType() string { return "application/cbor" }

// Encode marshals the packet Record.
func (CBOR) Encode(packet *radio.Packet) ([]byte, error) {
	if packet == nil {
		return nil, errNilPacket
	}
	return encMode.Marshal(NewRecord(packet))
}
