package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

// Protobuf encodes packets as a google.protobuf.Struct holding the Record
// fields. Bytes fields are carried as base64 strings.
type Protobuf struct{}

func (Protobuf) Name() string        { return "protobuf" }
func (Protobuf) ContentType() string { return "application/x-protobuf" }

// Encode marshals the packet Record with deterministic map ordering.
func (Protobuf) Encode(packet *radio.Packet) ([]byte, error) {
	if packet == nil {
		return nil, errNilPacket
	}

	doc, err := structpb.NewStruct(NewRecord(packet).fields())
	if err != nil {
		return nil, fmt.Errorf("building struct: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(doc)
}
