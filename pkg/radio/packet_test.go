package radio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkSizeIsHalfFrameLimit(t *testing.T) {
	assert.Equal(t, 237, FrameLimit)
	assert.Equal(t, 118, ChunkSize)
}

func TestNewPacket(t *testing.T) {
	t.Run("payload_is_copied", func(t *testing.T) {
		payload := []byte("hello")
		packet := NewPacket(PacketInfo{ID: 7, From: 1, To: BroadcastAddr, PortNum: PortTextMessage}, payload, time.Unix(100, 0))

		payload[0] = 'j'
		assert.Equal(t, []byte("hello"), packet.Payload())

		returned := packet.Payload()
		returned[0] = 'y'
		assert.Equal(t, []byte("hello"), packet.Payload())
	})

	t.Run("accessors", func(t *testing.T) {
		receivedAt := time.Unix(1700000000, 0)
		packet := NewPacket(PacketInfo{ID: 9, From: 0x11, To: 0x22, PortNum: PortPosition}, []byte{1, 2, 3}, receivedAt)

		assert.Equal(t, uint32(9), packet.ID())
		assert.Equal(t, uint32(0x11), packet.From())
		assert.Equal(t, uint32(0x22), packet.To())
		assert.Equal(t, PortPosition, packet.PortNum())
		assert.Equal(t, 3, packet.PayloadLen())
		assert.Equal(t, receivedAt, packet.ReceivedAt())
		assert.False(t, packet.IsBroadcast())
	})

	t.Run("text_only_for_text_port", func(t *testing.T) {
		text := NewPacket(PacketInfo{PortNum: PortTextMessage}, []byte("hi"), time.Now())
		got, ok := text.Text()
		require.True(t, ok)
		assert.Equal(t, "hi", got)

		data := NewPacket(PacketInfo{PortNum: PortTelemetry}, []byte("hi"), time.Now())
		_, ok = data.Text()
		assert.False(t, ok)

		invalid := NewPacket(PacketInfo{PortNum: PortTextMessage}, []byte{0xff, 0xfe}, time.Now())
		_, ok = invalid.Text()
		assert.False(t, ok)
	})
}

func TestPortNumString(t *testing.T) {
	assert.Equal(t, "TEXT_MESSAGE_APP", PortTextMessage.String())
	assert.Equal(t, "ADMIN_APP", PortAdmin.String())
	assert.Equal(t, "PORT_999", PortNum(999).String())
}

func TestNodeIDs(t *testing.T) {
	assert.Equal(t, "!a1b2c3d4", FormatNodeID(0xa1b2c3d4))
	assert.Equal(t, "^all", FormatNodeID(BroadcastAddr))

	cases := map[string]uint32{
		"!a1b2c3d4":  0xa1b2c3d4,
		"0xA1B2C3D4": 0xa1b2c3d4,
		"^all":       BroadcastAddr,
		"12345":      12345,
		" 42 ":       42,
	}
	for input, want := range cases {
		got, err := ParseNodeID(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, input := range []string{"", "!zz", "abc", "99999999999"} {
		_, err := ParseNodeID(input)
		assert.ErrorIs(t, err, ErrInvalidNodeID, input)
	}
}

func TestNodeInfoIsZero(t *testing.T) {
	assert.True(t, NodeInfo{}.IsZero())
	assert.False(t, NodeInfo{Num: 1}.IsZero())
}
