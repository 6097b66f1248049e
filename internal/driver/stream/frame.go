package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	start1 = 0x94
	start2 = 0xC3

	headerLen = 4

	// MaxFramePayload is the largest protobuf a stream frame may carry
	MaxFramePayload = 512
)

// ErrFrameTooLarge is returned when a payload exceeds MaxFramePayload
var ErrFrameTooLarge = errors.New("frame payload too large")

// WriteFrame writes payload with the stream header.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	frame := make([]byte, headerLen+len(payload))
	frame[0] = start1
	frame[1] = start2
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[headerLen:], payload)
	_, err := w.Write(frame)
	return err
}

// FrameReader extracts frames from a byte stream. Bytes outside frames, such
// as the firmware's debug console output, are skipped.
type FrameReader struct {
	r       *bufio.Reader
	skipped uint64
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 2*MaxFramePayload)}
}

// ReadFrame returns the next frame payload.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start1 {
			f.skipped++
			continue
		}

		b, err = f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start2 {
			f.skipped++
			if b == start1 {
				f.r.UnreadByte()
			}
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n > MaxFramePayload {
			// Corrupt header; resync on the next start byte
			f.skipped += headerLen
			continue
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// Skipped returns how many bytes were discarded outside frames.
func (f *FrameReader) Skipped() uint64 {
	return f.skipped
}
