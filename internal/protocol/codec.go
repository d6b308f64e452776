package protocol

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes a Frame into a byte slice for transmission.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Kind
	binary.BigEndian.PutUint32(buf[1:5], f.Seq)
	copy(buf[5:11], f.Src[:])
	copy(buf[11:17], f.Dst[:])
	if len(f.Payload) > 0 {
		copy(buf[HeaderSize:], f.Payload)
	}
	return buf
}

// Decode deserializes a byte slice into a Frame.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes (need at least %d)", len(data), HeaderSize)
	}
	f := &Frame{
		Kind: data[0],
		Seq:  binary.BigEndian.Uint32(data[1:5]),
	}
	if f.Kind != FrameData && f.Kind != FrameAck {
		return nil, fmt.Errorf("unknown frame kind 0x%02x", f.Kind)
	}
	copy(f.Src[:], data[5:11])
	copy(f.Dst[:], data[11:17])
	if len(data) > HeaderSize {
		f.Payload = make([]byte, len(data)-HeaderSize)
		copy(f.Payload, data[HeaderSize:])
	}
	return f, nil
}
