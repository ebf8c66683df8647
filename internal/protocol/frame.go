package protocol

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/blukai/growbles/internal/byteorder"
	"github.com/blukai/growbles/internal/debug"
)

const FrameHeaderSize = 4 + 8 // kind uint32 (4) + size uint64 (8) = 12

// FrameHeader precedes every payload on the wire. Size duplicates
// SizeOf(Kind); receivers check it instead of trusting it.
type FrameHeader struct {
	Kind PayloadKind
	Size uint64
}

var (
	_ encoding.BinaryMarshaler   = (*FrameHeader)(nil)
	_ encoding.BinaryUnmarshaler = (*FrameHeader)(nil)
)

func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}

	buf.Write(byteorder.Htonl(uint32(h.Kind)))
	buf.Write(byteorder.Htonll(h.Size))

	data := buf.Bytes()
	debug.Assert(len(data) == FrameHeaderSize)

	return data, nil
}

func (h *FrameHeader) UnmarshalBinary(data []byte) error {
	debug.Assert(len(data) == FrameHeaderSize)

	h.Kind = PayloadKind(byteorder.Ntohl(data[0:4]))
	h.Size = byteorder.Ntohll(data[4:12])

	return nil
}

// Frame is a payload with its header, encoded into one contiguous buffer so
// it can go out in a single write.
type Frame struct {
	Payload *Payload
}

var _ encoding.BinaryMarshaler = (*Frame)(nil)

func (f *Frame) MarshalBinary() ([]byte, error) {
	body, err := f.Payload.Bytes()
	if err != nil {
		return nil, fmt.Errorf("could not encode body: %w", err)
	}

	header := FrameHeader{
		Kind: f.Payload.Kind,
		Size: uint64(len(body)),
	}
	headerBytes, err := header.MarshalBinary()
	debug.Assert(err == nil)

	buf := bytes.Buffer{}
	buf.Grow(FrameHeaderSize + len(body))
	buf.Write(headerBytes)
	buf.Write(body)

	return buf.Bytes(), nil
}
