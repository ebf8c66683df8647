package protocol

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/blukai/growbles/internal/byteorder"
	"github.com/blukai/growbles/internal/debug"
)

const (
	Magic uint32 = 0x640E8135

	HandshakeSize = 4 + 4 + 4 // magic + server id + client id
)

var ErrBadMagic = errors.New("growbles: bad magic word")

// Handshake is the first and only thing the server writes to a freshly
// accepted connection before payload traffic begins.
type Handshake struct {
	Magic    uint32
	ServerID PlayerID
	ClientID PlayerID
}

var (
	_ encoding.BinaryMarshaler   = (*Handshake)(nil)
	_ encoding.BinaryUnmarshaler = (*Handshake)(nil)
)

func (h *Handshake) MarshalBinary() ([]byte, error) {
	data := make([]byte, HandshakeSize)
	byteorder.PutNl(data[0:4], h.Magic)
	byteorder.PutNl(data[4:8], uint32(h.ServerID))
	byteorder.PutNl(data[8:12], uint32(h.ClientID))
	return data, nil
}

func (h *Handshake) UnmarshalBinary(data []byte) error {
	debug.Assert(len(data) == HandshakeSize)

	h.Magic = byteorder.Ntohl(data[0:4])
	h.ServerID = PlayerID(byteorder.Ntohl(data[4:8]))
	h.ClientID = PlayerID(byteorder.Ntohl(data[8:12]))

	return nil
}

// Validate reports a peer that is not speaking this protocol, or is built
// from an incompatible revision of it.
func (h *Handshake) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w (got %#x; want %#x)", ErrBadMagic, h.Magic, Magic)
	}
	if h.ServerID == NoPlayer || h.ClientID == NoPlayer {
		return fmt.Errorf("handshake carries unassigned player id (server %d; client %d)",
			h.ServerID, h.ClientID)
	}
	return nil
}
