package protocol

import (
	"encoding"
	"math"

	"github.com/blukai/growbles/internal/byteorder"
	"github.com/blukai/growbles/internal/debug"
)

const (
	// MaxPlayers is the number of player slots in a WorldState.
	MaxPlayers = 8

	Vector3Size    = 12                            // 3 * float32
	PlayerInfoSize = 4 + Vector3Size               // id + position
	WorldStateSize = 4 + MaxPlayers*PlayerInfoSize // count + slots
	UserInputSize  = 4 + 4 + 4                     // id + timestamp + inputs
)

type Vector3 struct {
	X, Y, Z float32
}

var (
	_ encoding.BinaryMarshaler   = (*Vector3)(nil)
	_ encoding.BinaryUnmarshaler = (*Vector3)(nil)
)

func (v *Vector3) MarshalBinary() ([]byte, error) {
	data := make([]byte, Vector3Size)
	v.put(data)
	return data, nil
}

func (v *Vector3) UnmarshalBinary(data []byte) error {
	debug.Assert(len(data) == Vector3Size)

	v.X = math.Float32frombits(byteorder.Ntohl(data[0:4]))
	v.Y = math.Float32frombits(byteorder.Ntohl(data[4:8]))
	v.Z = math.Float32frombits(byteorder.Ntohl(data[8:12]))

	return nil
}

func (v *Vector3) put(data []byte) {
	byteorder.PutNl(data[0:4], math.Float32bits(v.X))
	byteorder.PutNl(data[4:8], math.Float32bits(v.Y))
	byteorder.PutNl(data[8:12], math.Float32bits(v.Z))
}

type PlayerInfo struct {
	PlayerID PlayerID
	Position Vector3
}

var (
	_ encoding.BinaryMarshaler   = (*PlayerInfo)(nil)
	_ encoding.BinaryUnmarshaler = (*PlayerInfo)(nil)
)

func (p *PlayerInfo) MarshalBinary() ([]byte, error) {
	data := make([]byte, PlayerInfoSize)
	p.put(data)
	return data, nil
}

func (p *PlayerInfo) UnmarshalBinary(data []byte) error {
	debug.Assert(len(data) == PlayerInfoSize)

	p.PlayerID = PlayerID(byteorder.Ntohl(data[0:4]))

	err := p.Position.UnmarshalBinary(data[4:PlayerInfoSize])
	debug.Assert(err == nil)

	return nil
}

func (p *PlayerInfo) put(data []byte) {
	byteorder.PutNl(data[0:4], uint32(p.PlayerID))
	p.Position.put(data[4:PlayerInfoSize])
}

// WorldState is a full snapshot of every player in the world. its encoding
// is always WorldStateSize bytes: a player count followed by MaxPlayers
// slots, unused slots being zero.
type WorldState struct {
	Players []PlayerInfo
}

var _ Record = (*WorldState)(nil)

func (*WorldState) PayloadKind() PayloadKind { return KindWorldState }

func (ws *WorldState) MarshalBinary() ([]byte, error) {
	debug.Assertf(len(ws.Players) <= MaxPlayers,
		"world state holds %d players; max is %d", len(ws.Players), MaxPlayers)

	data := make([]byte, WorldStateSize)
	byteorder.PutNl(data[0:4], uint32(len(ws.Players)))
	for i := range ws.Players {
		off := 4 + i*PlayerInfoSize
		ws.Players[i].put(data[off : off+PlayerInfoSize])
	}

	return data, nil
}

func (ws *WorldState) UnmarshalBinary(data []byte) error {
	debug.Assert(len(data) == WorldStateSize)

	count := int(byteorder.Ntohl(data[0:4]))
	debug.Assertf(count <= MaxPlayers, "world state claims %d players", count)

	ws.Players = make([]PlayerInfo, count)
	for i := range ws.Players {
		off := 4 + i*PlayerInfoSize
		err := ws.Players[i].UnmarshalBinary(data[off : off+PlayerInfoSize])
		debug.Assert(err == nil)
	}

	return nil
}

// Input indices. every index owns two bits in UserInput.Inputs: one for the
// press edge and one for the release edge.
const (
	InputGrow uint = iota
	InputShrink
	InputDash
	InputJump
	InputBrake
	InputUp
	InputDown
	InputLeft
	InputRight

	InputCount
)

// InputMask returns the bit recording that input index began (pressed) or
// ended (released).
func InputMask(index uint, began bool) uint32 {
	debug.Assertf(index < InputCount, "unknown input index %d", index)

	bit := 2 * index
	if !began {
		bit++
	}
	return 1 << bit
}

// UserInput is one player's input edges for one tick.
type UserInput struct {
	PlayerID  PlayerID
	Timestamp uint32
	Inputs    uint32
}

var _ Record = (*UserInput)(nil)

func (*UserInput) PayloadKind() PayloadKind { return KindUserInput }

// Press records that index went down during this tick.
func (in *UserInput) Press(index uint) { in.Inputs |= InputMask(index, true) }

// Release records that index went up during this tick.
func (in *UserInput) Release(index uint) { in.Inputs |= InputMask(index, false) }

func (in *UserInput) MarshalBinary() ([]byte, error) {
	data := make([]byte, UserInputSize)
	byteorder.PutNl(data[0:4], uint32(in.PlayerID))
	byteorder.PutNl(data[4:8], in.Timestamp)
	byteorder.PutNl(data[8:12], in.Inputs)
	return data, nil
}

func (in *UserInput) UnmarshalBinary(data []byte) error {
	debug.Assert(len(data) == UserInputSize)

	in.PlayerID = PlayerID(byteorder.Ntohl(data[0:4]))
	in.Timestamp = byteorder.Ntohl(data[4:8])
	in.Inputs = byteorder.Ntohl(data[8:12])

	return nil
}
