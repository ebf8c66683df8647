package protocol

import (
	"encoding"
	"fmt"

	"github.com/blukai/growbles/internal/debug"
)

// PlayerID identifies a participant for the lifetime of a session.
type PlayerID uint32

// NoPlayer is never assigned to a real participant.
const NoPlayer PlayerID = 0

type PayloadKind uint32

const (
	// NOTE: KindNone is never sent. it marks "no payload in progress" on the
	// receiving side.
	KindNone PayloadKind = iota
	KindWorldState
	KindUserInput

	kindMax
)

func (k PayloadKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindWorldState:
		return "world_state"
	case KindUserInput:
		return "user_input"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Valid reports whether k names a payload that can cross the wire.
func (k PayloadKind) Valid() bool {
	return k > KindNone && k < kindMax
}

// SizeOf returns the exact encoded size of a payload of the given kind. there
// is no default: asking for anything else is a bug.
func SizeOf(kind PayloadKind) int {
	switch kind {
	case KindWorldState:
		return WorldStateSize
	case KindUserInput:
		return UserInputSize
	default:
		debug.Assertf(false, "no size for payload kind %s", kind)
		return 0
	}
}

// Record is a fixed-size structure that can travel as a payload.
type Record interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	PayloadKind() PayloadKind
}
