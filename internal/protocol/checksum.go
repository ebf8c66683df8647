package protocol

import (
	"github.com/blukai/growbles/internal/debug"
	"github.com/cespare/xxhash/v2"
)

// Checksum hashes the wire encoding of ws. two processes hold the same world
// state iff their checksums match.
func (ws *WorldState) Checksum() uint64 {
	data, err := ws.MarshalBinary()
	debug.Assert(err == nil)
	return xxhash.Sum64(data)
}
