package connection

import (
	"sync/atomic"

	"github.com/blukai/growbles/internal/debug"
	"github.com/blukai/growbles/internal/protocol"
)

// IDAllocator hands out player ids. the zero value is ready to use; the first
// id is 1 because 0 is reserved. ids are never reused.
type IDAllocator struct {
	gen atomic.Uint32
}

func (a *IDAllocator) Next() protocol.PlayerID {
	id := protocol.PlayerID(a.gen.Add(1))
	debug.Assert(id != protocol.NoPlayer, "player ids exhausted")
	return id
}
