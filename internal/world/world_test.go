package world_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/blukai/growbles/internal/protocol"
	"github.com/blukai/growbles/internal/world"
	"github.com/matryer/is"
)

func panicMsg(fn func()) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprint(r)
		}
	}()
	fn()
	return ""
}

func TestAddPlayer(t *testing.T) {
	is := is.New(t)

	w := world.New()
	is.NoErr(w.Init())

	w.AddPlayer(1)
	w.AddPlayer(2)

	is.Equal(len(w.Players()), 2)
	is.Equal(w.GetPlayer(1).Position, protocol.Vector3{X: -8, Y: 5, Z: 0})
	is.Equal(w.GetPlayer(2).Position, protocol.Vector3{X: -4, Y: 5, Z: 4})
	is.True(w.GetPlayer(3) == nil)

	is.True(strings.Contains(panicMsg(func() { w.AddPlayer(2) }), "already exists"))
	is.True(strings.Contains(panicMsg(func() { w.AddPlayer(protocol.NoPlayer) }), "reserved"))
}

func TestAddPlayerFull(t *testing.T) {
	is := is.New(t)

	w := world.New()
	for i := 1; i <= protocol.MaxPlayers; i++ {
		w.AddPlayer(protocol.PlayerID(i))
	}
	msg := panicMsg(func() { w.AddPlayer(protocol.MaxPlayers + 1) })
	is.True(strings.Contains(msg, "no spawn point"))
}

func TestStateRoundTrip(t *testing.T) {
	is := is.New(t)

	server := world.New()
	server.AddPlayer(1)
	server.AddPlayer(2)
	server.GetPlayer(2).Position = protocol.Vector3{X: 1, Y: 2, Z: 3}

	var state protocol.WorldState
	server.GetState(&state)

	encoded, err := state.MarshalBinary()
	is.NoErr(err)
	var received protocol.WorldState
	is.NoErr(received.UnmarshalBinary(encoded))

	client := world.New()
	client.SetState(&received)

	is.Equal(len(client.Players()), 2)
	for i, p := range client.Players() {
		is.Equal(p.ID, server.Players()[i].ID)
		is.Equal(p.Position, server.Players()[i].Position)
	}

	var clientState protocol.WorldState
	client.GetState(&clientState)
	is.Equal(clientState.Checksum(), state.Checksum())

	// a later snapshot moves known players
	server.GetPlayer(1).Position = protocol.Vector3{X: 9}
	server.GetState(&state)
	client.SetState(&state)
	is.Equal(client.GetPlayer(1).Position, protocol.Vector3{X: 9})
	is.Equal(len(client.Players()), 2)
}

func TestApplyInput(t *testing.T) {
	is := is.New(t)

	w := world.New()
	w.AddPlayer(1)

	in := protocol.UserInput{PlayerID: 1}
	in.Press(protocol.InputUp)
	in.Press(protocol.InputJump)
	w.ApplyInput(&in)

	p := w.GetPlayer(1)
	is.True(p.Active(protocol.InputUp))
	is.True(p.Active(protocol.InputJump))
	is.True(!p.Active(protocol.InputLeft))

	in = protocol.UserInput{PlayerID: 1}
	in.Release(protocol.InputUp)
	w.ApplyInput(&in)
	is.True(!p.Active(protocol.InputUp))
	is.True(p.Active(protocol.InputJump))

	// an empty input changes nothing
	w.ApplyInput(&protocol.UserInput{PlayerID: 1})
	is.True(p.Active(protocol.InputJump))

	msg := panicMsg(func() { w.ApplyInput(&protocol.UserInput{PlayerID: 7}) })
	is.True(strings.Contains(msg, "unknown player"))
}
