package sessiontest_test

import (
	"context"
	"testing"
	"time"

	"github.com/blukai/growbles/internal/protocol"
	"github.com/blukai/growbles/internal/session"
	"github.com/blukai/growbles/internal/world"
	"github.com/matryer/is"
	"github.com/phuslu/log"
)

type peer struct {
	session *session.Session
	world   *world.World
}

func (p *peer) id() protocol.PlayerID {
	return p.session.PlayerID()
}

func (p *peer) sendInput(t *testing.T, input protocol.UserInput) {
	t.Helper()
	input.PlayerID = p.id()
	if err := p.session.SendInput(&input); err != nil {
		t.Fatalf("player %d: send input: %v", p.id(), err)
	}
}

// syncUntil synchronizes p until cond holds, failing the test after ~3s.
func syncUntil(t *testing.T, p *peer, cond func() bool) {
	t.Helper()
	for i := 0; i < 300; i++ {
		if err := p.session.Synchronize(p.world); err != nil {
			t.Fatalf("player %d: synchronize: %v", p.id(), err)
		}
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("player %d: condition not reached", p.id())
}

// syncFor synchronizes every peer for d.
func syncFor(t *testing.T, d time.Duration, peers ...*peer) {
	t.Helper()
	for deadline := time.Now().Add(d); time.Now().Before(deadline); {
		for _, p := range peers {
			if err := p.session.Synchronize(p.world); err != nil {
				t.Fatalf("player %d: synchronize: %v", p.id(), err)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func checksum(w *world.World) uint64 {
	state := protocol.WorldState{}
	w.GetState(&state)
	return state.Checksum()
}

func TestServerAndTwoClients(t *testing.T) {
	is := is.New(t)

	tmp := log.DefaultLogger
	logger := &tmp
	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// setup server

	server := &peer{session: session.New(session.RoleServer, logger), world: world.New()}
	defer server.session.Close()
	server.session.SetNumClientsExpected(2)
	server.session.SetListenAddr("127.0.0.1:0")
	server.session.SetPolling(10*time.Millisecond, 0)
	server.session.SetDumpInterval(time.Hour)

	addr, err := server.session.Listen()
	is.NoErr(err)

	connected := make(chan error, 1)
	go func() { connected <- server.session.Connect(ctx) }()

	// connect clients

	clients := make([]*peer, 2)
	for i := range clients {
		c := &peer{session: session.New(session.RoleClient, logger), world: world.New()}
		defer c.session.Close()
		c.session.SetServer(addr.String())
		c.session.SetPolling(10*time.Millisecond, 300)

		t.Logf("connect client %d", i)
		is.NoErr(c.session.Connect(ctx))
		clients[i] = c
	}
	is.NoErr(<-connected)

	one, two := clients[0], clients[1]
	is.Equal(server.id(), protocol.PlayerID(1))
	is.Equal(one.id(), protocol.PlayerID(2))
	is.Equal(two.id(), protocol.PlayerID(3))

	// init world

	t.Log("init world")
	is.NoErr(server.session.InitWorld(ctx, server.world))
	for _, c := range clients {
		is.NoErr(c.session.InitWorld(ctx, c.world))
	}

	for _, p := range []*peer{server, one, two} {
		is.Equal(len(p.world.Players()), 3)
		is.Equal(checksum(p.world), checksum(server.world))
		for _, id := range []protocol.PlayerID{1, 2, 3} {
			is.True(p.world.GetPlayer(id) != nil)
		}
	}

	// client input reaches the server and is relayed to the other client

	t.Log("client one presses up")
	press := protocol.UserInput{Timestamp: 1}
	press.Press(protocol.InputUp)
	one.sendInput(t, press)

	syncUntil(t, server, func() bool {
		return server.world.GetPlayer(one.id()).Active(protocol.InputUp)
	})
	syncUntil(t, two, func() bool {
		return two.world.GetPlayer(one.id()).Active(protocol.InputUp)
	})

	// server input reaches every client

	t.Log("server presses jump")
	press = protocol.UserInput{Timestamp: 2}
	press.Press(protocol.InputJump)
	server.sendInput(t, press)

	for _, c := range clients {
		syncUntil(t, c, func() bool {
			return c.world.GetPlayer(server.id()).Active(protocol.InputJump)
		})
	}

	// nothing goes in or out during an outage

	t.Log("client two has an outage")
	two.session.SetSimulatingOutage(true)

	press = protocol.UserInput{Timestamp: 3}
	press.Press(protocol.InputDash)
	two.sendInput(t, press)

	release := protocol.UserInput{Timestamp: 3}
	release.Release(protocol.InputUp)
	one.sendInput(t, release)

	syncFor(t, 100*time.Millisecond, server, two)
	is.True(!server.world.GetPlayer(two.id()).Active(protocol.InputDash))
	is.True(!server.world.GetPlayer(one.id()).Active(protocol.InputUp))
	is.True(two.world.GetPlayer(one.id()).Active(protocol.InputUp)) // relayed but not received

	two.session.SetSimulatingOutage(false)
	syncUntil(t, two, func() bool {
		return !two.world.GetPlayer(one.id()).Active(protocol.InputUp)
	})
	is.True(!server.world.GetPlayer(two.id()).Active(protocol.InputDash)) // dropped for good

	// authoritative dumps

	t.Log("server dumps its world state")
	moved := protocol.Vector3{X: 1, Y: 2, Z: 3}
	server.world.GetPlayer(one.id()).Position = moved
	before := two.world.GetPlayer(one.id()).Position

	two.session.SetIgnoringAuthoritativeDumps(true)
	server.session.SetDumpInterval(10 * time.Millisecond)

	syncFor(t, 50*time.Millisecond, server)
	syncUntil(t, one, func() bool {
		return one.world.GetPlayer(one.id()).Position == moved
	})
	is.Equal(checksum(one.world), checksum(server.world))

	syncFor(t, 50*time.Millisecond, server, two)
	is.Equal(two.world.GetPlayer(one.id()).Position, before)
}
