package game_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/blukai/growbles/internal/game"
	"github.com/blukai/growbles/internal/protocol"
	"github.com/blukai/growbles/internal/session"
	"github.com/blukai/growbles/internal/world"
	"github.com/matryer/is"
)

func TestParseCommand(t *testing.T) {
	is := is.New(t)

	cmd, err := game.ParseCommand("+up -jump")
	is.NoErr(err)
	is.Equal(cmd.Kind, game.CommandInput)
	is.Equal(cmd.Inputs, protocol.InputMask(protocol.InputUp, true)|protocol.InputMask(protocol.InputJump, false))

	cmd, err = game.ParseCommand("outage on")
	is.NoErr(err)
	is.Equal(cmd, game.Command{Kind: game.CommandOutage, On: true})

	cmd, err = game.ParseCommand("dumps follow")
	is.NoErr(err)
	is.Equal(cmd, game.Command{Kind: game.CommandIgnoreDumps, On: false})

	for _, line := range []string{"", "up", "+fly", "outage", "outage maybe", "dumps on"} {
		_, err := game.ParseCommand(line)
		is.True(err != nil) // line should not parse
	}
}

func TestReadCommands(t *testing.T) {
	is := is.New(t)

	r := strings.NewReader("+left\n\nnonsense\noutage off\n")

	var got []game.Command
	for cmd := range game.ReadCommands(context.Background(), r, nil) {
		got = append(got, cmd)
	}

	is.Equal(len(got), 2)
	is.Equal(got[0].Inputs, protocol.InputMask(protocol.InputLeft, true))
	is.Equal(got[1].Kind, game.CommandOutage)
}

func TestReadCommandsStopsWhenCanceled(t *testing.T) {
	is := is.New(t)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	commands := game.ReadCommands(ctx, pr, nil)

	// the write returns once the line is read; nobody takes the command
	_, err := pw.Write([]byte("+left\n"))
	is.NoErr(err)
	time.Sleep(20 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-commands:
		is.True(!ok) // closed without delivering
	case <-time.After(3 * time.Second):
		t.Fatal("reader did not stop after cancel")
	}
}

func TestLoopAppliesLocalInput(t *testing.T) {
	is := is.New(t)

	// a server nobody joins is connected right away
	s := session.New(session.RoleServer, nil)
	defer s.Close()
	s.SetNumClientsExpected(0)
	s.SetListenAddr("127.0.0.1:0")
	is.NoErr(s.Connect(context.Background()))

	w := world.New()
	is.NoErr(s.InitWorld(context.Background(), w))

	loop := game.NewLoop(s, w, 100, nil)

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan game.Command)
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx, commands)
	}()

	cmd, err := game.ParseCommand("+brake")
	is.NoErr(err)
	commands <- cmd
	time.Sleep(30 * time.Millisecond)

	cancel()
	<-done

	is.True(w.GetPlayer(s.PlayerID()).Active(protocol.InputBrake))
}
