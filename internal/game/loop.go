package game

import (
	"context"
	"io"
	"time"

	"github.com/blukai/growbles/internal/debug"
	"github.com/blukai/growbles/internal/protocol"
	"github.com/blukai/growbles/internal/session"
	"github.com/blukai/growbles/internal/world"
	"github.com/phuslu/log"
)

const DefaultTickRate = 60

// Loop drives a connected session: it synchronizes the world once per tick
// and turns console commands into local input.
type Loop struct {
	session *session.Session
	world   *world.World
	logger  *log.Logger

	tick      time.Duration
	timestamp uint32
}

func NewLoop(s *session.Session, w *world.World, tickRate int, logger *log.Logger) *Loop {
	debug.Assert(s.State() == session.StateConnected, "loop needs a connected session")
	debug.Assertf(tickRate > 0, "bad tick rate %d", tickRate)

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Loop{
		session: s,
		world:   w,
		logger:  logger,

		tick: time.Second / time.Duration(tickRate),
	}
}

// Run blocks until ctx is done. commands may be nil. failures to reach a peer
// are logged, never fatal.
func (l *Loop) Run(ctx context.Context, commands <-chan Command) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			l.handleCommand(cmd)
		case <-ticker.C:
			l.timestamp++

			// a peer we failed to reach is not fatal; it is reaped once its
			// connection reports the failure
			if err := l.session.Synchronize(l.world); err != nil {
				l.logger.Warn().Err(err).Msg("could not synchronize")
			}
		}
	}
}

func (l *Loop) handleCommand(cmd Command) {
	switch cmd.Kind {
	case CommandOutage:
		l.session.SetSimulatingOutage(cmd.On)
	case CommandIgnoreDumps:
		l.session.SetIgnoringAuthoritativeDumps(cmd.On)
	case CommandInput:
		input := protocol.UserInput{
			PlayerID:  l.session.PlayerID(),
			Timestamp: l.timestamp,
			Inputs:    cmd.Inputs,
		}
		l.world.ApplyInput(&input)

		if err := l.session.SendInput(&input); err != nil {
			l.logger.Warn().Err(err).Msg("could not send input")
		}
	}
}
