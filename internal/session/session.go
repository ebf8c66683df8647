package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/blukai/growbles/internal/connection"
	"github.com/blukai/growbles/internal/debug"
	"github.com/blukai/growbles/internal/protocol"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

const (
	DefaultPort         = 6473
	DefaultPollInterval = 100 * time.Millisecond
	DefaultDumpInterval = time.Second
)

var (
	ErrBind      = errors.New("growbles: could not bind")
	ErrPollLimit = errors.New("growbles: poll limit reached")
)

type Role int

const (
	_ Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// World is what the session keeps in sync.
type World interface {
	connection.PlayerAdder

	Init() error
	GetState(out *protocol.WorldState)
	SetState(in *protocol.WorldState)
	ApplyInput(input *protocol.UserInput)
}

// Session connects one game process to the others. a server accepts a fixed
// number of clients; a client connects to one server. everything runs on the
// caller's goroutine: blocking calls poll the connection set until their
// condition holds.
type Session struct {
	id     string
	role   Role
	state  State
	logger *log.Logger

	playerID protocol.PlayerID
	ids      *connection.IDAllocator // server only
	set      *connection.Set

	numClientsExpected int    // server only
	listenAddr         string // server only
	serverAddr         string // client only

	pollInterval time.Duration
	maxPolls     int

	dumpLimiter      *rate.Limiter // server only
	simulatingOutage bool
	ignoringDumps    bool
}

func New(role Role, logger *log.Logger) *Session {
	debug.Assertf(role == RoleServer || role == RoleClient, "unknown %s", role)

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	s := &Session{
		id:     uuid.NewString(),
		role:   role,
		state:  StateUninitialized,
		logger: logger,

		playerID: protocol.NoPlayer,

		listenAddr: net.JoinHostPort("", strconv.Itoa(DefaultPort)),

		pollInterval: DefaultPollInterval,
	}

	// a server is a player too, and it is the one handing out ids
	if role == RoleServer {
		s.ids = &connection.IDAllocator{}
		s.playerID = s.ids.Next()
		s.dumpLimiter = rate.NewLimiter(rate.Every(DefaultDumpInterval), 1)
	}
	s.set = connection.NewSet(s.ids, s.playerID, logger)

	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Role() Role   { return s.role }
func (s *Session) State() State { return s.state }

// PlayerID returns the local player's id. a client only knows it once
// connected.
func (s *Session) PlayerID() protocol.PlayerID {
	debug.Assert(s.playerID != protocol.NoPlayer, "local player id is unassigned")
	return s.playerID
}

func (s *Session) assertRole(role Role, op string) {
	debug.Assertf(s.role == role, "%s is %s only; session is %s", op, role, s.role)
}

func (s *Session) assertState(state State, op string) {
	debug.Assertf(s.state == state, "%s requires state %s; session is %s", op, state, s.state)
}

// SetServer sets the address a client connects to. the default port is used
// when address has none.
func (s *Session) SetServer(address string) {
	s.assertRole(RoleClient, "SetServer")
	s.assertState(StateUninitialized, "SetServer")

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(DefaultPort))
	}
	s.serverAddr = address
}

func (s *Session) SetNumClientsExpected(n int) {
	s.assertRole(RoleServer, "SetNumClientsExpected")
	s.assertState(StateUninitialized, "SetNumClientsExpected")
	debug.Assertf(n >= 0 && n < protocol.MaxPlayers, "cannot host %d clients", n)

	s.numClientsExpected = n
}

func (s *Session) SetListenAddr(address string) {
	s.assertRole(RoleServer, "SetListenAddr")
	s.assertState(StateUninitialized, "SetListenAddr")

	s.listenAddr = address
}

// SetPolling bounds the blocking loops: each poll waits up to interval, and
// after maxPolls polls the loop gives up. maxPolls 0 means never give up.
func (s *Session) SetPolling(interval time.Duration, maxPolls int) {
	debug.Assert(interval > 0, "poll interval must be positive")
	debug.Assert(maxPolls >= 0, "poll limit must not be negative")

	s.pollInterval = interval
	s.maxPolls = maxPolls
}

// SetDumpInterval sets how often the server broadcasts its world state while
// synchronizing.
func (s *Session) SetDumpInterval(interval time.Duration) {
	s.assertRole(RoleServer, "SetDumpInterval")
	debug.Assert(interval > 0, "dump interval must be positive")

	s.dumpLimiter = rate.NewLimiter(rate.Every(interval), 1)
}

// SetSimulatingOutage cuts the session off: outgoing input is dropped and
// nothing is received until the outage ends. useful to watch the game cope
// with a stalled peer.
func (s *Session) SetSimulatingOutage(on bool) {
	s.simulatingOutage = on
	s.logger.Info().
		Str("session", s.id).
		Bool("on", on).
		Msg("simulating outage")
}

// SetIgnoringAuthoritativeDumps makes a client keep its own world state when
// the server broadcasts one.
func (s *Session) SetIgnoringAuthoritativeDumps(on bool) {
	s.ignoringDumps = on
	s.logger.Info().
		Str("session", s.id).
		Bool("on", on).
		Msg("ignoring authoritative dumps")
}

// poll waits on the connection set until done reports true.
func (s *Session) poll(ctx context.Context, what string, done func() bool) error {
	for polls := 0; !done(); polls++ {
		if s.maxPolls > 0 && polls >= s.maxPolls {
			return fmt.Errorf("%w: %d polls waiting for %s", ErrPollLimit, polls, what)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stopped waiting for %s: %w", what, err)
		}
		if err := s.set.Select(s.pollInterval); err != nil {
			return fmt.Errorf("could not poll for %s: %w", what, err)
		}
	}
	return nil
}

// Listen binds the server's listening socket. Connect does it if it was not
// done before; calling it first is useful to learn the address of ":0".
func (s *Session) Listen() (net.Addr, error) {
	s.assertRole(RoleServer, "Listen")
	s.assertState(StateUninitialized, "Listen")

	return s.listen()
}

func (s *Session) listen() (net.Addr, error) {
	if addr := s.set.Addr(); addr != nil {
		return addr, nil
	}

	if err := s.set.Listen("tcp", s.listenAddr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	addr := s.set.Addr()
	s.logger.Info().
		Str("session", s.id).
		Str("addr", addr.String()).
		Msg("listening")

	return addr, nil
}

func (s *Session) Addr() net.Addr {
	return s.set.Addr()
}

// Connect blocks until the session is connected: a server until all expected
// clients have been accepted, a client until the server's handshake arrived.
func (s *Session) Connect(ctx context.Context) error {
	s.assertState(StateUninitialized, "Connect")
	s.state = StateConnecting

	var err error
	switch s.role {
	case RoleServer:
		err = s.connectAsServer(ctx)
	case RoleClient:
		err = s.connectAsClient(ctx)
	}
	if err != nil {
		return err
	}

	s.state = StateConnected
	s.logger.Info().
		Str("session", s.id).
		Str("role", s.role.String()).
		Uint32("player", uint32(s.playerID)).
		Msg("connected")

	return nil
}

func (s *Session) connectAsServer(ctx context.Context) error {
	if _, err := s.listen(); err != nil {
		return err
	}

	s.logger.Info().
		Str("session", s.id).
		Msgf("waiting for %d clients", s.numClientsExpected)

	// the listening socket is one of the active sockets, hence + 1
	err := s.poll(ctx, "clients", func() bool {
		return s.set.NumActive() >= s.numClientsExpected+1
	})
	if err != nil {
		return err
	}

	s.set.StopListening()
	return nil
}

func (s *Session) connectAsClient(ctx context.Context) error {
	debug.Assert(s.serverAddr != "", "server address is not set")

	conn, err := s.set.Dial(ctx, "tcp", s.serverAddr)
	if err != nil {
		return err
	}

	err = s.poll(ctx, "handshake", func() bool {
		return conn.Buffered() >= protocol.HandshakeSize || conn.Err() != nil
	})
	if err != nil {
		return err
	}
	if conn.Buffered() < protocol.HandshakeSize {
		return fmt.Errorf("server %s hung up during handshake: %w", s.serverAddr, conn.Err())
	}

	handshake := protocol.Handshake{}
	err = handshake.UnmarshalBinary(conn.ReadInput(protocol.HandshakeSize))
	debug.Assert(err == nil)

	if err := handshake.Validate(); err != nil {
		return fmt.Errorf("could not verify handshake from %s: %w", s.serverAddr, err)
	}

	conn.SetRemoteID(handshake.ServerID)
	s.playerID = handshake.ClientID

	s.logger.Info().
		Str("session", s.id).
		Uint32("server", uint32(handshake.ServerID)).
		Msgf("assigned player id %d", s.playerID)

	return nil
}

// InitWorld initializes w and makes it identical on every participant. the
// server adds all players and broadcasts the result; a client waits for that
// broadcast and adopts it.
func (s *Session) InitWorld(ctx context.Context, w World) error {
	s.assertState(StateConnected, "InitWorld")

	if err := w.Init(); err != nil {
		return fmt.Errorf("could not init world: %w", err)
	}

	state := protocol.WorldState{}

	if s.role == RoleServer {
		w.AddPlayer(s.playerID)
		s.set.AddPlayers(w)

		w.GetState(&state)
		if err := s.set.SendToAll(protocol.NewPayload(&state)); err != nil {
			return fmt.Errorf("could not send initial world state: %w", err)
		}

		s.logger.Info().
			Str("session", s.id).
			Int("players", len(state.Players)).
			Uint64("checksum", state.Checksum()).
			Msg("sent initial world state")

		return nil
	}

	err := s.poll(ctx, "initial world state", func() bool {
		return s.set.HasPayload() || s.set.Len() == 0
	})
	if err != nil {
		return err
	}
	if !s.set.HasPayload() {
		return fmt.Errorf("server %s hung up before sending the world state", s.serverAddr)
	}

	payload, from := s.set.ReceivePayload()
	defer payload.Release()

	debug.Assertf(payload.Kind == protocol.KindWorldState,
		"expected initial world state from player %d; got %s", from, payload.Kind)

	if err := payload.Decode(&state); err != nil {
		return fmt.Errorf("could not decode initial world state: %w", err)
	}
	w.SetState(&state)

	s.logger.Info().
		Str("session", s.id).
		Int("players", len(state.Players)).
		Uint64("checksum", state.Checksum()).
		Msg("received initial world state")

	return nil
}

// SendInput publishes the local player's input: a client sends it to the
// server, the server sends it to every client.
func (s *Session) SendInput(input *protocol.UserInput) error {
	s.assertState(StateConnected, "SendInput")
	debug.Assertf(input.PlayerID == s.playerID,
		"player %d cannot send input for player %d", s.playerID, input.PlayerID)

	if s.simulatingOutage {
		s.logger.Debug().
			Str("session", s.id).
			Uint32("timestamp", input.Timestamp).
			Msg("outage: dropped input")
		return nil
	}

	if err := s.set.SendToAll(protocol.NewPayload(input)); err != nil {
		return fmt.Errorf("could not send input: %w", err)
	}
	return nil
}

// Synchronize applies everything received since the last call to w. it never
// blocks. on the server it also relays client input to the other clients and
// periodically broadcasts the authoritative world state.
func (s *Session) Synchronize(w World) error {
	s.assertState(StateConnected, "Synchronize")

	if s.simulatingOutage {
		return nil
	}

	if err := s.set.Select(0); err != nil {
		return err
	}

	var errs error
	for s.set.HasPayload() {
		payload, from := s.set.ReceivePayload()
		err := s.handlePayload(w, payload, from)
		payload.Release()

		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if s.role == RoleServer && s.dumpLimiter.Allow() {
		state := protocol.WorldState{}
		w.GetState(&state)
		if err := s.set.SendToAll(protocol.NewPayload(&state)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not send world state: %w", err))
		}
	}

	return errs
}

func (s *Session) handlePayload(w World, payload *protocol.Payload, from protocol.PlayerID) error {
	switch payload.Kind {
	case protocol.KindUserInput:
		input := protocol.UserInput{}
		if err := payload.Decode(&input); err != nil {
			return err
		}

		if s.role == RoleClient {
			w.ApplyInput(&input)
			return nil
		}

		if input.PlayerID != from {
			s.logger.Warn().
				Str("session", s.id).
				Uint32("from", uint32(from)).
				Uint32("player", uint32(input.PlayerID)).
				Msg("dropped input sent on behalf of another player")
			return nil
		}

		w.ApplyInput(&input)

		// everyone else needs to see it too
		if err := s.set.SendToAllExcept(payload, from); err != nil {
			return fmt.Errorf("could not relay input from player %d: %w", from, err)
		}
		return nil

	case protocol.KindWorldState:
		if s.role == RoleServer {
			s.logger.Warn().
				Str("session", s.id).
				Uint32("from", uint32(from)).
				Msg("dropped world state sent by a client")
			return nil
		}

		if s.ignoringDumps {
			return nil
		}

		state := protocol.WorldState{}
		if err := payload.Decode(&state); err != nil {
			return err
		}

		local := protocol.WorldState{}
		w.GetState(&local)
		if local.Checksum() != state.Checksum() {
			s.logger.Debug().
				Str("session", s.id).
				Uint64("local", local.Checksum()).
				Uint64("authoritative", state.Checksum()).
				Msg("desync; adopting authoritative world state")
		}
		w.SetState(&state)
		return nil

	default:
		debug.Assertf(false, "unhandled payload kind %s", payload.Kind)
		return nil
	}
}

// Close closes every connection.
func (s *Session) Close() error {
	return s.set.Close()
}
