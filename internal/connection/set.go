package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blukai/growbles/internal/debug"
	"github.com/blukai/growbles/internal/protocol"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

const DefaultSendTimeout = time.Second

// PlayerAdder is the part of the world the set registers remote players with.
type PlayerAdder interface {
	AddPlayer(id protocol.PlayerID)
}

// Set owns every connection on one side of the game. connections are kept in
// the order they were added; that order drives iteration everywhere.
type Set struct {
	logger *log.Logger

	// ids and localID are only used to greet accepted connections
	ids     *IDAllocator
	localID protocol.PlayerID

	SendTimeout time.Duration

	conns []*Connection
	ready chan struct{}

	listener   net.Listener
	accepted   chan net.Conn
	acceptErrs chan error
	stopAccept chan struct{}
	acceptWg   sync.WaitGroup
}

// NewSet constructs a set. a set that will accept connections needs the
// allocator and the local player id; a dialing set may pass nil and
// protocol.NoPlayer.
func NewSet(ids *IDAllocator, localID protocol.PlayerID, logger *log.Logger) *Set {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Set{
		logger: logger,

		ids:     ids,
		localID: localID,

		SendTimeout: DefaultSendTimeout,

		ready: make(chan struct{}, 1),
	}
}

// Len returns the number of connections.
func (s *Set) Len() int {
	return len(s.conns)
}

// NumActive counts connections plus the listening socket, if any.
func (s *Set) NumActive() int {
	n := len(s.conns)
	if s.listener != nil {
		n++
	}
	return n
}

func (s *Set) add(c *Connection) {
	c.sendTimeout = s.SendTimeout
	s.conns = append(s.conns, c)
	c.start()
}

func (s *Set) Listen(network, address string) error {
	debug.Assert(s.listener == nil, "already listening")
	debug.Assert(s.ids != nil && s.localID != protocol.NoPlayer, "set cannot assign player ids")

	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", address, err)
	}

	s.listener = ln
	s.accepted = make(chan net.Conn)
	s.acceptErrs = make(chan error, 1)
	s.stopAccept = make(chan struct{})

	s.acceptWg.Add(1)
	go func() {
		defer s.acceptWg.Done()
		s.runAccept(ln, s.accepted, s.acceptErrs, s.stopAccept)
	}()

	return nil
}

// Addr is useful to retrieve the listener's address when the set was told to
// listen on ":0".
func (s *Set) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Set) runAccept(ln net.Listener, accepted chan<- net.Conn, errs chan<- error, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
			default:
				if !errors.Is(err, net.ErrClosed) {
					errs <- fmt.Errorf("could not accept: %w", err)
				}
			}
			return
		}

		select {
		case accepted <- conn:
		case <-stop:
			conn.Close()
			return
		}
	}
}

// StopListening closes the listening socket. connections accepted so far
// stay.
func (s *Set) StopListening() {
	if s.listener == nil {
		return
	}

	close(s.stopAccept)
	if err := s.listener.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("could not close listener")
	}
	s.acceptWg.Wait()

	s.listener = nil
	s.accepted = nil
	s.acceptErrs = nil
	s.stopAccept = nil
}

// accept greets a new peer synchronously: magic word, our id, then the id we
// allocate for them. only then does the connection join the set.
func (s *Set) accept(conn net.Conn) {
	c := newConnection(conn, s.ready, s.logger)
	c.sendTimeout = s.SendTimeout

	id := s.ids.Next()
	c.SetRemoteID(id)

	handshake := protocol.Handshake{
		Magic:    protocol.Magic,
		ServerID: s.localID,
		ClientID: id,
	}
	data, err := handshake.MarshalBinary()
	debug.Assert(err == nil)

	if err := c.write(data); err != nil {
		s.logger.Error().
			Err(err).
			Uint32("player", uint32(id)).
			Msg("could not send handshake")
		c.Close()
		return
	}

	s.add(c)

	s.logger.Info().
		Uint32("player", uint32(id)).
		Str("addr", conn.RemoteAddr().String()).
		Msg("accepted connection")
}

// Dial opens a connection to address and adds it to the set. the remote id is
// unassigned until the caller learns it.
func (s *Set) Dial(ctx context.Context, network, address string) (*Connection, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", address, err)
	}

	c := newConnection(conn, s.ready, s.logger)
	s.add(c)

	return c, nil
}

// Select waits up to timeout for something to happen on the set: a new
// connection, new bytes, or a disconnect. a zero timeout only sweeps what is
// already there. callers re-check their own condition afterwards.
func (s *Set) Select(timeout time.Duration) error {
	s.reap()

	if timeout <= 0 {
		select {
		case conn := <-s.accepted:
			s.accept(conn)
		case err := <-s.acceptErrs:
			return err
		case <-s.ready:
		default:
		}
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case conn := <-s.accepted:
		s.accept(conn)
	case err := <-s.acceptErrs:
		return err
	case <-s.ready:
	case <-timer.C:
	}
	return nil
}

// reap drops connections whose peer is gone once nothing complete is left to
// read from them.
func (s *Set) reap() {
	kept := s.conns[:0]
	for _, c := range s.conns {
		err := c.Err()
		if err == nil || (c.identified() && c.HasPayload()) {
			kept = append(kept, c)
			continue
		}

		event := s.logger.Warn()
		if errors.Is(err, io.EOF) {
			event = s.logger.Info()
		}
		event.
			Err(err).
			Uint32("player", uint32(c.remoteID)).
			Str("addr", c.RemoteAddr().String()).
			Msg("connection closed")

		c.Close()
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
}

// AddPlayers registers every remote player with world, in set order.
func (s *Set) AddPlayers(world PlayerAdder) {
	for _, c := range s.conns {
		world.AddPlayer(c.RemoteID())
	}
}

func (s *Set) SendToAll(payload *protocol.Payload) error {
	// zero can never be a player id
	return s.SendToAllExcept(payload, protocol.NoPlayer)
}

// SendToAllExcept sends payload to every connection but excluded's. a failed
// send does not stop the others; all failures are returned together.
func (s *Set) SendToAllExcept(payload *protocol.Payload, excluded protocol.PlayerID) error {
	data, err := encodeFrame(payload)
	if err != nil {
		return err
	}

	var errs error
	for _, c := range s.conns {
		if c.RemoteID() == excluded {
			continue
		}

		if err := c.write(data); err != nil {
			s.logger.Error().
				Err(err).
				Uint32("player", uint32(c.RemoteID())).
				Msgf("could not send %s", payload.Kind)

			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// SendTo sends payload to playerID's connection. it is a no-op if there is
// none.
func (s *Set) SendTo(payload *protocol.Payload, playerID protocol.PlayerID) error {
	for _, c := range s.conns {
		if c.RemoteID() == playerID {
			return c.Send(payload)
		}
	}
	return nil
}

func (s *Set) HasPayload() bool {
	for _, c := range s.conns {
		if c.identified() && c.HasPayload() {
			return true
		}
	}
	return false
}

// ReceivePayload drains the first ready payload, in set order, and returns it
// with the id of the player it came from. HasPayload must have reported true.
func (s *Set) ReceivePayload() (*protocol.Payload, protocol.PlayerID) {
	for _, c := range s.conns {
		if c.identified() && c.HasPayload() {
			return c.GetPayload(), c.RemoteID()
		}
	}

	debug.Assert(false, "no payload ready")
	return nil, protocol.NoPlayer
}

func (s *Set) Close() error {
	s.StopListening()

	var errs error
	for _, c := range s.conns {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	s.conns = nil

	return errs
}
