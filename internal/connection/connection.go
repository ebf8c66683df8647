package connection

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blukai/growbles/internal/debug"
	"github.com/blukai/growbles/internal/protocol"
	"github.com/phuslu/log"
)

const recvBufSize = 4 << 10

// Connection is one TCP channel to a peer. bytes are received in the
// background into a buffer; framing happens on the caller's goroutine via
// HasPayload and GetPayload.
type Connection struct {
	conn   net.Conn
	logger *log.Logger

	sendTimeout time.Duration

	remoteID protocol.PlayerID
	// kind of the payload whose header has been consumed but whose body has
	// not fully arrived yet. KindNone while awaiting a header.
	incoming protocol.PayloadKind

	mu      sync.Mutex
	in      bytes.Buffer
	readErr error

	notify chan<- struct{}
}

func newConnection(conn net.Conn, notify chan<- struct{}, logger *log.Logger) *Connection {
	// we don't want tcp to buffer things up
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			logger.Warn().
				Err(err).
				Str("addr", conn.RemoteAddr().String()).
				Msg("could not set tcp no delay")
		}
	}

	return &Connection{
		conn:   conn,
		logger: logger,

		remoteID: protocol.NoPlayer,
		incoming: protocol.KindNone,

		notify: notify,
	}
}

func (c *Connection) start() {
	go c.runRecv()
}

func (c *Connection) runRecv() {
	buf := make([]byte, recvBufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.ingest(buf[:n])
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()

			c.signal()
			return
		}
	}
}

func (c *Connection) ingest(data []byte) {
	c.mu.Lock()
	c.in.Write(data)
	c.mu.Unlock()

	c.signal()
}

func (c *Connection) signal() {
	if c.notify == nil {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) RemoteID() protocol.PlayerID {
	debug.Assert(c.remoteID != protocol.NoPlayer, "remote player id is unassigned")
	return c.remoteID
}

// framing starts once the peer is known; before that the stream carries the
// handshake.
func (c *Connection) identified() bool {
	return c.remoteID != protocol.NoPlayer
}

// SetRemoteID assigns the peer's player id. it happens exactly once, before
// any payload from the peer is attributed to it.
func (c *Connection) SetRemoteID(id protocol.PlayerID) {
	debug.Assert(id != protocol.NoPlayer, "cannot assign reserved player id")
	debug.Assertf(c.remoteID == protocol.NoPlayer,
		"remote player id already assigned (have %d; got %d)", c.remoteID, id)
	c.remoteID = id
}

// Err returns the error that ended the receive side, if any. io.EOF means the
// peer hung up.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Buffered returns the number of received bytes not consumed yet.
func (c *Connection) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Len()
}

// ReadInput consumes exactly n raw bytes. it is meant for the handshake, which
// precedes framing.
func (c *Connection) ReadInput(n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	debug.Assert(c.incoming == protocol.KindNone, "raw read in the middle of a payload")
	debug.Assertf(c.in.Len() >= n, "want %d buffered bytes; have %d", n, c.in.Len())

	data := make([]byte, n)
	_, err := c.in.Read(data)
	debug.Assert(err == nil)

	return data
}

// HasPayload reports, without blocking, whether a complete payload has been
// received.
func (c *Connection) HasPayload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPayload()
}

// caller must hold c.mu
func (c *Connection) hasPayload() bool {
	// waiting for the body of a payload whose header is already consumed
	if c.incoming != protocol.KindNone {
		return c.in.Len() >= protocol.SizeOf(c.incoming)
	}

	// starting from scratch. see if the header's there.
	if c.in.Len() < protocol.FrameHeaderSize {
		return false
	}

	header := protocol.FrameHeader{}
	err := header.UnmarshalBinary(c.in.Next(protocol.FrameHeaderSize))
	debug.Assert(err == nil)

	// make sure both ends lay records out the same way
	debug.Assertf(header.Size == uint64(protocol.SizeOf(header.Kind)),
		"peer sent %s of %d bytes; want %d", header.Kind, header.Size, protocol.SizeOf(header.Kind))

	c.incoming = header.Kind

	return c.hasPayload()
}

// GetPayload drains one complete payload. HasPayload must have reported true.
// the returned payload owns its memory.
func (c *Connection) GetPayload() *protocol.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	debug.Assert(c.hasPayload(), "no payload ready")

	data := protocol.NewOwnedBuffer(c.incoming)
	n, err := c.in.Read(data)
	debug.Assert(err == nil && n == len(data))

	payload := protocol.OwnedPayload(c.incoming, data)
	c.incoming = protocol.KindNone

	return payload
}

// Send writes payload as one frame in a single write.
func (c *Connection) Send(payload *protocol.Payload) error {
	data, err := encodeFrame(payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Connection) write(data []byte) error {
	if c.sendTimeout > 0 {
		err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
		if err != nil {
			return fmt.Errorf("could not set write deadline: %w", err)
		}
	}

	c.logger.Debug().
		Int("len", len(data)).
		Str("addr", c.RemoteAddr().String()).
		Msg("write")

	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("could not write to %s: %w", c.RemoteAddr(), err)
	}
	return nil
}

func (c *Connection) Close() error {
	return c.conn.Close()
}

func encodeFrame(payload *protocol.Payload) ([]byte, error) {
	frame := protocol.Frame{Payload: payload}
	data, err := frame.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not encode frame: %w", err)
	}
	return data, nil
}
