package protocol

import (
	"fmt"
	"sync"

	"github.com/blukai/growbles/internal/debug"
)

// Buffer is the storage behind a Payload. it is either *Owned or *Borrowed,
// nothing else.
type Buffer interface {
	buffer()
}

// Owned holds bytes that belong to the payload. they were allocated on
// receive and go back to the pool on Release.
type Owned struct {
	data     []byte
	released bool
}

// Borrowed refers to a caller-owned record. the payload never releases it.
type Borrowed struct {
	Record Record
}

func (*Owned) buffer()    {}
func (*Borrowed) buffer() {}

// one pool per kind; every buffer in a pool is exactly SizeOf(kind) long.
var pools [kindMax]sync.Pool

// NewOwnedBuffer returns a buffer sized to hold a payload of the given kind.
func NewOwnedBuffer(kind PayloadKind) []byte {
	size := SizeOf(kind)
	if ptr, ok := pools[kind].Get().(*[]byte); ok {
		return (*ptr)[:size]
	}
	return make([]byte, size)
}

// Payload is a tagged, fixed-size binary message.
type Payload struct {
	Kind PayloadKind
	buf  Buffer
}

// NewPayload borrows rec for sending. rec must outlive the payload's use.
func NewPayload(rec Record) *Payload {
	kind := rec.PayloadKind()
	debug.Assertf(kind.Valid(), "record has invalid payload kind %s", kind)

	return &Payload{
		Kind: kind,
		buf:  &Borrowed{Record: rec},
	}
}

// OwnedPayload takes ownership of data, which must be exactly SizeOf(kind)
// bytes long.
func OwnedPayload(kind PayloadKind, data []byte) *Payload {
	debug.Assertf(len(data) == SizeOf(kind),
		"%s payload of %d bytes; want %d", kind, len(data), SizeOf(kind))

	return &Payload{
		Kind: kind,
		buf:  &Owned{data: data},
	}
}

func (p *Payload) Buffer() Buffer {
	return p.buf
}

func (p *Payload) Owned() bool {
	_, ok := p.buf.(*Owned)
	return ok
}

// Bytes returns the encoded payload body. for an owned payload this is the
// payload's own memory and must not be retained past Release.
func (p *Payload) Bytes() ([]byte, error) {
	var data []byte

	switch buf := p.buf.(type) {
	case *Owned:
		debug.Assert(!buf.released, "payload used after release")
		data = buf.data
	case *Borrowed:
		var err error
		data, err = buf.Record.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("could not marshal %s: %w", p.Kind, err)
		}
	default:
		debug.Assert(false, "payload has no buffer")
	}

	// NOTE: this is what keeps both ends honest about struct layout
	debug.Assertf(len(data) == SizeOf(p.Kind),
		"%s encodes to %d bytes; want %d", p.Kind, len(data), SizeOf(p.Kind))

	return data, nil
}

// Decode unmarshals the payload body into rec, which must be of the same
// kind.
func (p *Payload) Decode(rec Record) error {
	if rec.PayloadKind() != p.Kind {
		return fmt.Errorf("could not decode %s payload into %s record", p.Kind, rec.PayloadKind())
	}

	data, err := p.Bytes()
	if err != nil {
		return err
	}
	if err := rec.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("could not unmarshal %s: %w", p.Kind, err)
	}

	return nil
}

// Release hands owned memory back exactly once. borrowed payloads have
// nothing to release.
func (p *Payload) Release() {
	buf, ok := p.buf.(*Owned)
	if !ok {
		return
	}

	debug.Assert(!buf.released, "payload released twice")
	buf.released = true

	data := buf.data
	buf.data = nil
	pools[p.Kind].Put(&data)
}
