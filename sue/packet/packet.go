package packet

import (
	"errors"
)

// ErrTooShort is returned when a header is removed from a buffer that does
// not hold one.
var ErrTooShort = errors.New("packet buffer too short")

// A Packet is a byte-buffer container. Headers are prepended to and stripped
// from the front of the buffer; the sequence tag rides out-of-band next to
// the buffer.
type Packet struct {
	data []byte
	tag  *SequenceTag
}

// New creates a packet with a zero-filled payload of the given size.
func New(payloadSize int) *Packet {
	return &Packet{data: make([]byte, payloadSize)}
}

// NewWithData creates a packet owning the given bytes.
func NewWithData(data []byte) *Packet {
	return &Packet{data: data}
}

// Size returns the serialized size in bytes, headers included.
func (p *Packet) Size() int {
	return len(p.data)
}

// Bytes exposes the serialized form. The caller must not retain it across
// mutations.
func (p *Packet) Bytes() []byte {
	return p.data
}

// Copy deep-copies the buffer and the attached sequence tag.
func (p *Packet) Copy() *Packet {
	c := &Packet{data: make([]byte, len(p.data))}
	copy(c.data, p.data)

	if p.tag != nil {
		t := *p.tag
		c.tag = &t
	}

	return c
}

func (p *Packet) prepend(b []byte) {
	p.data = append(b, p.data...)
}

func (p *Packet) strip(n int) ([]byte, error) {
	if len(p.data) < n {
		return nil, ErrTooShort
	}

	b := p.data[:n]
	p.data = p.data[n:]

	return b, nil
}
