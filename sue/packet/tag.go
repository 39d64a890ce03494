package packet

import (
	"encoding/binary"
	"fmt"
)

// LinkType records which leg of a multi-hop path stamped the sequence tag.
type LinkType uint8

const (
	LinkNIC LinkType = iota
	LinkSwitchIngress
	LinkSwitchEgress
)

func (t LinkType) String() string {
	switch t {
	case LinkNIC:
		return "nic"
	case LinkSwitchIngress:
		return "switch-ingress"
	case LinkSwitchEgress:
		return "switch-egress"
	default:
		return fmt.Sprintf("linktype(%d)", uint8(t))
	}
}

const sequenceTagSize = 13

// SequenceTag is the out-of-band (timestamp, sequence, link type) triple
// attached to data packets. The timestamp is kept from the first hop so the
// receiver can measure end-to-end delay; the sequence number is rewritten on
// every reliable hop.
type SequenceTag struct {
	TimestampNs uint64
	Seq         uint32
	Link        LinkType
}

// MarshalBinary renders the 13-byte serialized form used by the telemetry
// surface.
func (t SequenceTag) MarshalBinary() ([]byte, error) {
	b := make([]byte, sequenceTagSize)
	binary.BigEndian.PutUint64(b[0:8], t.TimestampNs)
	binary.BigEndian.PutUint32(b[8:12], t.Seq)
	b[12] = byte(t.Link)
	return b, nil
}

// UnmarshalBinary parses the 13-byte serialized form.
func (t *SequenceTag) UnmarshalBinary(b []byte) error {
	if len(b) != sequenceTagSize {
		return fmt.Errorf("sequence tag must be %d bytes, got %d",
			sequenceTagSize, len(b))
	}

	t.TimestampNs = binary.BigEndian.Uint64(b[0:8])
	t.Seq = binary.BigEndian.Uint32(b[8:12])
	t.Link = LinkType(b[12])

	return nil
}

// AddTag attaches a sequence tag, replacing any existing one.
func (p *Packet) AddTag(t SequenceTag) {
	tag := t
	p.tag = &tag
}

// Tag returns the attached sequence tag, or false if none is attached.
func (p *Packet) Tag() (SequenceTag, bool) {
	if p.tag == nil {
		return SequenceTag{}, false
	}

	return *p.tag, true
}

// HasTag reports whether a sequence tag is attached.
func (p *Packet) HasTag() bool {
	return p.tag != nil
}

// UpdateTagTimestamp refreshes the tag's timestamp in place. It is a no-op
// if no tag is attached.
func (p *Packet) UpdateTagTimestamp(timestampNs uint64) {
	if p.tag == nil {
		return
	}

	p.tag.TimestampNs = timestampNs
}

// UpdateTagSeqLink rewrites the tag's sequence number and link type in
// place, preserving the original timestamp. It is a no-op if no tag is
// attached.
func (p *Packet) UpdateTagSeqLink(seq uint32, link LinkType) {
	if p.tag == nil {
		return
	}

	p.tag.Seq = seq
	p.tag.Link = link
}
