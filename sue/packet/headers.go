package packet

import (
	"encoding/binary"
	"fmt"
)

// Frame tag protocol numbers, 2 bytes network order on the wire.
const (
	ProtocolIPv4         uint16 = 0x0021
	ProtocolIPv6         uint16 = 0x0057
	ProtocolCreditUpdate uint16 = 0xCBFC
	ProtocolAck          uint16 = 0x1111
	ProtocolNack         uint16 = 0x2222
)

// EtherType values used in the Ethernet-style envelope.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeIPv6 uint16 = 0x86DD
)

const (
	frameTagSize     = 2
	ethHeaderSize    = 14
	creditHeaderSize = 2
	sueHeaderSize    = 2
)

// EtherTypeToProtocol maps an EtherType to the frame-tag protocol number.
func EtherTypeToProtocol(etherType uint16) (uint16, bool) {
	switch etherType {
	case EtherTypeIPv4:
		return ProtocolIPv4, true
	case EtherTypeIPv6:
		return ProtocolIPv6, true
	default:
		return 0, false
	}
}

// ProtocolToEtherType maps a frame-tag protocol number back to an EtherType.
func ProtocolToEtherType(protocol uint16) (uint16, bool) {
	switch protocol {
	case ProtocolIPv4:
		return EtherTypeIPv4, true
	case ProtocolIPv6:
		return EtherTypeIPv6, true
	default:
		return 0, false
	}
}

// IsKnownProtocol reports whether the value is one of the frame-tag protocol
// numbers.
func IsKnownProtocol(protocol uint16) bool {
	switch protocol {
	case ProtocolIPv4, ProtocolIPv6,
		ProtocolCreditUpdate, ProtocolAck, ProtocolNack:
		return true
	default:
		return false
	}
}

// AddFrame prepends the 2-byte frame tag.
func (p *Packet) AddFrame(protocol uint16) {
	b := make([]byte, frameTagSize)
	binary.BigEndian.PutUint16(b, protocol)
	p.prepend(b)
}

// RemoveFrame strips the frame tag and returns the protocol number.
func (p *Packet) RemoveFrame() (uint16, error) {
	b, err := p.strip(frameTagSize)
	if err != nil {
		return 0, fmt.Errorf("remove frame: %w", err)
	}

	return binary.BigEndian.Uint16(b), nil
}

// PeekFrame returns the protocol number without consuming the tag.
func (p *Packet) PeekFrame() (uint16, error) {
	if len(p.data) < frameTagSize {
		return 0, fmt.Errorf("peek frame: %w", ErrTooShort)
	}

	return binary.BigEndian.Uint16(p.data), nil
}

// EthHeader is the 6+6+2 Ethernet-style envelope.
type EthHeader struct {
	Dst       Mac
	Src       Mac
	EtherType uint16
}

// AddEth prepends the Ethernet-style header.
func (p *Packet) AddEth(h EthHeader) {
	b := make([]byte, ethHeaderSize)
	copy(b[0:6], h.Dst[:])
	copy(b[6:12], h.Src[:])
	binary.BigEndian.PutUint16(b[12:14], h.EtherType)
	p.prepend(b)
}

// RemoveEth strips and returns the Ethernet-style header.
func (p *Packet) RemoveEth() (EthHeader, error) {
	b, err := p.strip(ethHeaderSize)
	if err != nil {
		return EthHeader{}, fmt.Errorf("remove eth header: %w", err)
	}

	return decodeEth(b), nil
}

// PeekEth returns the Ethernet-style header without consuming it.
func (p *Packet) PeekEth() (EthHeader, error) {
	if len(p.data) < ethHeaderSize {
		return EthHeader{}, fmt.Errorf("peek eth header: %w", ErrTooShort)
	}

	return decodeEth(p.data), nil
}

// FramedEth reads the Ethernet-style envelope of a framed packet without
// consuming the frame tag.
func (p *Packet) FramedEth() (EthHeader, error) {
	if _, err := p.PeekFrame(); err != nil {
		return EthHeader{}, err
	}

	if len(p.data) < frameTagSize+ethHeaderSize {
		return EthHeader{}, fmt.Errorf("framed eth header: %w", ErrTooShort)
	}

	return decodeEth(p.data[frameTagSize:]), nil
}

// RewriteFramedEthSrc replaces the envelope source MAC of a framed packet
// in place.
func (p *Packet) RewriteFramedEthSrc(src Mac) error {
	if _, err := p.PeekFrame(); err != nil {
		return err
	}

	if len(p.data) < frameTagSize+ethHeaderSize {
		return fmt.Errorf("rewrite framed eth src: %w", ErrTooShort)
	}

	copy(p.data[frameTagSize+6:frameTagSize+12], src[:])

	return nil
}

// RewriteEthSrc replaces the source MAC of the outermost Ethernet-style
// header in place.
func (p *Packet) RewriteEthSrc(src Mac) error {
	if len(p.data) < ethHeaderSize {
		return fmt.Errorf("rewrite eth src: %w", ErrTooShort)
	}

	copy(p.data[6:12], src[:])

	return nil
}

func decodeEth(b []byte) EthHeader {
	var h EthHeader
	copy(h.Dst[:], b[0:6])
	copy(h.Src[:], b[6:12])
	h.EtherType = binary.BigEndian.Uint16(b[12:14])
	return h
}

// SueHeader fronts the payload of a data packet, inside the Ethernet-style
// envelope, and identifies the virtual channel the packet travels on.
type SueHeader struct {
	VC   uint8
	Flow uint8
}

// AddSue prepends the SUE header.
func (p *Packet) AddSue(h SueHeader) {
	p.prepend([]byte{h.VC, h.Flow})
}

// RemoveSue strips and returns the SUE header.
func (p *Packet) RemoveSue() (SueHeader, error) {
	b, err := p.strip(sueHeaderSize)
	if err != nil {
		return SueHeader{}, fmt.Errorf("remove sue header: %w", err)
	}

	return SueHeader{VC: b[0], Flow: b[1]}, nil
}

// DataVC reads the VC id of a framed data packet (frame tag, Ethernet-style
// header, SUE header) without consuming any header.
func (p *Packet) DataVC() (uint8, error) {
	protocol, err := p.PeekFrame()
	if err != nil {
		return 0, err
	}

	if protocol != ProtocolIPv4 && protocol != ProtocolIPv6 {
		return 0, fmt.Errorf("data vc: protocol %#04x is not a data protocol",
			protocol)
	}

	if len(p.data) < frameTagSize+ethHeaderSize+sueHeaderSize {
		return 0, fmt.Errorf("data vc: %w", ErrTooShort)
	}

	return p.data[frameTagSize+ethHeaderSize], nil
}

// EnvelopeVC reads the VC id of a data packet whose frame tag has not been
// added yet, envelope outermost.
func (p *Packet) EnvelopeVC() (uint8, error) {
	h, err := p.PeekEth()
	if err != nil {
		return 0, err
	}

	if h.EtherType != EtherTypeIPv4 && h.EtherType != EtherTypeIPv6 {
		return 0, fmt.Errorf("envelope vc: ethertype %#04x is not a data type",
			h.EtherType)
	}

	if len(p.data) < ethHeaderSize+sueHeaderSize {
		return 0, fmt.Errorf("envelope vc: %w", ErrTooShort)
	}

	return p.data[ethHeaderSize], nil
}

// CreditHeader identifies the virtual channel of a control packet. Credit
// updates carry the batched credit count; ACK/NACK packets reuse the header
// with Credits set to zero.
type CreditHeader struct {
	VC      uint8
	Credits uint8
}

// AddCredit prepends the credit header.
func (p *Packet) AddCredit(h CreditHeader) {
	p.prepend([]byte{h.VC, h.Credits})
}

// RemoveCredit strips and returns the credit header.
func (p *Packet) RemoveCredit() (CreditHeader, error) {
	b, err := p.strip(creditHeaderSize)
	if err != nil {
		return CreditHeader{}, fmt.Errorf("remove credit header: %w", err)
	}

	return CreditHeader{VC: b[0], Credits: b[1]}, nil
}
