// Package llr implements link-level retry for SUE links. Each sender keeps
// per-VC go-back-N state: transmitted packets are retained until a cumulative
// ACK covers them, a NACK restarts transmission from the missing sequence
// number, and a retransmission timer covers the case where the ACK itself is
// lost.
package llr

import (
	"fmt"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// Config carries the retry parameters of one link.
type Config struct {
	Enabled bool
	NumVCs  int

	// WindowSize is the advisory bound on outstanding packets per VC.
	// Senders use it to pace admission; the protocol stays correct if it is
	// overrun.
	WindowSize int

	// Timeout is the retransmission timer duration.
	Timeout sim.VTimeInSec

	// AckHeaderDelay models the time to build an ACK or NACK packet before
	// it is handed to the link.
	AckHeaderDelay sim.VTimeInSec
}

// A Port is the device surface the retry managers transmit through.
type Port interface {
	LocalMac() packet.Mac
	SendPacket(p *packet.Packet, dst packet.Mac, protocol uint16)

	// TryTransmit pokes the device to drain whatever is now eligible to go
	// out, including pending retransmissions.
	TryTransmit()
}

// A Link is the port of a node device, which faces exactly one peer.
type Link interface {
	Port
	RemoteMac() packet.Mac
}

// A SwitchLink is the port of a switch device. A switch port reaches many
// peers across the fabric and must know whether a peer is itself a switch.
type SwitchLink interface {
	Port
	IsSwitchPeer(mac packet.Mac) bool
}

// Key indexes switch-side retry state by (peer MAC, VC).
type Key struct {
	Peer packet.Mac
	VC   uint8
}

// HookPosRetransmit triggers when a retained packet is sent again.
var HookPosRetransmit = &sim.HookPos{Name: "LlrRetransmit"}

// A RetransmitRecord is the hook payload of one retransmission.
type RetransmitRecord struct {
	Peer packet.Mac
	VC   uint8
	Seq  uint32
}

type vcState struct {
	window sendWindow

	nextSendSeq uint32
	ackedFloor  uint32

	recvSeq   uint32
	gapNacked bool

	resending    bool
	resendCursor uint32
	resendTimer  *resendEvent
}

func newVCState() *vcState {
	return &vcState{window: newSendWindow()}
}

type resendEvent struct {
	*sim.EventBase

	peer packet.Mac
	vc   uint8
}

type controlEvent struct {
	*sim.EventBase

	p        *packet.Packet
	dst      packet.Mac
	protocol uint16
}

// seqBefore reports whether a precedes b in sequence space, tolerating
// wrap-around.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// dataProtocol derives the frame protocol of an unframed data packet from
// its Ethernet-style envelope.
func dataProtocol(p *packet.Packet) uint16 {
	h, err := p.PeekEth()
	if err != nil {
		return packet.ProtocolIPv4
	}

	if protocol, ok := packet.EtherTypeToProtocol(h.EtherType); ok {
		return protocol
	}

	return packet.ProtocolIPv4
}

// framedProtocol reads the frame tag of an already-framed packet.
func framedProtocol(p *packet.Packet) uint16 {
	if protocol, err := p.PeekFrame(); err == nil {
		return protocol
	}

	return packet.ProtocolIPv4
}

// buildControl assembles an ACK or NACK packet. On the wire the layout is
// frame tag, credit header with a zero credit count, Ethernet-style
// envelope; the acknowledged sequence number rides in the out-of-band tag.
func buildControl(
	local, peer packet.Mac,
	vc uint8,
	seq uint32,
	protocol uint16,
	nowNs uint64,
	link packet.LinkType,
) *packet.Packet {
	p := packet.New(0)
	p.AddEth(packet.EthHeader{
		Dst:       peer,
		Src:       local,
		EtherType: packet.EtherTypeIPv4,
	})
	p.AddCredit(packet.CreditHeader{VC: vc, Credits: 0})
	p.AddFrame(protocol)
	p.AddTag(packet.SequenceTag{TimestampNs: nowNs, Seq: seq, Link: link})

	return p
}

// parseControl strips the credit header and the envelope of an ACK or NACK
// whose frame tag has already been consumed, and reads the sequence tag.
func parseControl(p *packet.Packet) (
	packet.CreditHeader, packet.EthHeader, packet.SequenceTag, error,
) {
	ch, err := p.RemoveCredit()
	if err != nil {
		return packet.CreditHeader{}, packet.EthHeader{}, packet.SequenceTag{},
			fmt.Errorf("parse control: %w", err)
	}

	eh, err := p.RemoveEth()
	if err != nil {
		return packet.CreditHeader{}, packet.EthHeader{}, packet.SequenceTag{},
			fmt.Errorf("parse control: %w", err)
	}

	tag, ok := p.Tag()
	if !ok {
		return packet.CreditHeader{}, packet.EthHeader{}, packet.SequenceTag{},
			fmt.Errorf("parse control: packet carries no sequence tag")
	}

	return ch, eh, tag, nil
}
