// Package switching implements the forwarding orchestrator of a SUE switch.
// A Switch owns the forwarding table and moves data packets between the
// ports of one switch node: the ingress port's retry and credit state cover
// the internal hop, and the handoff into the egress port's VC queue is a
// scheduled future event, never an in-place mutation.
package switching

import (
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// A Port is one switch port as the forwarder sees it. The retry and credit
// operations act on the port's own state for the internal hop toward a
// sibling; EnqueueToVcQueue is the sibling-side entry point.
type Port interface {
	LocalMac() packet.Mac
	PortIndex() int

	LlrEnabled() bool
	CbfcEnabled() bool
	IsLlrResending(peer packet.Mac, vc uint8) bool
	LlrResendPacket(peer packet.Mac, vc uint8)
	LlrSendPacket(p *packet.Packet, peer packet.Mac, vc uint8) uint32

	GetTxCredits(peer packet.Mac, vc uint8) uint32
	DecrementTxCredits(peer packet.Mac, vc uint8) error
	CreditReturn(peer packet.Mac, vc uint8)

	// EnqueueToVcQueue admits a packet to the port's VC queues: framed
	// packets as internal hand-offs, unframed ones as fresh sends.
	EnqueueToVcQueue(p *packet.Packet) bool
}

// Switch forwards packets between the ports of one switch node.
type Switch struct {
	name         string
	timeTeller   sim.TimeTeller
	scheduler    sim.EventScheduler
	table        *Table
	forwardDelay sim.VTimeInSec

	ports map[int]Port
}

// NewSwitch creates a forwarder over the given table.
func NewSwitch(
	name string,
	timeTeller sim.TimeTeller,
	scheduler sim.EventScheduler,
	table *Table,
	forwardDelay sim.VTimeInSec,
) *Switch {
	sim.NameMustBeValid(name)

	return &Switch{
		name:         name,
		timeTeller:   timeTeller,
		scheduler:    scheduler,
		table:        table,
		forwardDelay: forwardDelay,
		ports:        make(map[int]Port),
	}
}

// Name returns the switch name.
func (s *Switch) Name() string {
	return s.name
}

// AttachPort registers a port under its index.
func (s *Switch) AttachPort(p Port) {
	if _, ok := s.ports[p.PortIndex()]; ok {
		log.Panicf("switch %s: port %d already attached", s.name, p.PortIndex())
	}

	s.ports[p.PortIndex()] = p
}

// Port returns the port registered under the index.
func (s *Switch) Port(index int) Port {
	p, ok := s.ports[index]
	if !ok {
		log.Panicf("switch %s: no port %d", s.name, index)
	}

	return p
}

type handoffEvent struct {
	*sim.EventBase

	egress Port
	p      *packet.Packet
}

type creditReturnEvent struct {
	*sim.EventBase

	ingress Port
	peer    packet.Mac
	vc      uint8
}

// ProcessSwitchForwarding moves a data packet from its ingress port toward
// the port that reaches its destination. The packet arrives with the frame
// tag already stripped, envelope outermost. It returns true when the packet
// has been taken over (the caller pops it), false when backpressure applies
// and the caller must retry.
func (s *Switch) ProcessSwitchForwarding(
	p *packet.Packet,
	src packet.EthHeader,
	ingress Port,
	protocol uint16,
	vc uint8,
) bool {
	outIndex := s.table.MustFindPort(src.Dst)
	egress := s.Port(outIndex)

	// Hairpin: the ingress port already faces the destination. The packet
	// re-enters the same port's queues as a fresh send toward the wire. The
	// upstream hop's credit is still owed and returned as on the normal path.
	if ingress.PortIndex() == outIndex {
		if !egress.EnqueueToVcQueue(p) {
			return false
		}

		s.scheduler.Schedule(&creditReturnEvent{
			EventBase: sim.NewEventBase(
				s.timeTeller.CurrentTime()+s.forwardDelay, s),
			ingress: ingress,
			peer:    src.Src,
			vc:      vc,
		})

		return true
	}

	// Credit accounting on the internal hop is keyed by the immediate-hop
	// MAC, so the previous hop's source is replaced before any bookkeeping.
	if err := p.RewriteEthSrc(ingress.LocalMac()); err != nil {
		log.Printf("switch %s: cannot rewrite source of forwarded packet: %v",
			s.name, err)
		return false
	}

	egressMac := egress.LocalMac()

	if ingress.LlrEnabled() && ingress.IsLlrResending(egressMac, vc) {
		// A resend pass toward the egress is draining. The packet joins the
		// window and the pass reaches it as the cursor walks to the end.
		ingress.LlrSendPacket(p, egressMac, vc)
		ingress.LlrResendPacket(egressMac, vc)
		return true
	}

	if ingress.GetTxCredits(egressMac, vc) == 0 {
		// Queue admission already checks credits, so hitting zero here is a
		// bug surface worth logging, not a silent drop.
		log.Printf("switch %s: no credits toward port %d on vc %d",
			s.name, outIndex, vc)
		return false
	}

	ingress.LlrSendPacket(p, egressMac, vc)

	if ingress.CbfcEnabled() {
		if err := ingress.DecrementTxCredits(egressMac, vc); err != nil {
			log.Printf("switch %s: %v", s.name, err)
		}
	}

	at := s.timeTeller.CurrentTime() + s.forwardDelay
	s.scheduler.Schedule(&handoffEvent{
		EventBase: sim.NewEventBase(at, s),
		egress:    egress,
		p:         p,
	})
	s.scheduler.Schedule(&creditReturnEvent{
		EventBase: sim.NewEventBase(at, s),
		ingress:   ingress,
		peer:      src.Src,
		vc:        vc,
	})

	return true
}

// Handle delivers scheduled hand-offs and credit returns.
func (s *Switch) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *handoffEvent:
		evt.egress.EnqueueToVcQueue(evt.p)
	case *creditReturnEvent:
		evt.ingress.CreditReturn(evt.peer, evt.vc)
	default:
		log.Panicf("switch %s: unexpected event %T", s.name, e)
	}

	return nil
}
