package llr

import (
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// NodeManager runs link-level retry on a node device port. A node port faces
// exactly one peer, so retry state is kept per virtual channel.
type NodeManager struct {
	sim.HookableBase

	name       string
	timeTeller sim.TimeTeller
	scheduler  sim.EventScheduler
	link       Link
	cfg        Config

	vcs []*vcState
}

// NewNodeManager creates the retry manager of one node port.
func NewNodeManager(
	name string,
	timeTeller sim.TimeTeller,
	scheduler sim.EventScheduler,
	link Link,
	cfg Config,
) *NodeManager {
	sim.NameMustBeValid(name)

	if cfg.NumVCs <= 0 {
		panic("llr: number of VCs must be positive")
	}

	if cfg.Enabled && cfg.Timeout <= 0 {
		panic("llr: timeout must be positive")
	}

	m := &NodeManager{
		name:       name,
		timeTeller: timeTeller,
		scheduler:  scheduler,
		link:       link,
		cfg:        cfg,
		vcs:        make([]*vcState, cfg.NumVCs),
	}
	for i := range m.vcs {
		m.vcs[i] = newVCState()
	}

	return m
}

// Name returns the manager name.
func (m *NodeManager) Name() string {
	return m.name
}

// Enabled reports whether link-level retry is active on this link.
func (m *NodeManager) Enabled() bool {
	return m.cfg.Enabled
}

// HasWindowSpace reports whether the VC is below the advisory window bound.
func (m *NodeManager) HasWindowSpace(vc uint8) bool {
	if !m.cfg.Enabled || m.cfg.WindowSize <= 0 {
		return true
	}

	return m.vc(vc).window.len() < m.cfg.WindowSize
}

// OutstandingCount returns the number of unacknowledged packets on the VC.
func (m *NodeManager) OutstandingCount(vc uint8) int {
	return m.vc(vc).window.len()
}

// IsResending reports whether the VC has a resend pass in progress.
func (m *NodeManager) IsResending(vc uint8) bool {
	return m.vc(vc).resending
}

// Send frames and tags a data packet at admission time, retaining a copy
// for retransmission. The caller transmits the packet once the link is
// ready. It returns the assigned sequence number.
func (m *NodeManager) Send(p *packet.Packet, vc uint8) uint32 {
	p.AddFrame(dataProtocol(p))

	if !m.cfg.Enabled {
		// A zero-sequence tag still rides along so delivery latency can be
		// measured from the timestamp.
		p.AddTag(packet.SequenceTag{
			TimestampNs: m.timeTeller.CurrentTime().Nanoseconds(),
			Link:        packet.LinkNIC,
		})
		return 0
	}

	s := m.vc(vc)
	seq := s.nextSendSeq
	s.nextSendSeq++

	p.AddTag(packet.SequenceTag{
		TimestampNs: m.timeTeller.CurrentTime().Nanoseconds(),
		Seq:         seq,
		Link:        packet.LinkNIC,
	})
	s.window.put(seq, p.Copy())

	m.scheduleTimeoutIfIdle(s, vc)

	return seq
}

// Receive checks a received data packet's sequence number against the
// expected one and emits the matching ACK or NACK. It returns true when the
// packet is in order and should be delivered.
//
// An out-of-order arrival NACKs the expected sequence number once; further
// arrivals on the same gap stay silent until the gap closes. A duplicate is
// re-ACKed so the sender can purge it, but is not delivered again.
func (m *NodeManager) Receive(vc uint8, seq uint32) bool {
	if !m.cfg.Enabled {
		return true
	}

	s := m.vc(vc)

	switch {
	case seq == s.recvSeq:
		s.recvSeq++
		s.gapNacked = false
		m.sendControl(vc, seq, packet.ProtocolAck)
		return true

	case seqBefore(seq, s.recvSeq):
		m.sendControl(vc, seq, packet.ProtocolAck)
		return false

	default:
		if !s.gapNacked {
			m.sendControl(vc, s.recvSeq, packet.ProtocolNack)
			s.gapNacked = true
		}
		return false
	}
}

// ProcessAck applies a cumulative ACK: every retained packet at or before
// the acknowledged sequence number is purged. Stale ACKs, below what has
// already been acknowledged, are ignored.
func (m *NodeManager) ProcessAck(p *packet.Packet) error {
	ch, _, tag, err := parseControl(p)
	if err != nil {
		return err
	}

	s := m.vc(ch.VC)
	seq := tag.Seq

	if seqBefore(seq, s.ackedFloor) {
		return nil
	}

	if _, ok := s.window.get(seq); !ok {
		return nil
	}

	s.window.purgeThrough(seq)
	s.ackedFloor = seq + 1
	s.resending = false

	m.cancelTimer(s)
	if s.window.len() > 0 {
		m.scheduleTimeoutIfIdle(s, ch.VC)
	}

	m.link.TryTransmit()

	return nil
}

// ProcessNack restarts transmission from the peer's missing sequence number.
// Packets before it are implicitly acknowledged and purged. Stale NACKs,
// below what has already been acknowledged, and NACKs for sequence numbers
// no longer retained are ignored.
func (m *NodeManager) ProcessNack(p *packet.Packet) error {
	ch, _, tag, err := parseControl(p)
	if err != nil {
		return err
	}

	s := m.vc(ch.VC)
	seq := tag.Seq

	if seqBefore(seq, s.ackedFloor) {
		return nil
	}

	if _, ok := s.window.get(seq); !ok {
		return nil
	}

	s.window.purgeBefore(seq)
	s.ackedFloor = seq

	s.resending = true
	s.resendCursor = seq

	m.cancelTimer(s)
	m.scheduleTimeoutIfIdle(s, ch.VC)

	m.link.TryTransmit()

	return nil
}

// Resend starts a resend pass over the whole retained window, from the
// smallest outstanding sequence number. It is the retransmission-timeout
// action.
func (m *NodeManager) Resend(vc uint8) {
	s := m.vc(vc)

	s.resending = false
	if s.window.len() == 0 {
		return
	}

	smallest, _ := s.window.smallest()
	s.resending = true
	s.resendCursor = smallest

	m.link.TryTransmit()
}

// ResendPacket retransmits the packet at the resend cursor and advances the
// cursor. It returns the retransmitted copy, or nil once the pass has
// drained past the window.
func (m *NodeManager) ResendPacket(vc uint8) *packet.Packet {
	s := m.vc(vc)

	if !s.resending {
		return nil
	}

	stored, ok := s.window.get(s.resendCursor)
	if !ok {
		s.resending = false
		return nil
	}

	c := stored.Copy()
	c.UpdateTagTimestamp(m.timeTeller.CurrentTime().Nanoseconds())

	m.link.SendPacket(c, m.link.RemoteMac(), framedProtocol(c))
	s.resendCursor++

	if tag, ok := c.Tag(); ok {
		m.InvokeHook(sim.HookCtx{
			Domain: m,
			Pos:    HookPosRetransmit,
			Item: RetransmitRecord{
				Peer: m.link.RemoteMac(),
				VC:   vc,
				Seq:  tag.Seq,
			},
		})
	}

	m.scheduleTimeoutIfIdle(s, vc)

	return c
}

// Handle fires retransmission timers and releases delayed control packets.
func (m *NodeManager) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *resendEvent:
		s := m.vc(evt.vc)
		if s.resendTimer == evt {
			s.resendTimer = nil
		}
		m.Resend(evt.vc)
	case *controlEvent:
		m.link.SendPacket(evt.p, evt.dst, evt.protocol)
	default:
		log.Panicf("llr %s: unexpected event %T", m.name, e)
	}

	return nil
}

func (m *NodeManager) sendControl(vc uint8, seq uint32, protocol uint16) {
	now := m.timeTeller.CurrentTime()

	p := buildControl(m.link.LocalMac(), m.link.RemoteMac(),
		vc, seq, protocol, now.Nanoseconds(), packet.LinkNIC)

	evt := &controlEvent{
		EventBase: sim.NewEventBase(now+m.cfg.AckHeaderDelay, m),
		p:         p,
		dst:       m.link.RemoteMac(),
		protocol:  protocol,
	}
	m.scheduler.Schedule(evt)
}

func (m *NodeManager) scheduleTimeoutIfIdle(s *vcState, vc uint8) {
	if s.resendTimer != nil {
		return
	}

	evt := &resendEvent{
		EventBase: sim.NewEventBase(
			m.timeTeller.CurrentTime()+m.cfg.Timeout, m),
		vc: vc,
	}
	s.resendTimer = evt
	m.scheduler.Schedule(evt)
}

func (m *NodeManager) cancelTimer(s *vcState) {
	if s.resendTimer == nil {
		return
	}

	s.resendTimer.Cancel()
	s.resendTimer = nil
}

func (m *NodeManager) vc(vc uint8) *vcState {
	if int(vc) >= m.cfg.NumVCs {
		log.Panicf("llr %s: invalid vc %d (%d VCs configured)",
			m.name, vc, m.cfg.NumVCs)
	}

	return m.vcs[vc]
}
