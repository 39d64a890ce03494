package llr

import (
	"bytes"
	"log"
	"sort"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// SwitchPortManager runs link-level retry on a switch port. A switch port
// reaches many peers across the fabric, so retry state is keyed by
// (peer MAC, VC) and created lazily on first use.
type SwitchPortManager struct {
	sim.HookableBase

	name       string
	timeTeller sim.TimeTeller
	scheduler  sim.EventScheduler
	link       SwitchLink
	cfg        Config

	states map[Key]*vcState
}

// NewSwitchPortManager creates the retry manager of one switch port.
func NewSwitchPortManager(
	name string,
	timeTeller sim.TimeTeller,
	scheduler sim.EventScheduler,
	link SwitchLink,
	cfg Config,
) *SwitchPortManager {
	sim.NameMustBeValid(name)

	if cfg.NumVCs <= 0 {
		panic("llr: number of VCs must be positive")
	}

	if cfg.Enabled && cfg.Timeout <= 0 {
		panic("llr: timeout must be positive")
	}

	return &SwitchPortManager{
		name:       name,
		timeTeller: timeTeller,
		scheduler:  scheduler,
		link:       link,
		cfg:        cfg,
		states:     make(map[Key]*vcState),
	}
}

// Name returns the manager name.
func (m *SwitchPortManager) Name() string {
	return m.name
}

// Enabled reports whether link-level retry is active on this port.
func (m *SwitchPortManager) Enabled() bool {
	return m.cfg.Enabled
}

// OutstandingCount returns the number of unacknowledged packets toward the
// peer on the VC.
func (m *SwitchPortManager) OutstandingCount(peer packet.Mac, vc uint8) int {
	return m.state(peer, vc).window.len()
}

// IsResending reports whether (peer, vc) has a resend pass in progress.
func (m *SwitchPortManager) IsResending(peer packet.Mac, vc uint8) bool {
	return m.state(peer, vc).resending
}

// Send frames and tags a data packet for its next hop toward the peer,
// retaining a copy for retransmission. A forwarded packet keeps its original
// timestamp: only the sequence number and the link type are rewritten for
// this hop. The caller transmits or hands off the packet itself. It returns
// the assigned sequence number.
func (m *SwitchPortManager) Send(
	p *packet.Packet,
	peer packet.Mac,
	vc uint8,
) uint32 {
	p.AddFrame(dataProtocol(p))

	if !m.cfg.Enabled {
		return 0
	}

	s := m.state(peer, vc)
	seq := s.nextSendSeq
	s.nextSendSeq++

	if p.HasTag() {
		p.UpdateTagSeqLink(seq, m.peerLinkType(peer))
	} else {
		p.AddTag(packet.SequenceTag{
			TimestampNs: m.timeTeller.CurrentTime().Nanoseconds(),
			Seq:         seq,
			Link:        packet.LinkSwitchIngress,
		})
	}
	s.window.put(seq, p.Copy())

	m.scheduleTimeoutIfIdle(s, peer, vc)

	return seq
}

// Receive checks a received data packet's sequence number for the
// (peer, vc) stream and emits the matching ACK or NACK. It returns true
// when the packet is in order and should be forwarded.
func (m *SwitchPortManager) Receive(peer packet.Mac, vc uint8, seq uint32) bool {
	if !m.cfg.Enabled {
		return true
	}

	s := m.state(peer, vc)

	switch {
	case seq == s.recvSeq:
		s.recvSeq++
		s.gapNacked = false
		m.sendControl(peer, vc, seq, packet.ProtocolAck)
		return true

	case seqBefore(seq, s.recvSeq):
		m.sendControl(peer, vc, seq, packet.ProtocolAck)
		return false

	default:
		if !s.gapNacked {
			m.sendControl(peer, vc, s.recvSeq, packet.ProtocolNack)
			s.gapNacked = true
		}
		return false
	}
}

// ProcessAck applies a cumulative ACK from the peer named by the control
// packet's source address.
func (m *SwitchPortManager) ProcessAck(p *packet.Packet) error {
	ch, eh, tag, err := parseControl(p)
	if err != nil {
		return err
	}

	s := m.state(eh.Src, ch.VC)
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
		m.scheduleTimeoutIfIdle(s, eh.Src, ch.VC)
	}

	m.link.TryTransmit()

	return nil
}

// ProcessNack restarts transmission toward the peer named by the control
// packet's source address, from the missing sequence number. Stale NACKs
// and NACKs for sequence numbers no longer retained are ignored.
func (m *SwitchPortManager) ProcessNack(p *packet.Packet) error {
	ch, eh, tag, err := parseControl(p)
	if err != nil {
		return err
	}

	s := m.state(eh.Src, ch.VC)
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
	m.scheduleTimeoutIfIdle(s, eh.Src, ch.VC)

	m.link.TryTransmit()

	return nil
}

// Resend starts a resend pass over the retained window toward the peer,
// from the smallest outstanding sequence number.
func (m *SwitchPortManager) Resend(peer packet.Mac, vc uint8) {
	s := m.state(peer, vc)

	s.resending = false
	if s.window.len() == 0 {
		return
	}

	smallest, _ := s.window.smallest()
	s.resending = true
	s.resendCursor = smallest

	m.link.TryTransmit()
}

// ResendInSwitch is the switch-side entry point for a timeout-triggered
// resend pass.
func (m *SwitchPortManager) ResendInSwitch(peer packet.Mac, vc uint8) {
	m.Resend(peer, vc)
}

// ResendPacket retransmits the packet at the resend cursor toward the peer
// and advances the cursor. It returns the retransmitted copy, or nil once
// the pass has drained past the window.
func (m *SwitchPortManager) ResendPacket(
	peer packet.Mac,
	vc uint8,
) *packet.Packet {
	s := m.state(peer, vc)

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

	m.link.SendPacket(c, peer, framedProtocol(c))
	s.resendCursor++

	if tag, ok := c.Tag(); ok {
		m.InvokeHook(sim.HookCtx{
			Domain: m,
			Pos:    HookPosRetransmit,
			Item:   RetransmitRecord{Peer: peer, VC: vc, Seq: tag.Seq},
		})
	}

	m.scheduleTimeoutIfIdle(s, peer, vc)

	return c
}

// PullResend pulls one retransmission from any (peer, VC) stream with an
// active resend pass. Streams are visited in a stable peer/VC order so the
// simulation stays deterministic. It returns nil when no pass is active.
func (m *SwitchPortManager) PullResend() *packet.Packet {
	keys := make([]Key, 0, len(m.states))
	for k, s := range m.states {
		if s.resending && s.window.len() > 0 {
			keys = append(keys, k)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		c := bytes.Compare(keys[i].Peer[:], keys[j].Peer[:])
		if c != 0 {
			return c < 0
		}
		return keys[i].VC < keys[j].VC
	})

	for _, k := range keys {
		if p := m.ResendPacket(k.Peer, k.VC); p != nil {
			return p
		}
	}

	return nil
}

// Handle fires retransmission timers and releases delayed control packets.
func (m *SwitchPortManager) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *resendEvent:
		s := m.state(evt.peer, evt.vc)
		if s.resendTimer == evt {
			s.resendTimer = nil
		}
		m.Resend(evt.peer, evt.vc)
	case *controlEvent:
		m.link.SendPacket(evt.p, evt.dst, evt.protocol)
	default:
		log.Panicf("llr %s: unexpected event %T", m.name, e)
	}

	return nil
}

func (m *SwitchPortManager) peerLinkType(peer packet.Mac) packet.LinkType {
	if m.link.IsSwitchPeer(peer) {
		return packet.LinkSwitchIngress
	}

	return packet.LinkSwitchEgress
}

func (m *SwitchPortManager) sendControl(
	peer packet.Mac,
	vc uint8,
	seq uint32,
	protocol uint16,
) {
	now := m.timeTeller.CurrentTime()

	p := buildControl(m.link.LocalMac(), peer,
		vc, seq, protocol, now.Nanoseconds(), m.peerLinkType(peer))

	evt := &controlEvent{
		EventBase: sim.NewEventBase(now+m.cfg.AckHeaderDelay, m),
		p:         p,
		dst:       peer,
		protocol:  protocol,
	}
	m.scheduler.Schedule(evt)
}

func (m *SwitchPortManager) scheduleTimeoutIfIdle(
	s *vcState,
	peer packet.Mac,
	vc uint8,
) {
	if s.resendTimer != nil {
		return
	}

	evt := &resendEvent{
		EventBase: sim.NewEventBase(
			m.timeTeller.CurrentTime()+m.cfg.Timeout, m),
		peer: peer,
		vc:   vc,
	}
	s.resendTimer = evt
	m.scheduler.Schedule(evt)
}

func (m *SwitchPortManager) cancelTimer(s *vcState) {
	if s.resendTimer == nil {
		return
	}

	s.resendTimer.Cancel()
	s.resendTimer = nil
}

func (m *SwitchPortManager) state(peer packet.Mac, vc uint8) *vcState {
	if int(vc) >= m.cfg.NumVCs {
		log.Panicf("llr %s: invalid vc %d (%d VCs configured)",
			m.name, vc, m.cfg.NumVCs)
	}

	key := Key{Peer: peer, VC: vc}
	s, ok := m.states[key]
	if !ok {
		s = newVCState()
		m.states[key] = s
	}

	return s
}
