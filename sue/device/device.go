// Package device models one endpoint of a reliable point-to-point link. A
// Device owns the transmit machinery of its port: the high-priority main
// queue for control packets, per-VC data queues gated by credit-based flow
// control, link-level retry state, and the receive pipeline that either
// delivers payloads to the host or hands them to the switch forwarder.
package device

import (
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/cbfc"
	"github.com/sarchlab/suesim/sue/llr"
	"github.com/sarchlab/suesim/sue/packet"
	"github.com/sarchlab/suesim/sue/switching"
	"github.com/sarchlab/suesim/sue/vcqueue"
)

// Hook positions of the device.
var (
	HookPosPacketDelivered = &sim.HookPos{Name: "DevicePacketDelivered"}
	HookPosProcessingDrop  = &sim.HookPos{Name: "DeviceProcessingDrop"}
	HookPosControlDrop     = &sim.HookPos{Name: "DeviceControlDrop"}
)

// A DeliveryRecord describes one payload handed to the host side.
type DeliveryRecord struct {
	Src       packet.Mac
	VC        uint8
	Bytes     int
	LatencyNs uint64
}

// A Resolver maps destination IP addresses to MAC addresses.
type Resolver interface {
	MacForIP(ip string) (packet.Mac, bool)
}

// A DeliveryHandler receives payloads that reached their destination NIC.
// The packet holds the bare payload; envelope and SUE header are already
// stripped.
type DeliveryHandler func(
	d *Device,
	payload *packet.Packet,
	sue packet.SueHeader,
	src packet.Mac,
)

type txState int

const (
	txReady txState = iota
	txBusy
)

type procItem struct {
	p        *packet.Packet
	vc       uint8
	protocol uint16
}

type creditReturn struct {
	peer packet.Mac
	vc   uint8
}

type tryTransmitEvent struct {
	*sim.EventBase
}

type transmitCompleteEvent struct {
	*sim.EventBase
}

type processDoneEvent struct {
	*sim.EventBase
}

type controlProcessEvent struct {
	*sim.EventBase

	p    *packet.Packet
	nack bool
}

// A Device is one port of a NIC or a switch.
type Device struct {
	sim.HookableBase

	name      string
	role      Role
	mac       packet.Mac
	portIndex int

	timeTeller sim.TimeTeller
	scheduler  sim.EventScheduler
	cfg        Config

	channel   *Channel
	resolver  Resolver
	forwarder *switching.Switch

	siblings   map[packet.Mac]*Device
	switchMacs map[packet.Mac]bool

	ledger    *cbfc.Ledger
	queues    *vcqueue.Manager
	nodeLlr   *llr.NodeManager
	switchLlr *llr.SwitchPortManager

	mainQueue      sim.Buffer
	mainQueueDrops uint64
	resendStage    []*packet.Packet

	txState              txState
	currentPkt           *packet.Packet
	tryTransmitScheduled bool
	lastVC               uint8
	pendingCreditReturn  *creditReturn

	processing bool
	procQueue  []procItem
	procBytes  int
	procDrops  uint64

	rx DeliveryHandler
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Role returns the device role.
func (d *Device) Role() Role {
	return d.role
}

// LocalMac returns the device's own MAC address.
func (d *Device) LocalMac() packet.Mac {
	return d.mac
}

// RemoteMac returns the MAC of the device on the other end of the wire.
func (d *Device) RemoteMac() packet.Mac {
	if d.channel == nil {
		log.Panicf("device %s: no channel attached", d.name)
	}

	return d.channel.PeerOf(d).mac
}

// PortIndex returns the switch port index of the device.
func (d *Device) PortIndex() int {
	return d.portIndex
}

// LlrEnabled reports whether link-level retry is active.
func (d *Device) LlrEnabled() bool {
	return d.cfg.LlrEnabled
}

// CbfcEnabled reports whether credit-based flow control is active.
func (d *Device) CbfcEnabled() bool {
	return d.ledger.Enabled()
}

// Ledger exposes the credit ledger for peer setup and inspection.
func (d *Device) Ledger() *cbfc.Ledger {
	return d.ledger
}

// Queues exposes the VC queue set, mainly for host-side capacity
// reservation.
func (d *Device) Queues() *vcqueue.Manager {
	return d.queues
}

// SetDeliveryHandler installs the host-side receive callback.
func (d *Device) SetDeliveryHandler(h DeliveryHandler) {
	d.rx = h
}

// RegisterSibling makes another port of the same node reachable for
// in-node delivery.
func (d *Device) RegisterSibling(other *Device) {
	d.siblings[other.mac] = other
}

// DeclareSwitchPeer records that the given MAC belongs to a switch port.
func (d *Device) DeclareSwitchPeer(mac packet.Mac) {
	d.switchMacs[mac] = true
}

// IsSwitchPeer reports whether the MAC belongs to a switch port.
func (d *Device) IsSwitchPeer(mac packet.Mac) bool {
	return d.switchMacs[mac]
}

// MainQueue exposes the control main queue for inspection.
func (d *Device) MainQueue() sim.Buffer {
	return d.mainQueue
}

// MainQueueDropCount returns the number of control packets dropped at the
// main queue.
func (d *Device) MainQueueDropCount() uint64 {
	return d.mainQueueDrops
}

// ProcessingDropCount returns the number of received packets dropped at the
// processing queue.
func (d *Device) ProcessingDropCount() uint64 {
	return d.procDrops
}

// NodeRetry exposes the node-side retry manager. It is nil on switch ports.
func (d *Device) NodeRetry() *llr.NodeManager {
	return d.nodeLlr
}

// SwitchRetry exposes the switch-side retry manager. It is nil on NICs.
func (d *Device) SwitchRetry() *llr.SwitchPortManager {
	return d.switchLlr
}

// Send admits a host payload for transmission. The packet carries its SUE
// header; the destination IP picks the envelope addresses. It returns false
// when the VC queue refuses the packet.
func (d *Device) Send(p *packet.Packet, dstIP string) bool {
	if d.role != RoleNIC {
		log.Panicf("device %s: host sends only enter through NICs", d.name)
	}

	dst, ok := d.resolver.MacForIP(dstIP)
	if !ok {
		log.Printf("device %s: no MAC known for IP %s", d.name, dstIP)
		return false
	}

	p.AddEth(packet.EthHeader{
		Dst:       dst,
		Src:       d.mac,
		EtherType: packet.EtherTypeIPv4,
	})

	return d.EnqueueToVcQueue(p)
}

// EnqueueToVcQueue admits a data packet to the VC queues. Hand-offs from a
// sibling port arrive still framed, carrying the internal hop's sequence
// tag; fresh sends and hairpinned packets arrive envelope-outermost. Either
// way the packet joins the retry window toward the wire peer, gets framed
// and tagged, and waits in its VC queue for credits.
func (d *Device) EnqueueToVcQueue(p *packet.Packet) bool {
	if protocol, err := p.PeekFrame(); err == nil &&
		packet.IsKnownProtocol(protocol) {
		if eh, err := p.FramedEth(); err == nil && d.isSibling(eh.Src) {
			return d.enqueueHandoff(p)
		}
	}

	vc, err := p.EnvelopeVC()
	if err != nil {
		log.Printf("device %s: cannot read VC of enqueued packet: %v",
			d.name, err)
		return false
	}

	// A tagged packet with a sibling source crossed the internal hop (a
	// hairpinned retransmission); its sequence number is checked against
	// the sibling's stream before the packet can head for the wire.
	if d.role == RoleSwitch && d.cfg.LlrEnabled {
		if tag, ok := p.Tag(); ok {
			if eh, err := p.PeekEth(); err == nil && d.isSibling(eh.Src) {
				if !d.switchLlr.Receive(eh.Src, vc, tag.Seq) {
					return false
				}
			}
		}
	}

	return d.enqueueForTransmit(p, vc)
}

func (d *Device) enqueueHandoff(p *packet.Packet) bool {
	vc, err := p.DataVC()
	if err != nil {
		log.Printf("device %s: malformed hand-off: %v", d.name, err)
		return false
	}

	tag, hasTag := p.Tag()
	if d.cfg.LlrEnabled && !hasTag {
		log.Printf("device %s: hand-off without sequence tag", d.name)
		return false
	}

	_, _ = p.RemoveFrame()

	eh, err := p.PeekEth()
	if err != nil {
		log.Printf("device %s: hand-off without envelope: %v", d.name, err)
		return false
	}

	if d.cfg.LlrEnabled {
		if !d.switchLlr.Receive(eh.Src, vc, tag.Seq) {
			return false
		}
	}

	return d.enqueueForTransmit(p, vc)
}

func (d *Device) enqueueForTransmit(p *packet.Packet, vc uint8) bool {
	d.llrSend(p, vc)

	if !d.queues.Enqueue(p, vc) {
		return false
	}

	d.scheduleTryTransmit(d.cfg.DataHeaderDelay)

	return true
}

func (d *Device) llrSend(p *packet.Packet, vc uint8) {
	if d.role == RoleSwitch {
		d.switchLlr.Send(p, d.RemoteMac(), vc)
		return
	}

	d.nodeLlr.Send(p, vc)
}

// SendPacket routes a packet emitted by the retry or credit machinery:
// control toward the wire goes through the main queue, retransmitted data
// grabs the line directly, and anything addressed to a sibling port is
// delivered within the node.
func (d *Device) SendPacket(p *packet.Packet, dst packet.Mac, protocol uint16) {
	if sib, ok := d.siblings[dst]; ok {
		sib.Receive(p)
		return
	}

	switch protocol {
	case packet.ProtocolCreditUpdate:
		d.enqueueControl(p, d.cfg.CreditUpdateHeaderDelay)
	case packet.ProtocolAck, packet.ProtocolNack:
		d.enqueueControl(p, d.cfg.DataHeaderDelay)
	default:
		if d.txState == txReady {
			d.transmitStart(p)
			return
		}

		d.resendStage = append(d.resendStage, p)
		d.scheduleTryTransmit(0)
	}
}

// SendControl feeds credit-update packets through the same routing as
// retry control traffic.
func (d *Device) SendControl(p *packet.Packet, dst packet.Mac, protocol uint16) {
	d.SendPacket(p, dst, protocol)
}

func (d *Device) enqueueControl(p *packet.Packet, delay sim.VTimeInSec) {
	if !d.mainQueue.CanPush() {
		d.mainQueueDrops++
		if d.NumHooks() > 0 {
			d.InvokeHook(sim.HookCtx{
				Domain: d,
				Pos:    HookPosControlDrop,
				Item:   p,
			})
		}
		return
	}

	d.mainQueue.Push(p)
	d.scheduleTryTransmit(delay)
}

// TryTransmit drains the next eligible packet onto the wire: main-queue
// control first, then staged and window-driven retransmissions, then data
// from the VC queues under the credit gate.
func (d *Device) TryTransmit() {
	d.tryTransmitScheduled = false

	if d.txState != txReady {
		return
	}

	if d.mainQueue.Size() > 0 {
		d.transmitStart(d.mainQueue.Pop().(*packet.Packet))
		return
	}

	if len(d.resendStage) > 0 {
		p := d.resendStage[0]
		d.resendStage = d.resendStage[1:]
		d.transmitStart(p)
		return
	}

	if d.cfg.LlrEnabled && d.pullResend() {
		if d.txState == txReady {
			// The pull went to a sibling port; keep draining.
			d.scheduleTryTransmit(0)
		}
		return
	}

	remote := d.RemoteMac()
	n := uint8(d.cfg.NumVCs)
	for i := uint8(0); i < n; i++ {
		vc := (d.lastVC + i) % n

		if d.queues.IsEmpty(vc) {
			continue
		}
		if d.ledger.GetTxCredits(remote, vc) == 0 {
			continue
		}

		if d.CbfcEnabled() {
			if err := d.ledger.DecrementTxCredits(remote, vc); err != nil {
				log.Printf("device %s: %v", d.name, err)
				continue
			}
		}

		p := d.queues.Dequeue(vc)
		d.lastVC = (vc + 1) % n
		d.transmitStart(p)
		return
	}
}

func (d *Device) pullResend() bool {
	if d.role == RoleSwitch {
		return d.switchLlr.PullResend() != nil
	}

	for vc := uint8(0); vc < uint8(d.cfg.NumVCs); vc++ {
		if !d.nodeLlr.IsResending(vc) {
			continue
		}
		if d.nodeLlr.ResendPacket(vc) != nil {
			return true
		}
	}

	return false
}

func (d *Device) transmitStart(p *packet.Packet) {
	if d.txState != txReady {
		log.Panicf("device %s: transmit start while busy", d.name)
	}
	if d.channel == nil {
		log.Panicf("device %s: no channel attached", d.name)
	}

	d.txState = txBusy
	d.currentPkt = p

	now := d.timeTeller.CurrentTime()

	protocol, err := p.PeekFrame()
	isData := err == nil &&
		(protocol == packet.ProtocolIPv4 || protocol == packet.ProtocolIPv6)

	if isData && d.role == RoleNIC {
		// Latency counts from the moment the wire takes the packet, not
		// from queue admission.
		p.UpdateTagTimestamp(now.Nanoseconds())
	}

	d.pendingCreditReturn = nil
	if isData && d.role == RoleSwitch {
		if eh, err := p.FramedEth(); err == nil {
			if d.isSibling(eh.Src) {
				if vc, err := p.DataVC(); err == nil {
					d.pendingCreditReturn = &creditReturn{peer: eh.Src, vc: vc}
				}
			}

			// The wire hop starts here, so the envelope source becomes this
			// port.
			if err := p.RewriteFramedEthSrc(d.mac); err != nil {
				log.Printf("device %s: %v", d.name, err)
			}
		}
	}

	txTime := d.cfg.DataRate.TransferTime(p.Size())
	d.channel.TransmitStart(p, d, txTime)

	at := now + txTime + d.cfg.InterframeGap
	d.scheduler.Schedule(&transmitCompleteEvent{
		EventBase: sim.NewEventBase(at, d),
	})
}

func (d *Device) transmitComplete() {
	if d.txState != txBusy {
		log.Panicf("device %s: transmit complete while not busy", d.name)
	}

	d.txState = txReady
	d.currentPkt = nil

	if cr := d.pendingCreditReturn; cr != nil {
		d.pendingCreditReturn = nil
		d.ledger.CreditReturn(cr.peer, cr.vc)
	}

	d.scheduleTryTransmit(d.cfg.VcSchedulingDelay)
}

// Receive takes a packet off the wire (or from a sibling port) and
// dispatches it: retry control is scheduled for processing, credit updates
// replenish the ledger, and data runs through the retry gate into the
// processing queue.
func (d *Device) Receive(p *packet.Packet) {
	protocol, err := p.PeekFrame()
	if err != nil {
		log.Printf("device %s: received unframed packet: %v", d.name, err)
		return
	}

	switch protocol {
	case packet.ProtocolAck, packet.ProtocolNack:
		if !d.cfg.LlrEnabled {
			return
		}

		_, _ = p.RemoveFrame()
		at := d.timeTeller.CurrentTime() + d.cfg.AckProcessDelay
		d.scheduler.Schedule(&controlProcessEvent{
			EventBase: sim.NewEventBase(at, d),
			p:         p,
			nack:      protocol == packet.ProtocolNack,
		})
		return

	case packet.ProtocolCreditUpdate:
		_, _ = p.RemoveFrame()
		d.applyCreditUpdate(p)
		return
	}

	vc, err := p.DataVC()
	if err != nil {
		log.Printf("device %s: malformed data packet: %v", d.name, err)
		return
	}

	tag, hasTag := p.Tag()
	if d.cfg.LlrEnabled && !hasTag {
		log.Printf("device %s: data packet without sequence tag", d.name)
		return
	}

	_, _ = p.RemoveFrame()

	eh, err := p.PeekEth()
	if err != nil {
		log.Printf("device %s: data packet without envelope: %v", d.name, err)
		return
	}

	// Sibling-sourced data is sequence-checked at VC queue admission, after
	// the forwarder routed it; only wire arrivals are gated here.
	if d.cfg.LlrEnabled && !d.isSibling(eh.Src) {
		if !d.llrReceive(eh.Src, vc, tag.Seq) {
			return
		}
	}

	if d.procBytes+p.Size() > d.cfg.ProcessingQueueMaxBytes {
		d.procDrops++
		if d.NumHooks() > 0 {
			d.InvokeHook(sim.HookCtx{
				Domain: d,
				Pos:    HookPosProcessingDrop,
				Item:   p,
			})
		}
		return
	}

	d.procQueue = append(d.procQueue, procItem{p: p, vc: vc, protocol: protocol})
	d.procBytes += p.Size()

	if !d.processing {
		d.processing = true
		d.startProcessing()
	}
}

func (d *Device) llrReceive(src packet.Mac, vc uint8, seq uint32) bool {
	if d.role == RoleSwitch {
		return d.switchLlr.Receive(src, vc, seq)
	}

	return d.nodeLlr.Receive(vc, seq)
}

func (d *Device) applyCreditUpdate(p *packet.Packet) {
	ch, err := p.RemoveCredit()
	if err != nil {
		log.Printf("device %s: malformed credit update: %v", d.name, err)
		return
	}

	eh, err := p.RemoveEth()
	if err != nil {
		log.Printf("device %s: credit update without envelope: %v",
			d.name, err)
		return
	}

	if ch.Credits == 0 {
		return
	}

	d.ledger.AddTxCredits(eh.Src, ch.VC, uint32(ch.Credits))
	d.scheduleTryTransmit(0)
}

func (d *Device) startProcessing() {
	item := d.procQueue[0]
	at := d.timeTeller.CurrentTime() +
		d.cfg.ProcessingRate.TransferTime(item.p.Size())

	d.scheduler.Schedule(&processDoneEvent{
		EventBase: sim.NewEventBase(at, d),
	})
}

func (d *Device) completeProcessing() {
	item := d.procQueue[0]

	if d.role == RoleSwitch {
		eh, err := item.p.PeekEth()
		forwarded := err == nil && d.forwarder.ProcessSwitchForwarding(
			item.p, eh, d, item.protocol, item.vc)

		if !forwarded {
			// Backpressure: the head stays and is retried after another
			// processing interval.
			d.startProcessing()
			return
		}

		d.popProcessing()
	} else {
		d.popProcessing()
		d.deliver(item)
	}

	if len(d.procQueue) > 0 {
		d.startProcessing()
		return
	}

	d.processing = false
}

func (d *Device) popProcessing() {
	item := d.procQueue[0]
	d.procQueue = d.procQueue[1:]
	d.procBytes -= item.p.Size()
}

func (d *Device) deliver(item procItem) {
	p := item.p
	tag, _ := p.Tag()

	eh, err := p.RemoveEth()
	if err != nil {
		log.Printf("device %s: delivery without envelope: %v", d.name, err)
		return
	}

	sue, err := p.RemoveSue()
	if err != nil {
		log.Printf("device %s: delivery without SUE header: %v", d.name, err)
		return
	}

	if d.NumHooks() > 0 {
		d.InvokeHook(sim.HookCtx{
			Domain: d,
			Pos:    HookPosPacketDelivered,
			Item: DeliveryRecord{
				Src:       eh.Src,
				VC:        item.vc,
				Bytes:     p.Size(),
				LatencyNs: d.timeTeller.CurrentTime().Nanoseconds() - tag.TimestampNs,
			},
		})
	}

	if d.rx != nil {
		d.rx(d, p, sue, eh.Src)
	}

	d.ledger.CreditReturn(eh.Src, item.vc)
}

// Handle runs the device's scheduled work.
func (d *Device) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *tryTransmitEvent:
		d.TryTransmit()
	case *transmitCompleteEvent:
		d.transmitComplete()
	case *processDoneEvent:
		d.completeProcessing()
	case *controlProcessEvent:
		d.processControl(evt)
	default:
		log.Panicf("device %s: unexpected event %T", d.name, e)
	}

	return nil
}

func (d *Device) processControl(evt *controlProcessEvent) {
	var err error

	switch {
	case d.role == RoleSwitch && evt.nack:
		err = d.switchLlr.ProcessNack(evt.p)
	case d.role == RoleSwitch:
		err = d.switchLlr.ProcessAck(evt.p)
	case evt.nack:
		err = d.nodeLlr.ProcessNack(evt.p)
	default:
		err = d.nodeLlr.ProcessAck(evt.p)
	}

	if err != nil {
		log.Printf("device %s: %v", d.name, err)
	}
}

// IsLlrResending reports whether a resend pass toward the peer is active.
func (d *Device) IsLlrResending(peer packet.Mac, vc uint8) bool {
	return d.switchLlr.IsResending(peer, vc)
}

// LlrResendPacket pulls one retransmission toward the peer.
func (d *Device) LlrResendPacket(peer packet.Mac, vc uint8) {
	d.switchLlr.ResendPacket(peer, vc)
}

// LlrSendPacket registers a packet with the retry window toward the peer.
func (d *Device) LlrSendPacket(
	p *packet.Packet,
	peer packet.Mac,
	vc uint8,
) uint32 {
	return d.switchLlr.Send(p, peer, vc)
}

// GetTxCredits returns the transmit credits available toward the peer.
func (d *Device) GetTxCredits(peer packet.Mac, vc uint8) uint32 {
	return d.ledger.GetTxCredits(peer, vc)
}

// DecrementTxCredits consumes one transmit credit toward the peer.
func (d *Device) DecrementTxCredits(peer packet.Mac, vc uint8) error {
	return d.ledger.DecrementTxCredits(peer, vc)
}

// CreditReturn banks one returnable credit for the peer.
func (d *Device) CreditReturn(peer packet.Mac, vc uint8) {
	d.ledger.CreditReturn(peer, vc)
}

func (d *Device) isSibling(mac packet.Mac) bool {
	_, ok := d.siblings[mac]
	return ok
}

func (d *Device) scheduleTryTransmit(delay sim.VTimeInSec) {
	if d.tryTransmitScheduled {
		return
	}

	d.tryTransmitScheduled = true
	at := d.timeTeller.CurrentTime() + delay
	d.scheduler.Schedule(&tryTransmitEvent{
		EventBase: sim.NewEventBase(at, d),
	})
}
