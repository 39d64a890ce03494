// Package cbfc implements credit-based flow control for SUE links. A Ledger
// tracks transmit credits per (peer MAC, VC) on the send side and batches
// credit returns on the receive side.
package cbfc

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// ErrInsufficientCredit is returned when a decrement is attempted on an
// exhausted counter. Callers are expected to gate sends on GetTxCredits > 0.
var ErrInsufficientCredit = errors.New("insufficient credit")

// infiniteCredits is reported by a disabled ledger so that credit checks
// always pass.
const infiniteCredits = ^uint32(0)

// HookPosCreditUpdateSent triggers when a batched credit-update packet is
// handed to the link. The hook item is the EmitRecord.
var HookPosCreditUpdateSent = &sim.HookPos{Name: "CreditUpdateSent"}

// EmitRecord describes one credit-update emission, for telemetry.
type EmitRecord struct {
	Peer    packet.Mac
	VC      uint8
	Credits uint32
}

// Key indexes ledger entries by (peer MAC, VC).
type Key struct {
	Peer packet.Mac
	VC   uint8
}

// A LinkPort is the device surface the ledger emits credit-update packets
// through.
type LinkPort interface {
	LocalMac() packet.Mac
	SendControl(p *packet.Packet, dst packet.Mac, protocol uint16)
}

// Config carries the ledger parameters.
type Config struct {
	Enabled bool
	NumVCs  int

	// BatchSize is the number of returnable credits accumulated before a
	// credit-update packet is emitted.
	BatchSize uint32

	// GenerateDelay is the delay between deciding to return credits and
	// handing the credit-update packet to the link.
	GenerateDelay sim.VTimeInSec
}

// Ledger is the CBFC manager of one device.
type Ledger struct {
	sim.HookableBase

	name       string
	timeTeller sim.TimeTeller
	scheduler  sim.EventScheduler
	port       LinkPort
	cfg        Config

	txCredits map[Key]uint32
	toReturn  map[Key]uint32
}

// NewLedger creates a ledger. The port may be nil only if the ledger is
// disabled.
func NewLedger(
	name string,
	timeTeller sim.TimeTeller,
	scheduler sim.EventScheduler,
	port LinkPort,
	cfg Config,
) *Ledger {
	sim.NameMustBeValid(name)

	if cfg.NumVCs <= 0 {
		panic("cbfc: number of VCs must be positive")
	}

	if cfg.Enabled && cfg.BatchSize == 0 {
		panic("cbfc: batch size must be positive")
	}

	return &Ledger{
		name:       name,
		timeTeller: timeTeller,
		scheduler:  scheduler,
		port:       port,
		cfg:        cfg,
		txCredits:  make(map[Key]uint32),
		toReturn:   make(map[Key]uint32),
	}
}

// Name returns the ledger name.
func (l *Ledger) Name() string {
	return l.name
}

// Enabled reports whether credit-based flow control is active on this link.
func (l *Ledger) Enabled() bool {
	return l.cfg.Enabled
}

// AddPeer initializes the per-VC entries for a newly connected peer.
func (l *Ledger) AddPeer(peer packet.Mac, initialCredits uint32) {
	for vc := 0; vc < l.cfg.NumVCs; vc++ {
		key := Key{Peer: peer, VC: uint8(vc)}

		if _, ok := l.txCredits[key]; ok {
			log.Panicf("cbfc %s: peer %s already added", l.name, peer)
		}

		l.txCredits[key] = initialCredits
		l.toReturn[key] = 0
	}
}

// GetTxCredits reads the current transmit credit for (peer, vc). A disabled
// ledger reports infinite credit. An unknown peer reports zero.
func (l *Ledger) GetTxCredits(peer packet.Mac, vc uint8) uint32 {
	if !l.cfg.Enabled {
		return infiniteCredits
	}

	l.vcMustBeValid(vc)

	return l.txCredits[Key{Peer: peer, VC: vc}]
}

// DecrementTxCredits consumes one transmit credit for (peer, vc).
func (l *Ledger) DecrementTxCredits(peer packet.Mac, vc uint8) error {
	if !l.cfg.Enabled {
		return nil
	}

	l.vcMustBeValid(vc)

	key := Key{Peer: peer, VC: vc}
	if l.txCredits[key] == 0 {
		return fmt.Errorf("%w for peer %s vc %d",
			ErrInsufficientCredit, peer, vc)
	}

	l.txCredits[key]--

	return nil
}

// AddTxCredits grants transmit credits for (peer, vc).
func (l *Ledger) AddTxCredits(peer packet.Mac, vc uint8, amount uint32) {
	if !l.cfg.Enabled {
		return
	}

	l.vcMustBeValid(vc)

	l.txCredits[Key{Peer: peer, VC: vc}] += amount
}

// HandleCreditReturn applies an inbound credit-update packet to the
// sender-side entry for the packet's source.
func (l *Ledger) HandleCreditReturn(
	h packet.EthHeader,
	ch packet.CreditHeader,
) {
	l.AddTxCredits(h.Src, ch.VC, uint32(ch.Credits))
}

// CreditReturn accounts one delivered data packet toward the to-return pool
// for (peer, vc). When the pool reaches the batch size, a credit-update
// packet is scheduled toward the peer and the pool resets.
func (l *Ledger) CreditReturn(peer packet.Mac, vc uint8) {
	if !l.cfg.Enabled {
		return
	}

	l.vcMustBeValid(vc)

	key := Key{Peer: peer, VC: vc}
	l.toReturn[key]++

	if l.toReturn[key] < l.cfg.BatchSize {
		return
	}

	credits := l.toReturn[key]
	l.toReturn[key] = 0

	evt := &creditEmitEvent{
		EventBase: sim.NewEventBase(
			l.timeTeller.CurrentTime()+l.cfg.GenerateDelay, l),
		peer:    peer,
		vc:      vc,
		credits: credits,
	}
	l.scheduler.Schedule(evt)
}

// CreditsToReturn reads the pending to-return pool for (peer, vc).
func (l *Ledger) CreditsToReturn(peer packet.Mac, vc uint8) uint32 {
	l.vcMustBeValid(vc)

	return l.toReturn[Key{Peer: peer, VC: vc}]
}

type creditEmitEvent struct {
	*sim.EventBase

	peer    packet.Mac
	vc      uint8
	credits uint32
}

// Handle emits a scheduled credit-update packet.
func (l *Ledger) Handle(e sim.Event) error {
	evt := e.(*creditEmitEvent)

	if evt.credits > 255 {
		log.Panicf("cbfc %s: credit batch %d exceeds header range",
			l.name, evt.credits)
	}

	p := packet.New(0)
	p.AddEth(packet.EthHeader{
		Dst:       evt.peer,
		Src:       l.port.LocalMac(),
		EtherType: packet.EtherTypeIPv4,
	})
	p.AddCredit(packet.CreditHeader{
		VC:      evt.vc,
		Credits: uint8(evt.credits),
	})
	p.AddFrame(packet.ProtocolCreditUpdate)

	l.port.SendControl(p, evt.peer, packet.ProtocolCreditUpdate)

	l.InvokeHook(sim.HookCtx{
		Domain: l,
		Pos:    HookPosCreditUpdateSent,
		Item: EmitRecord{
			Peer:    evt.peer,
			VC:      evt.vc,
			Credits: evt.credits,
		},
	})

	return nil
}

func (l *Ledger) vcMustBeValid(vc uint8) {
	if int(vc) >= l.cfg.NumVCs {
		log.Panicf("cbfc %s: invalid vc %d (%d VCs configured)",
			l.name, vc, l.cfg.NumVCs)
	}
}
