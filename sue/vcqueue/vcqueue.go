// Package vcqueue provides per-virtual-channel byte-bounded packet queues
// with an explicit capacity reservation protocol. Reservation separates the
// "can I send N bytes" check from the eventual enqueue, which may be several
// scheduled events later.
package vcqueue

import (
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// HookPosPacketDrop triggers when an enqueue is refused and the packet is
// dropped. The hook item is the DropRecord.
var HookPosPacketDrop = &sim.HookPos{Name: "VCQueuePacketDrop"}

// DropRecord describes one dropped packet, for telemetry.
type DropRecord struct {
	VC    uint8
	Bytes int
}

// Config carries the queue-set parameters.
type Config struct {
	NumVCs      int
	MaxBytes    int
	// AdditionalHeaderSize is added to every reservation to cover headers
	// appended after admission.
	AdditionalHeaderSize int
}

type vcState struct {
	fifo     []*packet.Packet
	bytes    int
	reserved int
	drops    uint64
}

// Manager owns the VC queues of one device.
type Manager struct {
	sim.HookableBase

	name string
	cfg  Config
	vcs  []vcState
}

// NewManager creates the queue set.
func NewManager(name string, cfg Config) *Manager {
	sim.NameMustBeValid(name)

	if cfg.NumVCs <= 0 {
		panic("vcqueue: number of VCs must be positive")
	}

	if cfg.MaxBytes <= 0 {
		panic("vcqueue: max bytes must be positive")
	}

	return &Manager{
		name: name,
		cfg:  cfg,
		vcs:  make([]vcState, cfg.NumVCs),
	}
}

// Name returns the manager name.
func (m *Manager) Name() string {
	return m.name
}

// NumVCs returns the number of virtual channels.
func (m *Manager) NumVCs() int {
	return m.cfg.NumVCs
}

// AvailableCapacity returns max_bytes - (bytes_in_queue + reserved_bytes)
// for the VC, floored at zero.
func (m *Manager) AvailableCapacity(vc uint8) int {
	s := m.vc(vc)

	available := m.cfg.MaxBytes - s.bytes - s.reserved
	if available < 0 {
		return 0
	}

	return available
}

// ReserveCapacity claims amount bytes (plus the additional header size) of
// the VC's budget. It succeeds only if the claim fits the available
// capacity.
func (m *Manager) ReserveCapacity(vc uint8, amount int) bool {
	s := m.vc(vc)

	claim := amount + m.cfg.AdditionalHeaderSize
	if claim > m.AvailableCapacity(vc) {
		return false
	}

	s.reserved += claim

	return true
}

// ReleaseCapacity returns a reservation that will not be consumed by an
// enqueue. Releasing more than is reserved indicates a caller bug and is
// logged; the reserved count floors at zero.
func (m *Manager) ReleaseCapacity(vc uint8, amount int) {
	s := m.vc(vc)

	claim := amount + m.cfg.AdditionalHeaderSize
	if claim > s.reserved {
		log.Printf("vcqueue %s: vc %d releasing %d bytes with only %d reserved",
			m.name, vc, claim, s.reserved)
		s.reserved = 0
		return
	}

	s.reserved -= claim
}

// Enqueue appends the packet to the VC's FIFO, consuming the matching
// reservation. A packet that would overflow the byte budget is dropped and
// counted.
func (m *Manager) Enqueue(p *packet.Packet, vc uint8) bool {
	if int(vc) >= m.cfg.NumVCs {
		m.countDrop(p, vc)
		return false
	}

	s := &m.vcs[vc]

	if s.bytes+p.Size() > m.cfg.MaxBytes {
		m.countDrop(p, vc)
		return false
	}

	s.fifo = append(s.fifo, p)
	s.bytes += p.Size()

	consumed := p.Size()
	if consumed > s.reserved {
		log.Printf("vcqueue %s: vc %d enqueued %d bytes with only %d reserved",
			m.name, vc, consumed, s.reserved)
		consumed = s.reserved
	}
	s.reserved -= consumed

	return true
}

// Dequeue removes and returns the head packet of the VC, or nil if the
// queue is empty.
func (m *Manager) Dequeue(vc uint8) *packet.Packet {
	s := m.vc(vc)

	if len(s.fifo) == 0 {
		return nil
	}

	p := s.fifo[0]
	s.fifo = s.fifo[1:]
	s.bytes -= p.Size()

	return p
}

// IsEmpty reports whether the VC's queue holds no packets.
func (m *Manager) IsEmpty(vc uint8) bool {
	return len(m.vc(vc).fifo) == 0
}

// QueueBytes returns the bytes currently enqueued on the VC.
func (m *Manager) QueueBytes(vc uint8) int {
	return m.vc(vc).bytes
}

// ReservedBytes returns the bytes currently reserved on the VC.
func (m *Manager) ReservedBytes(vc uint8) int {
	return m.vc(vc).reserved
}

// DropCount returns the number of packets dropped at enqueue on the VC.
// Drops on an out-of-range VC are charged to VC 0.
func (m *Manager) DropCount(vc uint8) uint64 {
	return m.vc(vc).drops
}

func (m *Manager) countDrop(p *packet.Packet, vc uint8) {
	chargedVC := vc
	if int(chargedVC) >= m.cfg.NumVCs {
		chargedVC = 0
	}

	m.vcs[chargedVC].drops++

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosPacketDrop,
		Item:   DropRecord{VC: vc, Bytes: p.Size()},
	})
}

func (m *Manager) vc(vc uint8) *vcState {
	if int(vc) >= m.cfg.NumVCs {
		log.Panicf("vcqueue %s: invalid vc %d (%d VCs configured)",
			m.name, vc, m.cfg.NumVCs)
	}

	return &m.vcs[vc]
}
