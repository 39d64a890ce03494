package switching

import (
	"log"

	"github.com/sarchlab/suesim/sue/packet"
)

// Table maps destination MACs to switch port indexes.
type Table struct {
	entries map[packet.Mac]int
}

// NewTable creates an empty forwarding table.
func NewTable() *Table {
	return &Table{entries: make(map[packet.Mac]int)}
}

// Set binds a destination MAC to an output port index.
func (t *Table) Set(dst packet.Mac, port int) {
	t.entries[dst] = port
}

// FindPort returns the output port index for the destination.
func (t *Table) FindPort(dst packet.Mac) (int, bool) {
	port, ok := t.entries[dst]
	return port, ok
}

// MustFindPort returns the output port index for the destination. A missing
// entry is a topology configuration bug and panics.
func (t *Table) MustFindPort(dst packet.Mac) int {
	port, ok := t.entries[dst]
	if !ok {
		log.Panicf("switching: no forwarding entry for %s", dst)
	}

	return port
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}
