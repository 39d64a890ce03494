package llr

import (
	"github.com/sarchlab/suesim/sue/packet"
)

// sendWindow retains copies of transmitted packets until they are
// acknowledged, keyed by sequence number.
type sendWindow struct {
	pkts map[uint32]*packet.Packet
}

func newSendWindow() sendWindow {
	return sendWindow{pkts: make(map[uint32]*packet.Packet)}
}

func (w *sendWindow) put(seq uint32, p *packet.Packet) {
	w.pkts[seq] = p
}

func (w *sendWindow) get(seq uint32) (*packet.Packet, bool) {
	p, ok := w.pkts[seq]
	return p, ok
}

func (w *sendWindow) len() int {
	return len(w.pkts)
}

// purgeThrough removes every entry at or before seq.
func (w *sendWindow) purgeThrough(seq uint32) {
	for s := range w.pkts {
		if !seqBefore(seq, s) {
			delete(w.pkts, s)
		}
	}
}

// purgeBefore removes every entry strictly before seq.
func (w *sendWindow) purgeBefore(seq uint32) {
	for s := range w.pkts {
		if seqBefore(s, seq) {
			delete(w.pkts, s)
		}
	}
}

// smallest returns the lowest retained sequence number.
func (w *sendWindow) smallest() (uint32, bool) {
	if len(w.pkts) == 0 {
		return 0, false
	}

	first := true
	var min uint32
	for s := range w.pkts {
		if first || seqBefore(s, min) {
			min = s
			first = false
		}
	}

	return min, true
}
