package switching

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

type fakeScheduler struct {
	events []sim.Event
}

func (s *fakeScheduler) Schedule(e sim.Event) {
	s.events = append(s.events, e)
}

type fakeTimeTeller struct {
	now sim.VTimeInSec
}

func (t *fakeTimeTeller) CurrentTime() sim.VTimeInSec {
	return t.now
}

type creditReturnCall struct {
	peer packet.Mac
	vc   uint8
}

type fakePort struct {
	mac   packet.Mac
	index int

	llrEnabled  bool
	cbfcEnabled bool
	resending   bool
	credits     uint32

	llrSent       []*packet.Packet
	resendPulls   int
	decrements    int
	creditReturns []creditReturnCall
	enqueued      []*packet.Packet
}

func (p *fakePort) LocalMac() packet.Mac { return p.mac }
func (p *fakePort) PortIndex() int       { return p.index }
func (p *fakePort) LlrEnabled() bool     { return p.llrEnabled }
func (p *fakePort) CbfcEnabled() bool    { return p.cbfcEnabled }

func (p *fakePort) IsLlrResending(peer packet.Mac, vc uint8) bool {
	return p.resending
}

func (p *fakePort) LlrResendPacket(peer packet.Mac, vc uint8) {
	p.resendPulls++
}

func (p *fakePort) LlrSendPacket(
	pkt *packet.Packet,
	peer packet.Mac,
	vc uint8,
) uint32 {
	p.llrSent = append(p.llrSent, pkt)
	return uint32(len(p.llrSent) - 1)
}

func (p *fakePort) GetTxCredits(peer packet.Mac, vc uint8) uint32 {
	return p.credits
}

func (p *fakePort) DecrementTxCredits(peer packet.Mac, vc uint8) error {
	p.decrements++
	p.credits--
	return nil
}

func (p *fakePort) CreditReturn(peer packet.Mac, vc uint8) {
	p.creditReturns = append(p.creditReturns, creditReturnCall{peer, vc})
}

func (p *fakePort) EnqueueToVcQueue(pkt *packet.Packet) bool {
	p.enqueued = append(p.enqueued, pkt)
	return true
}

var _ = Describe("Switch", func() {
	var (
		scheduler *fakeScheduler
		timer     *fakeTimeTeller
		table     *Table
		sw        *Switch

		ingress *fakePort
		egress  *fakePort
	)

	srcNic := packet.MustParseMac("00:00:00:00:00:01")
	dstNic := packet.MustParseMac("00:00:00:00:00:03")
	ingressMac := packet.MustParseMac("00:00:00:00:00:10")
	egressMac := packet.MustParseMac("00:00:00:00:00:12")

	forwarded := func() *packet.Packet {
		p := packet.New(64)
		p.AddSue(packet.SueHeader{VC: 1})
		p.AddEth(packet.EthHeader{
			Dst:       dstNic,
			Src:       srcNic,
			EtherType: packet.EtherTypeIPv4,
		})
		return p
	}

	BeforeEach(func() {
		scheduler = &fakeScheduler{}
		timer = &fakeTimeTeller{now: 1e-6}

		table = NewTable()
		table.Set(dstNic, 2)

		sw = NewSwitch("Switch", timer, scheduler, table, 150e-9)

		ingress = &fakePort{
			mac: ingressMac, index: 1,
			llrEnabled: true, cbfcEnabled: true, credits: 20,
		}
		egress = &fakePort{
			mac: egressMac, index: 2,
			llrEnabled: true, cbfcEnabled: true, credits: 20,
		}
		sw.AttachPort(ingress)
		sw.AttachPort(egress)
	})

	It("should panic on a missing forwarding entry", func() {
		p := packet.New(8)
		p.AddEth(packet.EthHeader{
			Dst: packet.MustParseMac("00:00:00:00:00:99"),
			Src: srcNic,
		})
		h, _ := p.PeekEth()

		Expect(func() {
			sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		}).To(Panic())
	})

	It("should forward through the internal hop", func() {
		p := forwarded()
		h, _ := p.PeekEth()

		ok := sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		Expect(ok).To(BeTrue())

		rewritten, err := p.PeekEth()
		Expect(err).ToNot(HaveOccurred())
		Expect(rewritten.Src).To(Equal(ingressMac))
		Expect(rewritten.Dst).To(Equal(dstNic))

		Expect(ingress.llrSent).To(HaveLen(1))
		Expect(ingress.decrements).To(Equal(1))

		Expect(scheduler.events).To(HaveLen(2))
		for _, e := range scheduler.events {
			Expect(e.Time()).To(BeNumerically("~", 1e-6+150e-9, 1e-15))
		}

		for _, e := range scheduler.events {
			Expect(sw.Handle(e)).To(Succeed())
		}

		Expect(egress.enqueued).To(HaveLen(1))
		Expect(egress.enqueued[0]).To(BeIdenticalTo(p))

		Expect(ingress.creditReturns).To(HaveLen(1))
		Expect(ingress.creditReturns[0].peer).To(Equal(srcNic))
		Expect(ingress.creditReturns[0].vc).To(Equal(uint8(1)))
	})

	It("should refuse to forward without credits", func() {
		ingress.credits = 0

		p := forwarded()
		h, _ := p.PeekEth()

		ok := sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		Expect(ok).To(BeFalse())

		Expect(ingress.llrSent).To(BeEmpty())
		Expect(scheduler.events).To(BeEmpty())
	})

	It("should feed an active resend pass instead of forwarding", func() {
		ingress.resending = true

		p := forwarded()
		h, _ := p.PeekEth()

		ok := sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		Expect(ok).To(BeTrue())

		Expect(ingress.llrSent).To(HaveLen(1))
		Expect(ingress.resendPulls).To(Equal(1))
		Expect(ingress.decrements).To(Equal(0))
		Expect(scheduler.events).To(BeEmpty())
	})

	It("should treat a same-port destination as a fresh local send", func() {
		table.Set(dstNic, 1)

		p := forwarded()
		h, _ := p.PeekEth()

		ok := sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		Expect(ok).To(BeTrue())

		Expect(ingress.enqueued).To(HaveLen(1))
		Expect(ingress.llrSent).To(BeEmpty())
		Expect(ingress.decrements).To(Equal(0))

		eh, _ := p.PeekEth()
		Expect(eh.Src).To(Equal(srcNic))
	})

	It("should return the upstream credit on a same-port destination", func() {
		table.Set(dstNic, 1)

		p := forwarded()
		h, _ := p.PeekEth()

		ok := sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		Expect(ok).To(BeTrue())

		Expect(scheduler.events).To(HaveLen(1))
		Expect(scheduler.events[0].Time()).To(
			BeNumerically("~", 1e-6+150e-9, 1e-15))

		Expect(sw.Handle(scheduler.events[0])).To(Succeed())
		Expect(ingress.creditReturns).To(HaveLen(1))
		Expect(ingress.creditReturns[0].peer).To(Equal(srcNic))
		Expect(ingress.creditReturns[0].vc).To(Equal(uint8(1)))
	})

	It("should skip the credit decrement when CBFC is off", func() {
		ingress.cbfcEnabled = false

		p := forwarded()
		h, _ := p.PeekEth()

		ok := sw.ProcessSwitchForwarding(p, h, ingress, packet.ProtocolIPv4, 1)
		Expect(ok).To(BeTrue())

		Expect(ingress.decrements).To(Equal(0))
		Expect(scheduler.events).To(HaveLen(2))
	})
})
