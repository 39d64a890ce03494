package llr

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

type sentPacket struct {
	p        *packet.Packet
	dst      packet.Mac
	protocol uint16
}

type fakeLink struct {
	local, remote packet.Mac
	sent          []sentPacket
	tryCount      int
}

func (l *fakeLink) LocalMac() packet.Mac {
	return l.local
}

func (l *fakeLink) RemoteMac() packet.Mac {
	return l.remote
}

func (l *fakeLink) SendPacket(
	p *packet.Packet,
	dst packet.Mac,
	protocol uint16,
) {
	l.sent = append(l.sent, sentPacket{p, dst, protocol})
}

func (l *fakeLink) TryTransmit() {
	l.tryCount++
}

// dataPacket builds an unframed data packet the way a device admits one:
// payload, SUE header, Ethernet-style envelope.
func dataPacket(src, dst packet.Mac, vc uint8) *packet.Packet {
	p := packet.New(64)
	p.AddSue(packet.SueHeader{VC: vc})
	p.AddEth(packet.EthHeader{
		Dst:       dst,
		Src:       src,
		EtherType: packet.EtherTypeIPv4,
	})

	return p
}

// peerControl builds an ACK or NACK as it reaches a manager: the device has
// already consumed the frame tag, so the credit header is outermost.
func peerControl(local, peer packet.Mac, vc uint8, seq uint32) *packet.Packet {
	p := packet.New(0)
	p.AddEth(packet.EthHeader{
		Dst:       local,
		Src:       peer,
		EtherType: packet.EtherTypeIPv4,
	})
	p.AddCredit(packet.CreditHeader{VC: vc})
	p.AddTag(packet.SequenceTag{Seq: seq})

	return p
}

func timersIn(events []sim.Event) []*resendEvent {
	var timers []*resendEvent
	for _, e := range events {
		if t, ok := e.(*resendEvent); ok {
			timers = append(timers, t)
		}
	}

	return timers
}

func controlsIn(events []sim.Event, protocol uint16) []*controlEvent {
	var controls []*controlEvent
	for _, e := range events {
		if c, ok := e.(*controlEvent); ok && c.protocol == protocol {
			controls = append(controls, c)
		}
	}

	return controls
}

func mustTag(p *packet.Packet) packet.SequenceTag {
	tag, ok := p.Tag()
	ExpectWithOffset(1, ok).To(BeTrue())

	return tag
}

var _ = Describe("NodeManager", func() {
	var (
		ctrl       *gomock.Controller
		timeTeller *MockTimeTeller
		scheduler  *MockEventScheduler
		scheduled  []sim.Event
		link       *fakeLink
		m          *NodeManager
		now        sim.VTimeInSec
	)

	local := packet.MustParseMac("00:00:00:00:00:01")
	remote := packet.MustParseMac("00:00:00:00:00:02")

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		now = 100e-9

		timeTeller = NewMockTimeTeller(ctrl)
		timeTeller.EXPECT().CurrentTime().
			DoAndReturn(func() sim.VTimeInSec { return now }).
			AnyTimes()

		scheduled = nil
		scheduler = NewMockEventScheduler(ctrl)
		scheduler.EXPECT().Schedule(gomock.Any()).
			Do(func(e sim.Event) { scheduled = append(scheduled, e) }).
			AnyTimes()

		link = &fakeLink{local: local, remote: remote}

		m = NewNodeManager("LLR", timeTeller, scheduler, link, Config{
			Enabled:        true,
			NumVCs:         4,
			WindowSize:     10,
			Timeout:        10000e-9,
			AckHeaderDelay: 10e-9,
		})
	})

	AfterEach(func() {
		ctrl.Finish()
	})

	It("should frame and tag at admission and retain copies", func() {
		first := dataPacket(local, remote, 1)
		second := dataPacket(local, remote, 1)

		Expect(m.Send(first, 1)).To(Equal(uint32(0)))
		Expect(m.Send(second, 1)).To(Equal(uint32(1)))

		protocol, err := first.PeekFrame()
		Expect(err).ToNot(HaveOccurred())
		Expect(protocol).To(Equal(packet.ProtocolIPv4))

		tag := mustTag(second)
		Expect(tag.Seq).To(Equal(uint32(1)))
		Expect(tag.Link).To(Equal(packet.LinkNIC))
		Expect(tag.TimestampNs).To(Equal(now.Nanoseconds()))

		Expect(m.OutstandingCount(1)).To(Equal(2))
		Expect(link.sent).To(BeEmpty())
	})

	It("should arm a single retransmission timer across sends", func() {
		m.Send(dataPacket(local, remote, 0), 0)
		m.Send(dataPacket(local, remote, 0), 0)

		timers := timersIn(scheduled)
		Expect(timers).To(HaveLen(1))
		Expect(timers[0].Time()).To(
			BeNumerically("~", float64(now)+10000e-9, 1e-15))
	})

	It("should purge cumulatively on ACK and ignore stale ACKs", func() {
		for i := 0; i < 4; i++ {
			m.Send(dataPacket(local, remote, 0), 0)
		}

		Expect(m.ProcessAck(peerControl(local, remote, 0, 2))).To(Succeed())
		Expect(m.OutstandingCount(0)).To(Equal(1))
		Expect(link.tryCount).To(Equal(1))

		Expect(m.ProcessAck(peerControl(local, remote, 0, 1))).To(Succeed())
		Expect(m.OutstandingCount(0)).To(Equal(1))

		Expect(m.ProcessAck(peerControl(local, remote, 0, 3))).To(Succeed())
		Expect(m.OutstandingCount(0)).To(Equal(0))
	})

	It("should re-arm the timer on a partial ACK and disarm on a full one",
		func() {
			m.Send(dataPacket(local, remote, 0), 0)
			m.Send(dataPacket(local, remote, 0), 0)

			Expect(m.ProcessAck(peerControl(local, remote, 0, 0))).To(Succeed())

			timers := timersIn(scheduled)
			Expect(timers).To(HaveLen(2))
			Expect(timers[0].IsCancelled()).To(BeTrue())
			Expect(timers[1].IsCancelled()).To(BeFalse())

			Expect(m.ProcessAck(peerControl(local, remote, 0, 1))).To(Succeed())

			timers = timersIn(scheduled)
			Expect(timers).To(HaveLen(2))
			Expect(timers[1].IsCancelled()).To(BeTrue())
		})

	It("should resend from the NACKed sequence number to the end", func() {
		for i := 0; i < 5; i++ {
			m.Send(dataPacket(local, remote, 0), 0)
		}
		now = 500e-9

		Expect(m.ProcessNack(peerControl(local, remote, 0, 2))).To(Succeed())
		Expect(m.IsResending(0)).To(BeTrue())
		Expect(m.OutstandingCount(0)).To(Equal(3))
		Expect(link.tryCount).To(Equal(1))

		for _, want := range []uint32{2, 3, 4} {
			c := m.ResendPacket(0)
			Expect(c).ToNot(BeNil())

			tag := mustTag(c)
			Expect(tag.Seq).To(Equal(want))
			Expect(tag.TimestampNs).To(Equal(now.Nanoseconds()))
		}

		Expect(m.ResendPacket(0)).To(BeNil())
		Expect(m.IsResending(0)).To(BeFalse())
		Expect(link.sent).To(HaveLen(3))
	})

	It("should ignore stale NACKs and NACKs for purged sequence numbers",
		func() {
			for i := 0; i < 4; i++ {
				m.Send(dataPacket(local, remote, 0), 0)
			}
			Expect(m.ProcessAck(peerControl(local, remote, 0, 1))).To(Succeed())

			tries := link.tryCount
			armed := len(timersIn(scheduled))

			Expect(m.ProcessNack(peerControl(local, remote, 0, 0))).To(Succeed())
			Expect(m.IsResending(0)).To(BeFalse())
			Expect(m.OutstandingCount(0)).To(Equal(2))

			Expect(m.ProcessNack(peerControl(local, remote, 0, 4))).To(Succeed())
			Expect(m.IsResending(0)).To(BeFalse())
			Expect(m.OutstandingCount(0)).To(Equal(2))
			Expect(link.tryCount).To(Equal(tries))

			timers := timersIn(scheduled)
			Expect(timers).To(HaveLen(armed))
			Expect(timers[armed-1].IsCancelled()).To(BeFalse())
		})

	It("should restart from the smallest outstanding packet on timeout",
		func() {
			for i := 0; i < 3; i++ {
				m.Send(dataPacket(local, remote, 2), 2)
			}
			Expect(m.ProcessAck(peerControl(local, remote, 2, 0))).To(Succeed())

			timers := timersIn(scheduled)
			timer := timers[len(timers)-1]
			Expect(timer.IsCancelled()).To(BeFalse())

			Expect(m.Handle(timer)).To(Succeed())
			Expect(m.IsResending(2)).To(BeTrue())

			Expect(mustTag(m.ResendPacket(2)).Seq).To(Equal(uint32(1)))
			Expect(mustTag(m.ResendPacket(2)).Seq).To(Equal(uint32(2)))
			Expect(m.ResendPacket(2)).To(BeNil())
		})

	It("should ACK an in-order arrival after the header delay", func() {
		Expect(m.Receive(0, 0)).To(BeTrue())

		acks := controlsIn(scheduled, packet.ProtocolAck)
		Expect(acks).To(HaveLen(1))
		Expect(acks[0].Time()).To(BeNumerically("~", float64(now)+10e-9, 1e-15))

		Expect(m.Handle(acks[0])).To(Succeed())
		Expect(link.sent).To(HaveLen(1))
		Expect(link.sent[0].protocol).To(Equal(packet.ProtocolAck))

		p := link.sent[0].p
		Expect(mustTag(p).Seq).To(Equal(uint32(0)))

		protocol, err := p.RemoveFrame()
		Expect(err).ToNot(HaveOccurred())
		Expect(protocol).To(Equal(packet.ProtocolAck))

		ch, err := p.RemoveCredit()
		Expect(err).ToNot(HaveOccurred())
		Expect(ch.VC).To(Equal(uint8(0)))
		Expect(ch.Credits).To(Equal(uint8(0)))

		eh, err := p.RemoveEth()
		Expect(err).ToNot(HaveOccurred())
		Expect(eh.Dst).To(Equal(remote))
		Expect(eh.Src).To(Equal(local))
	})

	It("should NACK a gap once and stay silent until it closes", func() {
		Expect(m.Receive(1, 0)).To(BeTrue())

		Expect(m.Receive(1, 2)).To(BeFalse())
		nacks := controlsIn(scheduled, packet.ProtocolNack)
		Expect(nacks).To(HaveLen(1))
		Expect(mustTag(nacks[0].p).Seq).To(Equal(uint32(1)))

		Expect(m.Receive(1, 3)).To(BeFalse())
		Expect(controlsIn(scheduled, packet.ProtocolNack)).To(HaveLen(1))

		Expect(m.Receive(1, 1)).To(BeTrue())
		Expect(m.Receive(1, 2)).To(BeTrue())

		Expect(m.Receive(1, 4)).To(BeFalse())
		nacks = controlsIn(scheduled, packet.ProtocolNack)
		Expect(nacks).To(HaveLen(2))
		Expect(mustTag(nacks[1].p).Seq).To(Equal(uint32(3)))
	})

	It("should re-ACK a duplicate without delivering it", func() {
		Expect(m.Receive(2, 0)).To(BeTrue())
		Expect(m.Receive(2, 0)).To(BeFalse())

		acks := controlsIn(scheduled, packet.ProtocolAck)
		Expect(acks).To(HaveLen(2))
		Expect(mustTag(acks[1].p).Seq).To(Equal(uint32(0)))
	})

	It("should reject a malformed control packet", func() {
		Expect(m.ProcessAck(packet.New(0))).ToNot(Succeed())
		Expect(m.ProcessNack(packet.New(1))).ToNot(Succeed())
	})

	It("should report window space against the advisory bound", func() {
		for i := 0; i < 10; i++ {
			Expect(m.HasWindowSpace(3)).To(BeTrue())
			m.Send(dataPacket(local, remote, 3), 3)
		}

		Expect(m.HasWindowSpace(3)).To(BeFalse())

		Expect(m.ProcessAck(peerControl(local, remote, 3, 0))).To(Succeed())
		Expect(m.HasWindowSpace(3)).To(BeTrue())
	})

	Context("when disabled", func() {
		BeforeEach(func() {
			m = NewNodeManager("Passthrough", timeTeller, scheduler, link,
				Config{Enabled: false, NumVCs: 4})
		})

		It("should frame without tracking", func() {
			p := dataPacket(local, remote, 0)
			Expect(m.Send(p, 0)).To(Equal(uint32(0)))

			protocol, err := p.PeekFrame()
			Expect(err).ToNot(HaveOccurred())
			Expect(protocol).To(Equal(packet.ProtocolIPv4))
			Expect(mustTag(p).Seq).To(Equal(uint32(0)))

			Expect(m.OutstandingCount(0)).To(Equal(0))
			Expect(scheduled).To(BeEmpty())

			Expect(m.Receive(0, 7)).To(BeTrue())
		})
	})
})
