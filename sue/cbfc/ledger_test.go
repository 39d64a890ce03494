package cbfc

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

type sentControl struct {
	p        *packet.Packet
	dst      packet.Mac
	protocol uint16
}

type fakeLinkPort struct {
	mac  packet.Mac
	sent []sentControl
}

func (p *fakeLinkPort) LocalMac() packet.Mac {
	return p.mac
}

func (p *fakeLinkPort) SendControl(
	pkt *packet.Packet,
	dst packet.Mac,
	protocol uint16,
) {
	p.sent = append(p.sent, sentControl{pkt, dst, protocol})
}

var _ = Describe("Ledger", func() {
	var (
		scheduler *fakeScheduler
		timer     *fakeTimeTeller
		port      *fakeLinkPort
		ledger    *Ledger

		peer = packet.MustParseMac("00:00:00:00:00:02")
	)

	BeforeEach(func() {
		scheduler = &fakeScheduler{}
		timer = &fakeTimeTeller{now: 1e-6}
		port = &fakeLinkPort{mac: packet.MustParseMac("00:00:00:00:00:01")}

		ledger = NewLedger("Ledger", timer, scheduler, port, Config{
			Enabled:       true,
			NumVCs:        4,
			BatchSize:     5,
			GenerateDelay: 10e-9,
		})
		ledger.AddPeer(peer, 20)
	})

	It("should read and decrement credits", func() {
		Expect(ledger.GetTxCredits(peer, 1)).To(Equal(uint32(20)))

		Expect(ledger.DecrementTxCredits(peer, 1)).To(Succeed())
		Expect(ledger.GetTxCredits(peer, 1)).To(Equal(uint32(19)))
	})

	It("should never go below zero", func() {
		for i := 0; i < 20; i++ {
			Expect(ledger.DecrementTxCredits(peer, 0)).To(Succeed())
		}

		Expect(ledger.GetTxCredits(peer, 0)).To(Equal(uint32(0)))
		Expect(ledger.DecrementTxCredits(peer, 0)).
			To(MatchError(ErrInsufficientCredit))
		Expect(ledger.GetTxCredits(peer, 0)).To(Equal(uint32(0)))
	})

	It("should report zero credits for an unknown peer", func() {
		stranger := packet.MustParseMac("00:00:00:00:00:99")
		Expect(ledger.GetTxCredits(stranger, 0)).To(Equal(uint32(0)))
	})

	It("should apply inbound credit updates to the source entry", func() {
		ledger.HandleCreditReturn(
			packet.EthHeader{Src: peer},
			packet.CreditHeader{VC: 2, Credits: 5},
		)

		Expect(ledger.GetTxCredits(peer, 2)).To(Equal(uint32(25)))
	})

	It("should accumulate the to-return pool below the batch size", func() {
		for i := 0; i < 4; i++ {
			ledger.CreditReturn(peer, 1)
		}

		Expect(ledger.CreditsToReturn(peer, 1)).To(Equal(uint32(4)))
		Expect(scheduler.events).To(BeEmpty())
	})

	It("should emit one credit update at the batch size and reset", func() {
		for i := 0; i < 5; i++ {
			ledger.CreditReturn(peer, 1)
		}

		Expect(ledger.CreditsToReturn(peer, 1)).To(Equal(uint32(0)))
		Expect(scheduler.events).To(HaveLen(1))
		Expect(scheduler.events[0].Time()).To(
			BeNumerically("~", 1e-6+10e-9, 1e-15))

		Expect(ledger.Handle(scheduler.events[0])).To(Succeed())

		Expect(port.sent).To(HaveLen(1))
		Expect(port.sent[0].dst).To(Equal(peer))
		Expect(port.sent[0].protocol).To(Equal(packet.ProtocolCreditUpdate))

		proto, err := port.sent[0].p.RemoveFrame()
		Expect(err).ToNot(HaveOccurred())
		Expect(proto).To(Equal(packet.ProtocolCreditUpdate))

		ch, err := port.sent[0].p.RemoveCredit()
		Expect(err).ToNot(HaveOccurred())
		Expect(ch.VC).To(Equal(uint8(1)))
		Expect(ch.Credits).To(Equal(uint8(5)))

		h, err := port.sent[0].p.RemoveEth()
		Expect(err).ToNot(HaveOccurred())
		Expect(h.Dst).To(Equal(peer))
		Expect(h.Src).To(Equal(port.mac))
	})

	It("should keep pools independent per peer and VC", func() {
		other := packet.MustParseMac("00:00:00:00:00:04")
		ledger.AddPeer(other, 85)

		ledger.CreditReturn(peer, 0)
		ledger.CreditReturn(other, 0)
		ledger.CreditReturn(other, 3)

		Expect(ledger.CreditsToReturn(peer, 0)).To(Equal(uint32(1)))
		Expect(ledger.CreditsToReturn(other, 0)).To(Equal(uint32(1)))
		Expect(ledger.CreditsToReturn(other, 3)).To(Equal(uint32(1)))
	})

	It("should panic on an invalid VC", func() {
		Expect(func() { ledger.GetTxCredits(peer, 4) }).To(Panic())
	})

	Context("when disabled", func() {
		BeforeEach(func() {
			ledger = NewLedger("Disabled", timer, scheduler, nil, Config{
				Enabled: false,
				NumVCs:  4,
			})
		})

		It("should report infinite credit and make mutations no-ops", func() {
			Expect(ledger.GetTxCredits(peer, 0)).To(Equal(^uint32(0)))
			Expect(ledger.DecrementTxCredits(peer, 0)).To(Succeed())

			ledger.CreditReturn(peer, 0)
			Expect(scheduler.events).To(BeEmpty())
		})
	})
})
