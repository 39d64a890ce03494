package topology

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

var _ = Describe("Builder", func() {
	It("should build and run a direct NIC pair", func() {
		s, err := ParseScenario([]byte(twoNicYaml))
		Expect(err).ToNot(HaveOccurred())

		engine := sim.NewSerialEngine()
		f, err := MakeBuilder().
			WithEngine(engine).
			WithScenario(s).
			Build()
		Expect(err).ToNot(HaveOccurred())

		Expect(f.Nics).To(HaveLen(2))
		Expect(f.Channels).To(HaveLen(1))
		Expect(f.Resolver.Len()).To(Equal(2))

		Expect(engine.Run()).To(Succeed())

		Expect(f.Workload.Sent()).To(Equal(uint64(8)))
		Expect(f.Workload.Delivered()).To(Equal(uint64(8)))
		Expect(f.Workload.DeliveredBytes()).To(Equal(uint64(8 * 256)))
		Expect(f.Workload.ReservationFailures()).To(BeZero())
	})

	It("should build and run a switched fabric with two flows", func() {
		s, err := ParseScenario([]byte(switchedYaml))
		Expect(err).ToNot(HaveOccurred())

		engine := sim.NewSerialEngine()
		f, err := MakeBuilder().
			WithEngine(engine).
			WithScenario(s).
			Build()
		Expect(err).ToNot(HaveOccurred())

		Expect(f.Ports).To(HaveLen(2))
		Expect(f.Switches).To(HaveLen(1))

		port1, ok := f.Device("Switch1.Port1")
		Expect(ok).To(BeTrue())
		Expect(port1.IsSwitchPeer(packet.MustParseMac("00:00:00:00:00:12"))).
			To(BeTrue())

		Expect(engine.Run()).To(Succeed())

		Expect(f.Workload.Sent()).To(Equal(uint64(8)))
		Expect(f.Workload.Delivered()).To(Equal(uint64(8)))
	})

	It("should seed richer credit pools toward switch ports", func() {
		s, err := ParseScenario([]byte(switchedYaml))
		Expect(err).ToNot(HaveOccurred())

		engine := sim.NewSerialEngine()
		f, err := MakeBuilder().
			WithEngine(engine).
			WithScenario(s).
			Build()
		Expect(err).ToNot(HaveOccurred())

		nicA := f.Nics["NicA"]
		port1 := f.Ports["Switch1.Port1"]
		port2Mac := packet.MustParseMac("00:00:00:00:00:12")

		Expect(nicA.Ledger().GetTxCredits(port1.LocalMac(), 0)).
			To(Equal(uint32(85)))
		Expect(port1.Ledger().GetTxCredits(nicA.LocalMac(), 0)).
			To(Equal(uint32(20)))
		Expect(port1.Ledger().GetTxCredits(port2Mac, 0)).
			To(Equal(uint32(85)))
	})
})
