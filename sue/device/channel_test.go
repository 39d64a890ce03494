package device

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

var _ = Describe("Channel", func() {
	var (
		engine *sim.SerialEngine
		a, b   *Device
		ch     *Channel
	)

	macA := packet.MustParseMac("00:00:00:00:00:01")
	macB := packet.MustParseMac("00:00:00:00:00:02")

	BeforeEach(func() {
		engine = sim.NewSerialEngine()

		resolver := mapResolver{"10.0.0.2": macB}
		cfg := DefaultConfig()

		a = MakeBuilder().
			WithEngine(engine).
			WithMac(macA).
			WithResolver(resolver).
			WithConfig(cfg).
			Build("NicA.Port")
		b = MakeBuilder().
			WithEngine(engine).
			WithMac(macB).
			WithResolver(resolver).
			WithConfig(cfg).
			Build("NicB.Port")

		ch = NewChannel("Wire", engine, engine, 5e-9)
		ch.Attach(a)
		ch.Attach(b)
	})

	It("should know the device on the other end", func() {
		Expect(ch.PeerOf(a)).To(BeIdenticalTo(b))
		Expect(ch.PeerOf(b)).To(BeIdenticalTo(a))
		Expect(a.RemoteMac()).To(Equal(macB))
	})

	It("should refuse a third device", func() {
		c := MakeBuilder().
			WithEngine(engine).
			WithMac(packet.MustParseMac("00:00:00:00:00:03")).
			WithResolver(mapResolver{}).
			WithConfig(DefaultConfig()).
			Build("NicD.Port")

		Expect(func() { ch.Attach(c) }).To(Panic())
	})

	It("should lose packets the filter selects", func() {
		ch.SetLossFilter(func(p *packet.Packet, from *Device) bool {
			return true
		})

		p := packet.New(64)
		p.AddFrame(packet.ProtocolIPv4)
		ch.TransmitStart(p, a, 1e-9)

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(BeNumerically("==", 0))
	})
})

var _ = Describe("Builder", func() {
	It("should reject a switch port without a forwarder", func() {
		cfg := DefaultConfig()
		cfg.Role = RoleSwitch

		Expect(func() {
			MakeBuilder().
				WithEngine(sim.NewSerialEngine()).
				WithMac(packet.MustParseMac("00:00:00:00:00:10")).
				WithConfig(cfg).
				Build("Switch.Port1")
		}).To(Panic())
	})

	It("should reject a NIC without a resolver", func() {
		Expect(func() {
			MakeBuilder().
				WithEngine(sim.NewSerialEngine()).
				WithMac(packet.MustParseMac("00:00:00:00:00:01")).
				Build("NicA.Port")
		}).To(Panic())
	})
})
