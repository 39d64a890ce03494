package vcqueue

import (
	"bytes"
	"log"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/suesim/sue/packet"
)

var _ = Describe("Manager", func() {
	var m *Manager

	BeforeEach(func() {
		m = NewManager("VCQ", Config{
			NumVCs:               4,
			MaxBytes:             1000,
			AdditionalHeaderSize: 46,
		})
	})

	It("should reserve within capacity and refuse beyond it", func() {
		Expect(m.AvailableCapacity(0)).To(Equal(1000))

		Expect(m.ReserveCapacity(0, 454)).To(BeTrue())
		Expect(m.AvailableCapacity(0)).To(Equal(500))

		Expect(m.ReserveCapacity(0, 455)).To(BeFalse())
		Expect(m.AvailableCapacity(0)).To(Equal(500))

		Expect(m.ReserveCapacity(0, 454)).To(BeTrue())
		Expect(m.AvailableCapacity(0)).To(Equal(0))
	})

	It("should release a reservation", func() {
		Expect(m.ReserveCapacity(1, 100)).To(BeTrue())
		m.ReleaseCapacity(1, 100)

		Expect(m.AvailableCapacity(1)).To(Equal(1000))
		Expect(m.ReservedBytes(1)).To(Equal(0))
	})

	It("should floor at zero on over-release", func() {
		Expect(m.ReserveCapacity(1, 10)).To(BeTrue())
		m.ReleaseCapacity(1, 500)

		Expect(m.ReservedBytes(1)).To(Equal(0))
	})

	It("should consume the reservation on enqueue", func() {
		Expect(m.ReserveCapacity(2, 100)).To(BeTrue())

		p := packet.New(120)
		Expect(m.Enqueue(p, 2)).To(BeTrue())

		Expect(m.QueueBytes(2)).To(Equal(120))
		Expect(m.ReservedBytes(2)).To(Equal(26))
		Expect(m.QueueBytes(2) + m.ReservedBytes(2)).
			To(BeNumerically("<=", 1000))
	})

	It("should warn when an enqueue exceeds the reserved pool", func() {
		var buf bytes.Buffer
		log.SetOutput(&buf)
		defer log.SetOutput(os.Stderr)

		Expect(m.ReserveCapacity(2, 10)).To(BeTrue())
		Expect(m.Enqueue(packet.New(200), 2)).To(BeTrue())

		Expect(m.ReservedBytes(2)).To(Equal(0))
		Expect(buf.String()).To(ContainSubstring("reserved"))
	})

	It("should dequeue in FIFO order", func() {
		first := packet.New(10)
		second := packet.New(20)

		Expect(m.Enqueue(first, 0)).To(BeTrue())
		Expect(m.Enqueue(second, 0)).To(BeTrue())
		Expect(m.IsEmpty(0)).To(BeFalse())

		Expect(m.Dequeue(0)).To(BeIdenticalTo(first))
		Expect(m.QueueBytes(0)).To(Equal(20))
		Expect(m.Dequeue(0)).To(BeIdenticalTo(second))
		Expect(m.IsEmpty(0)).To(BeTrue())
		Expect(m.Dequeue(0)).To(BeNil())
	})

	It("should drop when the byte budget would overflow", func() {
		Expect(m.Enqueue(packet.New(900), 3)).To(BeTrue())

		Expect(m.Enqueue(packet.New(200), 3)).To(BeFalse())
		Expect(m.DropCount(3)).To(Equal(uint64(1)))
		Expect(m.QueueBytes(3)).To(Equal(900))
	})

	It("should drop on an out-of-range packet VC", func() {
		Expect(m.Enqueue(packet.New(10), 9)).To(BeFalse())
		Expect(m.DropCount(0)).To(Equal(uint64(1)))
	})

	It("should keep VCs independent", func() {
		Expect(m.ReserveCapacity(0, 954)).To(BeTrue())

		Expect(m.AvailableCapacity(1)).To(Equal(1000))
		Expect(m.Enqueue(packet.New(500), 1)).To(BeTrue())
		Expect(m.QueueBytes(0)).To(Equal(0))
	})

	It("should panic on an invalid VC in direct operations", func() {
		Expect(func() { m.AvailableCapacity(4) }).To(Panic())
		Expect(func() { m.Dequeue(4) }).To(Panic())
	})
})
