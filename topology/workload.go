package topology

import (
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/device"
	"github.com/sarchlab/suesim/sue/packet"
)

// Workload drives the scenario's flows: each flow emits packets of a fixed
// size on its VC at a fixed interval, reserving VC queue capacity before
// every send.
type Workload struct {
	engine sim.Engine
	fabric *Fabric
	flows  []FlowSpec

	sent                uint64
	delivered           uint64
	deliveredBytes      uint64
	reservationFailures uint64
	sendFailures        uint64

	onDelivery func()
}

type flowSendEvent struct {
	*sim.EventBase

	flow      int
	remaining int
}

func newWorkload(engine sim.Engine, f *Fabric, flows []FlowSpec) *Workload {
	w := &Workload{
		engine: engine,
		fabric: f,
		flows:  flows,
	}

	for _, nic := range f.Nics {
		nic.SetDeliveryHandler(w.recordDelivery)
	}

	for i, flow := range flows {
		w.engine.Schedule(&flowSendEvent{
			EventBase: sim.NewEventBase(
				sim.VTimeInSec(flow.StartNs*1e-9), w),
			flow:      i,
			remaining: flow.Count,
		})
	}

	return w
}

// Sent returns the number of packets admitted to the fabric.
func (w *Workload) Sent() uint64 {
	return w.sent
}

// Delivered returns the number of payloads that reached their destination.
func (w *Workload) Delivered() uint64 {
	return w.delivered
}

// DeliveredBytes returns the payload bytes that reached their destination.
func (w *Workload) DeliveredBytes() uint64 {
	return w.deliveredBytes
}

// ReservationFailures returns how often a flow found no VC queue capacity.
func (w *Workload) ReservationFailures() uint64 {
	return w.reservationFailures
}

// SendFailures returns how often an admitted packet was refused by the
// device.
func (w *Workload) SendFailures() uint64 {
	return w.sendFailures
}

// TotalPlanned returns the number of packets the flows will emit in total.
func (w *Workload) TotalPlanned() uint64 {
	var total uint64
	for _, flow := range w.flows {
		total += uint64(flow.Count)
	}
	return total
}

// SetOnDelivery installs a callback invoked once per delivered payload, for
// progress reporting.
func (w *Workload) SetOnDelivery(fn func()) {
	w.onDelivery = fn
}

func (w *Workload) recordDelivery(
	d *device.Device,
	payload *packet.Packet,
	sue packet.SueHeader,
	src packet.Mac,
) {
	w.delivered++
	w.deliveredBytes += uint64(payload.Size())

	if w.onDelivery != nil {
		w.onDelivery()
	}
}

// Handle emits the next packet of a flow and schedules the one after.
func (w *Workload) Handle(e sim.Event) error {
	evt, ok := e.(*flowSendEvent)
	if !ok {
		log.Panicf("workload: unexpected event %T", e)
	}

	flow := w.flows[evt.flow]
	src := w.fabric.Nics[flow.Src]
	dstIP := w.fabric.ipOf[flow.Dst]

	if src.Queues().ReserveCapacity(flow.VC, flow.SizeBytes) {
		p := packet.New(flow.SizeBytes)
		p.AddSue(packet.SueHeader{VC: flow.VC})

		if src.Send(p, dstIP) {
			w.sent++
		} else {
			src.Queues().ReleaseCapacity(flow.VC, flow.SizeBytes)
			w.sendFailures++
		}
	} else {
		w.reservationFailures++
	}

	if evt.remaining > 1 {
		w.engine.Schedule(&flowSendEvent{
			EventBase: sim.NewEventBase(
				w.engine.CurrentTime()+
					sim.VTimeInSec(flow.IntervalNs*1e-9), w),
			flow:      evt.flow,
			remaining: evt.remaining - 1,
		})
	}

	return nil
}
