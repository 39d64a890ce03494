package datarecording

import (
	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/cbfc"
	"github.com/sarchlab/suesim/sue/device"
	"github.com/sarchlab/suesim/sue/llr"
	"github.com/sarchlab/suesim/sue/vcqueue"
)

// DeliveryEntry is one payload handed to the host side.
type DeliveryEntry struct {
	TimeNs  uint64
	Device  string
	Src     string
	VC      uint8
	Bytes   int
	DelayNs uint64
}

// VcDropEntry is one packet refused by a VC queue.
type VcDropEntry struct {
	TimeNs uint64
	Device string
	VC     uint8
	Bytes  int
}

// CreditUpdateEntry is one batched credit-update packet put on the wire.
type CreditUpdateEntry struct {
	TimeNs  uint64
	Device  string
	Peer    string
	VC      uint8
	Credits uint32
}

// RetransmitEntry is one packet sent again by link-level retry.
type RetransmitEntry struct {
	TimeNs uint64
	Device string
	Peer   string
	VC     uint8
	Seq    uint32
}

// Telemetry taps device hooks and records what they report: deliveries with
// end-to-end delay, VC queue drops, credit-update emissions, and
// retransmissions.
type Telemetry struct {
	timeTeller sim.TimeTeller
	recorder   DataRecorder
}

// NewTelemetry creates the telemetry tables on the recorder.
func NewTelemetry(
	timeTeller sim.TimeTeller,
	recorder DataRecorder,
) *Telemetry {
	t := &Telemetry{
		timeTeller: timeTeller,
		recorder:   recorder,
	}

	recorder.CreateTable("packet_deliveries", DeliveryEntry{})
	recorder.CreateTable("vc_queue_drops", VcDropEntry{})
	recorder.CreateTable("credit_updates", CreditUpdateEntry{})
	recorder.CreateTable("llr_retransmissions", RetransmitEntry{})

	return t
}

type hookFunc func(ctx sim.HookCtx)

func (f hookFunc) Func(ctx sim.HookCtx) {
	f(ctx)
}

// Attach taps one device and its queue, credit, and retry state.
func (t *Telemetry) Attach(d *device.Device) {
	name := d.Name()

	d.AcceptHook(hookFunc(func(ctx sim.HookCtx) {
		if ctx.Pos != device.HookPosPacketDelivered {
			return
		}
		r := ctx.Item.(device.DeliveryRecord)
		t.recorder.InsertData("packet_deliveries", DeliveryEntry{
			TimeNs:  t.nowNs(),
			Device:  name,
			Src:     r.Src.String(),
			VC:      r.VC,
			Bytes:   r.Bytes,
			DelayNs: r.LatencyNs,
		})
	}))

	d.Queues().AcceptHook(hookFunc(func(ctx sim.HookCtx) {
		if ctx.Pos != vcqueue.HookPosPacketDrop {
			return
		}
		r := ctx.Item.(vcqueue.DropRecord)
		t.recorder.InsertData("vc_queue_drops", VcDropEntry{
			TimeNs: t.nowNs(),
			Device: name,
			VC:     r.VC,
			Bytes:  r.Bytes,
		})
	}))

	d.Ledger().AcceptHook(hookFunc(func(ctx sim.HookCtx) {
		if ctx.Pos != cbfc.HookPosCreditUpdateSent {
			return
		}
		r := ctx.Item.(cbfc.EmitRecord)
		t.recorder.InsertData("credit_updates", CreditUpdateEntry{
			TimeNs:  t.nowNs(),
			Device:  name,
			Peer:    r.Peer.String(),
			VC:      r.VC,
			Credits: r.Credits,
		})
	}))

	retransmit := hookFunc(func(ctx sim.HookCtx) {
		if ctx.Pos != llr.HookPosRetransmit {
			return
		}
		r := ctx.Item.(llr.RetransmitRecord)
		t.recorder.InsertData("llr_retransmissions", RetransmitEntry{
			TimeNs: t.nowNs(),
			Device: name,
			Peer:   r.Peer.String(),
			VC:     r.VC,
			Seq:    r.Seq,
		})
	})

	if retry := d.NodeRetry(); retry != nil {
		retry.AcceptHook(retransmit)
	}
	if retry := d.SwitchRetry(); retry != nil {
		retry.AcceptHook(retransmit)
	}
}

func (t *Telemetry) nowNs() uint64 {
	return t.timeTeller.CurrentTime().Nanoseconds()
}
