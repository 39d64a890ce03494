package device

import (
	"log"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/packet"
)

// HookPosChannelDrop marks a packet dropped on the wire by the loss filter.
var HookPosChannelDrop = &sim.HookPos{Name: "ChannelPacketDrop"}

type deliverEvent struct {
	*sim.EventBase

	to *Device
	p  *packet.Packet
}

// A Channel is the full-duplex wire between exactly two devices. A packet
// handed to the channel arrives at the other end after the serialization
// time plus the propagation delay.
type Channel struct {
	sim.HookableBase

	name       string
	timeTeller sim.TimeTeller
	scheduler  sim.EventScheduler
	delay      sim.VTimeInSec

	ends [2]*Device

	// filter, when set, decides per packet whether the wire loses it.
	filter func(p *packet.Packet, from *Device) bool
}

// NewChannel creates a wire with the given propagation delay.
func NewChannel(
	name string,
	timeTeller sim.TimeTeller,
	scheduler sim.EventScheduler,
	delay sim.VTimeInSec,
) *Channel {
	sim.NameMustBeValid(name)

	return &Channel{
		name:       name,
		timeTeller: timeTeller,
		scheduler:  scheduler,
		delay:      delay,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Attach connects a device to a free end of the channel.
func (c *Channel) Attach(d *Device) {
	switch {
	case c.ends[0] == nil:
		c.ends[0] = d
	case c.ends[1] == nil:
		c.ends[1] = d
	default:
		log.Panicf("channel %s: both ends already attached", c.name)
	}

	d.channel = c
}

// PeerOf returns the device on the other end of the channel.
func (c *Channel) PeerOf(d *Device) *Device {
	switch d {
	case c.ends[0]:
		return c.ends[1]
	case c.ends[1]:
		return c.ends[0]
	default:
		log.Panicf("channel %s: device %s is not attached", c.name, d.Name())
		return nil
	}
}

// SetLossFilter installs a fault-injection hook. A true return drops the
// packet on the wire.
func (c *Channel) SetLossFilter(f func(p *packet.Packet, from *Device) bool) {
	c.filter = f
}

// TransmitStart accepts a packet from one end. The sender keeps its line
// busy for txTime; the receiver sees the packet txTime plus the propagation
// delay later.
func (c *Channel) TransmitStart(
	p *packet.Packet,
	from *Device,
	txTime sim.VTimeInSec,
) {
	to := c.PeerOf(from)
	if to == nil {
		log.Panicf("channel %s: peer of %s not attached", c.name, from.Name())
	}

	if c.filter != nil && c.filter(p, from) {
		if c.NumHooks() > 0 {
			c.InvokeHook(sim.HookCtx{
				Domain: c,
				Pos:    HookPosChannelDrop,
				Item:   p,
			})
		}
		return
	}

	at := c.timeTeller.CurrentTime() + txTime + c.delay
	c.scheduler.Schedule(&deliverEvent{
		EventBase: sim.NewEventBase(at, c),
		to:        to,
		p:         p,
	})
}

// Handle delivers packets that finished crossing the wire.
func (c *Channel) Handle(e sim.Event) error {
	evt, ok := e.(*deliverEvent)
	if !ok {
		log.Panicf("channel %s: unexpected event %T", c.name, e)
	}

	evt.to.Receive(evt.p)

	return nil
}
