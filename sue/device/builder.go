package device

import (
	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/sue/cbfc"
	"github.com/sarchlab/suesim/sue/llr"
	"github.com/sarchlab/suesim/sue/packet"
	"github.com/sarchlab/suesim/sue/switching"
	"github.com/sarchlab/suesim/sue/vcqueue"
)

// Builder assembles devices.
type Builder struct {
	engine    sim.Engine
	cfg       Config
	mac       packet.Mac
	resolver  Resolver
	forwarder *switching.Switch
	portIndex int
}

// MakeBuilder returns a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{cfg: DefaultConfig()}
}

// WithEngine sets the event engine the device runs on.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithConfig replaces the whole parameter set.
func (b Builder) WithConfig(cfg Config) Builder {
	b.cfg = cfg
	return b
}

// WithMac sets the device's MAC address.
func (b Builder) WithMac(mac packet.Mac) Builder {
	b.mac = mac
	return b
}

// WithResolver sets the IP-to-MAC resolver a NIC uses on host sends.
func (b Builder) WithResolver(r Resolver) Builder {
	b.resolver = r
	return b
}

// WithForwarder makes the device a port of the given switch, registered
// under the port index.
func (b Builder) WithForwarder(sw *switching.Switch, portIndex int) Builder {
	b.forwarder = sw
	b.portIndex = portIndex
	return b
}

// Build creates the device and wires its queueing, credit, and retry
// subcomponents.
func (b Builder) Build(name string) *Device {
	sim.NameMustBeValid(name)

	if b.engine == nil {
		panic("device: an engine is required")
	}
	if b.mac.IsZero() {
		panic("device: a MAC address is required")
	}
	if b.cfg.NumVCs <= 0 {
		panic("device: number of VCs must be positive")
	}
	if b.cfg.Role == RoleSwitch && b.forwarder == nil {
		panic("device: a switch port needs a forwarder")
	}
	if b.cfg.Role == RoleNIC && b.resolver == nil {
		panic("device: a NIC needs a resolver")
	}

	d := &Device{
		name:       name,
		role:       b.cfg.Role,
		mac:        b.mac,
		portIndex:  b.portIndex,
		timeTeller: b.engine,
		scheduler:  b.engine,
		cfg:        b.cfg,
		resolver:   b.resolver,
		forwarder:  b.forwarder,
		siblings:   make(map[packet.Mac]*Device),
		switchMacs: make(map[packet.Mac]bool),
	}

	d.queues = vcqueue.NewManager(name+".VCQueues", vcqueue.Config{
		NumVCs:               b.cfg.NumVCs,
		MaxBytes:             b.cfg.VcQueueMaxBytes,
		AdditionalHeaderSize: b.cfg.AdditionalHeaderSize,
	})

	d.mainQueue = sim.NewBuffer(name+".MainQueue", b.cfg.MainQueueCapacity)

	d.ledger = cbfc.NewLedger(name+".CBFC", b.engine, b.engine, d,
		cbfc.Config{
			Enabled:       b.cfg.CbfcEnabled,
			NumVCs:        b.cfg.NumVCs,
			BatchSize:     b.cfg.CreditBatchSize,
			GenerateDelay: b.cfg.CreditGenerateDelay,
		})

	llrCfg := llr.Config{
		Enabled:        b.cfg.LlrEnabled,
		NumVCs:         b.cfg.NumVCs,
		WindowSize:     b.cfg.LlrWindowSize,
		Timeout:        b.cfg.LlrTimeout,
		AckHeaderDelay: b.cfg.AckHeaderDelay,
	}

	if b.cfg.Role == RoleSwitch {
		d.switchLlr = llr.NewSwitchPortManager(name+".LLR", b.engine,
			b.engine, d, llrCfg)
		b.forwarder.AttachPort(d)
	} else {
		d.nodeLlr = llr.NewNodeManager(name+".LLR", b.engine, b.engine, d,
			llrCfg)
	}

	return d
}
