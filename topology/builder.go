package topology

import (
	"fmt"

	"github.com/sarchlab/suesim/sim"
	"github.com/sarchlab/suesim/simulation"
	"github.com/sarchlab/suesim/sue/device"
	"github.com/sarchlab/suesim/sue/packet"
	"github.com/sarchlab/suesim/sue/switching"
)

const (
	defaultNumVCs               = 4
	defaultDataRateGbps         = 100
	defaultProcessingRateGbps   = 100
	defaultPropagationDelayNs   = 5
	defaultInitialCredits       = 20
	defaultSwitchInitialCredits = 85
	defaultCreditBatch          = 10
	defaultLlrTimeoutNs         = 10000
	defaultForwardDelayNs       = 150
	defaultVcQueueBytes         = 2 * 1024 * 1024
)

// A Fabric is a built scenario: every device, switch, and wire, plus the
// workload that drives them.
type Fabric struct {
	Scenario *Scenario
	Params   ParamSet
	Engine   sim.Engine
	Resolver *Resolver

	Nics     map[string]*device.Device
	Ports    map[string]*device.Device
	Switches map[string]*switching.Switch
	Channels []*device.Channel
	Workload *Workload

	ipOf map[string]string
}

// Device returns the NIC or switch port with the given scenario name.
func (f *Fabric) Device(name string) (*device.Device, bool) {
	if d, ok := f.Nics[name]; ok {
		return d, true
	}
	d, ok := f.Ports[name]
	return d, ok
}

// Builder assembles a fabric from a scenario.
type Builder struct {
	engine     sim.Engine
	scenario   *Scenario
	simulation *simulation.Simulation
}

// MakeBuilder returns an empty builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithEngine sets the event engine the fabric runs on.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithSimulation sets the simulation container. The fabric runs on the
// container's engine and every built device is registered with it.
func (b Builder) WithSimulation(s *simulation.Simulation) Builder {
	b.simulation = s
	b.engine = s.GetEngine()
	return b
}

// WithScenario sets the scenario to build.
func (b Builder) WithScenario(s *Scenario) Builder {
	b.scenario = s
	return b
}

func (p ParamSet) withDefaults() ParamSet {
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setF := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setU := func(v *uint32, def uint32) {
		if *v == 0 {
			*v = def
		}
	}

	setInt(&p.NumVCs, defaultNumVCs)
	setF(&p.DataRateGbps, defaultDataRateGbps)
	setF(&p.ProcessingRateGbps, defaultProcessingRateGbps)
	setF(&p.PropagationDelayNs, defaultPropagationDelayNs)
	setU(&p.InitialCredits, defaultInitialCredits)
	setU(&p.SwitchInitialCredits, defaultSwitchInitialCredits)
	setU(&p.CreditBatchSize, defaultCreditBatch)
	setF(&p.LlrTimeoutNs, defaultLlrTimeoutNs)
	setInt(&p.VcQueueBytes, defaultVcQueueBytes)

	t := true
	if p.CbfcEnabled == nil {
		p.CbfcEnabled = &t
	}
	if p.LlrEnabled == nil {
		p.LlrEnabled = &t
	}

	return p
}

func (p ParamSet) deviceConfig(role device.Role) device.Config {
	cfg := device.DefaultConfig()

	cfg.Role = role
	cfg.NumVCs = p.NumVCs
	cfg.DataRate = sim.DataRate(p.DataRateGbps) * sim.Gbps
	cfg.ProcessingRate = sim.DataRate(p.ProcessingRateGbps) * sim.Gbps
	cfg.CbfcEnabled = *p.CbfcEnabled
	cfg.CreditBatchSize = p.CreditBatchSize
	cfg.LlrEnabled = *p.LlrEnabled
	cfg.LlrTimeout = sim.VTimeInSec(p.LlrTimeoutNs * 1e-9)
	cfg.VcQueueMaxBytes = p.VcQueueBytes

	return cfg
}

// Build constructs the fabric: resolver, switches with their ports, NICs,
// wires with seeded credit pools, forwarding tables, and the workload.
func (b Builder) Build() (*Fabric, error) {
	if b.engine == nil {
		panic("topology: an engine is required")
	}
	if b.scenario == nil {
		panic("topology: a scenario is required")
	}

	s := b.scenario
	params := s.Params.withDefaults()

	f := &Fabric{
		Scenario: s,
		Params:   params,
		Engine:   b.engine,
		Resolver: newResolver(),
		Nics:     make(map[string]*device.Device),
		Ports:    make(map[string]*device.Device),
		Switches: make(map[string]*switching.Switch),
		ipOf:     make(map[string]string),
	}

	for _, nic := range s.Nics {
		f.Resolver.add(nic.IP, packet.MustParseMac(nic.Mac))
		f.ipOf[nic.Name] = nic.IP
	}

	macOf := map[string]packet.Mac{}
	isPort := map[string]bool{}

	for _, nic := range s.Nics {
		macOf[nic.Name] = packet.MustParseMac(nic.Mac)
	}
	for _, sw := range s.Switches {
		for _, port := range sw.Ports {
			macOf[port.Name] = packet.MustParseMac(port.Mac)
			isPort[port.Name] = true
		}
	}

	for _, nic := range s.Nics {
		f.Nics[nic.Name] = device.MakeBuilder().
			WithEngine(b.engine).
			WithMac(macOf[nic.Name]).
			WithResolver(f.Resolver).
			WithConfig(params.deviceConfig(device.RoleNIC)).
			Build(nic.Name)
	}

	for _, swSpec := range s.Switches {
		forwardDelayNs := swSpec.ForwardDelayNs
		if forwardDelayNs == 0 {
			forwardDelayNs = defaultForwardDelayNs
		}

		table := switching.NewTable()
		sw := switching.NewSwitch(swSpec.Name, b.engine, b.engine, table,
			sim.VTimeInSec(forwardDelayNs*1e-9))
		f.Switches[swSpec.Name] = sw

		swCfg := params.deviceConfig(device.RoleSwitch)

		ports := make([]*device.Device, 0, len(swSpec.Ports))
		for i, portSpec := range swSpec.Ports {
			port := device.MakeBuilder().
				WithEngine(b.engine).
				WithMac(macOf[portSpec.Name]).
				WithForwarder(sw, i+1).
				WithConfig(swCfg).
				Build(portSpec.Name)

			f.Ports[portSpec.Name] = port
			ports = append(ports, port)
		}

		// Ports of one switch reach each other in-node and keep credit
		// pools for the internal hop.
		for _, a := range ports {
			for _, c := range ports {
				if a == c {
					continue
				}
				a.RegisterSibling(c)
				a.Ledger().AddPeer(c.LocalMac(), params.SwitchInitialCredits)
			}
		}

		for _, fw := range swSpec.Forwarding {
			mac, ok := macOf[fw.Dst]
			if !ok {
				return nil, fmt.Errorf("switch %q: forwarding entry names "+
					"unknown device %q", swSpec.Name, fw.Dst)
			}

			portIndex := 0
			for i, portSpec := range swSpec.Ports {
				if portSpec.Name == fw.Port {
					portIndex = i + 1
				}
			}

			table.Set(mac, portIndex)
		}
	}

	// Every device learns which MACs belong to switch ports, so sequence
	// tags carry the right link classification.
	for name, mac := range macOf {
		if !isPort[name] {
			continue
		}
		for _, d := range f.Nics {
			d.DeclareSwitchPeer(mac)
		}
		for _, d := range f.Ports {
			if d.LocalMac() != mac {
				d.DeclareSwitchPeer(mac)
			}
		}
	}

	for _, link := range s.Links {
		a, ok := f.Device(link.A)
		if !ok {
			return nil, fmt.Errorf("link %s--%s: unknown device %q",
				link.A, link.B, link.A)
		}
		c, ok := f.Device(link.B)
		if !ok {
			return nil, fmt.Errorf("link %s--%s: unknown device %q",
				link.A, link.B, link.B)
		}

		ch := device.NewChannel("Wire."+link.A+"-"+link.B,
			b.engine, b.engine,
			sim.VTimeInSec(params.PropagationDelayNs*1e-9))
		ch.Attach(a)
		ch.Attach(c)
		f.Channels = append(f.Channels, ch)

		credits := func(peer string) uint32 {
			if isPort[peer] {
				return params.SwitchInitialCredits
			}
			return params.InitialCredits
		}
		a.Ledger().AddPeer(c.LocalMac(), credits(link.B))
		c.Ledger().AddPeer(a.LocalMac(), credits(link.A))
	}

	if b.simulation != nil {
		for _, d := range f.Nics {
			b.simulation.RegisterDevice(d)
		}
		for _, d := range f.Ports {
			b.simulation.RegisterDevice(d)
		}
	}

	f.Workload = newWorkload(b.engine, f, s.Flows)

	return f, nil
}
