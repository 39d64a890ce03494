// Package topology turns a YAML scenario into a running fabric: NICs,
// switches with their ports, the wires between them, and the workload flows
// that drive traffic through the link protocol.
package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/suesim/sue/packet"
)

// ParamSet carries the per-link protocol parameters of a scenario. Zero
// fields fall back to the model defaults; the boolean switches are
// pointers so an explicit "false" is distinguishable from an omission.
type ParamSet struct {
	NumVCs int `yaml:"num_vcs"`

	DataRateGbps       float64 `yaml:"data_rate_gbps"`
	ProcessingRateGbps float64 `yaml:"processing_rate_gbps"`
	PropagationDelayNs float64 `yaml:"propagation_delay_ns"`

	CbfcEnabled          *bool  `yaml:"cbfc"`
	InitialCredits       uint32 `yaml:"initial_credits"`
	SwitchInitialCredits uint32 `yaml:"switch_initial_credits"`
	CreditBatchSize      uint32 `yaml:"credit_batch"`

	LlrEnabled   *bool   `yaml:"llr"`
	LlrTimeoutNs float64 `yaml:"llr_timeout_ns"`

	VcQueueBytes int `yaml:"vc_queue_bytes"`
}

// NicSpec describes one end-node interface.
type NicSpec struct {
	Name string `yaml:"name"`
	Mac  string `yaml:"mac"`
	IP   string `yaml:"ip"`
}

// PortSpec describes one switch port. Port indexes are the 1-based position
// in the switch's port list.
type PortSpec struct {
	Name string `yaml:"name"`
	Mac  string `yaml:"mac"`
}

// ForwardSpec binds a destination device name to the egress port name.
type ForwardSpec struct {
	Dst  string `yaml:"dst"`
	Port string `yaml:"port"`
}

// SwitchSpec describes one switch node.
type SwitchSpec struct {
	Name           string        `yaml:"name"`
	ForwardDelayNs float64       `yaml:"forward_delay_ns"`
	Ports          []PortSpec    `yaml:"ports"`
	Forwarding     []ForwardSpec `yaml:"forwarding"`
}

// LinkSpec wires two devices (NIC names or switch port names) together.
type LinkSpec struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// FlowSpec describes one workload flow.
type FlowSpec struct {
	Src        string  `yaml:"src"`
	Dst        string  `yaml:"dst"`
	VC         uint8   `yaml:"vc"`
	SizeBytes  int     `yaml:"size_bytes"`
	Count      int     `yaml:"count"`
	IntervalNs float64 `yaml:"interval_ns"`
	StartNs    float64 `yaml:"start_ns"`
}

// Scenario is the root of a scenario file.
type Scenario struct {
	Name     string       `yaml:"name"`
	Params   ParamSet     `yaml:"params"`
	Nics     []NicSpec    `yaml:"nics"`
	Switches []SwitchSpec `yaml:"switches"`
	Links    []LinkSpec   `yaml:"links"`
	Flows    []FlowSpec   `yaml:"flows"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	return ParseScenario(b)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(b []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks name uniqueness, address syntax, and referential
// integrity of links, forwarding entries, and flows.
func (s *Scenario) Validate() error {
	if len(s.Nics) == 0 {
		return fmt.Errorf("scenario %q: at least one NIC is required", s.Name)
	}

	endpoints := map[string]bool{}
	macs := map[string]bool{}
	ips := map[string]bool{}

	addMac := func(owner, mac string) error {
		if _, err := packet.ParseMac(mac); err != nil {
			return fmt.Errorf("device %q: %w", owner, err)
		}
		if macs[mac] {
			return fmt.Errorf("device %q: duplicate MAC %s", owner, mac)
		}
		macs[mac] = true
		return nil
	}

	addEndpoint := func(name string) error {
		if name == "" {
			return fmt.Errorf("scenario %q: unnamed device", s.Name)
		}
		if endpoints[name] {
			return fmt.Errorf("duplicate device name %q", name)
		}
		endpoints[name] = true
		return nil
	}

	for _, nic := range s.Nics {
		if err := addEndpoint(nic.Name); err != nil {
			return err
		}
		if err := addMac(nic.Name, nic.Mac); err != nil {
			return err
		}
		if nic.IP == "" {
			return fmt.Errorf("nic %q: an IP address is required", nic.Name)
		}
		if ips[nic.IP] {
			return fmt.Errorf("nic %q: duplicate IP %s", nic.Name, nic.IP)
		}
		ips[nic.IP] = true
	}

	for _, sw := range s.Switches {
		if sw.Name == "" {
			return fmt.Errorf("scenario %q: unnamed switch", s.Name)
		}
		if len(sw.Ports) == 0 {
			return fmt.Errorf("switch %q: at least one port is required",
				sw.Name)
		}

		portNames := map[string]bool{}
		for _, port := range sw.Ports {
			if err := addEndpoint(port.Name); err != nil {
				return err
			}
			if err := addMac(port.Name, port.Mac); err != nil {
				return err
			}
			portNames[port.Name] = true
		}

		for _, fw := range sw.Forwarding {
			if !portNames[fw.Port] {
				return fmt.Errorf("switch %q: forwarding entry for %q "+
					"names unknown port %q", sw.Name, fw.Dst, fw.Port)
			}
		}
	}

	// Forwarding destinations may name any device in the fabric, so they
	// are checked after all endpoints are known.
	for _, sw := range s.Switches {
		for _, fw := range sw.Forwarding {
			if !endpoints[fw.Dst] {
				return fmt.Errorf("switch %q: forwarding entry names "+
					"unknown device %q", sw.Name, fw.Dst)
			}
		}
	}

	linked := map[string]bool{}
	for _, link := range s.Links {
		for _, end := range []string{link.A, link.B} {
			if !endpoints[end] {
				return fmt.Errorf("link %s--%s: unknown device %q",
					link.A, link.B, end)
			}
			if linked[end] {
				return fmt.Errorf("link %s--%s: device %q is already "+
					"attached to a wire", link.A, link.B, end)
			}
			linked[end] = true
		}
		if link.A == link.B {
			return fmt.Errorf("link %s--%s: a device cannot be wired to "+
				"itself", link.A, link.B)
		}
	}

	nicNames := map[string]bool{}
	for _, nic := range s.Nics {
		nicNames[nic.Name] = true
	}

	for i, flow := range s.Flows {
		if !nicNames[flow.Src] || !nicNames[flow.Dst] {
			return fmt.Errorf("flow %d: src and dst must name NICs", i)
		}
		if flow.SizeBytes <= 0 {
			return fmt.Errorf("flow %d: packet size must be positive", i)
		}
		if flow.Count <= 0 {
			return fmt.Errorf("flow %d: packet count must be positive", i)
		}
	}

	return nil
}
