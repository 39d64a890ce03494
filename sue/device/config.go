package device

import "github.com/sarchlab/suesim/sim"

// Role tells a device apart from the two kinds of link endpoints.
type Role int

// Device roles.
const (
	RoleNIC Role = iota
	RoleSwitch
)

func (r Role) String() string {
	switch r {
	case RoleNIC:
		return "nic"
	case RoleSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Config carries the tunable parameters of one device.
type Config struct {
	Role   Role
	NumVCs int

	// DataRate is the wire bandwidth; ProcessingRate paces the receive
	// pipeline.
	DataRate       sim.DataRate
	ProcessingRate sim.DataRate
	InterframeGap  sim.VTimeInSec

	MainQueueCapacity       int
	VcQueueMaxBytes         int
	ProcessingQueueMaxBytes int

	// AdditionalHeaderSize covers the headers added after queue admission
	// when the host side reserves VC queue capacity.
	AdditionalHeaderSize int

	CbfcEnabled         bool
	CreditBatchSize     uint32
	CreditGenerateDelay sim.VTimeInSec

	LlrEnabled      bool
	LlrWindowSize   int
	LlrTimeout      sim.VTimeInSec
	AckHeaderDelay  sim.VTimeInSec
	AckProcessDelay sim.VTimeInSec

	// Head-of-queue insertion delays for credit updates and data packets,
	// and the pause between finishing one transmission and scheduling the
	// next VC arbitration round.
	CreditUpdateHeaderDelay sim.VTimeInSec
	DataHeaderDelay         sim.VTimeInSec
	VcSchedulingDelay       sim.VTimeInSec
}

// DefaultConfig returns the parameter set the device model is calibrated
// with.
func DefaultConfig() Config {
	return Config{
		Role:   RoleNIC,
		NumVCs: 4,

		DataRate:       100 * sim.Gbps,
		ProcessingRate: 100 * sim.Gbps,
		InterframeGap:  0,

		MainQueueCapacity:       1024,
		VcQueueMaxBytes:         2 * 1024 * 1024,
		ProcessingQueueMaxBytes: 2 * 1024 * 1024,

		// Frame tag, envelope, and SUE header added between reservation
		// and enqueue.
		AdditionalHeaderSize: 18,

		CbfcEnabled:         true,
		CreditBatchSize:     10,
		CreditGenerateDelay: 10e-9,

		LlrEnabled:      true,
		LlrWindowSize:   10,
		LlrTimeout:      10000e-9,
		AckHeaderDelay:  10e-9,
		AckProcessDelay: 10e-9,

		CreditUpdateHeaderDelay: 3e-9,
		DataHeaderDelay:         5e-9,
		VcSchedulingDelay:       8e-9,
	}
}
