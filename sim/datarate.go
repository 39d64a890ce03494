package sim

// DataRate represents a link bandwidth in bits per second.
type DataRate float64

// Common data rates.
const (
	Mbps DataRate = 1e6
	Gbps DataRate = 1e9
)

// TransferTime returns the serialization time of a payload of the given
// number of bytes at this data rate.
func (r DataRate) TransferTime(bytes int) VTimeInSec {
	if r <= 0 {
		panic("data rate must be positive")
	}

	return VTimeInSec(float64(bytes*8) / float64(r))
}
