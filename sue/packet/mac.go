// Package packet provides the byte-level envelope of SUE link traffic: the
// Ethernet-style header, the PPP-style frame tag, the credit-update header,
// and the out-of-band sequence tag carried with every data packet.
package packet

import (
	"fmt"
)

// Mac is a 48-bit link-layer address.
type Mac [6]byte

// ParseMac parses the aa:bb:cc:dd:ee:ff form.
func ParseMac(s string) (Mac, error) {
	var m Mac

	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&m[0], &m[1], &m[2], &m[3], &m[4], &m[5])
	if err != nil || n != 6 {
		return Mac{}, fmt.Errorf("invalid mac address %q", s)
	}

	return m, nil
}

// MustParseMac parses a MAC address and panics on malformed input. It is
// meant for topology construction, where a bad address is a setup bug.
func MustParseMac(s string) Mac {
	m, err := ParseMac(s)
	if err != nil {
		panic(err)
	}

	return m
}

func (m Mac) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether the address is all zeros.
func (m Mac) IsZero() bool {
	return m == Mac{}
}
