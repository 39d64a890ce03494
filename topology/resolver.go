package topology

import "github.com/sarchlab/suesim/sue/packet"

// Resolver maps NIC IP addresses to MAC addresses. It is populated while
// the fabric is built and immutable afterwards.
type Resolver struct {
	byIP map[string]packet.Mac
}

func newResolver() *Resolver {
	return &Resolver{byIP: make(map[string]packet.Mac)}
}

func (r *Resolver) add(ip string, mac packet.Mac) {
	r.byIP[ip] = mac
}

// MacForIP returns the MAC bound to the IP address.
func (r *Resolver) MacForIP(ip string) (packet.Mac, bool) {
	mac, ok := r.byIP[ip]
	return mac, ok
}

// Len returns the number of bindings.
func (r *Resolver) Len() int {
	return len(r.byIP)
}
