package netutil

import (
	"net"
)

// DefaultPriorityHosts are the last octets routers most commonly hand out first.
var DefaultPriorityHosts = []int{1, 2, 100, 101, 102, 103, 104, 105}

// SweepOrder returns the hosts of the /24 containing local: the priority octets first (in the
// given order), then 1..254 ascending, never repeating a priority host and never including
// local itself. IPv4 only.
func SweepOrder(local net.IP, priority []int) []net.IP {
	ip := local.To4()
	if ip == nil {
		return nil
	}
	self := int(ip[3])
	seen := make(map[int]bool, 254)
	out := make([]net.IP, 0, 254)
	add := func(host int) {
		if host < 1 || host > 254 || host == self || seen[host] {
			return
		}
		seen[host] = true
		out = append(out, net.IPv4(ip[0], ip[1], ip[2], byte(host)).To4())
	}
	for _, h := range priority {
		add(h)
	}
	for h := 1; h <= 254; h++ {
		add(h)
	}
	return out
}

// Broadcast returns the directed broadcast address of n.
func Broadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := net.IP(n.Mask).To4()
	if mask == nil {
		// 16-byte mask on a v4 net
		if len(n.Mask) == net.IPv6len {
			mask = net.IP(n.Mask[12:]).To4()
		}
		if mask == nil {
			return nil
		}
	}
	network := ip.Mask(net.IPMask(mask))
	broadcast := make(net.IP, net.IPv4len)
	for i := 0; i < 4; i++ {
		broadcast[i] = network[i] | ^mask[i]
	}
	return broadcast
}

// IsPrivate4 reports RFC1918 / link-local v4 addresses, the only ranges the device lives in.
func IsPrivate4(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4.IsPrivate() || v4.IsLinkLocalUnicast()
}
