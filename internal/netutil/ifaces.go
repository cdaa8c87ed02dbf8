package netutil

import (
	"errors"
	"net"

	"github.com/wlynxg/anet"
)

// ErrNoIPv4 is returned when no usable private IPv4 interface address exists.
var ErrNoIPv4 = errors.New("no usable ipv4 interface")

// anet works around the netlink restrictions on newer Android releases, where the
// stdlib interface calls fail with permission errors.
var (
	listInterfaces = anet.Interfaces
	listAddrs      = anet.InterfaceAddrsByInterface
)

// LocalIPv4 returns the first up, non-loopback, private IPv4 address and its network.
func LocalIPv4() (net.IP, *net.IPNet, error) {
	nets, err := localNets()
	if err != nil {
		return nil, nil, err
	}
	if len(nets) == 0 {
		return nil, nil, ErrNoIPv4
	}
	return nets[0].IP, nets[0], nil
}

// BroadcastAddrs returns the directed broadcast address of every active IPv4 interface,
// followed by the limited broadcast address.
func BroadcastAddrs() ([]net.IP, error) {
	nets, err := localNets()
	if err != nil {
		return nil, err
	}
	out := make([]net.IP, 0, len(nets)+1)
	seen := map[string]bool{}
	for _, n := range nets {
		b := Broadcast(n)
		if b == nil || seen[b.String()] {
			continue
		}
		seen[b.String()] = true
		out = append(out, b)
	}
	return append(out, net.IPv4bcast.To4()), nil
}

func localNets() ([]*net.IPNet, error) {
	ifaces, err := listInterfaces()
	if err != nil {
		return nil, err
	}
	var out []*net.IPNet
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := listAddrs(ifi)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipn.IP.To4()
			if v4 == nil || !IsPrivate4(v4) {
				continue
			}
			out = append(out, &net.IPNet{IP: v4, Mask: ipn.Mask})
		}
	}
	return out, nil
}
