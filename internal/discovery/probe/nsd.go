package probe

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/brutella/dnssd"

	"incubator-link/internal/device"
)

// BrowseFunc browses a DNS-SD service type and reports each resolved instance until ctx ends.
type BrowseFunc func(ctx context.Context, service string, found func(name string, ips []net.IP, port int)) error

// NSD browses for advertised HTTP services and picks the first instance whose name
// contains the filter string.
type NSD struct {
	service string
	filter  string
	browse  BrowseFunc
}

func NewNSD(service, filter string, browse BrowseFunc) *NSD {
	if service == "" {
		service = "_http._tcp.local."
	}
	if filter == "" {
		filter = "incubator"
	}
	if browse == nil {
		browse = dnssdBrowse
	}
	return &NSD{service: service, filter: strings.ToLower(filter), browse: browse}
}

func (n *NSD) ID() device.StrategyID { return device.StrategyNSD }

func (n *NSD) Probe(ctx context.Context, out chan<- device.ProbeResult) {
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	var once sync.Once
	_ = n.browse(bctx, n.service, func(name string, ips []net.IP, port int) {
		if !strings.Contains(strings.ToLower(name), n.filter) {
			return
		}
		ip := firstV4(ips)
		if ip == nil || port <= 0 {
			return
		}
		once.Do(func() {
			ep := device.Endpoint{Address: ip.String(), Port: port, Mode: device.ModeStation}
			emit(bctx, out, found(n.ID(), ep, started))
			cancel()
		})
	})
}

func dnssdBrowse(ctx context.Context, service string, found func(string, []net.IP, int)) error {
	add := func(e dnssd.BrowseEntry) { found(e.Name, e.IPs, e.Port) }
	rmv := func(dnssd.BrowseEntry) {}
	return dnssd.LookupType(ctx, service, add, rmv)
}

func firstV4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}
