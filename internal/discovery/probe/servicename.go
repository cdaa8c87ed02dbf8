package probe

import (
	"context"
	"time"

	"incubator-link/internal/device"
)

// Resolver turns a hostname into addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ServiceName resolves the device's well-known hostnames and pings the first address
// that answers.
type ServiceName struct {
	hostnames []string
	port      int
	resolver  Resolver
	pinger    Pinger
}

func NewServiceName(hostnames []string, port int, r Resolver, p Pinger) *ServiceName {
	if len(hostnames) == 0 {
		hostnames = []string{"incubator.local", "esp32.local"}
	}
	if port <= 0 {
		port = 80
	}
	if r == nil {
		r = NewMDNSResolver(0)
	}
	return &ServiceName{hostnames: hostnames, port: port, resolver: r, pinger: p}
}

func (s *ServiceName) ID() device.StrategyID { return device.StrategyServiceName }

func (s *ServiceName) Probe(ctx context.Context, out chan<- device.ProbeResult) {
	started := time.Now()
	for _, h := range s.hostnames {
		if ctx.Err() != nil {
			return
		}
		addrs, err := s.resolver.LookupHost(ctx, h)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ep := device.Endpoint{Address: a, Port: s.port, Mode: device.ModeStation}
			if err := s.pinger.Ping(ctx, ep); err == nil {
				emit(ctx, out, found(s.ID(), ep, started))
				return
			}
		}
	}
}
