package probe

import (
	"context"
	"net"
	"time"

	"github.com/jackpal/gateway"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"incubator-link/internal/device"
)

type CommonGatewayConfig struct {
	Addresses   []string
	APAddress   string // tagged access_point when it answers; everything else is station
	Port        int
	RatePerSec  float64
	Concurrency int

	// IncludeDefaultGateway adds the OS-reported default gateway to the list.
	IncludeDefaultGateway bool
}

func DefaultCommonGatewayConfig() CommonGatewayConfig {
	return CommonGatewayConfig{
		Addresses:             []string{"192.168.4.1", "192.168.1.1", "192.168.0.1", "192.168.1.254", "10.0.0.1"},
		APAddress:             "192.168.4.1",
		Port:                  80,
		RatePerSec:            10,
		Concurrency:           4,
		IncludeDefaultGateway: true,
	}
}

// CommonGateway pings typical router/default addresses concurrently.
type CommonGateway struct {
	cfg     CommonGatewayConfig
	pinger  Pinger
	limiter *rate.Limiter

	discoverGateway func() (net.IP, error)
}

func NewCommonGateway(cfg CommonGatewayConfig, p Pinger) *CommonGateway {
	def := DefaultCommonGatewayConfig()
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = def.Addresses
	}
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &CommonGateway{
		cfg:             cfg,
		pinger:          p,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Concurrency),
		discoverGateway: gateway.DiscoverGateway,
	}
}

func (g *CommonGateway) ID() device.StrategyID { return device.StrategyCommonGateway }

func (g *CommonGateway) Probe(ctx context.Context, out chan<- device.ProbeResult) {
	var eg errgroup.Group
	eg.SetLimit(g.cfg.Concurrency)
	for _, addr := range g.targets() {
		if err := g.limiter.Wait(ctx); err != nil {
			break
		}
		ep := device.Endpoint{Address: addr, Port: g.cfg.Port, Mode: device.ModeStation}
		if addr == g.cfg.APAddress {
			ep.Mode = device.ModeAccessPoint
		}
		eg.Go(func() error {
			started := time.Now()
			if err := g.pinger.Ping(ctx, ep); err == nil {
				emit(ctx, out, found(g.ID(), ep, started))
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (g *CommonGateway) targets() []string {
	out := make([]string, 0, len(g.cfg.Addresses)+1)
	seen := map[string]bool{}
	for _, a := range g.cfg.Addresses {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	if g.cfg.IncludeDefaultGateway && g.discoverGateway != nil {
		if ip, err := g.discoverGateway(); err == nil && ip.To4() != nil && !seen[ip.String()] {
			out = append(out, ip.String())
		}
	}
	return out
}
