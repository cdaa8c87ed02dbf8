package probe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"incubator-link/internal/device"
	"incubator-link/internal/netutil"
)

type SweepConfig struct {
	Port        int
	Priority    []int // host octets tried first
	RatePerSec  float64
	DialTimeout time.Duration
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Port:        80,
		Priority:    netutil.DefaultPriorityHosts,
		RatePerSec:  20,
		DialTimeout: 400 * time.Millisecond,
	}
}

// CheckFunc confirms one candidate host.
type CheckFunc func(ctx context.Context, ep device.Endpoint) error

// SubnetSweep probes every host of the local /24, priority hosts first, with a global
// dispatch rate cap.
type SubnetSweep struct {
	cfg     SweepConfig
	local   func() (net.IP, error)
	check   CheckFunc
	limiter *rate.Limiter

	onDispatch func(ip net.IP, at time.Time)
}

func NewSubnetSweep(cfg SweepConfig, p Pinger) *SubnetSweep {
	def := DefaultSweepConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.Priority == nil {
		cfg.Priority = def.Priority
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	s := &SubnetSweep{
		cfg: cfg,
		local: func() (net.IP, error) {
			ip, _, err := netutil.LocalIPv4()
			return ip, err
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
	s.check = func(ctx context.Context, ep device.Endpoint) error {
		if err := tcpOpen(ctx, ep.Address, ep.Port, s.cfg.DialTimeout); err != nil {
			return err
		}
		return p.Ping(ctx, ep)
	}
	return s
}

// OnDispatch registers a hook called as each host is dispatched. Set it before probing.
func (s *SubnetSweep) OnDispatch(fn func(ip net.IP, at time.Time)) { s.onDispatch = fn }

func (s *SubnetSweep) ID() device.StrategyID { return device.StrategySubnetSweep }

func (s *SubnetSweep) Probe(ctx context.Context, out chan<- device.ProbeResult) {
	local, err := s.local()
	if err != nil {
		return
	}
	order := netutil.SweepOrder(local, s.cfg.Priority)

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, ip := range order {
		// Wait fails early when the next slot would land past the deadline.
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		now := time.Now()
		if s.onDispatch != nil {
			s.onDispatch(ip, now)
		}
		wg.Add(1)
		go func(ip net.IP, started time.Time) {
			defer wg.Done()
			ep := device.Endpoint{Address: ip.String(), Port: s.cfg.Port, Mode: device.ModeStation}
			if s.check(ctx, ep) == nil {
				emit(ctx, out, found(s.ID(), ep, started))
			}
		}(ip, now)
	}
}

func tcpOpen(ctx context.Context, ip string, port int, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}
