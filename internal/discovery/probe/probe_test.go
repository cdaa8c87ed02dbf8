package probe

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-link/internal/device"
)

type fakePinger struct {
	mu    sync.Mutex
	alive map[string]bool
	calls []string
}

func newFakePinger(alive ...string) *fakePinger {
	p := &fakePinger{alive: map[string]bool{}}
	for _, a := range alive {
		p.alive[a] = true
	}
	return p
}

func (p *fakePinger) Ping(_ context.Context, ep device.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ep.Key())
	if p.alive[ep.Key()] {
		return nil
	}
	return errors.New("no route")
}

func collect(t *testing.T, s Strategy, timeout time.Duration) []device.ProbeResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out := make(chan device.ProbeResult, 64)
	s.Probe(ctx, out)
	close(out)
	var res []device.ProbeResult
	for r := range out {
		res = append(res, r)
	}
	return res
}

func TestDirectIP(t *testing.T) {
	p := newFakePinger("192.168.4.1:80")

	res := collect(t, NewDirectIP(device.Endpoint{Address: "192.168.4.1", Port: 80, Mode: device.ModeAccessPoint}, p), time.Second)
	require.Len(t, res, 1)
	assert.True(t, res[0].Succeeded)
	assert.Equal(t, device.StrategyDirectIP, res[0].Strategy)
	assert.Equal(t, device.ModeAccessPoint, res[0].Endpoint.Mode)

	assert.Empty(t, collect(t, NewDirectIP(device.Endpoint{Address: "10.9.9.9", Port: 80}, p), time.Second))

	none := NewDirectIPFunc(func() (device.Endpoint, bool) { return device.Endpoint{}, false }, p)
	assert.Empty(t, collect(t, none, time.Second))
}

func TestCommonGatewayTagsAndDefaultGateway(t *testing.T) {
	p := newFakePinger("192.168.4.1:80", "172.16.0.1:80")
	g := NewCommonGateway(CommonGatewayConfig{
		Addresses:             []string{"192.168.4.1", "192.168.1.1", "192.168.4.1"},
		APAddress:             "192.168.4.1",
		RatePerSec:            1000,
		IncludeDefaultGateway: true,
	}, p)
	g.discoverGateway = func() (net.IP, error) { return net.IPv4(172, 16, 0, 1), nil }

	res := collect(t, g, 2*time.Second)
	require.Len(t, res, 2)
	modes := map[string]device.Mode{}
	for _, r := range res {
		modes[r.Endpoint.Address] = r.Endpoint.Mode
	}
	assert.Equal(t, device.ModeAccessPoint, modes["192.168.4.1"])
	assert.Equal(t, device.ModeStation, modes["172.16.0.1"])
	assert.Len(t, p.calls, 3, "duplicates are pinged once")
}

type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if a, ok := f[host]; ok {
		return a, nil
	}
	return nil, errors.New("not found")
}

func TestServiceNameFirstAnswer(t *testing.T) {
	r := fakeResolver{"esp32.local": {"192.168.1.50", "192.168.1.51"}}
	p := newFakePinger("192.168.1.51:80")

	res := collect(t, NewServiceName(nil, 80, r, p), time.Second)
	require.Len(t, res, 1)
	assert.Equal(t, "192.168.1.51", res[0].Endpoint.Address)
	assert.Equal(t, device.ModeStation, res[0].Endpoint.Mode)
}

func TestBroadcastParseReply(t *testing.T) {
	b := NewBroadcast(BroadcastConfig{}, nil, nil)
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 77), Port: 8888}

	ep, ok := b.parseReply([]byte("INCUBATOR_HERE\n"), from)
	require.True(t, ok)
	assert.Equal(t, device.Endpoint{Address: "192.168.1.77", Port: 80, Mode: device.ModeStation}, ep)

	ep, ok = b.parseReply([]byte("INCUBATOR_HERE;port=8080;mode=ap"), from)
	require.True(t, ok)
	assert.Equal(t, 8080, ep.Port)
	assert.Equal(t, device.ModeAccessPoint, ep.Mode)

	_, ok = b.parseReply([]byte("PRINTER_HERE"), from)
	assert.False(t, ok)
}

func TestBroadcastCollectsReplies(t *testing.T) {
	responder, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer responder.Close()
	go func() {
		buf := make([]byte, 256)
		for {
			n, from, err := responder.ReadFrom(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) != "DISCOVER_INCUBATOR" {
				continue
			}
			_, _ = responder.WriteTo([]byte("SOMETHING_ELSE"), from)
			_, _ = responder.WriteTo([]byte("INCUBATOR_HERE;port=8123;mode=sta"), from)
		}
	}()

	b := NewBroadcast(BroadcastConfig{
		Port:          responder.LocalAddr().(*net.UDPAddr).Port,
		ListenTimeout: 300 * time.Millisecond,
	},
		func() (net.PacketConn, error) { return net.ListenPacket("udp4", "127.0.0.1:0") },
		func() ([]net.IP, error) { return []net.IP{net.IPv4(127, 0, 0, 1)}, nil },
	)

	start := time.Now()
	res := collect(t, b, 5*time.Second)
	assert.Less(t, time.Since(start), 2*time.Second, "listen window bounds the strategy")
	require.Len(t, res, 1)
	assert.Equal(t, "127.0.0.1", res[0].Endpoint.Address)
	assert.Equal(t, 8123, res[0].Endpoint.Port)
	assert.Equal(t, device.StrategyBroadcast, res[0].Strategy)
}

func TestSubnetSweepRateAndPriority(t *testing.T) {
	s := NewSubnetSweep(SweepConfig{RatePerSec: 20}, newFakePinger())
	s.local = func() (net.IP, error) { return net.IPv4(192, 168, 1, 57), nil }
	s.check = func(_ context.Context, ep device.Endpoint) error {
		if ep.Address == "192.168.1.101" {
			return nil
		}
		return errors.New("closed")
	}
	var mu sync.Mutex
	var order []string
	var stamps []time.Time
	s.OnDispatch(func(ip net.IP, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, ip.String())
		stamps = append(stamps, at)
	})

	res := collect(t, s, 600*time.Millisecond)
	require.Len(t, res, 1)
	assert.Equal(t, "192.168.1.101", res[0].Endpoint.Address)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(order), 14, "20/s cap over 600ms")
	require.GreaterOrEqual(t, len(order), 4)
	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2", "192.168.1.100", "192.168.1.101"}, order[:4])
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 30*time.Millisecond)
	}
}

func TestSubnetSweepFullRangeRateCeiling(t *testing.T) {
	const perSec = 100
	s := NewSubnetSweep(SweepConfig{RatePerSec: perSec}, newFakePinger())
	s.local = func() (net.IP, error) { return net.IPv4(192, 168, 1, 57), nil }
	s.check = func(context.Context, device.Endpoint) error { return errors.New("closed") }
	var mu sync.Mutex
	seen := map[string]bool{}
	var stamps []time.Time
	s.OnDispatch(func(ip net.IP, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		seen[ip.String()] = true
		stamps = append(stamps, at)
	})

	assert.Empty(t, collect(t, s, 6*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 253, "every host but our own")
	assert.Len(t, seen, 253)
	assert.False(t, seen["192.168.1.57"])
	assert.False(t, seen["192.168.1.0"])
	assert.False(t, seen["192.168.1.255"])

	// 252 gaps at 10ms each
	assert.GreaterOrEqual(t, stamps[len(stamps)-1].Sub(stamps[0]), 2500*time.Millisecond)
	for i, from := range stamps {
		n := 0
		for _, at := range stamps[i:] {
			if at.Sub(from) >= time.Second {
				break
			}
			n++
		}
		// rate plus the single burst token, with a little timer slack
		assert.LessOrEqual(t, n, perSec+3, "dispatches in the second after #%d", i)
	}
}

func TestSubnetSweepNoNetwork(t *testing.T) {
	s := NewSubnetSweep(SweepConfig{}, newFakePinger())
	s.local = func() (net.IP, error) { return nil, errors.New("down") }
	assert.Empty(t, collect(t, s, time.Second))
}

func TestNSDFilterAndStop(t *testing.T) {
	var returned bool
	browse := func(ctx context.Context, service string, found func(string, []net.IP, int)) error {
		assert.Equal(t, "_http._tcp.local.", service)
		found("Living Room Printer", []net.IP{net.IPv4(192, 168, 1, 9)}, 80)
		found("ESP32 Incubator", []net.IP{net.ParseIP("fe80::2"), net.IPv4(192, 168, 1, 42)}, 80)
		found("incubator-2", []net.IP{net.IPv4(192, 168, 1, 43)}, 80)
		<-ctx.Done()
		returned = true
		return ctx.Err()
	}

	res := collect(t, NewNSD("", "", browse), 2*time.Second)
	require.Len(t, res, 1)
	assert.Equal(t, "192.168.1.42", res[0].Endpoint.Address)
	assert.True(t, returned)
}

func TestAnswersFor(t *testing.T) {
	m := new(dns.Msg)
	m.Response = true
	rr, err := dns.NewRR("incubator.local. 120 IN A 192.168.1.60")
	require.NoError(t, err)
	other, err := dns.NewRR("printer.local. 120 IN A 192.168.1.9")
	require.NoError(t, err)
	m.Answer = []dns.RR{other, rr}

	assert.Equal(t, []string{"192.168.1.60"}, answersFor(m, "incubator.local."))
	assert.Empty(t, answersFor(m, "esp32.local."))
}

func TestSetAllSkipsNil(t *testing.T) {
	p := newFakePinger()
	d := NewDirectIP(device.Endpoint{Address: "192.168.4.1", Port: 80}, p)
	n := NewNSD("", "", nil)
	all := Set{DirectAP: d, NSD: n}.All()
	assert.Equal(t, []Strategy{d, n}, all)
	assert.Equal(t, 2, Single("x", d, nil, n).Len())
}
