package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var errNoAnswer = errors.New("mdns: no answer")

var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// MDNSResolver answers ".local" names with a one-shot multicast query and hands every
// other name, or an unanswered one, to the platform resolver.
type MDNSResolver struct {
	Timeout  time.Duration
	Fallback Resolver
}

func NewMDNSResolver(timeout time.Duration) *MDNSResolver {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &MDNSResolver{Timeout: timeout, Fallback: net.DefaultResolver}
}

func (r *MDNSResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	name := strings.ToLower(strings.TrimSuffix(host, "."))
	if strings.HasSuffix(name, ".local") {
		if addrs, err := r.query(ctx, name); err == nil && len(addrs) > 0 {
			return addrs, nil
		}
	}
	if r.Fallback == nil {
		return nil, errNoAnswer
	}
	return r.Fallback.LookupHost(ctx, host)
}

func (r *MDNSResolver) query(ctx context.Context, name string) ([]string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(r.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	fqdn := dns.Fqdn(name)
	m := new(dns.Msg)
	m.SetQuestion(fqdn, dns.TypeA)
	m.Id = 0
	m.RecursionDesired = false
	m.Question[0].Qclass |= 1 << 15 // unicast response requested
	wire, err := m.Pack()
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(wire, mdnsGroup); err != nil {
		return nil, err
	}

	buf := make([]byte, 9000)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		var resp dns.Msg
		if resp.Unpack(buf[:n]) != nil || !resp.Response {
			continue
		}
		if addrs := answersFor(&resp, fqdn); len(addrs) > 0 {
			return addrs, nil
		}
	}
}

func answersFor(m *dns.Msg, fqdn string) []string {
	var out []string
	for _, rr := range append(m.Answer, m.Extra...) {
		a, ok := rr.(*dns.A)
		if !ok || !strings.EqualFold(a.Hdr.Name, fqdn) {
			continue
		}
		out = append(out, a.A.String())
	}
	return out
}
