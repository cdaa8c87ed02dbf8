package probe

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"incubator-link/internal/device"
	"incubator-link/internal/netutil"
)

type BroadcastConfig struct {
	Port          int
	Request       string
	ReplyMarker   string
	ListenTimeout time.Duration
	HTTPPort      int // used when the reply carries no port
}

func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		Port:          8888,
		Request:       "DISCOVER_INCUBATOR",
		ReplyMarker:   "INCUBATOR_HERE",
		ListenTimeout: 3 * time.Second,
		HTTPPort:      80,
	}
}

// ListenFunc opens the socket used to send the request and read the replies.
type ListenFunc func() (net.PacketConn, error)

// Broadcast sends a discovery datagram to every broadcast address and collects replies
// for a bounded window.
type Broadcast struct {
	cfg     BroadcastConfig
	listen  ListenFunc
	targets func() ([]net.IP, error)
}

func NewBroadcast(cfg BroadcastConfig, listen ListenFunc, targets func() ([]net.IP, error)) *Broadcast {
	def := DefaultBroadcastConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.Request == "" {
		cfg.Request = def.Request
	}
	if cfg.ReplyMarker == "" {
		cfg.ReplyMarker = def.ReplyMarker
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = def.ListenTimeout
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = def.HTTPPort
	}
	if listen == nil {
		listen = func() (net.PacketConn, error) { return net.ListenPacket("udp4", ":0") }
	}
	if targets == nil {
		targets = netutil.BroadcastAddrs
	}
	return &Broadcast{cfg: cfg, listen: listen, targets: targets}
}

func (b *Broadcast) ID() device.StrategyID { return device.StrategyBroadcast }

func (b *Broadcast) Probe(ctx context.Context, out chan<- device.ProbeResult) {
	dsts, err := b.targets()
	if err != nil || len(dsts) == 0 {
		return
	}
	pc, err := b.listen()
	if err != nil {
		return
	}
	defer pc.Close()

	wctx, cancel := context.WithTimeout(ctx, b.cfg.ListenTimeout)
	defer cancel()
	stop := context.AfterFunc(wctx, func() { _ = pc.Close() })
	defer stop()
	if dl, ok := wctx.Deadline(); ok {
		_ = pc.SetReadDeadline(dl)
	}

	started := time.Now()
	req := []byte(b.cfg.Request)
	sent := 0
	for _, ip := range dsts {
		if _, err := pc.WriteTo(req, &net.UDPAddr{IP: ip, Port: b.cfg.Port}); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		ep, ok := b.parseReply(buf[:n], from)
		if !ok {
			continue
		}
		if !emit(wctx, out, found(b.ID(), ep, started)) {
			return
		}
	}
}

// parseReply accepts "INCUBATOR_HERE[;port=N][;mode=ap|sta][;ip=A.B.C.D]".
func (b *Broadcast) parseReply(payload []byte, from net.Addr) (device.Endpoint, bool) {
	payload = bytes.TrimSpace(payload)
	if !bytes.HasPrefix(payload, []byte(b.cfg.ReplyMarker)) {
		return device.Endpoint{}, false
	}
	ua, ok := from.(*net.UDPAddr)
	if !ok || ua.IP == nil {
		return device.Endpoint{}, false
	}
	ep := device.Endpoint{Address: ua.IP.String(), Port: b.cfg.HTTPPort, Mode: device.ModeStation}

	rest := strings.TrimPrefix(string(payload), b.cfg.ReplyMarker)
	for _, kv := range strings.Split(rest, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "port":
			if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
				ep.Port = p
			}
		case "mode":
			if m, ok := device.ParseMode(v); ok && m != device.ModeUnknown {
				ep.Mode = m
			}
		case "ip":
			if ip := net.ParseIP(v); ip != nil && ip.To4() != nil {
				ep.Address = ip.String()
			}
		}
	}
	return ep, true
}
