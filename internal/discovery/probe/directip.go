package probe

import (
	"context"
	"time"

	"incubator-link/internal/device"
)

// DirectIP pings one known or guessed endpoint. It is the cheapest strategy.
type DirectIP struct {
	target func() (device.Endpoint, bool)
	pinger Pinger
}

func NewDirectIP(ep device.Endpoint, p Pinger) *DirectIP {
	return &DirectIP{
		target: func() (device.Endpoint, bool) { return ep, !ep.IsZero() },
		pinger: p,
	}
}

// NewDirectIPFunc resolves its target on every run, e.g. from the persisted last-known address.
func NewDirectIPFunc(fn func() (device.Endpoint, bool), p Pinger) *DirectIP {
	return &DirectIP{target: fn, pinger: p}
}

func (d *DirectIP) ID() device.StrategyID { return device.StrategyDirectIP }

func (d *DirectIP) Probe(ctx context.Context, out chan<- device.ProbeResult) {
	ep, ok := d.target()
	if !ok {
		return
	}
	started := time.Now()
	if err := d.pinger.Ping(ctx, ep); err != nil {
		return
	}
	emit(ctx, out, found(d.ID(), ep, started))
}
