// Package probe implements the independent techniques used to locate the device.
//
// A Strategy runs until it has nothing more to try or its context ends, whichever comes
// first. It writes confirmed candidates to the results channel and swallows every network,
// DNS and timeout error: a strategy that finds nothing simply returns without results.
// Strategies never verify identity; that is the orchestrator's job.
package probe

import (
	"context"
	"time"

	"incubator-link/internal/device"
)

type Strategy interface {
	ID() device.StrategyID
	Probe(ctx context.Context, out chan<- device.ProbeResult)
}

// Pinger performs the lightweight liveness request used to confirm a candidate.
type Pinger interface {
	Ping(ctx context.Context, ep device.Endpoint) error
}

// Plan is an ordered list of tiers. Tier 0 is dispatched first; later tiers are fallbacks.
type Plan struct {
	Name  string
	Tiers [][]Strategy
}

// Single builds a one-tier plan, skipping nil strategies.
func Single(name string, ss ...Strategy) Plan {
	return Plan{Name: name, Tiers: [][]Strategy{compact(ss)}}
}

// Tier lists the non-nil strategies of one tier.
func Tier(ss ...Strategy) []Strategy { return compact(ss) }

func (p Plan) Len() int {
	n := 0
	for _, t := range p.Tiers {
		n += len(t)
	}
	return n
}

// Set holds one instance of every configured strategy. Nil members are disabled.
type Set struct {
	DirectAP      Strategy // DirectIP against the access-point default address
	LastKnown     Strategy // DirectIP against the persisted address
	CommonGateway Strategy
	ServiceName   Strategy
	Broadcast     Strategy
	Sweep         Strategy
	NSD           Strategy
}

// All returns every enabled strategy in the canonical cheapest-first order.
func (s Set) All() []Strategy {
	return compact([]Strategy{s.DirectAP, s.LastKnown, s.CommonGateway, s.ServiceName, s.Broadcast, s.Sweep, s.NSD})
}

func compact(ss []Strategy) []Strategy {
	out := make([]Strategy, 0, len(ss))
	for _, s := range ss {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func emit(ctx context.Context, out chan<- device.ProbeResult, r device.ProbeResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func found(id device.StrategyID, ep device.Endpoint, started time.Time) device.ProbeResult {
	now := time.Now()
	return device.ProbeResult{
		Strategy:   id,
		Endpoint:   ep,
		Succeeded:  true,
		Latency:    now.Sub(started),
		ObservedAt: now,
	}
}
