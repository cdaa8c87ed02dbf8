// Package discovery runs probe strategies concurrently and returns the first candidate
// that passes verification.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"incubator-link/internal/device"
	"incubator-link/internal/discovery/probe"
	"incubator-link/internal/metrics"
	"incubator-link/internal/netutil"
)

type Verifier interface {
	Verify(ctx context.Context, ep device.Endpoint) error
}

type Config struct {
	Deadline      time.Duration // applied when ctx carries none
	FallbackDelay time.Duration // wait before launching the next tier
}

type Option func(*Orchestrator)

// WithNetworkCheck replaces the local-interface check run before every cycle.
func WithNetworkCheck(fn func() error) Option {
	return func(o *Orchestrator) { o.netCheck = fn }
}

// WithDispatchHook observes every strategy launch, in launch order.
func WithDispatchHook(fn func(tier int, id device.StrategyID)) Option {
	return func(o *Orchestrator) { o.onDispatch = fn }
}

type Orchestrator struct {
	cfg      Config
	verifier Verifier
	log      *zap.Logger
	metrics  *metrics.Metrics

	netCheck   func() error
	onDispatch func(tier int, id device.StrategyID)
}

func New(v Verifier, cfg Config, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 15 * time.Second
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		verifier: v,
		log:      log.Named("discovery"),
		metrics:  m,
		netCheck: func() error {
			_, _, err := netutil.LocalIPv4()
			return err
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type verdict struct {
	ep  device.Endpoint
	err error
}

// Discover runs plan until one candidate verifies, every strategy and verification has
// finished, or the deadline passes. Finding nothing is reported as (zero, false, nil).
// device.ErrNoNetwork is returned, without launching anything, when no usable local
// interface exists.
func (o *Orchestrator) Discover(ctx context.Context, plan probe.Plan) (device.Endpoint, bool, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}
	if o.netCheck != nil {
		if err := o.netCheck(); err != nil {
			o.metrics.Discovery(string(device.KindNoNetwork))
			return device.Endpoint{}, false, fmt.Errorf("discover: %w: %v", device.ErrNoNetwork, err)
		}
	}

	cycle := uuid.NewString()
	log := o.log.With(zap.String("cycle", cycle), zap.String("plan", plan.Name))
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	results := make(chan device.ProbeResult)
	finished := make(chan struct{})
	verdicts := make(chan verdict)
	seen := map[string]bool{}
	pending := 0

	launch := func(tier int) {
		for _, s := range plan.Tiers[tier] {
			if s == nil {
				continue
			}
			if o.onDispatch != nil {
				o.onDispatch(tier, s.ID())
			}
			o.metrics.ProbeDispatched(string(s.ID()))
			pending++
			wg.Add(1)
			go func(s probe.Strategy) {
				defer wg.Done()
				s.Probe(ctx, results)
				select {
				case finished <- struct{}{}:
				case <-ctx.Done():
				}
			}(s)
		}
	}

	next := 0
	var fallback <-chan time.Time
	var timer *time.Timer
	advance := func() {
		launch(next)
		next++
		if next < len(plan.Tiers) {
			if timer == nil {
				timer = time.NewTimer(o.cfg.FallbackDelay)
			} else {
				timer.Reset(o.cfg.FallbackDelay)
			}
			fallback = timer.C
		} else {
			fallback = nil
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	log.Debug("discovery started", zap.Int("strategies", plan.Len()))
	for {
		if pending == 0 {
			if next >= len(plan.Tiers) {
				break
			}
			advance()
			continue
		}
		select {
		case <-ctx.Done():
			err := ctx.Err()
			log.Info("discovery ended without a device", zap.Duration("took", time.Since(started)), zap.Error(err))
			if errors.Is(err, context.Canceled) {
				o.metrics.Discovery("canceled")
				return device.Endpoint{}, false, err
			}
			o.metrics.Discovery("none")
			return device.Endpoint{}, false, nil
		case <-fallback:
			advance()
		case <-finished:
			pending--
		case r := <-results:
			o.metrics.ProbeResult(string(r.Strategy))
			if !r.Succeeded || seen[r.Endpoint.Key()] {
				continue
			}
			seen[r.Endpoint.Key()] = true
			log.Debug("candidate", zap.String("strategy", string(r.Strategy)), zap.String("addr", r.Endpoint.Key()), zap.Duration("latency", r.Latency))
			pending++
			wg.Add(1)
			go func(ep device.Endpoint) {
				defer wg.Done()
				err := o.verifier.Verify(ctx, ep)
				select {
				case verdicts <- verdict{ep: ep, err: err}:
				case <-ctx.Done():
				}
			}(r.Endpoint)
		case v := <-verdicts:
			pending--
			if v.err != nil {
				log.Debug("candidate rejected", zap.String("addr", v.ep.Key()), zap.Error(v.err))
				continue
			}
			log.Info("device found", zap.String("addr", v.ep.Key()), zap.String("mode", string(v.ep.Mode)), zap.Duration("took", time.Since(started)))
			o.metrics.Discovery("found")
			return v.ep, true, nil
		}
	}

	log.Info("discovery exhausted every strategy", zap.Duration("took", time.Since(started)))
	o.metrics.Discovery("none")
	return device.Endpoint{}, false, nil
}
