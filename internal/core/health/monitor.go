// Package health periodically re-verifies the current endpoint and hands failures to
// the link controller.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"incubator-link/internal/core/link"
	"incubator-link/internal/device"
	"incubator-link/internal/metrics"
)

type Controller interface {
	Snapshot() link.State
	Discover(ctx context.Context) (device.Endpoint, bool, error)
	Escalate(ctx context.Context) (device.Endpoint, bool, error)
	RecordSuccess(ep device.Endpoint)
	RecordFailure(ep device.Endpoint, err error) bool
}

type Verifier interface {
	Verify(ctx context.Context, ep device.Endpoint) error
}

type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeDiscovery  Outcome = "discovery"
	OutcomeOK         Outcome = "ok"
	OutcomeFailed     Outcome = "failed"
	OutcomeEscalating Outcome = "escalating"
)

type Monitor struct {
	ctrl     Controller
	verifier Verifier
	period   time.Duration
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

func New(ctrl Controller, v Verifier, period time.Duration, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *Monitor {
	if period <= 0 {
		period = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{ctrl: ctrl, verifier: v, period: period, clock: clk, log: log.Named("health"), metrics: m}
}

// Run ticks immediately and then every period until ctx ends, then waits for any
// discovery or escalation it started.
func (m *Monitor) Run(ctx context.Context) error {
	t := m.clock.Ticker(m.period)
	defer t.Stop()
	defer m.wg.Wait()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one health check. Discovery and escalation are started in the background.
func (m *Monitor) Tick(ctx context.Context) Outcome {
	out := m.tick(ctx)
	m.metrics.HealthTick(string(out))
	return out
}

func (m *Monitor) tick(ctx context.Context) Outcome {
	st := m.ctrl.Snapshot()
	if st.DiscoveryInFlight {
		return OutcomeSkipped
	}
	if st.Current == nil {
		m.background(ctx, "discovery", m.ctrl.Discover)
		return OutcomeDiscovery
	}

	ep := *st.Current
	err := m.verifier.Verify(ctx, ep)
	if err == nil {
		m.ctrl.RecordSuccess(ep)
		return OutcomeOK
	}
	if ctx.Err() != nil {
		return OutcomeSkipped
	}
	if m.ctrl.RecordFailure(ep, err) {
		m.background(ctx, "escalation", m.ctrl.Escalate)
		return OutcomeEscalating
	}
	return OutcomeFailed
}

func (m *Monitor) background(ctx context.Context, what string, fn func(context.Context) (device.Endpoint, bool, error)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ep, ok, err := fn(ctx)
		switch {
		case errors.Is(err, link.ErrDiscoveryInFlight), errors.Is(err, context.Canceled):
		case err != nil:
			m.log.Warn(what+" failed", zap.Error(err))
		case ok:
			m.log.Debug(what+" found device", zap.String("addr", ep.Key()))
		default:
			m.log.Debug(what + " found nothing")
		}
	}()
}

// Wait blocks until background work started by Tick has returned.
func (m *Monitor) Wait() { m.wg.Wait() }
