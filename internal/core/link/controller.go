// Package link owns the connection state and decides which strategies run, when the
// device is re-discovered, and how a mode switch is confirmed.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"incubator-link/internal/device"
	"incubator-link/internal/discovery/probe"
	"incubator-link/internal/metrics"
)

// ErrDiscoveryInFlight is returned when a cycle is requested while another one runs.
var ErrDiscoveryInFlight = errors.New("discovery already in flight")

var ErrInvalidMode = errors.New("invalid mode")

type Discoverer interface {
	Discover(ctx context.Context, plan probe.Plan) (device.Endpoint, bool, error)
}

type Verifier interface {
	Verify(ctx context.Context, ep device.Endpoint) error
}

// ModeCommander tells the device at ep to change its Wi-Fi mode.
type ModeCommander interface {
	SetMode(ctx context.Context, ep device.Endpoint, mode device.Mode) error
}

// Store persists the last verified endpoint between runs.
type Store interface {
	Load() (device.Endpoint, bool, error)
	Save(ep device.Endpoint, mode device.Mode) error
}

type Config struct {
	FailureThreshold  int
	APEndpoint        device.Endpoint
	StepDeadline      time.Duration // single-strategy escalation steps and mode-switch checks
	DiscoveryDeadline time.Duration
}

type Deps struct {
	Strategies probe.Set
	Discoverer Discoverer
	Verifier   Verifier
	Store      Store
	Commander  ModeCommander // optional
	Observer   Observer
	Clock      clock.Clock
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

type Controller struct {
	cfg      Config
	set      probe.Set
	disc     Discoverer
	verifier Verifier
	store    Store
	cmd      ModeCommander
	obs      Observer
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	st        State
	lastKnown device.Endpoint
}

func New(cfg Config, d Deps) *Controller {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.APEndpoint.IsZero() {
		cfg.APEndpoint = device.Endpoint{Address: "192.168.4.1", Port: 80}
	}
	cfg.APEndpoint.Mode = device.ModeAccessPoint
	if cfg.StepDeadline <= 0 {
		cfg.StepDeadline = 5 * time.Second
	}
	if cfg.DiscoveryDeadline <= 0 {
		cfg.DiscoveryDeadline = 15 * time.Second
	}
	if d.Observer == nil {
		d.Observer = Observers(nil)
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		set:      d.Strategies,
		disc:     d.Discoverer,
		verifier: d.Verifier,
		store:    d.Store,
		cmd:      d.Commander,
		obs:      d.Observer,
		clock:    d.Clock,
		log:      d.Log.Named("link"),
		metrics:  d.Metrics,
		st:       State{Mode: device.ModeUnknown},
	}
}

// Restore reads the persisted endpoint once. It seeds the last-known strategy only;
// the current endpoint is set by verification alone.
func (c *Controller) Restore() error {
	if c.store == nil {
		return nil
	}
	ep, ok, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load last known endpoint: %w", err)
	}
	if ok {
		c.mu.Lock()
		c.lastKnown = ep
		c.mu.Unlock()
		c.log.Info("last known endpoint", zap.String("addr", ep.Key()), zap.String("mode", string(ep.Mode)))
	}
	return nil
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.clone()
}

// LastKnown returns the most recent verified or persisted endpoint.
func (c *Controller) LastKnown() (device.Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKnown, !c.lastKnown.IsZero()
}

// Plan returns the tiered strategy plan for mode.
func (c *Controller) Plan(mode device.Mode) probe.Plan {
	s := c.set
	switch mode {
	case device.ModeAccessPoint:
		return probe.Plan{Name: string(mode), Tiers: [][]probe.Strategy{
			probe.Tier(s.DirectAP, s.CommonGateway),
			probe.Tier(s.ServiceName, s.Broadcast, s.Sweep, s.NSD, s.LastKnown),
		}}
	case device.ModeStation:
		return probe.Plan{Name: string(mode), Tiers: [][]probe.Strategy{
			probe.Tier(s.ServiceName, s.Broadcast, s.Sweep, s.NSD),
			probe.Tier(s.LastKnown, s.CommonGateway, s.DirectAP),
		}}
	default:
		return probe.Single(string(device.ModeUnknown), s.All()...)
	}
}

// Discover runs one full discovery cycle with the plan for the current mode.
func (c *Controller) Discover(ctx context.Context) (device.Endpoint, bool, error) {
	mode, err := c.beginDiscovery()
	if err != nil {
		return device.Endpoint{}, false, err
	}
	defer c.endDiscovery()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryDeadline)
	defer cancel()
	ep, ok, err := c.disc.Discover(ctx, c.Plan(mode))
	c.finishCycle(ep, ok, err)
	return ep, ok, err
}

// RecordSuccess marks a passed health check of ep. Checks of a stale endpoint are ignored.
func (c *Controller) RecordSuccess(ep device.Endpoint) {
	c.mu.Lock()
	if c.st.Current == nil || !c.st.Current.Equal(ep) {
		c.mu.Unlock()
		return
	}
	c.st.ConsecutiveFailures = 0
	c.st.LastError = device.KindNone
	c.st.LastSuccessAt = c.clock.Now()
	c.st.Mode = c.st.Current.Mode
	c.mu.Unlock()

	c.metrics.SetFailures(0)
	c.metrics.SetConnected(true)
	c.obs.ConnectionStatusChanged(true, "ok")
}

// RecordFailure counts a failed health check of ep and reports whether the failure
// threshold has been reached and escalation should start.
func (c *Controller) RecordFailure(ep device.Endpoint, err error) bool {
	kind := device.KindOf(err)
	c.mu.Lock()
	if c.st.Current == nil || !c.st.Current.Equal(ep) {
		c.mu.Unlock()
		return false
	}
	c.st.ConsecutiveFailures++
	c.st.LastError = kind
	n := c.st.ConsecutiveFailures
	escalate := n >= c.cfg.FailureThreshold && !c.st.DiscoveryInFlight
	c.mu.Unlock()

	c.metrics.SetFailures(n)
	c.metrics.SetConnected(false)
	c.log.Warn("health check failed", zap.String("addr", ep.Key()), zap.Int("failures", n), zap.Error(err))
	c.obs.ConnectionStatusChanged(false, string(kind))
	return escalate
}

// Adopt installs ep as the current endpoint. ep must already be verified. Adopting the
// endpoint that is already current changes nothing and emits nothing.
func (c *Controller) Adopt(ep device.Endpoint) bool {
	return c.adopt(ep, false)
}

// RequestModeSwitch applies mode optimistically, sends the mode command to the current
// endpoint, then confirms the switch by verifying expected (the access-point default
// when switching to access point without an address). When that fails a discovery cycle
// with the new mode's plan runs. An unconfirmed switch restores the previous mode.
func (c *Controller) RequestModeSwitch(ctx context.Context, mode device.Mode, expected device.Endpoint) (device.Endpoint, bool, error) {
	if mode != device.ModeAccessPoint && mode != device.ModeStation {
		return device.Endpoint{}, false, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if expected.IsZero() && mode == device.ModeAccessPoint {
		expected = c.cfg.APEndpoint
	}

	c.mu.Lock()
	if c.st.DiscoveryInFlight {
		c.mu.Unlock()
		return device.Endpoint{}, false, ErrDiscoveryInFlight
	}
	prev := c.st.Mode
	var cur *device.Endpoint
	if c.st.Current != nil {
		ep := *c.st.Current
		cur = &ep
	}
	c.st.Mode = mode
	c.st.DiscoveryInFlight = true
	c.mu.Unlock()
	defer c.endDiscovery()

	c.log.Info("mode switch requested", zap.String("from", string(prev)), zap.String("to", string(mode)), zap.String("expected", expected.Key()))
	c.obs.ConnectionStatusChanged(false, "mode_switch:"+string(mode))

	if c.cmd != nil && cur != nil {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.StepDeadline)
		// the device may drop the connection while it reconfigures
		if err := c.cmd.SetMode(cctx, *cur, mode); err != nil {
			c.log.Warn("mode command not acknowledged", zap.String("addr", cur.Key()), zap.Error(err))
		}
		cancel()
	}

	if !expected.IsZero() {
		want := expected.WithMode(mode)
		vctx, cancel := context.WithTimeout(ctx, c.cfg.StepDeadline)
		err := c.verifier.Verify(vctx, want)
		cancel()
		if err == nil {
			c.adopt(want, true)
			c.obs.DiscoveryComplete()
			return want, true, nil
		}
		c.log.Info("expected endpoint did not verify", zap.String("addr", want.Key()), zap.Error(err))
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DiscoveryDeadline)
	defer cancel()
	ep, ok, err := c.disc.Discover(dctx, c.Plan(mode))
	if !ok {
		c.mu.Lock()
		c.st.Mode = prev
		c.mu.Unlock()
		c.log.Info("mode switch not confirmed", zap.String("mode", string(mode)), zap.String("restored", string(prev)))
	}
	c.finishCycle(ep, ok, err)
	return ep, ok, err
}

func (c *Controller) beginDiscovery() (device.Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.DiscoveryInFlight {
		return c.st.Mode, ErrDiscoveryInFlight
	}
	c.st.DiscoveryInFlight = true
	return c.st.Mode, nil
}

func (c *Controller) endDiscovery() {
	c.mu.Lock()
	c.st.DiscoveryInFlight = false
	c.mu.Unlock()
}

func (c *Controller) finishCycle(ep device.Endpoint, ok bool, err error) {
	switch {
	case ok:
		c.adopt(ep, true)
		c.obs.DiscoveryComplete()
	case err != nil:
		c.obs.DiscoveryFailed(string(device.KindOf(err)))
	default:
		c.obs.DiscoveryFailed(string(device.KindTimeout))
	}
}

// adopt installs a verified endpoint. announce forces DeviceFound even when the endpoint
// is unchanged; discovery cycles announce their winner exactly once.
func (c *Controller) adopt(ep device.Endpoint, announce bool) bool {
	switch {
	case ep.Equal(c.cfg.APEndpoint):
		// only the device's own network serves the AP address, whoever reported it
		ep.Mode = device.ModeAccessPoint
	case ep.Mode == device.ModeUnknown:
		ep.Mode = device.ModeStation
	}

	c.mu.Lock()
	changed := c.st.Current == nil || !c.st.Current.Equal(ep) || c.st.Mode != ep.Mode
	wasDown := c.st.ConsecutiveFailures > 0 || c.st.LastError != device.KindNone
	if !changed && !announce && !wasDown {
		c.mu.Unlock()
		return false
	}
	cur := ep
	c.st.Current = &cur
	c.st.Mode = ep.Mode
	c.st.ConsecutiveFailures = 0
	c.st.LastError = device.KindNone
	c.st.LastSuccessAt = c.clock.Now()
	c.lastKnown = ep
	c.mu.Unlock()

	if changed && c.store != nil {
		if err := c.store.Save(ep, ep.Mode); err != nil {
			c.log.Warn("persist endpoint failed", zap.String("addr", ep.Key()), zap.Error(err))
		}
	}
	c.metrics.SetFailures(0)
	c.metrics.SetConnected(true)
	if changed || announce {
		c.obs.DeviceFound(ep)
	}
	c.obs.ConnectionStatusChanged(true, "connected:"+string(ep.Mode))
	return changed
}
