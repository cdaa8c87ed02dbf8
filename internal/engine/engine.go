// Package engine assembles the discovery and connection-resilience components from a
// config and exposes the operations the daemon and CLI need.
package engine

import (
	"context"
	"fmt"
	"net"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"incubator-link/internal/config"
	"incubator-link/internal/core/health"
	"incubator-link/internal/core/link"
	"incubator-link/internal/core/status"
	"incubator-link/internal/device"
	"incubator-link/internal/device/httpapi"
	"incubator-link/internal/discovery"
	"incubator-link/internal/discovery/probe"
	"incubator-link/internal/metrics"
	"incubator-link/internal/verify"
	"incubator-link/internal/version"
)

type Options struct {
	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock

	// Store persists the last verified endpoint. Optional.
	Store link.Store
	// Observers receive engine events in addition to the status store and the log.
	Observers []link.Observer

	// Client overrides the device HTTP client.
	Client *httpapi.Client
	// Strategies adjusts the strategy set built from the config.
	Strategies func(defaults probe.Set) probe.Set
	// NetworkCheck overrides the local-interface check run before each discovery cycle.
	NetworkCheck func() error
}

type Engine struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	client   *httpapi.Client
	verifier *verify.Verifier
	orch     *discovery.Orchestrator
	ctrl     *link.Controller
	monitor  *health.Monitor
	status   *status.Store
}

func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	e := &Engine{cfg: cfg, log: log, metrics: m, status: status.NewStore(clk)}

	e.client = opts.Client
	if e.client == nil {
		e.client = httpapi.New(httpapi.Config{
			RequestTimeout: cfg.Device.RequestTimeout,
			UserAgent:      version.UserAgent(),
		})
	}
	e.verifier = verify.New(e.client, verify.Config{LayerTimeout: cfg.Verify.LayerTimeout}, log, m)

	var orchOpts []discovery.Option
	if opts.NetworkCheck != nil {
		orchOpts = append(orchOpts, discovery.WithNetworkCheck(opts.NetworkCheck))
	}
	e.orch = discovery.New(e.verifier, discovery.Config{
		Deadline:      cfg.Discovery.Deadline,
		FallbackDelay: cfg.Discovery.FallbackDelay,
	}, log, m, orchOpts...)

	set := e.buildStrategies()
	if opts.Strategies != nil {
		set = opts.Strategies(set)
	}

	obs := link.Observers{e.status, link.NewLogObserver(log)}
	obs = append(obs, opts.Observers...)

	ap := device.Endpoint{Address: cfg.Device.APAddress, Port: cfg.Device.Port, Mode: device.ModeAccessPoint}
	e.ctrl = link.New(link.Config{
		FailureThreshold:  cfg.Health.FailureThreshold,
		APEndpoint:        ap,
		StepDeadline:      cfg.Discovery.StepDeadline,
		DiscoveryDeadline: cfg.Discovery.Deadline,
	}, link.Deps{
		Strategies: set,
		Discoverer: e.orch,
		Verifier:   e.verifier,
		Store:      opts.Store,
		Commander:  e.client,
		Observer:   obs,
		Clock:      clk,
		Log:        log,
		Metrics:    m,
	})
	if err := e.ctrl.Restore(); err != nil {
		return nil, err
	}
	e.monitor = health.New(e.ctrl, e.verifier, cfg.Health.Period, clk, log, m)
	return e, nil
}

func (e *Engine) buildStrategies() probe.Set {
	cfg := e.cfg
	disabled := map[string]bool{}
	for _, id := range cfg.Discovery.Disabled {
		disabled[id] = true
	}
	on := func(id device.StrategyID) bool { return !disabled[string(id)] }

	var s probe.Set
	if on(device.StrategyDirectIP) {
		s.DirectAP = probe.NewDirectIP(device.Endpoint{Address: cfg.Device.APAddress, Port: cfg.Device.Port, Mode: device.ModeAccessPoint}, e.client)
		s.LastKnown = probe.NewDirectIPFunc(e.lastKnown, e.client)
	}
	if on(device.StrategyCommonGateway) {
		s.CommonGateway = probe.NewCommonGateway(probe.CommonGatewayConfig{
			Addresses:             cfg.Device.CommonAddresses,
			APAddress:             cfg.Device.APAddress,
			Port:                  cfg.Device.Port,
			RatePerSec:            cfg.Discovery.GatewayRate,
			Concurrency:           cfg.Discovery.GatewayConcurrency,
			IncludeDefaultGateway: cfg.Discovery.IncludeDefaultGateway,
		}, e.client)
	}
	if on(device.StrategyServiceName) {
		s.ServiceName = probe.NewServiceName(cfg.Device.Hostnames, cfg.Device.Port, probe.NewMDNSResolver(cfg.Device.RequestTimeout), e.client)
	}
	if on(device.StrategyBroadcast) {
		s.Broadcast = probe.NewBroadcast(probe.BroadcastConfig{
			Port:          cfg.Broadcast.Port,
			Request:       cfg.Broadcast.Request,
			ReplyMarker:   cfg.Broadcast.ReplyMarker,
			ListenTimeout: cfg.Broadcast.ListenTimeout,
			HTTPPort:      cfg.Device.Port,
		}, nil, nil)
	}
	if on(device.StrategySubnetSweep) {
		s.Sweep = probe.NewSubnetSweep(probe.SweepConfig{
			Port:       cfg.Device.Port,
			Priority:   cfg.Discovery.SweepPriority,
			RatePerSec: cfg.Discovery.SweepRate,
		}, e.client)
	}
	if on(device.StrategyNSD) {
		s.NSD = probe.NewNSD(cfg.Device.NSDService, cfg.Device.NSDFilter, nil)
	}
	return s
}

// lastKnown is evaluated per dispatch so a fresh adoption is probed on the next cycle.
func (e *Engine) lastKnown() (device.Endpoint, bool) {
	return e.ctrl.LastKnown()
}

// Run drives the health monitor until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started", zap.String("version", version.String()))
	defer e.log.Info("engine stopped")
	return e.monitor.Run(ctx)
}

func (e *Engine) Discover(ctx context.Context) (device.Endpoint, bool, error) {
	return e.ctrl.Discover(ctx)
}

// Verify runs the verification chain against ep and adopts it when it passes.
func (e *Engine) Verify(ctx context.Context, ep device.Endpoint) error {
	if err := e.verifier.Verify(ctx, ep); err != nil {
		return err
	}
	e.ctrl.Adopt(ep)
	return nil
}

// SwitchMode asks the device to change mode and confirms the change. The device command
// is sent only once the controller has claimed the discovery slot.
func (e *Engine) SwitchMode(ctx context.Context, mode device.Mode, target device.Endpoint) (device.Endpoint, bool, error) {
	return e.ctrl.RequestModeSwitch(ctx, mode, target)
}

// DeviceStatus reads the live status document from the current endpoint.
func (e *Engine) DeviceStatus(ctx context.Context) (httpapi.Status, error) {
	st := e.ctrl.Snapshot()
	if st.Current == nil {
		return httpapi.Status{}, device.ErrUnreachable
	}
	return e.client.Status(ctx, *st.Current)
}

func (e *Engine) State() link.State         { return e.ctrl.Snapshot() }
func (e *Engine) Status() *status.Store     { return e.status }
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// ParseTarget turns "host" or "host:port" into an endpoint on the configured device port.
func (e *Engine) ParseTarget(s string, mode device.Mode) (device.Endpoint, error) {
	if s == "" {
		return device.Endpoint{}, nil
	}
	host, port := s, e.cfg.Device.Port
	if h, p, err := net.SplitHostPort(s); err == nil {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || n <= 0 || n > 65535 {
			return device.Endpoint{}, fmt.Errorf("bad port in %q", s)
		}
		host, port = h, n
	}
	if host == "" {
		return device.Endpoint{}, fmt.Errorf("empty host in %q", s)
	}
	return device.Endpoint{Address: host, Port: port, Mode: mode}, nil
}
