// Package verify confirms that a candidate endpoint is the incubator and not some other
// host that happens to answer HTTP.
package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"incubator-link/internal/device"
	"incubator-link/internal/device/httpapi"
	"incubator-link/internal/metrics"
)

// Client is the subset of the device HTTP API the verifier needs.
type Client interface {
	Status(ctx context.Context, ep device.Endpoint) (httpapi.Status, error)
	Ping(ctx context.Context, ep device.Endpoint) error
	Identify(ctx context.Context, ep device.Endpoint) error
}

type Config struct {
	LayerTimeout time.Duration
}

type layer struct {
	name string
	run  func(ctx context.Context, ep device.Endpoint) error
}

type Verifier struct {
	cfg     Config
	layers  []layer
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(c Client, cfg Config, log *zap.Logger, m *metrics.Metrics) *Verifier {
	if cfg.LayerTimeout <= 0 {
		cfg.LayerTimeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		cfg: cfg,
		layers: []layer{
			{name: "capability", run: func(ctx context.Context, ep device.Endpoint) error {
				_, err := c.Status(ctx, ep)
				return err
			}},
			{name: "liveness", run: c.Ping},
			{name: "identity", run: c.Identify},
		},
		log:     log.Named("verify"),
		metrics: m,
	}
}

// Verify runs the capability, liveness and identity layers in order and stops at the
// first one that passes. The returned error wraps device.ErrNotTargetDevice when some
// layer reached a server, device.ErrUnreachable when none did, and device.ErrTimeout
// when ctx ended first. A host that accepts the connection and then hangs past the layer
// timeout counts as reached: it is up, just not answering like the incubator.
func (v *Verifier) Verify(ctx context.Context, ep device.Endpoint) error {
	var errs error
	reached := false
	for _, l := range v.layers {
		lctx, cancel := context.WithTimeout(ctx, v.cfg.LayerTimeout)
		err := l.run(lctx, ep)
		cancel()
		if err == nil {
			v.log.Debug("verified", zap.String("addr", ep.Key()), zap.String("layer", l.name))
			v.metrics.Verification("ok")
			return nil
		}
		if ctx.Err() != nil {
			v.metrics.Verification(string(device.KindTimeout))
			return fmt.Errorf("verify %s: %w", ep.Key(), device.ErrTimeout)
		}
		if httpapi.Reached(err) {
			reached = true
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", l.name, err))
	}

	kind := device.ErrUnreachable
	if reached {
		kind = device.ErrNotTargetDevice
	}
	v.metrics.Verification(string(device.KindOf(kind)))
	v.log.Debug("verification failed", zap.String("addr", ep.Key()), zap.Error(errs))
	return fmt.Errorf("verify %s: %w: %w", ep.Key(), kind, errs)
}
