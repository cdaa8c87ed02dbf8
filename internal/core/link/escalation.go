package link

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"incubator-link/internal/device"
	"incubator-link/internal/discovery/probe"
)

type escalationStep struct {
	name     string
	plan     probe.Plan
	deadline time.Duration
}

// steps lists the recovery ladder: re-resolve the hostname, then try the access-point
// default, then run full discovery.
func (c *Controller) steps(mode device.Mode) []escalationStep {
	return []escalationStep{
		{name: "service_name", plan: probe.Single("escalate:service_name", c.set.ServiceName), deadline: c.cfg.StepDeadline},
		{name: "direct_ap", plan: probe.Single("escalate:direct_ap", c.set.DirectAP), deadline: c.cfg.StepDeadline},
		{name: "full", plan: c.Plan(mode), deadline: c.cfg.DiscoveryDeadline},
	}
}

// Escalate walks the recovery ladder until a step yields a verified endpoint. It counts
// as one discovery cycle.
func (c *Controller) Escalate(ctx context.Context) (device.Endpoint, bool, error) {
	mode, err := c.beginDiscovery()
	if err != nil {
		return device.Endpoint{}, false, err
	}
	defer c.endDiscovery()

	var lastErr error
	for _, s := range c.steps(mode) {
		if s.plan.Len() == 0 {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, s.deadline)
		ep, ok, err := c.disc.Discover(sctx, s.plan)
		cancel()
		if ok {
			c.log.Info("escalation recovered", zap.String("step", s.name), zap.String("addr", ep.Key()))
			c.finishCycle(ep, true, nil)
			return ep, true, nil
		}
		c.log.Debug("escalation step failed", zap.String("step", s.name), zap.Error(err))
		if err != nil {
			lastErr = err
			if errors.Is(err, device.ErrNoNetwork) || ctx.Err() != nil {
				break
			}
		}
	}
	c.finishCycle(device.Endpoint{}, false, lastErr)
	return device.Endpoint{}, false, lastErr
}
