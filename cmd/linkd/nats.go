package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"incubator-link/internal/bus/natsjs"
	"incubator-link/internal/config"
	"incubator-link/internal/engine"
	"incubator-link/internal/events"
)

const commandConsumer = "linkd-commands"

// natsLink keeps the optional broker connection: it retries until connected, then
// publishes engine events and serves mode-switch commands. The engine runs without it.
type natsLink struct {
	cfg      config.NATS
	log      *zap.Logger
	schema   *events.Schema
	pub      *events.Publisher
	engine   *engine.Engine
	embedded bool

	mu      sync.RWMutex
	client  *natsjs.Client
	lastErr string
}

type natsStatus struct {
	Enabled   bool   `json:"enabled"`
	Embedded  bool   `json:"embedded"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (n *natsLink) status() natsStatus {
	if n == nil {
		return natsStatus{}
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return natsStatus{
		Enabled:   n.cfg.Enabled,
		Embedded:  n.embedded,
		Connected: n.client != nil && n.client.Connected(),
		Error:     n.lastErr,
	}
}

func (n *natsLink) fail(err error) {
	n.mu.Lock()
	n.lastErr = err.Error()
	n.mu.Unlock()
	n.log.Debug("nats unavailable", zap.Error(err))
}

func (n *natsLink) connect() (*natsjs.Client, error) {
	c, err := natsjs.Connect(natsjs.Config{
		URL:     n.cfg.URL,
		Prefix:  n.cfg.Prefix,
		Timeout: n.cfg.Timeout,
		Name:    eventSource,
	})
	if err != nil {
		return nil, err
	}
	if err := c.EnsureStreams(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// run blocks until ctx ends. Once connected, nats.go handles reconnects itself.
func (n *natsLink) run(ctx context.Context) {
	var c *natsjs.Client
	for c == nil {
		var err error
		if c, err = n.connect(); err != nil {
			n.fail(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
	n.mu.Lock()
	n.client = c
	n.lastErr = ""
	n.mu.Unlock()
	n.log.Info("connected", zap.String("url", n.cfg.URL), zap.String("prefix", n.cfg.Prefix))

	n.pub.Attach(c)
	defer func() {
		n.pub.Attach(nil)
		n.mu.Lock()
		n.client = nil
		n.mu.Unlock()
		_ = c.Close()
	}()

	consumer, err := c.NewPullConsumer(commandConsumer, events.CommandModeSwitch, 16)
	if err != nil {
		n.fail(err)
		<-ctx.Done()
		return
	}
	if err := n.engine.ServeCommands(ctx, consumer, n.schema); err != nil {
		n.fail(err)
	}
}
