package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"incubator-link/internal/bus"
	"incubator-link/internal/core/link"
	"incubator-link/internal/events"
)

const (
	commandBatch = 8
	commandWait  = 2 * time.Second
)

// ServeCommands pulls mode-switch commands from consumer and applies them one at a
// time until ctx ends. Undecodable commands are terminated so they are never redelivered.
func (e *Engine) ServeCommands(ctx context.Context, consumer bus.PullConsumer, schema *events.Schema) error {
	log := e.log.Named("commands")
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := consumer.Fetch(ctx, commandBatch, commandWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("fetch commands", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(commandWait):
			}
			continue
		}
		for _, m := range msgs {
			e.handleCommand(ctx, log, m, schema)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, log *zap.Logger, m bus.Message, schema *events.Schema) {
	cmd, err := events.DecodeModeSwitch(schema, m.Data())
	if err != nil {
		log.Warn("dropping bad command", zap.Error(err))
		_ = m.Term()
		return
	}
	ep, ok, err := e.SwitchMode(ctx, cmd.Mode, cmd.Target)
	if errors.Is(err, link.ErrDiscoveryInFlight) {
		// redelivered once the running cycle has finished
		log.Info("mode switch deferred, discovery in flight", zap.String("mode", string(cmd.Mode)))
		_ = m.Nak()
		return
	}
	if aerr := m.Ack(); aerr != nil {
		log.Warn("ack command", zap.Error(aerr))
	}
	switch {
	case err != nil:
		log.Warn("mode switch failed", zap.String("mode", string(cmd.Mode)), zap.Error(err))
	case !ok:
		log.Warn("device not found after mode switch", zap.String("mode", string(cmd.Mode)))
	default:
		log.Info("mode switch confirmed", zap.String("addr", ep.Key()), zap.String("mode", string(ep.Mode)))
	}
}
