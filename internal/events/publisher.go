package events

import (
	"context"
	"sync"
	"time"

	"github.com/jhump/protoreflect/dynamic"
	"go.uber.org/zap"

	"incubator-link/internal/bus"
	"incubator-link/internal/device"
)

type outgoing struct {
	subject string
	env     *dynamic.Message
}

// Publisher turns engine events into envelopes and publishes them on the bus. Event
// methods never block: envelopes are queued and dropped when the queue is full or no
// bus is attached.
type Publisher struct {
	schema *Schema
	source string
	log    *zap.Logger
	queue  chan outgoing

	mu     sync.RWMutex
	target bus.Publisher
}

func NewPublisher(schema *Schema, source string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		schema: schema,
		source: source,
		log:    log.Named("publisher"),
		queue:  make(chan outgoing, 64),
	}
}

// Attach sets the bus to publish to; nil detaches.
func (p *Publisher) Attach(target bus.Publisher) {
	p.mu.Lock()
	p.target = target
	p.mu.Unlock()
}

// Run publishes queued envelopes until ctx ends.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-p.queue:
			p.mu.RLock()
			t := p.target
			p.mu.RUnlock()
			if t == nil {
				continue
			}
			b, err := Marshal(o.env)
			if err != nil {
				p.log.Warn("marshal envelope", zap.String("subject", o.subject), zap.Error(err))
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := t.Publish(pctx, o.subject, b); err != nil {
				p.log.Debug("publish failed", zap.String("subject", o.subject), zap.Error(err))
			}
			cancel()
		}
	}
}

func (p *Publisher) enqueue(subject, field string, payload *dynamic.Message) {
	env := p.schema.NewEnvelope(subject, p.source)
	env.SetFieldByName(field, payload)
	select {
	case p.queue <- outgoing{subject: subject, env: env}:
	default:
		p.log.Debug("event dropped", zap.String("subject", subject))
	}
}

func (p *Publisher) DeviceFound(ep device.Endpoint) {
	m := dynamic.NewMessage(p.schema.DeviceFound)
	m.SetFieldByName("address", ep.Address)
	m.SetFieldByName("port", int32(ep.Port))
	m.SetFieldByName("mode", string(ep.Mode))
	p.enqueue(DeviceFound, "device_found", m)
}

func (p *Publisher) ConnectionStatusChanged(connected bool, reason string) {
	m := dynamic.NewMessage(p.schema.ConnectionStatus)
	m.SetFieldByName("connected", connected)
	m.SetFieldByName("reason", reason)
	p.enqueue(ConnectionStatus, "connection_status", m)
}

func (p *Publisher) DiscoveryComplete() {
	m := dynamic.NewMessage(p.schema.DiscoveryFinished)
	m.SetFieldByName("found", true)
	p.enqueue(DiscoveryFinished, "discovery_finished", m)
}

func (p *Publisher) DiscoveryFailed(reason string) {
	m := dynamic.NewMessage(p.schema.DiscoveryFinished)
	m.SetFieldByName("found", false)
	m.SetFieldByName("reason", reason)
	p.enqueue(DiscoveryFinished, "discovery_finished", m)
}
