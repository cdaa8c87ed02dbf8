package link

import (
	"go.uber.org/zap"

	"incubator-link/internal/device"
)

// Observer receives engine events. Implementations must not block.
type Observer interface {
	DeviceFound(ep device.Endpoint)
	ConnectionStatusChanged(connected bool, reason string)
	DiscoveryComplete()
	DiscoveryFailed(reason string)
}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) DeviceFound(ep device.Endpoint) {
	for _, x := range o {
		x.DeviceFound(ep)
	}
}

func (o Observers) ConnectionStatusChanged(connected bool, reason string) {
	for _, x := range o {
		x.ConnectionStatusChanged(connected, reason)
	}
}

func (o Observers) DiscoveryComplete() {
	for _, x := range o {
		x.DiscoveryComplete()
	}
}

func (o Observers) DiscoveryFailed(reason string) {
	for _, x := range o {
		x.DiscoveryFailed(reason)
	}
}

// LogObserver writes every event to a zap logger.
type LogObserver struct {
	log *zap.Logger
}

func NewLogObserver(log *zap.Logger) *LogObserver {
	return &LogObserver{log: log.Named("events")}
}

func (l *LogObserver) DeviceFound(ep device.Endpoint) {
	l.log.Info("device found", zap.String("addr", ep.Key()), zap.String("mode", string(ep.Mode)))
}

func (l *LogObserver) ConnectionStatusChanged(connected bool, reason string) {
	if connected {
		l.log.Info("connection up", zap.String("reason", reason))
		return
	}
	l.log.Warn("connection down", zap.String("reason", reason))
}

func (l *LogObserver) DiscoveryComplete() { l.log.Info("discovery complete") }

func (l *LogObserver) DiscoveryFailed(reason string) {
	l.log.Warn("discovery failed", zap.String("reason", reason))
}
