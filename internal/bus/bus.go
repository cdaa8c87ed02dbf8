// Package bus abstracts the message broker the engine publishes events to and reads
// commands from.
package bus

import (
	"context"
	"time"
)

type Publisher interface {
	// Publish sends data on subject; the implementation adds its deployment prefix.
	Publish(ctx context.Context, subject string, data []byte) error
}

type PullConsumer interface {
	// Fetch blocks up to wait, returning up to batch messages. An empty result is not an error.
	Fetch(ctx context.Context, batch int, wait time.Duration) ([]Message, error)
}

type Message interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}
