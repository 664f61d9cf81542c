package xdispatch

import (
	"context"
	"time"
)

// Sender is the publishing half of a broker client.
type Sender interface {
	// SendRecord blocks until the broker acknowledges rec or ctx ends.
	SendRecord(ctx context.Context, rec *OutboundRecord) (Ack, error)
	// SendRecordAsync must return immediately and invoke done exactly once.
	SendRecordAsync(ctx context.Context, rec *OutboundRecord, done func(Ack, error))
}

// Poller is the consuming half of a broker client.
type Poller interface {
	// Poll returns up to max records, blocking until at least one is
	// available or ctx ends. An expired ctx yields (nil, nil).
	Poll(ctx context.Context, max int) ([]*RawRecord, error)
	// Commit marks records as processed so they are not redelivered.
	Commit(ctx context.Context, recs ...*RawRecord) error
}

// Broker is the Strategy interface for broker clients.
type Broker interface {
	Sender
	Poller
	Close(ctx context.Context) error
}

// Codec is the Strategy for encoding/decoding payloads on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Observer receives lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// Clock is the time source. xclock.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

// Invoker runs a decoded payload through a handler.
type Invoker func(ctx context.Context, payload any, headers Headers) error

// Middleware composes processing concerns around handler invocation.
type Middleware func(next Invoker) Invoker

// API represents the complete xdispatch client surface.
type API interface {
	Send(ctx context.Context, topic string, payload any, opts ...SendOption) (Result, error)
	SendAsync(ctx context.Context, topic string, payload any, opts ...SendOption) *Pending
	Dispatch(ctx context.Context, rec *RawRecord) error
	Consume(ctx context.Context, opts ...ConsumerOption) error
	Registry() *Registry
	GetMetrics() Metrics
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	Close(ctx context.Context) error
}

var _ API = (*Client)(nil)
