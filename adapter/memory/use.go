package memory

import (
	"github.com/trickstertwo/xdispatch"
	"github.com/trickstertwo/xlog"
)

// Build creates a Client over a fresh in-memory broker and returns both, so
// tests can inspect what was sent.
//
// Example:
//
//	client, broker, err := memory.Build(memory.Config{},
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
func Build(cfg Config, opts ...Option) (*xdispatch.Client, *Broker, error) {
	br := NewBroker(cfg)
	b := xdispatch.NewBuilder().WithBrokerInstance(br)
	if cfg.Clock != nil {
		b.WithClock(cfg.Clock)
	}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	client, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return client, br, nil
}

// Option configures the xdispatch.Builder when calling Build.
type Option func(*xdispatch.Builder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xdispatch.Builder) { b.WithLogger(l) }
}

// WithCodec selects a codec by name (default: "json").
func WithCodec(name string) Option {
	return func(b *xdispatch.Builder) { b.WithCodec(name) }
}

// WithTypes shares a prepared type table.
func WithTypes(t *xdispatch.Types) Option {
	return func(b *xdispatch.Builder) { b.WithTypes(t) }
}

// WithMiddleware adds handler middlewares (timeout, etc).
func WithMiddleware(mw ...xdispatch.Middleware) Option {
	return func(b *xdispatch.Builder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xdispatch.Observer) Option {
	return func(b *xdispatch.Builder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xdispatch.Builder) { b.WithObserverPool(workers, bufferSize) }
}

// WithConfig applies a full client configuration.
func WithConfig(cfg xdispatch.Config) Option {
	return func(b *xdispatch.Builder) { b.WithConfig(cfg) }
}
