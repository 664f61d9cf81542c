package redisstream

import (
	"github.com/trickstertwo/xdispatch"
	"github.com/trickstertwo/xlog"
)

// Option configures the xdispatch.Builder when calling Build.
type Option func(*xdispatch.Builder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xdispatch.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom clock.
func WithClock(c xdispatch.Clock) Option {
	return func(b *xdispatch.Builder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: json).
func WithCodec(name string) Option {
	return func(b *xdispatch.Builder) { b.WithCodec(name) }
}

// WithTypes shares a prepared type table.
func WithTypes(t *xdispatch.Types) Option {
	return func(b *xdispatch.Builder) { b.WithTypes(t) }
}

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...xdispatch.Middleware) Option {
	return func(b *xdispatch.Builder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xdispatch.Observer) Option {
	return func(b *xdispatch.Builder) { b.WithObserver(obs...) }
}

// WithConfig applies a full client configuration (dedup, consumer, codec).
func WithConfig(cfg xdispatch.Config) Option {
	return func(b *xdispatch.Builder) { b.WithConfig(cfg) }
}
