package xdispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

const observerPoolCloseTimeout = 5 * time.Second

// Client is the Facade wiring a publisher, a dispatcher and a consumer
// around one broker. Build it with NewBuilder.
type Client struct {
	broker     Broker
	conv       *Converter
	registry   *Registry
	cache      *DedupCache
	publisher  *Publisher
	dispatcher *Dispatcher
	consumer   ConsumerConfig
	logger     *xlog.Logger
	hub        *hub
	pool       *ObserverPool
	metrics    *counters
	done       chan struct{} // closed by Close to stop running consumers
	closed     atomic.Bool
	closeOnce  sync.Once
}

// Send publishes payload to topic and waits for the broker acknowledgement.
func (c *Client) Send(ctx context.Context, topic string, payload any, opts ...SendOption) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}
	return c.publisher.Send(ctx, topic, payload, opts...)
}

// SendAsync publishes without waiting; the returned Pending resolves later.
func (c *Client) SendAsync(ctx context.Context, topic string, payload any, opts ...SendOption) *Pending {
	if c.closed.Load() {
		p := newPending()
		p.resolve(Result{}, ErrClosed)
		return p
	}
	return c.publisher.SendAsync(ctx, topic, payload, opts...)
}

// Dispatch routes one inbound record to its topic handler.
func (c *Client) Dispatch(ctx context.Context, rec *RawRecord) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.dispatcher.Dispatch(ctx, rec)
}

// Consume runs the poll/dispatch/commit loop until ctx is cancelled or the
// client is closed. Options override the configured consumer settings for
// this run only.
func (c *Client) Consume(ctx context.Context, opts ...ConsumerOption) error {
	if c.closed.Load() {
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-runCtx.Done():
		}
	}()

	all := append([]ConsumerOption{WithConsumerConfig(c.consumer)}, opts...)
	return NewConsumer(c.broker, c.dispatcher, all...).Run(runCtx)
}

// Registry returns the handler registry. Register with Handle.
func (c *Client) Registry() *Registry { return c.registry }

// Converter returns the converter shared by publisher and dispatcher.
func (c *Client) Converter() *Converter { return c.conv }

// GetMetrics returns current client counters.
func (c *Client) GetMetrics() Metrics {
	m := c.metrics.snapshot()
	m.EventsDropped = c.hub.dropped()
	if c.cache != nil {
		m.DedupEntries = c.cache.Len()
	}
	return m
}

// AddObserver registers an observer (thread-safe).
func (c *Client) AddObserver(obs Observer) { c.hub.add(obs) }

// RemoveObserver removes an observer.
func (c *Client) RemoveObserver(obs Observer) { c.hub.remove(obs) }

// Close stops accepting work, drains observers and closes the broker.
// It is idempotent.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		if c.cache != nil {
			c.cache.Close()
		}
		if c.pool != nil {
			if err := c.pool.Close(observerPoolCloseTimeout); err != nil {
				if c.logger != nil {
					c.logger.Warn().Err(err).Msg("xdispatch: observer pool shutdown timeout")
				}
				closeErr = err
			}
		}
		c.hub.closed.Store(true)

		if err := c.broker.Close(ctx); err != nil {
			if c.logger != nil {
				c.logger.Error().Err(err).Msg("xdispatch: broker close failed")
			}
			closeErr = err
		}
	})

	return closeErr
}
