package xdispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trickstertwo/xlog"
)

// ConsumerMode selects how many records one poll may return.
type ConsumerMode string

const (
	ModeSingle ConsumerMode = "single"
	ModeBatch  ConsumerMode = "batch"
)

const (
	DefaultBatchSize   = 100
	DefaultPollTimeout = time.Second
)

// ConsumerConfig controls the poll/dispatch/commit loop.
type ConsumerConfig struct {
	Mode        ConsumerMode  `yaml:"mode" toml:"mode"`
	BatchSize   int           `yaml:"batch_size" toml:"batch_size"`
	PollTimeout time.Duration `yaml:"-" toml:"-"`

	PollTimeoutRaw string `yaml:"poll_timeout" toml:"poll_timeout"`
}

// DefaultConsumerConfig returns single-record mode with a one second poll.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Mode:        ModeSingle,
		BatchSize:   DefaultBatchSize,
		PollTimeout: DefaultPollTimeout,
	}
}

// Validate checks mode and bounds.
func (c ConsumerConfig) Validate() error {
	switch c.Mode {
	case ModeSingle, ModeBatch:
	default:
		return fmt.Errorf("xdispatch: consumer mode %q must be %q or %q", c.Mode, ModeSingle, ModeBatch)
	}
	if c.Mode == ModeBatch && c.BatchSize < 1 {
		return fmt.Errorf("xdispatch: consumer batch size must be > 0, got %d", c.BatchSize)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("xdispatch: consumer poll timeout must be > 0, got %s", c.PollTimeout)
	}
	return nil
}

func (c ConsumerConfig) pollSize() int {
	if c.Mode == ModeBatch {
		return c.BatchSize
	}
	return 1
}

// ErrorHandler is told about every record that failed to dispatch. Returning
// nil commits the record anyway; returning an error leaves it uncommitted so
// the broker redelivers it.
type ErrorHandler func(ctx context.Context, rec *RawRecord, err error) error

// CommitPermanentFailures commits records that can never succeed (no
// handler, undecodable, wrong type) and leaves handler failures for
// redelivery.
func CommitPermanentFailures(_ context.Context, _ *RawRecord, err error) error {
	var he *HandlingError
	if errors.As(err, &he) {
		return err
	}
	return nil
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerConfig replaces the loop settings.
func WithConsumerConfig(cfg ConsumerConfig) ConsumerOption {
	return func(c *Consumer) { c.cfg = cfg }
}

// WithBatchMode polls up to size records at a time.
func WithBatchMode(size int) ConsumerOption {
	return func(c *Consumer) {
		c.cfg.Mode = ModeBatch
		c.cfg.BatchSize = size
	}
}

// WithPollTimeout bounds each poll.
func WithPollTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.cfg.PollTimeout = d }
}

// WithErrorHandler sets the failed-record policy.
func WithErrorHandler(h ErrorHandler) ConsumerOption {
	return func(c *Consumer) {
		if h != nil {
			c.onError = h
		}
	}
}

// Consumer polls a broker, dispatches each record and commits the ones
// that were handled.
type Consumer struct {
	poller     Poller
	dispatcher *Dispatcher
	cfg        ConsumerConfig
	onError    ErrorHandler
	logger     *xlog.Logger
	hub        *hub
	metrics    *counters
}

// NewConsumer binds a poller to a dispatcher.
func NewConsumer(poller Poller, dispatcher *Dispatcher, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		poller:     poller,
		dispatcher: dispatcher,
		cfg:        DefaultConsumerConfig(),
		onError:    CommitPermanentFailures,
		logger:     dispatcher.logger,
		hub:        dispatcher.hub,
		metrics:    dispatcher.metrics,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run loops until ctx is cancelled or the poller reports ErrClosed, neither
// of which is an error. Other poll failures are reported and retried after
// one poll timeout.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}

		pctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		recs, err := c.poller.Poll(pctx, c.cfg.pollSize())
		cancel()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			c.reportError("", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.PollTimeout):
			}
			continue
		}
		if len(recs) == 0 {
			continue
		}
		c.process(ctx, recs)
	}
}

// process dispatches a polled batch in order and commits it in one call.
func (c *Consumer) process(ctx context.Context, recs []*RawRecord) {
	commit := make([]*RawRecord, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		err := c.dispatcher.Dispatch(ctx, rec)
		if err == nil {
			commit = append(commit, rec)
			continue
		}
		if c.logger != nil {
			c.logger.With(
				xlog.Str("topic", rec.Topic),
				xlog.Str("message_id", recordID(rec)),
			).Warn().Err(err).Msg("xdispatch: dispatch failed")
		}
		if herr := c.onError(ctx, rec, err); herr == nil {
			commit = append(commit, rec)
		}
	}
	if len(commit) == 0 {
		return
	}

	if err := c.poller.Commit(ctx, commit...); err != nil {
		c.reportError(commit[0].Topic, err)
		return
	}
	c.metrics.committed.Add(uint64(len(commit)))
	for _, rec := range commit {
		c.hub.notify(Event{
			Type:      Commit,
			Topic:     rec.Topic,
			MessageID: recordID(rec),
			Partition: rec.Partition,
			Offset:    rec.Offset,
		})
	}
}

func (c *Consumer) reportError(topic string, err error) {
	c.hub.notify(Event{Type: Error, Topic: topic, Err: err})
	if c.logger != nil {
		c.logger.Warn().Err(err).Msg("xdispatch: consumer error")
	}
}
