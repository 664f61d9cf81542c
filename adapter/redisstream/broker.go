package redisstream

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xdispatch"
)

// ErrNoTopics is returned by Poll when the broker was built without topics.
var ErrNoTopics = errors.New("redisstream: no topics configured for polling")

// Broker implements xdispatch.Broker on Redis Streams.
type Broker struct {
	cfg    Config
	client *redis.Client

	groupsMu sync.Mutex
	groups   map[string]bool // streams whose consumer group exists

	claimCursor map[string]string // XAUTOCLAIM start per stream, guarded by groupsMu

	closed atomic.Bool

	// metrics for observability
	metrics *brokerMetrics
}

type brokerMetrics struct {
	sent        atomic.Uint64
	sendErrors  atomic.Uint64
	polled      atomic.Uint64
	claimed     atomic.Uint64
	committed   atomic.Uint64
	pollErrors  atomic.Uint64
	deadLetters atomic.Uint64
}

var _ xdispatch.Broker = (*Broker)(nil)

// NewBroker connects to Redis and verifies the connection with PING.
func NewBroker(cfg Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "redisstream")
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newBroker(cfg, client), nil
}

// NewBrokerWithClient wraps an existing client. Closing the broker closes it.
func NewBrokerWithClient(cfg Config, client *redis.Client) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "redisstream")
	}
	if client == nil {
		return nil, errors.New("redisstream: client must not be nil")
	}
	return newBroker(cfg, client), nil
}

func newBroker(cfg Config, client *redis.Client) *Broker {
	return &Broker{
		cfg:         cfg,
		client:      client,
		groups:      make(map[string]bool),
		claimCursor: make(map[string]string),
		metrics:     &brokerMetrics{},
	}
}

// SendRecord appends rec to its stream with XADD.
func (b *Broker) SendRecord(ctx context.Context, rec *xdispatch.OutboundRecord) (xdispatch.Ack, error) {
	if b.closed.Load() {
		return xdispatch.Ack{}, errors.Wrap(xdispatch.ErrClosed, "redisstream")
	}
	if rec == nil {
		return xdispatch.Ack{}, xdispatch.ErrNilRecord
	}

	args := &redis.XAddArgs{
		Stream: rec.Topic,
		ID:     "*", // Let Redis generate ID
		Values: encodeValues(rec),
	}
	// Approximate trimming to keep stream bounded
	if b.cfg.MaxLenApprox > 0 {
		args.MaxLen = b.cfg.MaxLenApprox
		args.Approx = true
	}

	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		b.metrics.sendErrors.Add(1)
		return xdispatch.Ack{}, errors.Wrapf(err, "redisstream: cannot add entry to stream %q", rec.Topic)
	}
	b.metrics.sent.Add(1)

	var partition int32
	if rec.Partition != nil {
		partition = *rec.Partition
	}
	return xdispatch.Ack{
		Topic:     rec.Topic,
		Partition: partition,
		ID:        id,
		Timestamp: idTime(id),
	}, nil
}

// SendRecordAsync runs SendRecord on its own goroutine.
func (b *Broker) SendRecordAsync(ctx context.Context, rec *xdispatch.OutboundRecord, done func(xdispatch.Ack, error)) {
	go func() {
		ack, err := b.SendRecord(ctx, rec)
		if done != nil {
			done(ack, err)
		}
	}()
}

// Poll first reclaims idle pending entries (when ClaimMinIdle is set) and
// otherwise reads new entries with XREADGROUP. The block time is capped by
// the ctx deadline; an expired ctx or empty read yields (nil, nil).
func (b *Broker) Poll(ctx context.Context, max int) ([]*xdispatch.RawRecord, error) {
	if b.closed.Load() {
		return nil, errors.Wrap(xdispatch.ErrClosed, "redisstream")
	}
	if len(b.cfg.Topics) == 0 {
		return nil, ErrNoTopics
	}
	if max < 1 {
		max = 1
	}
	if err := b.ensureGroups(ctx); err != nil {
		return nil, err
	}

	if b.cfg.ClaimMinIdle > 0 {
		recs, err := b.claim(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}

	block := b.cfg.Block
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left <= 0 {
			return nil, nil
		}
		if left < block {
			block = left
		}
	}
	if block < time.Millisecond {
		block = time.Millisecond
	}

	streams := make([]string, 0, 2*len(b.cfg.Topics))
	streams = append(streams, b.cfg.Topics...)
	for range b.cfg.Topics {
		streams = append(streams, ">")
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		Streams:  streams,
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		b.metrics.pollErrors.Add(1)
		return nil, errors.Wrap(err, "redisstream: cannot read from consumer group")
	}

	var out []*xdispatch.RawRecord
	for _, stream := range res {
		for _, msg := range stream.Messages {
			out = append(out, decodeRecord(stream.Stream, msg.ID, msg.Values))
		}
	}
	b.metrics.polled.Add(uint64(len(out)))
	return out, nil
}

// claim takes over entries idle longer than ClaimMinIdle, walking each
// stream's pending list with a remembered cursor.
func (b *Broker) claim(ctx context.Context, max int) ([]*xdispatch.RawRecord, error) {
	count := b.cfg.ClaimBatch
	if max < count {
		count = max
	}

	var out []*xdispatch.RawRecord
	for _, topic := range b.cfg.Topics {
		b.groupsMu.Lock()
		start := b.claimCursor[topic]
		b.groupsMu.Unlock()
		if start == "" {
			start = "0-0"
		}

		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimMinIdle,
			Start:    start,
			Count:    int64(count - len(out)),
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.metrics.pollErrors.Add(1)
			return nil, errors.Wrapf(err, "redisstream: cannot claim pending entries of %q", topic)
		}

		b.groupsMu.Lock()
		b.claimCursor[topic] = next
		b.groupsMu.Unlock()

		for _, msg := range msgs {
			out = append(out, decodeRecord(topic, msg.ID, msg.Values))
		}
		if len(out) >= count {
			break
		}
	}
	b.metrics.claimed.Add(uint64(len(out)))
	return out, nil
}

// ensureGroups creates missing consumer groups once per stream.
func (b *Broker) ensureGroups(ctx context.Context) error {
	if !b.cfg.AutoCreate {
		return nil
	}
	b.groupsMu.Lock()
	defer b.groupsMu.Unlock()

	for _, topic := range b.cfg.Topics {
		if b.groups[topic] {
			continue
		}
		err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return errors.Wrapf(err, "redisstream: cannot create group %q on %q", b.cfg.Group, topic)
		}
		b.groups[topic] = true
	}
	return nil
}

// Commit acknowledges records with XACK, grouped per stream.
func (b *Broker) Commit(ctx context.Context, recs ...*xdispatch.RawRecord) error {
	byTopic := make(map[string][]string)
	for _, r := range recs {
		if r == nil || r.ID == "" {
			continue
		}
		byTopic[r.Topic] = append(byTopic[r.Topic], r.ID)
	}

	for topic, ids := range byTopic {
		n, err := b.client.XAck(ctx, topic, b.cfg.Group, ids...).Result()
		if err != nil {
			return errors.Wrapf(err, "redisstream: cannot ack %d entries on %q", len(ids), topic)
		}
		b.metrics.committed.Add(uint64(n))
		// Optionally delete from stream after ack (saves memory)
		if b.cfg.AutoDeleteOnAck {
			_ = b.client.XDel(ctx, topic, ids...).Err()
		}
	}
	return nil
}

// DeadLetter copies rec to the configured dead-letter stream with the
// failure reason.
func (b *Broker) DeadLetter(ctx context.Context, rec *xdispatch.RawRecord, reason error) error {
	if b.cfg.DeadLetter == "" {
		return errors.New("redisstream: no dead-letter stream configured")
	}
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.DeadLetter,
		ID:     "*",
		Values: deadLetterValues(rec, reason),
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "redisstream: cannot write to dead-letter stream %q", b.cfg.DeadLetter)
	}
	b.metrics.deadLetters.Add(1)
	return nil
}

// DeadLetterHandler is a consumer ErrorHandler that moves every failed
// record to the dead-letter stream and lets the consumer commit it. When
// the write fails the record stays pending for redelivery.
func DeadLetterHandler(b *Broker) xdispatch.ErrorHandler {
	return func(ctx context.Context, rec *xdispatch.RawRecord, err error) error {
		return b.DeadLetter(ctx, rec, err)
	}
}

// Stats returns broker telemetry.
type Stats struct {
	Sent        uint64
	SendErrors  uint64
	Polled      uint64
	Claimed     uint64
	Committed   uint64
	PollErrors  uint64
	DeadLetters uint64
}

// Stats returns current broker metrics.
func (b *Broker) Stats() Stats {
	return Stats{
		Sent:        b.metrics.sent.Load(),
		SendErrors:  b.metrics.sendErrors.Load(),
		Polled:      b.metrics.polled.Load(),
		Claimed:     b.metrics.claimed.Load(),
		Committed:   b.metrics.committed.Load(),
		PollErrors:  b.metrics.pollErrors.Load(),
		DeadLetters: b.metrics.deadLetters.Load(),
	}
}

// Close gracefully shuts down the broker.
func (b *Broker) Close(_ context.Context) error {
	if b.closed.Swap(true) {
		return nil // Already closed
	}
	return b.client.Close()
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return errors.Wrap(err, "redis ping timeout")
		}
		return errors.Wrap(err, "redis ping")
	}
	if strings.ToUpper(res) != "PONG" {
		return errors.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
