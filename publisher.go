package xdispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// SendOption customizes a single send.
type SendOption func(*sendOptions)

type sendOptions struct {
	key       []byte
	partition *int32
	headers   Headers
}

// WithKey sets the record key. Keyed sends are deduplicated per topic.
func WithKey(key string) SendOption {
	return func(o *sendOptions) { o.key = []byte(key) }
}

// WithKeyBytes sets a binary record key.
func WithKeyBytes(key []byte) SendOption {
	return func(o *sendOptions) {
		if key == nil {
			o.key = nil
			return
		}
		o.key = append([]byte{}, key...)
	}
}

// WithPartition pins the record to a partition.
func WithPartition(p int32) SendOption {
	return func(o *sendOptions) { o.partition = &p }
}

// WithHeaders adds caller headers to the record. HdrType is always
// overwritten with the declared type of the payload.
func WithHeaders(h Headers) SendOption {
	return func(o *sendOptions) {
		if o.headers == nil {
			o.headers = make(Headers, len(h))
		}
		for k, v := range h {
			o.headers[k] = v
		}
	}
}

// Publisher converts payloads and hands them to a broker, suppressing
// keyed duplicates through a DedupCache.
type Publisher struct {
	sender  Sender
	conv    *Converter
	cache   *DedupCache // nil disables deduplication
	logger  *xlog.Logger
	clock   Clock
	hub     *hub
	metrics *counters
	newID   func() string
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithDedup enables deduplication through cache.
func WithDedup(cache *DedupCache) PublisherOption {
	return func(p *Publisher) { p.cache = cache }
}

// WithPublishLogger sets the logger for duplicate and failure reports.
func WithPublishLogger(l *xlog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithPublishClock sets the clock used for latency measurement.
func WithPublishClock(c Clock) PublisherOption {
	return func(p *Publisher) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithPublishObserver attaches observers for publish events.
func WithPublishObserver(obs ...Observer) PublisherOption {
	return func(p *Publisher) {
		for _, o := range obs {
			p.hub.add(o)
		}
	}
}

// WithMessageIDs replaces the message-id generator.
func WithMessageIDs(gen func() string) PublisherOption {
	return func(p *Publisher) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// NewPublisher creates a publisher sending through sender.
func NewPublisher(sender Sender, conv *Converter, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sender:  sender,
		conv:    conv,
		clock:   xclock.Default(),
		hub:     newHub(nil),
		metrics: &counters{},
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// prepared is a converted record plus the dedup reservation backing it.
type prepared struct {
	rec   *OutboundRecord
	id    TypeID
	token uint64
}

// prepare validates, reserves and encodes. A nil prepared with a nil error
// means the send is a duplicate.
func (p *Publisher) prepare(topic string, payload any, opts []SendOption) (*prepared, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if payload == nil {
		return nil, ErrNilPayload
	}
	var so sendOptions
	for _, o := range opts {
		o(&so)
	}

	var token uint64
	if p.cache != nil {
		tok, ok := p.cache.reserve(topic, so.key)
		if !ok {
			p.metrics.duplicates.Add(1)
			p.hub.notify(Event{Type: DuplicateSkipped, Topic: topic, Key: string(so.key)})
			if p.logger != nil {
				p.logger.With(xlog.Str("topic", topic), xlog.Str("key", string(so.key))).
					Debug().Msg("xdispatch: duplicate send skipped")
			}
			return nil, nil
		}
		token = tok
	}

	env, err := p.conv.Encode(payload, so.headers)
	if err != nil {
		p.releaseKey(topic, so.key, token)
		return nil, err
	}

	h := env.Headers()
	h[HdrType] = string(env.DeclaredType())
	if h.Get(HdrMessageID) == "" {
		h[HdrMessageID] = p.newID()
	}
	return &prepared{
		rec: &OutboundRecord{
			Topic:     topic,
			Partition: so.partition,
			Key:       so.key,
			Value:     env.Payload(),
			Headers:   h,
		},
		id:    env.DeclaredType(),
		token: token,
	}, nil
}

func (p *Publisher) releaseKey(topic string, key []byte, token uint64) {
	if p.cache != nil {
		p.cache.release(topic, key, token)
	}
}

// Send publishes payload and blocks until the broker acknowledges it.
// A keyed payload already sent within the dedup window returns
// OutcomeDuplicateSkipped without reaching the broker. A failed send
// releases its reservation so the caller may retry.
func (p *Publisher) Send(ctx context.Context, topic string, payload any, opts ...SendOption) (Result, error) {
	pr, err := p.prepare(topic, payload, opts)
	if err != nil {
		return Result{}, err
	}
	if pr == nil {
		return Result{Outcome: OutcomeDuplicateSkipped}, nil
	}

	start := p.clock.Now()
	p.notifyStart(pr)
	ack, err := p.sender.SendRecord(ctx, pr.rec)
	return p.finish(pr, "send", start, ack, err)
}

// SendAsync is Send without blocking the caller. Dedup and encoding happen
// before it returns; the broker outcome resolves the Pending later.
func (p *Publisher) SendAsync(ctx context.Context, topic string, payload any, opts ...SendOption) *Pending {
	pending := newPending()

	pr, err := p.prepare(topic, payload, opts)
	if err != nil {
		pending.resolve(Result{}, err)
		return pending
	}
	if pr == nil {
		pending.resolve(Result{Outcome: OutcomeDuplicateSkipped}, nil)
		return pending
	}

	start := p.clock.Now()
	p.notifyStart(pr)
	p.sender.SendRecordAsync(ctx, pr.rec, func(ack Ack, err error) {
		pending.resolve(p.finish(pr, "send_async", start, ack, err))
	})
	return pending
}

func (p *Publisher) notifyStart(pr *prepared) {
	p.hub.notify(Event{
		Type:      PublishStart,
		Topic:     pr.rec.Topic,
		TypeID:    pr.id,
		Key:       string(pr.rec.Key),
		MessageID: pr.rec.Headers.Get(HdrMessageID),
	})
}

func (p *Publisher) finish(pr *prepared, op string, start time.Time, ack Ack, err error) (Result, error) {
	duration := p.clock.Now().Sub(start)
	key := string(pr.rec.Key)
	if err != nil {
		p.releaseKey(pr.rec.Topic, pr.rec.Key, pr.token)
		p.metrics.publishErrors.Add(1)
		perr := &PublishError{Op: op, Topic: pr.rec.Topic, Err: err}
		p.hub.notify(Event{
			Type:      PublishDone,
			Topic:     pr.rec.Topic,
			TypeID:    pr.id,
			Key:       key,
			MessageID: pr.rec.Headers.Get(HdrMessageID),
			Duration:  duration,
			Err:       perr,
		})
		if p.logger != nil {
			p.logger.With(xlog.Str("topic", pr.rec.Topic), xlog.Str("op", op)).
				Warn().Err(err).Msg("xdispatch: publish failed")
		}
		return Result{}, perr
	}

	if p.cache != nil {
		p.cache.Confirm(pr.rec.Topic, pr.rec.Key)
	}
	p.metrics.sent.Add(1)
	p.hub.notify(Event{
		Type:      PublishDone,
		Topic:     pr.rec.Topic,
		TypeID:    pr.id,
		Key:       key,
		MessageID: pr.rec.Headers.Get(HdrMessageID),
		Partition: ack.Partition,
		Offset:    ack.Offset,
		Duration:  duration,
	})
	return Result{Outcome: OutcomeSent, Ack: ack}, nil
}

// Pending is the handle of an asynchronous send.
type Pending struct {
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(r Result, err error) {
	p.once.Do(func() {
		p.result, p.err = r, err
		close(p.done)
	})
}

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the outcome is known or ctx ends. Cancelling ctx does
// not cancel the send itself.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result blocks until the outcome is known.
func (p *Pending) Result() (Result, error) {
	<-p.done
	return p.result, p.err
}
