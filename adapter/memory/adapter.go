package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xdispatch"
)

const BrokerName = "memory"

const DefaultRedeliveryDelay = time.Second

// ErrClosed wraps xdispatch.ErrClosed so a running consumer stops on it.
var ErrClosed = fmt.Errorf("memory broker: %w", xdispatch.ErrClosed)

func init() {
	if err := xdispatch.RegisterBroker(BrokerName, func(cfg map[string]any) (xdispatch.Broker, error) {
		return NewBroker(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xdispatch/memory: failed to register broker: %w", err))
	}
}

// Config controls memory broker behavior.
type Config struct {
	// Topics limits Poll to these topics (default: every topic).
	Topics []string
	// RedeliveryDelay is how long a polled but uncommitted record stays
	// invisible before it is delivered again (0 = next poll).
	RedeliveryDelay time.Duration
	// Clock stamps record timestamps (default: xclock.Default()).
	Clock xdispatch.Clock
}

func ConfigFromMap(cfg map[string]any) Config {
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case int:
			return time.Duration(v)
		case int64:
			return time.Duration(v)
		case float64:
			return time.Duration(v)
		}
		return d
	}

	getStrings := func(k string) []string {
		switch v := cfg[k].(type) {
		case []string:
			return append([]string(nil), v...)
		case []any:
			out := make([]string, 0, len(v))
			for _, s := range v {
				if str, ok := s.(string); ok && str != "" {
					out = append(out, str)
				}
			}
			return out
		case string:
			if v != "" {
				return []string{v}
			}
		}
		return nil
	}

	return Config{
		Topics:          getStrings("topics"),
		RedeliveryDelay: getDur("redelivery_delay", DefaultRedeliveryDelay),
	}
}

// Broker implements xdispatch.Broker as an in-process log per topic
// (dev/testing). Records carry monotonically increasing offsets; a polled
// record is redelivered until it is committed.
type Broker struct {
	cfg    Config
	clock  xdispatch.Clock
	filter map[string]struct{}

	mu     sync.Mutex
	topics map[string]*topicLog
	wake   chan struct{} // closed and replaced on every append

	closed atomic.Bool

	// Metrics for observability
	metrics *brokerMetrics
}

type brokerMetrics struct {
	sent        atomic.Uint64
	polled      atomic.Uint64
	committed   atomic.Uint64
	redelivered atomic.Uint64
}

type topicLog struct {
	entries []*entry
}

type entry struct {
	rec         xdispatch.RawRecord
	committed   bool
	delivered   bool
	deliveredAt time.Time
}

var _ xdispatch.Broker = (*Broker)(nil)

// NewBroker creates a new in-memory broker.
func NewBroker(cfg Config) *Broker {
	if cfg.RedeliveryDelay < 0 {
		cfg.RedeliveryDelay = 0
	}
	clk := cfg.Clock
	if clk == nil {
		clk = xclock.Default()
	}
	var filter map[string]struct{}
	if len(cfg.Topics) > 0 {
		filter = make(map[string]struct{}, len(cfg.Topics))
		for _, t := range cfg.Topics {
			filter[t] = struct{}{}
		}
	}
	return &Broker{
		cfg:     cfg,
		clock:   clk,
		filter:  filter,
		topics:  make(map[string]*topicLog),
		wake:    make(chan struct{}),
		metrics: &brokerMetrics{},
	}
}

// SendRecord appends rec to its topic log.
func (b *Broker) SendRecord(ctx context.Context, rec *xdispatch.OutboundRecord) (xdispatch.Ack, error) {
	if b.closed.Load() {
		return xdispatch.Ack{}, ErrClosed
	}
	if rec == nil {
		return xdispatch.Ack{}, xdispatch.ErrNilRecord
	}
	if rec.Topic == "" {
		return xdispatch.Ack{}, xdispatch.ErrInvalidTopic
	}
	if err := ctx.Err(); err != nil {
		return xdispatch.Ack{}, err
	}

	var partition int32
	if rec.Partition != nil {
		partition = *rec.Partition
	}
	now := b.clock.Now()

	b.mu.Lock()
	tl, ok := b.topics[rec.Topic]
	if !ok {
		tl = &topicLog{}
		b.topics[rec.Topic] = tl
	}
	e := &entry{rec: xdispatch.RawRecord{
		Topic:     rec.Topic,
		Partition: partition,
		Offset:    int64(len(tl.entries)),
		ID:        uuid.NewString(),
		Key:       cloneBytes(rec.Key),
		Value:     cloneBytes(rec.Value),
		Headers:   rec.Headers.Clone(),
		Timestamp: now,
	}}
	tl.entries = append(tl.entries, e)
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()

	b.metrics.sent.Add(1)
	return xdispatch.Ack{
		Topic:     e.rec.Topic,
		Partition: e.rec.Partition,
		Offset:    e.rec.Offset,
		ID:        e.rec.ID,
		Timestamp: now,
	}, nil
}

// SendRecordAsync sends on a new goroutine and reports through done.
func (b *Broker) SendRecordAsync(ctx context.Context, rec *xdispatch.OutboundRecord, done func(xdispatch.Ack, error)) {
	go func() {
		ack, err := b.SendRecord(ctx, rec)
		if done != nil {
			done(ack, err)
		}
	}()
}

// Poll returns up to max deliverable records in topic then offset order.
// It blocks until one is available; an expired ctx yields (nil, nil).
func (b *Broker) Poll(ctx context.Context, max int) ([]*xdispatch.RawRecord, error) {
	if max < 1 {
		max = 1
	}
	for {
		if b.closed.Load() {
			return nil, ErrClosed
		}

		recs, wake, retryIn := b.collect(max)
		if len(recs) > 0 {
			b.metrics.polled.Add(uint64(len(recs)))
			return recs, nil
		}

		var timer *time.Timer
		var due <-chan time.Time
		if retryIn > 0 {
			timer = time.NewTimer(retryIn)
			due = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil, nil
		case <-wake:
		case <-due:
		}
		stopTimer(timer)
	}
}

// collect marks up to max records delivered. When none is ready it returns
// the wake channel and how long until the earliest redelivery (0 = none pending).
func (b *Broker) collect(max int) ([]*xdispatch.RawRecord, <-chan struct{}, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	var out []*xdispatch.RawRecord
	var retryIn time.Duration

	for _, name := range b.topicNamesLocked() {
		for _, e := range b.topics[name].entries {
			if e.committed {
				continue
			}
			if e.delivered {
				due := e.deliveredAt.Add(b.cfg.RedeliveryDelay)
				if now.Before(due) {
					if wait := due.Sub(now); retryIn == 0 || wait < retryIn {
						retryIn = wait
					}
					continue
				}
				b.metrics.redelivered.Add(1)
			}
			e.delivered = true
			e.deliveredAt = now
			rec := e.rec
			rec.Key = cloneBytes(e.rec.Key)
			rec.Value = cloneBytes(e.rec.Value)
			rec.Headers = e.rec.Headers.Clone()
			out = append(out, &rec)
			if len(out) == max {
				return out, nil, 0
			}
		}
	}
	return out, b.wake, retryIn
}

func (b *Broker) topicNamesLocked() []string {
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		if b.filter != nil {
			if _, ok := b.filter[name]; !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commit marks records processed so they are never redelivered.
func (b *Broker) Commit(_ context.Context, recs ...*xdispatch.RawRecord) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range recs {
		if r == nil {
			continue
		}
		tl, ok := b.topics[r.Topic]
		if !ok || r.Offset < 0 || r.Offset >= int64(len(tl.entries)) {
			return fmt.Errorf("memory broker: commit unknown record %s@%d", r.Topic, r.Offset)
		}
		if e := tl.entries[r.Offset]; !e.committed {
			e.committed = true
			b.metrics.committed.Add(1)
		}
	}
	return nil
}

// Records returns a copy of every record sent to topic, committed or not.
func (b *Broker) Records(topic string) []xdispatch.RawRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	tl, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([]xdispatch.RawRecord, len(tl.entries))
	for i, e := range tl.entries {
		out[i] = e.rec
		out[i].Headers = e.rec.Headers.Clone()
	}
	return out
}

// Lag returns the number of uncommitted records in topic.
func (b *Broker) Lag(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	if tl, ok := b.topics[topic]; ok {
		for _, e := range tl.entries {
			if !e.committed {
				n++
			}
		}
	}
	return n
}

// Close shuts down the broker. Blocked polls return ErrClosed.
func (b *Broker) Close(_ context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()
	return nil
}

// Stats returns broker telemetry.
type Stats struct {
	Sent        uint64
	Polled      uint64
	Committed   uint64
	Redelivered uint64
}

// Stats returns current broker metrics.
func (b *Broker) Stats() Stats {
	return Stats{
		Sent:        b.metrics.sent.Load(),
		Polled:      b.metrics.polled.Load(),
		Committed:   b.metrics.committed.Load(),
		Redelivered: b.metrics.redelivered.Load(),
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
