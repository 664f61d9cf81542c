package xdispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

type Order struct {
	ID     string  `json:"id" yaml:"id"`
	Amount float64 `json:"amount" yaml:"amount"`
}

type Shipment struct {
	ID      string `json:"id" yaml:"id"`
	Carrier string `json:"carrier" yaml:"carrier"`
}

func testLogger() *xlog.Logger {
	return zerolog.Use(zerolog.Config{
		MinLevel: xlog.LevelDebug,
		Writer:   io.Discard,
	})
}

// manualClock only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBrokerDown = errors.New("broker down")

// fakeBroker records sends and serves queued records to Poll.
type fakeBroker struct {
	mu        sync.Mutex
	sent      []*OutboundRecord
	failSends int // fail this many sends before succeeding
	queue     []*RawRecord
	committed []*RawRecord
	pollErr   error
	commitErr error
	closed    bool
}

func (f *fakeBroker) SendRecord(ctx context.Context, rec *OutboundRecord) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return Ack{}, errBrokerDown
	}
	f.sent = append(f.sent, rec)
	return Ack{Topic: rec.Topic, Offset: int64(len(f.sent) - 1)}, nil
}

func (f *fakeBroker) SendRecordAsync(ctx context.Context, rec *OutboundRecord, done func(Ack, error)) {
	go func() { done(f.SendRecord(ctx, rec)) }()
}

func (f *fakeBroker) Poll(ctx context.Context, max int) ([]*RawRecord, error) {
	f.mu.Lock()
	if f.pollErr != nil {
		err := f.pollErr
		f.pollErr = nil
		f.mu.Unlock()
		return nil, err
	}
	if len(f.queue) > 0 {
		n := max
		if n > len(f.queue) {
			n = len(f.queue)
		}
		out := f.queue[:n]
		f.queue = f.queue[n:]
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, nil
}

func (f *fakeBroker) Commit(_ context.Context, recs ...*RawRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, recs...)
	return nil
}

func (f *fakeBroker) Close(context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeBroker) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

// recordingObserver keeps every event it sees.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingObserver) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// record builds an inbound record the way a broker would deliver it.
func record(t *testing.T, conv *Converter, topic string, payload any) *RawRecord {
	t.Helper()
	env, err := conv.Encode(payload, nil)
	require.NoError(t, err)
	return &RawRecord{
		Topic:     topic,
		Offset:    7,
		Value:     env.Payload(),
		Headers:   Headers{HdrType: string(env.DeclaredType())},
		Timestamp: time.UnixMilli(1700000000000),
	}
}
