package xdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, br *fakeBroker, opts ...PublisherOption) (*Publisher, *DedupCache) {
	t.Helper()
	types := NewTypes()
	require.NoError(t, RegisterType[Order](types, "Order"))
	cache := NewDedupCache(time.Minute, 100, WithDedupClock(newManualClock()), WithCleanupInterval(0))
	t.Cleanup(cache.Close)

	ids := 0
	all := append([]PublisherOption{
		WithDedup(cache),
		WithPublishLogger(testLogger()),
		WithMessageIDs(func() string {
			ids++
			return "msg-" + string(rune('0'+ids))
		}),
	}, opts...)
	return NewPublisher(br, NewConverter(JSONCodec{}, types), all...), cache
}

func TestSend_StampsHeadersAndConfirms(t *testing.T) {
	br := &fakeBroker{}
	p, cache := newTestPublisher(t, br)

	res, err := p.Send(context.Background(), "orders", Order{ID: "o-1"},
		WithKey("o-1"), WithPartition(2), WithHeaders(Headers{"trace": "t1", HdrType: "spoofed"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, "orders", res.Ack.Topic)

	require.Equal(t, 1, br.sentCount())
	rec := br.sent[0]
	assert.Equal(t, []byte("o-1"), rec.Key)
	require.NotNil(t, rec.Partition)
	assert.Equal(t, int32(2), *rec.Partition)
	assert.Equal(t, "Order", rec.Headers.Get(HdrType))
	assert.Equal(t, "msg-1", rec.Headers.Get(HdrMessageID))
	assert.Equal(t, "t1", rec.Headers.Get("trace"))
	assert.JSONEq(t, `{"id":"o-1","amount":0}`, string(rec.Value))
	assert.Equal(t, 1, cache.Len())
}

func TestSend_DuplicateNeverReachesBroker(t *testing.T) {
	br := &fakeBroker{}
	obs := &recordingObserver{}
	p, _ := newTestPublisher(t, br, WithPublishObserver(obs))

	_, err := p.Send(context.Background(), "orders", Order{ID: "o-1"}, WithKey("o-1"))
	require.NoError(t, err)

	res, err := p.Send(context.Background(), "orders", Order{ID: "o-1", Amount: 99}, WithKey("o-1"))
	require.NoError(t, err)
	assert.True(t, res.Skipped())
	assert.Equal(t, 1, br.sentCount())
	assert.Contains(t, obs.types(), DuplicateSkipped)
	assert.Equal(t, uint64(1), p.metrics.snapshot().DuplicatesSkipped)

	// same key on another topic is a new message
	res, err = p.Send(context.Background(), "audit", Order{ID: "o-1"}, WithKey("o-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
}

func TestSend_UnkeyedIsNeverDeduplicated(t *testing.T) {
	br := &fakeBroker{}
	p, _ := newTestPublisher(t, br)

	for i := 0; i < 3; i++ {
		res, err := p.Send(context.Background(), "orders", Order{ID: "o"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSent, res.Outcome)
	}
	assert.Equal(t, 3, br.sentCount())
}

func TestSend_FailureReleasesKeyForRetry(t *testing.T) {
	br := &fakeBroker{failSends: 1}
	p, cache := newTestPublisher(t, br)

	_, err := p.Send(context.Background(), "orders", Order{ID: "o-1"}, WithKey("o-1"))
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "send", pe.Op)
	assert.Equal(t, "orders", pe.Topic)
	assert.ErrorIs(t, err, errBrokerDown)
	assert.Equal(t, 0, cache.Len())

	res, err := p.Send(context.Background(), "orders", Order{ID: "o-1"}, WithKey("o-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)

	m := p.metrics.snapshot()
	assert.Equal(t, uint64(1), m.PublishErrors)
	assert.Equal(t, uint64(1), m.Sent)
}

func TestSend_EncodeFailureReleasesKey(t *testing.T) {
	br := &fakeBroker{}
	p, cache := newTestPublisher(t, br)

	_, err := p.Send(context.Background(), "orders", Shipment{ID: "s"}, WithKey("k"))
	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, br.sentCount())
}

func TestSend_Validation(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeBroker{})

	_, err := p.Send(context.Background(), "", Order{})
	assert.ErrorIs(t, err, ErrInvalidTopic)
	_, err = p.Send(context.Background(), "orders", nil)
	assert.ErrorIs(t, err, ErrNilPayload)
}

func TestSend_WithoutDedup(t *testing.T) {
	br := &fakeBroker{}
	types := NewTypes()
	require.NoError(t, RegisterType[Order](types, "Order"))
	p := NewPublisher(br, NewConverter(JSONCodec{}, types))

	for i := 0; i < 2; i++ {
		_, err := p.Send(context.Background(), "orders", Order{}, WithKey("same"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, br.sentCount())
	assert.NotEmpty(t, br.sent[0].Headers.Get(HdrMessageID))
}

func TestSendAsync_ResolvesPending(t *testing.T) {
	br := &fakeBroker{}
	p, _ := newTestPublisher(t, br)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pending := p.SendAsync(ctx, "orders", Order{ID: "o-1"}, WithKey("o-1"))
	res, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)

	select {
	case <-pending.Done():
	default:
		t.Fatal("Done not closed after Wait returned")
	}

	dup := p.SendAsync(ctx, "orders", Order{ID: "o-1"}, WithKey("o-1"))
	res, err = dup.Result()
	require.NoError(t, err)
	assert.True(t, res.Skipped())
	assert.Equal(t, 1, br.sentCount())
}

func TestSendAsync_FailureIsPublishError(t *testing.T) {
	br := &fakeBroker{failSends: 1}
	p, cache := newTestPublisher(t, br)

	_, err := p.SendAsync(context.Background(), "orders", Order{}, WithKey("k")).Result()
	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "send_async", pe.Op)
	assert.Equal(t, 0, cache.Len())
}

func TestSendAsync_ValidationResolvesImmediately(t *testing.T) {
	p, _ := newTestPublisher(t, &fakeBroker{})
	_, err := p.SendAsync(context.Background(), "", Order{}).Result()
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestPending_WaitHonoursContext(t *testing.T) {
	pending := newPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pending.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	pending.resolve(Result{Outcome: OutcomeSent}, nil)
	pending.resolve(Result{}, errBrokerDown)
	res, err := pending.Result()
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, res.Outcome)
}
