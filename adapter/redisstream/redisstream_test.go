package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xdispatch"
)

// TestPayload is a sample domain event for testing.
type TestPayload struct {
	ID    string
	Data  string
	Value int64
}

func TestEncodeDecode_RoundTripsRecord(t *testing.T) {
	p := int32(3)
	out := &xdispatch.OutboundRecord{
		Topic:     "orders",
		Partition: &p,
		Key:       []byte("order-1"),
		Value:     []byte(`{"id":"1"}`),
		Headers:   xdispatch.Headers{xdispatch.HdrType: "Order", "trace": "abc"},
	}

	vals := encodeValues(out)
	// Redis hands field values back as strings
	wire := make(map[string]any, len(vals))
	for k, v := range vals {
		wire[k] = asString(v)
	}

	rec := decodeRecord("orders", "1700000000000-0", wire)
	assert.Equal(t, "orders", rec.Topic)
	assert.Equal(t, "1700000000000-0", rec.ID)
	assert.Equal(t, int32(3), rec.Partition)
	assert.Equal(t, []byte("order-1"), rec.Key)
	assert.Equal(t, []byte(`{"id":"1"}`), rec.Value)
	assert.Equal(t, "Order", rec.Headers.Get(xdispatch.HdrType))
	assert.Equal(t, "abc", rec.Headers.Get("trace"))
	assert.Equal(t, time.UnixMilli(1700000000000), rec.Timestamp)
}

func TestEncodeValues_UnkeyedRecordHasNoKeyField(t *testing.T) {
	vals := encodeValues(&xdispatch.OutboundRecord{Topic: "t", Value: []byte("x")})
	_, hasKey := vals[fieldKey]
	_, hasPartition := vals[fieldPartition]
	assert.False(t, hasKey)
	assert.False(t, hasPartition)

	rec := decodeRecord("t", "1-0", map[string]any{fieldValue: "x"})
	assert.Nil(t, rec.Key)
	assert.NotNil(t, rec.Headers)
}

func TestIDTime_InvalidIDs(t *testing.T) {
	assert.True(t, idTime("").IsZero())
	assert.True(t, idTime("abc").IsZero())
	assert.True(t, idTime("x-1").IsZero())
}

func TestDeadLetterValues_KeepOrigin(t *testing.T) {
	rec := &xdispatch.RawRecord{
		Topic:   "orders",
		ID:      "5-1",
		Value:   []byte("v"),
		Headers: xdispatch.Headers{xdispatch.HdrType: "Order"},
	}
	vals := deadLetterValues(rec, errors.New("boom"))
	assert.Equal(t, "orders", vals[fieldOrigTopic])
	assert.Equal(t, "5-1", vals[fieldOrigID])
	assert.Equal(t, "boom", vals[fieldError])
	assert.Equal(t, "Order", vals[fieldHeaderPrefix+xdispatch.HdrType])
}

func TestConfigFromMap_AcceptsDecodedConfigValues(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":           "redis:6380",
		"group":          "payments",
		"topics":         []any{"orders", "refunds"},
		"block":          "250ms",
		"db":             int64(2),
		"max_len_approx": 1000,
		"claim_min_idle": "30s",
		"claim_batch":    float64(16),
	})

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, "payments", cfg.Group)
	assert.Equal(t, []string{"orders", "refunds"}, cfg.Topics)
	assert.Equal(t, 250*time.Millisecond, cfg.Block)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, int64(1000), cfg.MaxLenApprox)
	assert.Equal(t, 30*time.Second, cfg.ClaimMinIdle)
	assert.Equal(t, 16, cfg.ClaimBatch)
	assert.True(t, cfg.AutoCreate)
	assert.NotEmpty(t, cfg.Consumer)
}

func TestConfigFromMap_RoundTripsToMap(t *testing.T) {
	in := Defaults()
	in.Topics = []string{"a"}
	in.DeadLetter = "dlq"
	in.Block = time.Second

	out := ConfigFromMap(in.toMap())
	assert.Equal(t, in, out)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Addr = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Block = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ClaimMinIdle = time.Second
	bad.ClaimBatch = 0
	assert.Error(t, bad.Validate())
}

func TestNewBrokerWithClient_RejectsNilClient(t *testing.T) {
	_, err := NewBrokerWithClient(Defaults(), nil)
	assert.Error(t, err)
}

// Live tests below run only against a reachable Redis at XDISPATCH_REDIS_ADDR.

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("XDISPATCH_REDIS_ADDR")
	if addr == "" {
		t.Skip("XDISPATCH_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("XDISPATCH_REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

// cleanupStream removes a stream together with its consumer group.
func cleanupStream(client *redis.Client, stream, group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = client.XGroupDestroy(ctx, stream, group).Err()
	_ = client.Del(ctx, stream).Err()
}

func liveConfig(t *testing.T, topics ...string) Config {
	cfg := Defaults()
	cfg.Addr = os.Getenv("XDISPATCH_REDIS_ADDR")
	cfg.Password = os.Getenv("XDISPATCH_REDIS_PASSWORD")
	cfg.Group = fmt.Sprintf("xdispatch-test-%d", time.Now().UnixNano())
	cfg.Topics = topics
	cfg.Block = 200 * time.Millisecond
	return cfg
}

func TestBroker_SendPollCommit(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	topic := fmt.Sprintf("xdispatch-test-%d", time.Now().UnixNano())
	cfg := liveConfig(t, topic)
	defer cleanupStream(client, topic, cfg.Group)

	br, err := NewBroker(cfg)
	require.NoError(t, err)
	defer br.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ack, err := br.SendRecord(ctx, &xdispatch.OutboundRecord{
		Topic:   topic,
		Key:     []byte("k1"),
		Value:   []byte(`{"ID":"1"}`),
		Headers: xdispatch.Headers{xdispatch.HdrType: "TestPayload"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)

	recs, err := br.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ack.ID, recs[0].ID)
	assert.Equal(t, "TestPayload", recs[0].Headers.Get(xdispatch.HdrType))

	require.NoError(t, br.Commit(ctx, recs...))

	pending, err := client.XPending(ctx, topic, cfg.Group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestBroker_ClaimsIdlePendingEntries(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	topic := fmt.Sprintf("xdispatch-test-%d", time.Now().UnixNano())
	cfg := liveConfig(t, topic)
	defer cleanupStream(client, topic, cfg.Group)

	crashed, err := NewBroker(cfg)
	require.NoError(t, err)
	defer crashed.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = crashed.SendRecord(ctx, &xdispatch.OutboundRecord{Topic: topic, Value: []byte("v")})
	require.NoError(t, err)
	recs, err := crashed.Poll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// the first consumer never commits; a second one reclaims after idle time
	cfg2 := cfg
	cfg2.Consumer = cfg.Consumer + "-2"
	cfg2.ClaimMinIdle = 50 * time.Millisecond
	survivor, err := NewBroker(cfg2)
	require.NoError(t, err)
	defer survivor.Close(context.Background())

	time.Sleep(100 * time.Millisecond)
	claimed, err := survivor.Poll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, recs[0].ID, claimed[0].ID)
	assert.Equal(t, uint64(1), survivor.Stats().Claimed)
}

func TestBroker_PollWithoutTopicsFails(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	br, err := NewBroker(liveConfig(t))
	require.NoError(t, err)
	defer br.Close(context.Background())

	_, err = br.Poll(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoTopics)
}

func TestClient_EndToEndOverRedis(t *testing.T) {
	client := redisClient(t)
	defer client.Close()

	topic := fmt.Sprintf("xdispatch-test-%d", time.Now().UnixNano())
	cfg := liveConfig(t, topic)
	defer cleanupStream(client, topic, cfg.Group)

	c, err := Build(cfg)
	require.NoError(t, err)
	defer c.Close(context.Background())

	got := make(chan TestPayload, 1)
	_, _, err = xdispatch.Handle(c.Registry(), topic, "TestPayload",
		func(_ context.Context, p TestPayload, _ xdispatch.Headers) error {
			got <- p
			return nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.Send(ctx, topic, TestPayload{ID: "1", Data: "hello"}, xdispatch.WithKey("1"))
	require.NoError(t, err)
	assert.Equal(t, xdispatch.OutcomeSent, res.Outcome)

	res, err = c.Send(ctx, topic, TestPayload{ID: "1", Data: "hello"}, xdispatch.WithKey("1"))
	require.NoError(t, err)
	assert.True(t, res.Skipped())

	go func() { _ = c.Consume(ctx) }()

	select {
	case p := <-got:
		assert.Equal(t, "hello", p.Data)
	case <-ctx.Done():
		t.Fatal("message not consumed")
	}
}
