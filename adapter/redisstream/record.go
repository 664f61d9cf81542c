package redisstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trickstertwo/xdispatch"
)

// encodeValues flattens an outbound record into XADD field/value pairs.
func encodeValues(rec *xdispatch.OutboundRecord) map[string]any {
	vals := make(map[string]any, 3+len(rec.Headers))
	vals[fieldValue] = rec.Value
	if rec.Key != nil {
		vals[fieldKey] = rec.Key
	}
	if rec.Partition != nil {
		vals[fieldPartition] = strconv.FormatInt(int64(*rec.Partition), 10)
	}
	// Flatten headers to avoid nested encodings
	for k, v := range rec.Headers {
		vals[fieldHeaderPrefix+k] = v
	}
	return vals
}

// decodeRecord rebuilds a RawRecord from a stream entry.
func decodeRecord(topic, id string, vals map[string]any) *xdispatch.RawRecord {
	rec := &xdispatch.RawRecord{
		Topic:     topic,
		ID:        id,
		Headers:   make(xdispatch.Headers, len(vals)),
		Timestamp: idTime(id),
	}

	if v, ok := vals[fieldValue]; ok {
		rec.Value = asBytes(v)
	}
	if v, ok := vals[fieldKey]; ok {
		rec.Key = asBytes(v)
	}
	if v, ok := vals[fieldPartition]; ok {
		if n, ok := toInt64(v); ok {
			rec.Partition = int32(n)
		}
	}
	for k, v := range vals {
		if strings.HasPrefix(k, fieldHeaderPrefix) {
			rec.Headers[strings.TrimPrefix(k, fieldHeaderPrefix)] = asString(v)
		}
	}
	return rec
}

// deadLetterValues keeps the original entry and adds where it came from and why it failed.
func deadLetterValues(rec *xdispatch.RawRecord, reason error) map[string]any {
	vals := make(map[string]any, 5+len(rec.Headers))
	vals[fieldOrigTopic] = rec.Topic
	vals[fieldOrigID] = rec.ID
	vals[fieldError] = fmt.Sprintf("%v", reason)
	vals[fieldValue] = rec.Value
	if rec.Key != nil {
		vals[fieldKey] = rec.Key
	}
	for k, v := range rec.Headers {
		vals[fieldHeaderPrefix+k] = v
	}
	return vals
}

// idTime extracts the millisecond timestamp of a "<ms>-<seq>" entry ID.
func idTime(id string) time.Time {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

// Helper functions for type conversion

func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return []byte(fmt.Sprintf("%v", b))
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
