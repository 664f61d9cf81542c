package xdispatch

import (
	"strconv"
	"time"
)

// Well-known header keys. Routing headers are stamped on ingest; HdrType
// carries the declared payload type on the wire.
const (
	HdrType      = "type"
	HdrMessageID = "message-id"
	HdrTopic     = "topic"
	HdrPartition = "partition"
	HdrOffset    = "offset"
	HdrTimestamp = "timestamp"
)

// TypeID names a payload type on the wire.
type TypeID string

// Headers is a bag of string metadata traveling with a record.
type Headers map[string]string

// Get returns the value for key or "" when absent.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

// Clone returns an independent copy. A nil receiver yields an empty map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Topic returns the origin topic stamped on ingest.
func (h Headers) Topic() string { return h.Get(HdrTopic) }

// Partition returns the origin partition stamped on ingest.
func (h Headers) Partition() int32 {
	n, _ := strconv.ParseInt(h.Get(HdrPartition), 10, 32)
	return int32(n)
}

// Offset returns the origin offset stamped on ingest.
func (h Headers) Offset() int64 {
	n, _ := strconv.ParseInt(h.Get(HdrOffset), 10, 64)
	return n
}

// Timestamp returns the broker timestamp stamped on ingest (zero if absent).
func (h Headers) Timestamp() time.Time {
	ms, err := strconv.ParseInt(h.Get(HdrTimestamp), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Envelope is the wire form of a payload: encoded bytes, the declared type
// and headers. It is immutable once constructed.
type Envelope struct {
	payload      []byte
	declaredType TypeID
	headers      Headers
}

// NewEnvelope copies payload and headers into a new Envelope.
func NewEnvelope(payload []byte, declaredType TypeID, headers Headers) Envelope {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Envelope{payload: p, declaredType: declaredType, headers: headers.Clone()}
}

// Payload returns a copy of the encoded bytes.
func (e Envelope) Payload() []byte {
	p := make([]byte, len(e.payload))
	copy(p, e.payload)
	return p
}

// DeclaredType returns the type tag, "" when the envelope carries none.
func (e Envelope) DeclaredType() TypeID { return e.declaredType }

// Headers returns a copy of the envelope headers.
func (e Envelope) Headers() Headers { return e.headers.Clone() }

// Header returns a single header value.
func (e Envelope) Header(key string) string { return e.headers.Get(key) }

// OutboundRecord is what the publisher hands to the broker.
type OutboundRecord struct {
	Topic     string
	Partition *int32 // nil lets the broker choose
	Key       []byte // nil means unkeyed
	Value     []byte
	Headers   Headers
}

// RawRecord is a record as delivered by the broker.
type RawRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	// ID is the broker-native identifier when it is not an offset (e.g. a stream entry ID).
	ID        string
	Key       []byte
	Value     []byte
	Headers   Headers
	Timestamp time.Time
}

// Ack is the broker acknowledgement of a sent record.
type Ack struct {
	Topic     string
	Partition int32
	Offset    int64
	ID        string
	Timestamp time.Time
}

// Outcome tells a real send apart from a suppressed duplicate.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeDuplicateSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeDuplicateSkipped:
		return "duplicate_skipped"
	default:
		return "unknown"
	}
}

// Result is the outcome of a publish call.
type Result struct {
	Outcome Outcome
	Ack     Ack
}

// Skipped reports whether the send was suppressed as a duplicate.
func (r Result) Skipped() bool { return r.Outcome == OutcomeDuplicateSkipped }
