package xdispatch

import (
	"context"
	"strconv"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Dispatcher routes an inbound record to the handler registered for its
// topic. It is synchronous and keeps no state between calls.
type Dispatcher struct {
	registry    *Registry
	conv        *Converter
	middlewares []Middleware
	logger      *xlog.Logger
	clock       Clock
	hub         *hub
	metrics     *counters
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchMiddleware wraps every handler invocation.
func WithDispatchMiddleware(mw ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.middlewares = append(d.middlewares, mw...) }
}

// WithDispatchLogger sets the logger injected into handler contexts.
func WithDispatchLogger(l *xlog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatchClock sets the clock used for latency measurement.
func WithDispatchClock(c Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithDispatchObserver attaches observers for dispatch events.
func WithDispatchObserver(obs ...Observer) DispatcherOption {
	return func(d *Dispatcher) {
		for _, o := range obs {
			d.hub.add(o)
		}
	}
}

// NewDispatcher creates a dispatcher over a registry and a converter.
// The converter must share the registry's type table.
func NewDispatcher(registry *Registry, conv *Converter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		conv:     conv,
		clock:    xclock.Default(),
		hub:      newHub(nil),
		metrics:  &counters{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch looks up the topic handler, decodes the record, checks the
// payload type and invokes the handler. Handler errors and panics are
// returned as *HandlingError and never retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *RawRecord) error {
	if rec == nil {
		return ErrNilRecord
	}

	start := d.clock.Now()
	d.hub.notify(Event{
		Type:      DispatchStart,
		Topic:     rec.Topic,
		TypeID:    TypeID(rec.Headers.Get(HdrType)),
		MessageID: recordID(rec),
		Partition: rec.Partition,
		Offset:    rec.Offset,
	})

	typeID, err := d.dispatch(ctx, rec)

	duration := d.clock.Now().Sub(start)
	d.metrics.recordDispatchTime(duration.Nanoseconds())
	if err != nil {
		d.metrics.dispatchErrors.Add(1)
	} else {
		d.metrics.dispatched.Add(1)
	}
	d.hub.notify(Event{
		Type:      DispatchDone,
		Topic:     rec.Topic,
		TypeID:    typeID,
		MessageID: recordID(rec),
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Duration:  duration,
		Err:       err,
	})
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, rec *RawRecord) (TypeID, error) {
	b, ok := d.registry.lookup(rec.Topic)
	if !ok {
		return "", &NoHandlerError{Topic: rec.Topic}
	}

	env := EnvelopeFromRecord(rec)
	payload, err := d.conv.Decode(env)
	if err != nil {
		return env.DeclaredType(), &DispatchError{Topic: rec.Topic, Err: err}
	}
	if !b.accepts(payload) {
		return env.DeclaredType(), &TypeMismatchError{
			Topic:    rec.Topic,
			Expected: b.typeID,
			Actual:   env.DeclaredType(),
		}
	}

	// Recovery wraps the user chain so panics in middleware are caught too.
	invoke := Chain(b.invoke, append([]Middleware{RecoveryMiddleware()}, d.middlewares...)...)

	hctx := injectLogger(ctx, d.logger)
	hctx = injectClock(hctx, d.clock)
	hctx = injectRecord(hctx, rec)

	if err := invoke(hctx, payload, env.Headers()); err != nil {
		return b.typeID, &HandlingError{Topic: rec.Topic, TypeID: b.typeID, Err: err}
	}
	return b.typeID, nil
}

// EnvelopeFromRecord builds an inbound envelope, copying broker metadata into
// the routing headers. The declared type comes from the HdrType header.
func EnvelopeFromRecord(rec *RawRecord) Envelope {
	h := rec.Headers.Clone()
	h[HdrTopic] = rec.Topic
	h[HdrPartition] = strconv.FormatInt(int64(rec.Partition), 10)
	h[HdrOffset] = strconv.FormatInt(rec.Offset, 10)
	if !rec.Timestamp.IsZero() {
		h[HdrTimestamp] = strconv.FormatInt(rec.Timestamp.UnixMilli(), 10)
	}
	return NewEnvelope(rec.Value, TypeID(rec.Headers.Get(HdrType)), h)
}

func recordID(rec *RawRecord) string {
	if id := rec.Headers.Get(HdrMessageID); id != "" {
		return id
	}
	return rec.ID
}
