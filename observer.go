package xdispatch

import (
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("payload_type", string(e.TypeID)),
		xlog.Str("message_id", e.MessageID),
	)
	if e.Key != "" {
		ev = ev.With(xlog.Str("key", e.Key))
	}
	if e.Type == DispatchStart || e.Type == DispatchDone || e.Type == Commit {
		ev = ev.With(
			xlog.Str("partition", strconv.FormatInt(int64(e.Partition), 10)),
			xlog.Str("offset", strconv.FormatInt(e.Offset, 10)),
		)
	}
	if e.Duration > 0 {
		ev = ev.With(xlog.Dur("duration", e.Duration))
	}
	switch {
	case e.Err != nil || e.Type == Error:
		ev.Warn().Err(e.Err).Msg("xdispatch event")
	default:
		ev.Debug().Msg("xdispatch event")
	}
}

// hub fans events out to registered observers, asynchronously through an
// ObserverPool when one is configured.
type hub struct {
	mu        sync.RWMutex
	observers []Observer
	pool      *ObserverPool
	closed    atomic.Bool
}

func newHub(pool *ObserverPool) *hub {
	return &hub{pool: pool}
}

func (h *hub) add(obs Observer) {
	if obs == nil {
		return
	}
	h.mu.Lock()
	h.observers = append(h.observers, obs)
	h.mu.Unlock()
}

// remove drops obs. Observers of non-comparable types (ObserverFunc) cannot
// be removed.
func (h *hub) remove(obs Observer) {
	if obs == nil || !reflect.TypeOf(obs).Comparable() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, o := range h.observers {
		if o == obs {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			break
		}
	}
}

func (h *hub) notify(e Event) {
	if h == nil || h.closed.Load() {
		return
	}

	h.mu.RLock()
	if len(h.observers) == 0 {
		h.mu.RUnlock()
		return
	}
	observers := make([]Observer, len(h.observers))
	copy(observers, h.observers)
	h.mu.RUnlock()

	if h.pool != nil {
		h.pool.Notify(e, observers)
		return
	}
	for _, o := range observers {
		safeNotify(o, e)
	}
}

func (h *hub) dropped() uint64 {
	if h == nil || h.pool == nil {
		return 0
	}
	return h.pool.Stats().Dropped
}

func safeNotify(o Observer, e Event) {
	defer func() {
		// observer panics must not break publish/dispatch
		_ = recover()
	}()
	o.OnEvent(e)
}
