package xdispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPoolWorkers = 4
	defaultPoolBuffer  = 1000
)

// delivery pairs an event with the observer set captured when it was raised,
// so later AddObserver/RemoveObserver calls do not affect queued events.
type delivery struct {
	event     Event
	observers []Observer
}

// ObserverPool delivers events to observers on background workers so a slow
// observer never holds up Send or Dispatch. When the queue is full the event
// is dropped and counted.
type ObserverPool struct {
	queue   chan delivery
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Dropped    uint64
	Processed  uint64
	Queued     int
	Workers    int
	BufferSize int
}

// NewObserverPool starts workers goroutines reading from a queue of
// bufferSize events. Non-positive values fall back to 4 workers and 1000 slots.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = defaultPoolWorkers
	}
	if bufferSize < 1 {
		bufferSize = defaultPoolBuffer
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		queue:   make(chan delivery, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}
	op.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go op.run()
	}
	return op
}

// Notify queues e for observers without blocking.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	d := delivery{event: e, observers: append([]Observer(nil), observers...)}

	select {
	case op.queue <- d:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for {
		select {
		case d := <-op.queue:
			op.deliver(d)
		case <-op.ctx.Done():
			op.drain()
			return
		}
	}
}

// drain delivers whatever is still queued at shutdown.
func (op *ObserverPool) drain() {
	for {
		select {
		case d := <-op.queue:
			op.deliver(d)
		default:
			return
		}
	}
}

func (op *ObserverPool) deliver(d delivery) {
	for _, o := range d.observers {
		if o != nil {
			safeNotify(o, d.event)
		}
	}
	op.processed.Add(1)
}

// Close stops accepting events and waits up to timeout for the queue to
// drain. It returns ErrObserverPoolShutdownTimeout when workers are still
// busy after timeout.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	finished := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(finished)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-finished:
		return nil
	case <-t.C:
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool counters.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:    op.dropped.Load(),
		Processed:  op.processed.Load(),
		Queued:     len(op.queue),
		Workers:    op.workers,
		BufferSize: cap(op.queue),
	}
}
