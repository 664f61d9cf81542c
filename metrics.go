package xdispatch

import "sync/atomic"

// Metrics is a point-in-time snapshot of client counters.
type Metrics struct {
	Sent              uint64
	DuplicatesSkipped uint64
	PublishErrors     uint64
	Dispatched        uint64
	DispatchErrors    uint64
	Committed         uint64
	EventsDropped     uint64
	DedupEntries      int
	AvgDispatchMs     float64
}

// counters uses lock-free atomics shared by publisher, dispatcher and consumer.
type counters struct {
	sent           atomic.Uint64
	duplicates     atomic.Uint64
	publishErrors  atomic.Uint64
	dispatched     atomic.Uint64
	dispatchErrors atomic.Uint64
	committed      atomic.Uint64
	dispatchNs     atomic.Int64
}

// recordDispatchTime keeps an exponential moving average of dispatch latency.
func (c *counters) recordDispatchTime(ns int64) {
	const alpha = 0.2
	for {
		cur := c.dispatchNs.Load()
		next := ns
		if cur != 0 {
			next = int64(float64(ns)*alpha + float64(cur)*(1-alpha))
		}
		if c.dispatchNs.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		Sent:              c.sent.Load(),
		DuplicatesSkipped: c.duplicates.Load(),
		PublishErrors:     c.publishErrors.Load(),
		Dispatched:        c.dispatched.Load(),
		DispatchErrors:    c.dispatchErrors.Load(),
		Committed:         c.committed.Load(),
		AvgDispatchMs:     float64(c.dispatchNs.Load()) / 1e6,
	}
}
