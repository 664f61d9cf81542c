package xdispatch

import (
	"container/list"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
)

const (
	DefaultDedupWindow     = 5 * time.Minute
	DefaultDedupCapacity   = 10000
	defaultCleanupInterval = time.Minute
	dedupKeySeparator      = ":"
)

type dedupEntry struct {
	key        string
	insertedAt time.Time
	confirmed  bool
	token      uint64
	element    *list.Element
}

// DedupCache is a bounded, time-expiring set of recently sent
// (topic, key) identities. Entries expire window after their last write and
// the least recently used entry is evicted once capacity is reached.
//
// It is in-memory only: a restart forgets every entry.
type DedupCache struct {
	mu       sync.Mutex
	entries  map[string]*dedupEntry
	order    *list.List // front = least recently used
	window   time.Duration
	capacity int
	clock    Clock
	nextTok  uint64

	cleanupEvery time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

// DedupOption configures a DedupCache.
type DedupOption func(*DedupCache)

// WithDedupClock replaces the time source (tests use a manual clock).
func WithDedupClock(c Clock) DedupOption {
	return func(d *DedupCache) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept.
// A non-positive interval disables the background sweep.
func WithCleanupInterval(every time.Duration) DedupOption {
	return func(d *DedupCache) { d.cleanupEvery = every }
}

// NewDedupCache creates a cache holding at most capacity keys for window.
func NewDedupCache(window time.Duration, capacity int, opts ...DedupOption) *DedupCache {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if capacity < 1 {
		capacity = DefaultDedupCapacity
	}
	d := &DedupCache{
		entries:      make(map[string]*dedupEntry),
		order:        list.New(),
		window:       window,
		capacity:     capacity,
		clock:        xclock.Default(),
		cleanupEvery: defaultCleanupInterval,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.cleanupEvery > 0 {
		go d.cleanup()
	}
	return d
}

// TryReserve atomically claims (topic, key). It returns false when a live
// entry already exists. A nil key is never deduplicated.
func (d *DedupCache) TryReserve(topic string, key []byte) bool {
	_, ok := d.reserve(topic, key)
	return ok
}

// Confirm marks (topic, key) as sent and restarts its window. Safe to repeat.
func (d *DedupCache) Confirm(topic string, key []byte) {
	if key == nil {
		return
	}
	k := dedupKey(topic, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if e, ok := d.entries[k]; ok {
		e.insertedAt = now
		e.confirmed = true
		d.order.MoveToBack(e.element)
		return
	}
	e := d.insertLocked(k, now)
	e.confirmed = true
}

// Len returns the number of stored entries, expired ones included until swept.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Window returns the configured dedup window.
func (d *DedupCache) Window() time.Duration { return d.window }

// Close stops the background sweep. It is safe to call multiple times.
func (d *DedupCache) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// reserve returns a token identifying the reservation so a failed send can
// release exactly what it claimed. Token 0 means nothing was stored.
func (d *DedupCache) reserve(topic string, key []byte) (uint64, bool) {
	if key == nil {
		return 0, true
	}
	k := dedupKey(topic, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if e, ok := d.entries[k]; ok {
		if d.liveLocked(e, now) {
			d.order.MoveToBack(e.element)
			return 0, false
		}
		d.removeLocked(e)
	}
	e := d.insertLocked(k, now)
	return e.token, true
}

// release drops an unconfirmed reservation if it is still the one identified by token.
func (d *DedupCache) release(topic string, key []byte, token uint64) {
	if key == nil || token == 0 {
		return
	}
	k := dedupKey(topic, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[k]; ok && e.token == token && !e.confirmed {
		d.removeLocked(e)
	}
}

func (d *DedupCache) liveLocked(e *dedupEntry, now time.Time) bool {
	return now.Before(e.insertedAt.Add(d.window))
}

// insertLocked must be called with mu held.
func (d *DedupCache) insertLocked(k string, now time.Time) *dedupEntry {
	for len(d.entries) >= d.capacity {
		d.evictOldestLocked()
	}
	d.nextTok++
	e := &dedupEntry{key: k, insertedAt: now, token: d.nextTok}
	e.element = d.order.PushBack(e)
	d.entries[k] = e
	return e
}

func (d *DedupCache) evictOldestLocked() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.removeLocked(front.Value.(*dedupEntry))
}

func (d *DedupCache) removeLocked(e *dedupEntry) {
	d.order.Remove(e.element)
	delete(d.entries, e.key)
}

func (d *DedupCache) cleanup() {
	ticker := time.NewTicker(d.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-d.done:
			return
		}
	}
}

// sweep removes every expired entry.
func (d *DedupCache) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for _, e := range d.entries {
		if !d.liveLocked(e, now) {
			d.removeLocked(e)
		}
	}
}

func dedupKey(topic string, key []byte) string {
	return topic + dedupKeySeparator + string(key)
}
