package xdispatch

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Builder constructs Client instances (Builder pattern).
type Builder struct {
	cfg Config

	brokerName string
	brokerCfg  map[string]any
	brokerInst Broker

	codecInst Codec
	types     *Types

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       Clock
	strict      bool

	poolWorkers int
	poolBuffer  int
}

// NewBuilder returns a builder starting from DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the whole configuration. A broker named in cfg is
// used unless WithBroker or WithBrokerInstance is also called.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithBroker(name string, cfg map[string]any) *Builder {
	b.brokerName = name
	b.brokerCfg = cfg
	return b
}

// WithBrokerInstance accepts a ready Broker instance.
func (b *Builder) WithBrokerInstance(br Broker) *Builder {
	b.brokerInst = br
	return b
}

func (b *Builder) WithCodec(name string) *Builder {
	b.cfg.Codec = name
	return b
}

// WithCodecInstance accepts a ready Codec instance.
func (b *Builder) WithCodecInstance(c Codec) *Builder {
	b.codecInst = c
	return b
}

// WithTypes shares an existing type table, e.g. one filled by MustRegisterType.
func (b *Builder) WithTypes(t *Types) *Builder {
	b.types = t
	return b
}

// WithDedup overrides the dedup window and capacity. A zero window disables it.
func (b *Builder) WithDedup(window time.Duration, capacity int) *Builder {
	b.cfg.Dedup.Enabled = window > 0
	b.cfg.Dedup.Window = window
	b.cfg.Dedup.Capacity = capacity
	return b
}

func (b *Builder) WithMiddleware(mw ...Middleware) *Builder {
	b.middlewares = append(b.middlewares, mw...)
	return b
}

func (b *Builder) WithObserver(obs ...Observer) *Builder {
	for _, o := range obs {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
	return b
}

// WithObserverPool notifies observers asynchronously through a bounded pool.
func (b *Builder) WithObserverPool(workers, bufferSize int) *Builder {
	b.poolWorkers = workers
	b.poolBuffer = bufferSize
	return b
}

func (b *Builder) WithLogger(l *xlog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithStrictRegistration rejects a second handler for the same topic.
func (b *Builder) WithStrictRegistration() *Builder {
	b.strict = true
	return b
}

func (b *Builder) Build() (*Client, error) {
	cfg := b.cfg
	if cfg.Codec == "" {
		cfg.Codec = CodecJSON
	}
	if cfg.Consumer.Mode == "" {
		cfg.Consumer = DefaultConsumerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Resolve the codec before opening a broker so a bad codec leaks nothing.
	cd := b.codecInst
	if cd == nil {
		var err error
		if cd, err = NewCodec(cfg.Codec); err != nil {
			return nil, err
		}
	}

	var br Broker
	var err error
	switch {
	case b.brokerInst != nil:
		br = b.brokerInst
	case b.brokerName != "":
		br, err = NewBroker(b.brokerName, b.brokerCfg)
	case cfg.Broker.Name != "":
		br, err = NewBroker(cfg.Broker.Name, cfg.Broker.Options)
	default:
		return nil, ErrNoBrokerConfigured
	}
	if err != nil {
		return nil, err
	}

	var clk Clock = xclock.Default()
	if b.clock != nil {
		clk = b.clock
	}
	lg := b.logger
	if lg == nil {
		lg = xlog.Default()
	}

	var pool *ObserverPool
	if b.poolWorkers > 0 || b.poolBuffer > 0 {
		pool = NewObserverPool(context.Background(), b.poolWorkers, b.poolBuffer)
	}
	h := newHub(pool)
	m := &counters{}

	types := b.types
	if types == nil {
		types = NewTypes()
	}
	regOpts := []RegistryOption{WithRegistryLogger(lg)}
	if b.strict {
		regOpts = append(regOpts, WithStrictRegistration())
	}
	registry := NewRegistry(types, regOpts...)
	conv := NewConverter(cd, types)

	var cache *DedupCache
	if cfg.Dedup.Enabled {
		cache = NewDedupCache(cfg.Dedup.Window, cfg.Dedup.Capacity,
			WithDedupClock(clk),
			WithCleanupInterval(cfg.Dedup.CleanupInterval),
		)
	}

	pub := NewPublisher(br, conv, WithPublishLogger(lg), WithPublishClock(clk))
	pub.hub, pub.metrics = h, m
	if cache != nil {
		pub.cache = cache
	}

	disp := NewDispatcher(registry, conv,
		WithDispatchMiddleware(b.middlewares...),
		WithDispatchLogger(lg),
		WithDispatchClock(clk),
	)
	disp.hub, disp.metrics = h, m

	c := &Client{
		broker:     br,
		conv:       conv,
		registry:   registry,
		cache:      cache,
		publisher:  pub,
		dispatcher: disp,
		consumer:   cfg.Consumer,
		logger:     lg,
		hub:        h,
		pool:       pool,
		metrics:    m,
		done:       make(chan struct{}),
	}

	// Logging observer first unless one was supplied explicitly.
	hasLoggingObserver := false
	for _, o := range b.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		h.add(LoggingObserver{Logger: lg})
	}
	for _, o := range b.observers {
		h.add(o)
	}

	return c, nil
}

// New constructs a Client via Builder and returns a close func for convenience.
func New(init func(b *Builder)) (*Client, func() error, error) {
	b := NewBuilder()
	if init != nil {
		init(b)
	}
	c, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return c.Close(context.Background()) }
	return c, closeFn, nil
}
