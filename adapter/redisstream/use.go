package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xdispatch"
)

// Adapter: Redis Streams Broker (Strategy + Adapter patterns)

const BrokerName = "redis-streams"

func init() {
	if err := xdispatch.RegisterBroker(BrokerName, func(cfg map[string]any) (xdispatch.Broker, error) {
		return NewBroker(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xdispatch: failed to register broker %q: %w", BrokerName, err))
	}
}

// Build connects to Redis and returns a Client over it. Nothing is
// installed globally; the caller owns the client and must Close it.
func Build(cfg Config, opts ...Option) (*xdispatch.Client, error) {
	b := xdispatch.NewBuilder().
		WithBroker(BrokerName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	client, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("redisstream.Build: %w", err)
	}
	return client, nil
}
