package xdispatch

import (
	"errors"
	"sort"
	"sync"
)

// BrokerFactory constructs brokers from a config blob.
type BrokerFactory func(cfg map[string]any) (Broker, error)

var (
	brokerRegistryMu sync.RWMutex
	brokerRegistry   = map[string]BrokerFactory{}
)

// RegisterBroker registers a broker adapter under name. Adapters call it
// from init.
func RegisterBroker(name string, factory BrokerFactory) error {
	if name == "" {
		return errors.New("broker name must not be empty")
	}
	if factory == nil {
		return errors.New("broker factory must not be nil")
	}
	brokerRegistryMu.Lock()
	brokerRegistry[name] = factory
	brokerRegistryMu.Unlock()
	return nil
}

// NewBroker constructs a broker by name with config.
func NewBroker(name string, cfg map[string]any) (Broker, error) {
	brokerRegistryMu.RLock()
	f, ok := brokerRegistry[name]
	brokerRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownBroker{name: name}
	}
	return f(cfg)
}

// Brokers lists the registered broker names.
func Brokers() []string {
	brokerRegistryMu.RLock()
	names := make([]string, 0, len(brokerRegistry))
	for n := range brokerRegistry {
		names = append(names, n)
	}
	brokerRegistryMu.RUnlock()
	sort.Strings(names)
	return names
}
