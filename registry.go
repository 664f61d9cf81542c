package xdispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/trickstertwo/xlog"
)

// HandlerFunc handles one decoded payload of type T.
type HandlerFunc[T any] func(ctx context.Context, msg T, headers Headers) error

// binding is a handler resolved against a concrete type at registration time.
type binding struct {
	topic   string
	typeID  TypeID
	accepts func(payload any) bool
	invoke  Invoker
}

// Registry routes topics to exactly one handler binding.
// Registration is rare; lookup is on the hot path.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
	types    *Types
	logger   *xlog.Logger
	strict   bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used to report handler replacement.
func WithRegistryLogger(l *xlog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithStrictRegistration makes a second registration for a topic fail with
// ErrDuplicateRegistration instead of replacing the first one.
func WithStrictRegistration() RegistryOption {
	return func(r *Registry) { r.strict = true }
}

// NewRegistry creates a registry bound to a type table.
func NewRegistry(types *Types, opts ...RegistryOption) *Registry {
	if types == nil {
		types = NewTypes()
	}
	r := &Registry{
		bindings: make(map[string]*binding),
		types:    types,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Types returns the type table the registry binds against.
func (r *Registry) Types() *Types { return r.types }

// Handle registers fn as the handler for topic, expecting payloads declared
// as typeID and decoded into T. T is added to the type table under typeID.
//
// When topic already had a handler it is replaced and its TypeID is
// returned with replaced=true, unless the registry is strict.
func Handle[T any](r *Registry, topic string, typeID TypeID, fn HandlerFunc[T]) (prev TypeID, replaced bool, err error) {
	if topic == "" {
		return "", false, ErrInvalidTopic
	}
	if fn == nil {
		return "", false, ErrNilHandler
	}
	if err := RegisterType[T](r.types, typeID); err != nil {
		return "", false, err
	}

	b := &binding{
		topic:  topic,
		typeID: typeID,
		accepts: func(payload any) bool {
			_, ok := payload.(T)
			return ok
		},
		invoke: func(ctx context.Context, payload any, headers Headers) error {
			return fn(ctx, payload.(T), headers)
		},
	}
	return r.put(b)
}

func (r *Registry) put(b *binding) (TypeID, bool, error) {
	r.mu.Lock()
	old, exists := r.bindings[b.topic]
	if exists && r.strict {
		r.mu.Unlock()
		return old.typeID, false, fmt.Errorf("%w: %q (%s)", ErrDuplicateRegistration, b.topic, old.typeID)
	}
	r.bindings[b.topic] = b
	r.mu.Unlock()

	if !exists {
		if r.logger != nil {
			r.logger.With(xlog.Str("topic", b.topic), xlog.Str("type", string(b.typeID))).
				Info().Msg("xdispatch: handler registered")
		}
		return "", false, nil
	}
	if r.logger != nil {
		r.logger.With(
			xlog.Str("topic", b.topic),
			xlog.Str("type", string(b.typeID)),
			xlog.Str("previous_type", string(old.typeID)),
		).Warn().Msg("xdispatch: handler replaced")
	}
	return old.typeID, true, nil
}

// Unregister removes the handler for topic and reports whether one existed.
func (r *Registry) Unregister(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[topic]
	delete(r.bindings, topic)
	return ok
}

// Lookup returns the TypeID bound to topic.
func (r *Registry) Lookup(topic string) (TypeID, bool) {
	b, ok := r.lookup(topic)
	if !ok {
		return "", false
	}
	return b.typeID, true
}

// Topics returns every registered topic in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	topics := make([]string, 0, len(r.bindings))
	for t := range r.bindings {
		topics = append(topics, t)
	}
	r.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

func (r *Registry) lookup(topic string) (*binding, bool) {
	r.mu.RLock()
	b, ok := r.bindings[topic]
	r.mu.RUnlock()
	return b, ok
}
