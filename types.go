package xdispatch

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Typed lets a payload declare its own TypeID instead of relying on the
// type table's Go-type lookup.
type Typed interface {
	MessageType() TypeID
}

type typeEntry struct {
	id     TypeID
	goType reflect.Type
	decode func(c Codec, data []byte) (any, error)
}

// Types maps declared type identifiers to concrete Go types. Each entry
// carries a decoder built once at registration, so decoding never has to
// discover a type by reflection.
type Types struct {
	mu     sync.RWMutex
	byID   map[TypeID]*typeEntry
	byType map[reflect.Type]*typeEntry
}

// NewTypes returns an empty type table.
func NewTypes() *Types {
	return &Types{
		byID:   make(map[TypeID]*typeEntry),
		byType: make(map[reflect.Type]*typeEntry),
	}
}

// RegisterType binds id to T. Registering the same pair twice is a no-op;
// binding id (or T) to something else fails with ErrTypeConflict.
func RegisterType[T any](t *Types, id TypeID) error {
	if id == "" {
		return ErrMissingType
	}
	goType := reflect.TypeOf((*T)(nil)).Elem()

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byID[id]; ok {
		if e.goType == goType {
			return nil
		}
		return fmt.Errorf("%w: %q is %s, not %s", ErrTypeConflict, id, e.goType, goType)
	}
	if e, ok := t.byType[goType]; ok {
		return fmt.Errorf("%w: %s is already registered as %q", ErrTypeConflict, goType, e.id)
	}

	e := &typeEntry{
		id:     id,
		goType: goType,
		decode: func(c Codec, data []byte) (any, error) {
			var v T
			if err := c.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
	t.byID[id] = e
	t.byType[goType] = e
	return nil
}

// MustRegisterType is RegisterType that panics on error, for init-time tables.
func MustRegisterType[T any](t *Types, id TypeID) {
	if err := RegisterType[T](t, id); err != nil {
		panic(err)
	}
}

// IDOf resolves the TypeID of a payload: Typed payloads name themselves,
// otherwise the Go type (or, for a pointer, its element type) must be registered.
// A self-declared id must also be registered, and bound to the payload's type.
func (t *Types) IDOf(payload any) (TypeID, error) {
	if payload == nil {
		return "", ErrNilPayload
	}
	rt := reflect.TypeOf(payload)
	tp, typed := payload.(Typed)
	var id TypeID
	if typed {
		if id = tp.MessageType(); id == "" {
			return "", ErrMissingType
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if typed {
		e, ok := t.byID[id]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownType, id)
		}
		if e.goType != rt && !(rt.Kind() == reflect.Pointer && e.goType == rt.Elem()) {
			return "", fmt.Errorf("%w: %q is %s, not %s", ErrTypeConflict, id, e.goType, rt)
		}
		return id, nil
	}

	if e, ok := t.byType[rt]; ok {
		return e.id, nil
	}
	if rt.Kind() == reflect.Pointer {
		if e, ok := t.byType[rt.Elem()]; ok {
			return e.id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownType, rt)
}

// IDs returns the registered identifiers in sorted order.
func (t *Types) IDs() []TypeID {
	t.mu.RLock()
	ids := make([]TypeID, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Types) lookup(id TypeID) (*typeEntry, bool) {
	t.mu.RLock()
	e, ok := t.byID[id]
	t.mu.RUnlock()
	return e, ok
}
