package xdispatch

import "fmt"

// Converter maps typed payloads to envelopes and back. It performs no I/O.
type Converter struct {
	codec Codec
	types *Types
}

// NewConverter builds a converter over a codec and a type table.
// A nil codec falls back to JSON.
func NewConverter(codec Codec, types *Types) *Converter {
	if codec == nil {
		codec = JSONCodec{}
	}
	if types == nil {
		types = NewTypes()
	}
	return &Converter{codec: codec, types: types}
}

// Codec returns the wire format in use.
func (c *Converter) Codec() Codec { return c.codec }

// Types returns the type table used to resolve declared types.
func (c *Converter) Types() *Types { return c.types }

// Encode serializes payload and stamps its declared type. A pointer payload
// is stamped with its element type's id, so Decode returns the value, not a pointer.
func (c *Converter) Encode(payload any, headers Headers) (Envelope, error) {
	id, err := c.types.IDOf(payload)
	if err != nil {
		return Envelope{}, &ConversionError{Op: "encode", Err: err}
	}
	data, err := c.codec.Marshal(payload)
	if err != nil {
		return Envelope{}, &ConversionError{Op: "encode", TypeID: id, Err: err}
	}
	return NewEnvelope(data, id, headers), nil
}

// Decode deserializes env into a value of its declared type.
func (c *Converter) Decode(env Envelope) (any, error) {
	id := env.DeclaredType()
	if id == "" {
		return nil, &ConversionError{Op: "decode", Err: ErrMissingType}
	}
	e, ok := c.types.lookup(id)
	if !ok {
		return nil, &ConversionError{Op: "decode", TypeID: id, Err: ErrUnknownType}
	}
	v, err := e.decode(c.codec, env.payload)
	if err != nil {
		return nil, &ConversionError{Op: "decode", TypeID: id, Err: fmt.Errorf("%s: %w", c.codec.Name(), err)}
	}
	return v, nil
}
