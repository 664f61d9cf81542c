package xdispatch

// DecodeAs decodes env through the converter and asserts the result is a T.
// A payload of another registered type yields *ConversionError wrapping
// ErrTypeConflict.
func DecodeAs[T any](c *Converter, env Envelope) (T, error) {
	var zero T
	v, err := c.Decode(env)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &ConversionError{Op: "decode", TypeID: env.DeclaredType(), Err: ErrTypeConflict}
	}
	return t, nil
}
