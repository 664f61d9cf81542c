package xdispatch

import (
	"errors"
	"fmt"
)

var (
	ErrClosed                      = errors.New("xdispatch: closed")
	ErrInvalidTopic                = errors.New("xdispatch: topic must not be empty")
	ErrNilPayload                  = errors.New("xdispatch: payload must not be nil")
	ErrNilRecord                   = errors.New("xdispatch: record must not be nil")
	ErrNilHandler                  = errors.New("xdispatch: handler must not be nil")
	ErrMissingType                 = errors.New("xdispatch: declared type missing")
	ErrUnknownType                 = errors.New("xdispatch: type not registered")
	ErrTypeConflict                = errors.New("xdispatch: type id already bound to a different type")
	ErrDuplicateRegistration       = errors.New("xdispatch: topic already has a handler")
	ErrNoBrokerConfigured          = errors.New("xdispatch: no broker configured")
	ErrObserverPoolShutdownTimeout = errors.New("xdispatch: observer pool shutdown timeout")
)

// ErrUnknownBroker is returned when no factory is registered under a broker name.
type ErrUnknownBroker struct{ name string }

func (e ErrUnknownBroker) Error() string { return fmt.Sprintf("xdispatch: unknown broker: %s", e.name) }

// ConversionError reports a failed encode or decode.
type ConversionError struct {
	Op     string // "encode" or "decode"
	TypeID TypeID
	Err    error
}

func (e *ConversionError) Error() string {
	if e.TypeID == "" {
		return fmt.Sprintf("xdispatch: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("xdispatch: %s %q: %v", e.Op, e.TypeID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// NoHandlerError reports a dispatch to a topic nobody registered for.
type NoHandlerError struct {
	Topic string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("xdispatch: dispatch: no handler registered for topic %q", e.Topic)
}

// TypeMismatchError reports a decoded payload whose type differs from the
// type the topic handler declared.
type TypeMismatchError struct {
	Topic    string
	Expected TypeID
	Actual   TypeID
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("xdispatch: dispatch: topic %q expects %q, got %q", e.Topic, e.Expected, e.Actual)
}

// DispatchError wraps a failure to turn a raw record into a payload.
type DispatchError struct {
	Topic string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("xdispatch: dispatch topic %q: %v", e.Topic, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// HandlingError wraps an error returned (or a panic raised) by a handler.
type HandlingError struct {
	Topic  string
	TypeID TypeID
	Err    error
}

func (e *HandlingError) Error() string {
	return fmt.Sprintf("xdispatch: handle topic %q (%s): %v", e.Topic, e.TypeID, e.Err)
}

func (e *HandlingError) Unwrap() error { return e.Err }

// PublishError wraps a broker send failure.
type PublishError struct {
	Op    string // "send" or "send_async"
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("xdispatch: %s topic %q: %v", e.Op, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
