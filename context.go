package xdispatch

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xdispatch (prevents collisions).
type ctxKey string

const (
	loggerCtxKey ctxKey = "xdispatch:logger"
	clockCtxKey  ctxKey = "xdispatch:clock"
	recordCtxKey ctxKey = "xdispatch:record"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the logger injected by the dispatcher.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext returns the clock injected by the dispatcher.
func ClockFromContext(ctx context.Context) (Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectRecord(ctx context.Context, rec *RawRecord) context.Context {
	return context.WithValue(ctx, recordCtxKey, rec)
}

// RecordFromContext returns the raw broker record being dispatched.
func RecordFromContext(ctx context.Context) (*RawRecord, bool) {
	rec, ok := ctx.Value(recordCtxKey).(*RawRecord)
	return rec, ok && rec != nil
}
