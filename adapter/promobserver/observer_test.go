package promobserver

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xdispatch"
)

func TestObserver_CountsLifecycleEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	require.NoError(t, err)

	o.OnEvent(xdispatch.Event{Type: xdispatch.PublishDone, Topic: "orders", Duration: time.Millisecond})
	o.OnEvent(xdispatch.Event{Type: xdispatch.PublishDone, Topic: "orders",
		Err: &xdispatch.PublishError{Op: "send", Topic: "orders", Err: errors.New("down")}})
	o.OnEvent(xdispatch.Event{Type: xdispatch.DuplicateSkipped, Topic: "orders"})
	o.OnEvent(xdispatch.Event{Type: xdispatch.DispatchDone, Topic: "orders"})
	o.OnEvent(xdispatch.Event{Type: xdispatch.DispatchDone, Topic: "orders",
		Err: &xdispatch.TypeMismatchError{Topic: "orders", Expected: "Order", Actual: "Shipment"}})
	o.OnEvent(xdispatch.Event{Type: xdispatch.Commit, Topic: "orders"})
	o.OnEvent(xdispatch.Event{Type: xdispatch.Error, Err: errors.New("poll")})

	assert.Equal(t, 1.0, testutil.ToFloat64(o.published.WithLabelValues("orders", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.published.WithLabelValues("orders", "publish_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.duplicates.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dispatched.WithLabelValues("orders", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.dispatched.WithLabelValues("orders", "type_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.committed.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.failures.WithLabelValues("")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.publishDur))
}

func TestObserver_SecondRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}

func TestResult_ClassifiesWrappedErrors(t *testing.T) {
	assert.Equal(t, "ok", result(nil))
	assert.Equal(t, "no_handler", result(&xdispatch.NoHandlerError{Topic: "x"}))
	assert.Equal(t, "conversion_error", result(&xdispatch.DispatchError{Topic: "x", Err: errors.New("bad")}))
	assert.Equal(t, "handler_error", result(&xdispatch.HandlingError{Topic: "x", Err: errors.New("bad")}))
	assert.Equal(t, "error", result(errors.New("other")))
}
