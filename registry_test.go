package xdispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopOrder(context.Context, Order, Headers) error       { return nil }
func noopShipment(context.Context, Shipment, Headers) error { return nil }

func TestRegistry_HandleAndLookup(t *testing.T) {
	r := NewRegistry(nil, WithRegistryLogger(testLogger()))

	prev, replaced, err := Handle(r, "orders", "Order", noopOrder)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Empty(t, prev)

	id, ok := r.Lookup("orders")
	require.True(t, ok)
	assert.Equal(t, TypeID("Order"), id)
	assert.Equal(t, []string{"orders"}, r.Topics())
	assert.Equal(t, []TypeID{"Order"}, r.Types().IDs())
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry(nil, WithRegistryLogger(testLogger()))

	_, _, err := Handle(r, "orders", "Order", noopOrder)
	require.NoError(t, err)
	prev, replaced, err := Handle(r, "orders", "Shipment", noopShipment)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, TypeID("Order"), prev)

	id, _ := r.Lookup("orders")
	assert.Equal(t, TypeID("Shipment"), id)
}

func TestRegistry_StrictRejectsDuplicate(t *testing.T) {
	r := NewRegistry(nil, WithStrictRegistration())

	_, _, err := Handle(r, "orders", "Order", noopOrder)
	require.NoError(t, err)
	_, _, err = Handle(r, "orders", "Shipment", noopShipment)
	assert.ErrorIs(t, err, ErrDuplicateRegistration)

	id, _ := r.Lookup("orders")
	assert.Equal(t, TypeID("Order"), id)
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	r := NewRegistry(nil)

	_, _, err := Handle(r, "", "Order", noopOrder)
	assert.ErrorIs(t, err, ErrInvalidTopic)

	_, _, err = Handle[Order](r, "orders", "Order", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	_, _, err = Handle(r, "orders", "", noopOrder)
	assert.ErrorIs(t, err, ErrMissingType)

	// one TypeID cannot name two Go types
	_, _, err = Handle(r, "orders", "Order", noopOrder)
	require.NoError(t, err)
	_, _, err = Handle(r, "shipments", "Order", noopShipment)
	assert.ErrorIs(t, err, ErrTypeConflict)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)
	_, _, err := Handle(r, "orders", "Order", noopOrder)
	require.NoError(t, err)

	assert.True(t, r.Unregister("orders"))
	assert.False(t, r.Unregister("orders"))
	_, ok := r.Lookup("orders")
	assert.False(t, ok)
}
