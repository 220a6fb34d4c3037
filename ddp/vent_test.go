package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestVentDispatcherRoutesByMessageId(t *testing.T) {
	vd := NewVentDispatcher(func(string, ...any) {})

	var gotA, gotB any
	vd.Listen("a", func(e any) { gotA = e })
	vd.Listen("b", func(e any) { gotB = e })

	isVent := vd.HandleChanged(EJSONObject{"__vent": "1", "id": "a", "e": "hello-a"})
	assert.Equal(t, true, isVent)
	assert.Equal(t, "hello-a", gotA)
	assert.Equal(t, nil, gotB)
}

func TestVentDispatcherIgnoresOrdinaryChanged(t *testing.T) {
	vd := NewVentDispatcher(func(string, ...any) {})

	isVent := vd.HandleChanged(EJSONObject{"msg": "changed", "collection": "players"})
	assert.Equal(t, false, isVent)
}

func TestVentDispatcherRemoveStopsDelivery(t *testing.T) {
	vd := NewVentDispatcher(func(string, ...any) {})

	calls := 0
	remove := vd.Listen("a", func(e any) { calls++ })
	remove()

	vd.HandleChanged(EJSONObject{"__vent": "1", "id": "a", "e": "x"})
	assert.Equal(t, 0, calls)
}

func TestVentDispatcherResetDropsAllListenersForId(t *testing.T) {
	vd := NewVentDispatcher(func(string, ...any) {})

	calls := 0
	vd.Listen("a", func(e any) { calls++ })
	vd.Listen("a", func(e any) { calls++ })
	vd.Reset("a")

	vd.HandleChanged(EJSONObject{"__vent": "1", "id": "a", "e": "x"})
	assert.Equal(t, 0, calls)
}
