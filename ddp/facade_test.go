package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestNewClientWiresComponentsWithoutPanicking(t *testing.T) {
	client, err := NewClient("ws://example.invalid/websocket", &ClientSettings{
		Scheduler: inlineScheduler{},
	}, Events{})
	assert.Equal(t, nil, err)

	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, "", client.UserId())
	assert.Equal(t, false, client.IsLoggedIn())

	_, ok := client.User()
	assert.Equal(t, false, ok)
}

func TestClientCollectionAndFindAreReactiveHandles(t *testing.T) {
	client, err := NewClient("ws://example.invalid/websocket", &ClientSettings{
		Scheduler: inlineScheduler{},
	}, Events{})
	assert.Equal(t, nil, err)

	collection := client.Collection("players")
	collection.Upsert("p1", Doc{"_id": "p1", "name": "ada"})

	cursor := client.Find("players", nil, FindOptions{})
	assert.Equal(t, 1, cursor.Count())
}

func TestNewClientRejectsMalformedEndpoint(t *testing.T) {
	_, err := NewClient("http://example.invalid/socket", nil, Events{})
	assert.NotEqual(t, nil, err)

	_, err = NewClient("http://example.invalid/socket", &ClientSettings{SuppressURLErrors: true, Scheduler: inlineScheduler{}}, Events{})
	assert.Equal(t, nil, err)
}

func TestVentSubscribePrependsVentIdAndRoutesEvents(t *testing.T) {
	client, err := NewClient("ws://example.invalid/websocket", &ClientSettings{
		Scheduler: inlineScheduler{},
	}, Events{})
	assert.Equal(t, nil, err)

	sub := client.VentSubscribe("stream-room-messages", []any{"room-1"}, SubscriptionCallbacks{})
	assert.NotEqual(t, "", sub.VentId())

	// socket is never opened here, so the sub frame sits in the queue.
	client.inner.queue.mu.Lock()
	items := client.inner.queue.items
	client.inner.queue.mu.Unlock()
	assert.Equal(t, 1, len(items))
	assert.Equal(t, "sub", items[0]["msg"])
	params := items[0]["params"].([]any)
	assert.Equal(t, sub.VentId(), params[0])
	assert.Equal(t, "room-1", params[1])

	var events []any
	remove := sub.Listen(func(event any) { events = append(events, event) })

	client.inner.handleMessage(EJSONObject{"msg": "changed", "__vent": "1", "id": sub.VentId(), "e": "hello"})
	assert.Equal(t, 1, len(events))
	assert.Equal(t, "hello", events[0])

	remove()
	client.inner.handleMessage(EJSONObject{"msg": "changed", "__vent": "1", "id": sub.VentId(), "e": "dropped"})
	assert.Equal(t, 1, len(events))
}

func TestVentSubscriptionStopDropsListeners(t *testing.T) {
	client, err := NewClient("ws://example.invalid/websocket", &ClientSettings{
		Scheduler: inlineScheduler{},
	}, Events{})
	assert.Equal(t, nil, err)

	sub := client.VentSubscribe("stream-notify-user", nil, SubscriptionCallbacks{})

	events := 0
	sub.Listen(func(any) { events++ })

	client.inner.handleMessage(EJSONObject{"msg": "changed", "__vent": "1", "id": sub.VentId(), "e": "one"})
	assert.Equal(t, 1, events)

	sub.Stop()
	client.inner.handleMessage(EJSONObject{"msg": "changed", "__vent": "1", "id": sub.VentId(), "e": "two"})
	assert.Equal(t, 1, events)
}

func TestLocalCollectionIsNeverClearedOnReconnect(t *testing.T) {
	client, err := NewClient("ws://example.invalid/websocket", &ClientSettings{
		Scheduler: inlineScheduler{},
	}, Events{})
	assert.Equal(t, nil, err)

	local := client.LocalCollection("preferences")
	local.Upsert("theme", Doc{"_id": "theme", "value": "dark"})

	client.store.ClearNonLocal()

	_, ok := local.FindOne("theme")
	assert.Equal(t, true, ok)
}
