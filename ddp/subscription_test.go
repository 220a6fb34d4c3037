package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTestSubscriptionManager(tracker *Tracker) (*SubscriptionManager, *[]EJSONObject, *[]string) {
	var sent []EJSONObject
	var unsent []string
	mgr := NewSubscriptionManager(tracker, DefaultIDGenerator, func(string, ...any) {},
		func(id, name string, params []any) {
			sent = append(sent, EJSONObject{"msg": "sub", "id": id, "name": name, "params": params})
		},
		func(id string) {
			unsent = append(unsent, id)
		},
	)
	return mgr, &sent, &unsent
}

func TestSubscribeSendsSubFrame(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	mgr, sent, _ := newTestSubscriptionManager(tracker)

	handle := mgr.Subscribe("players", []any{"team-1"}, SubscriptionCallbacks{})
	assert.Equal(t, 1, len(*sent))
	assert.Equal(t, "players", (*sent)[0]["name"])
	assert.NotEqual(t, "", handle.SubscriptionId())
}

func TestHandleReadyFiresOnReadyOnce(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	mgr, _, _ := newTestSubscriptionManager(tracker)

	readyCalls := 0
	handle := mgr.Subscribe("players", nil, SubscriptionCallbacks{
		OnReady: func() { readyCalls++ },
	})

	mgr.HandleReady([]string{handle.SubscriptionId()})
	mgr.HandleReady([]string{handle.SubscriptionId()})

	assert.Equal(t, 1, readyCalls)
	assert.Equal(t, true, handle.Ready())
}

func TestSelfInitiatedUnsubIsSwallowed(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	mgr, _, unsent := newTestSubscriptionManager(tracker)

	stopCalls := 0
	handle := mgr.Subscribe("players", nil, SubscriptionCallbacks{
		OnStop: func(*SubscriptionError) { stopCalls++ },
	})

	handle.Stop()
	assert.Equal(t, 1, len(*unsent))
	assert.Equal(t, 1, stopCalls)

	// the server's nosub echo for our own unsub must not fire onStop
	// a second time.
	mgr.HandleNosub((*unsent)[0], nil)
	assert.Equal(t, 1, stopCalls)
}

func TestServerInitiatedNosubFiresOnError(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	mgr, _, _ := newTestSubscriptionManager(tracker)

	var gotErr *SubscriptionError
	onErrorCalls := 0
	// a server-initiated nosub, not preceded by our own Stop().
	handle := mgr.Subscribe("scores", nil, SubscriptionCallbacks{
		OnError: func(e *SubscriptionError) {
			gotErr = e
			onErrorCalls++
		},
	})

	mgr.HandleNosub(handle.SubscriptionId(), map[string]any{"error": "404", "reason": "not found"})

	assert.Equal(t, 1, onErrorCalls)
	assert.Equal(t, "404", gotErr.Error)
}

func TestReactiveRerunReusesInactiveSubscription(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	mgr, sent, unsent := newTestSubscriptionManager(tracker)

	param := "team-1"
	dep := tracker.NewDependency()
	tracker.Autorun(func(c *Computation) {
		dep.Depend()
		mgr.Subscribe("players", []any{param}, SubscriptionCallbacks{})
	})
	assert.Equal(t, 1, len(*sent))

	// rerun with identical (name, params): the inactive record is
	// reclaimed, so nothing new goes on the wire.
	dep.Changed()
	assert.Equal(t, 1, len(*sent))
	assert.Equal(t, 0, len(*unsent))

	// rerun with different params: a fresh sub is sent and the old one
	// is torn down after the flush.
	param = "team-2"
	dep.Changed()
	assert.Equal(t, 2, len(*sent))
	assert.Equal(t, "team-2", (*sent)[1]["params"].([]any)[0])
	assert.Equal(t, 1, len(*unsent))
	assert.Equal(t, (*sent)[0]["id"], (*unsent)[0])
}

func TestActiveSubFramesPreservesRegistrationOrder(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	mgr, _, _ := newTestSubscriptionManager(tracker)

	mgr.Subscribe("first", nil, SubscriptionCallbacks{})
	mgr.Subscribe("second", nil, SubscriptionCallbacks{})
	mgr.Subscribe("third", nil, SubscriptionCallbacks{})

	frames := mgr.ActiveSubFrames()
	assert.Equal(t, 3, len(frames))
	assert.Equal(t, "first", frames[0]["name"])
	assert.Equal(t, "second", frames[1]["name"])
	assert.Equal(t, "third", frames[2]["name"])
}
