package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCallManagerDispatchesAtMostOnce(t *testing.T) {
	cm := NewCallManager()

	calls := 0
	cm.Register("m1", "doThing", []any{1}, func(err *MethodError, result any) {
		calls++
	})

	cm.HandleResult("m1", nil, "ok")
	cm.HandleResult("m1", nil, "ok-again")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, cm.Len())
}

func TestCallManagerPassesMethodError(t *testing.T) {
	cm := NewCallManager()

	var gotErr *MethodError
	cm.Register("m1", "doThing", nil, func(err *MethodError, result any) {
		gotErr = err
	})

	cm.HandleResult("m1", map[string]any{"error": "403", "reason": "nope"}, nil)

	assert.Equal(t, "403", gotErr.Error)
	assert.Equal(t, "nope", gotErr.Reason)
}

func TestPendingMethodFramesSplitsLoginFirst(t *testing.T) {
	cm := NewCallManager()
	cm.Register("m1", "updateProfile", nil, nil)
	cm.Register("m2", "login", nil, nil)
	cm.Register("m3", "sendMessage", nil, nil)

	loginFrames, otherFrames := cm.PendingMethodFrames("login")

	assert.Equal(t, 1, len(loginFrames))
	assert.Equal(t, "m2", loginFrames[0]["id"])

	assert.Equal(t, 2, len(otherFrames))
	assert.Equal(t, "m1", otherFrames[0]["id"])
	assert.Equal(t, "m3", otherFrames[1]["id"])
}
