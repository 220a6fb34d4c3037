package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestReactiveDictGetRegistersDependency(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dict := NewReactiveDict(tracker)

	runs := 0
	var seen any
	tracker.Autorun(func(c *Computation) {
		seen, _ = dict.Get("status")
		runs++
	})
	assert.Equal(t, 1, runs)
	assert.Equal(t, nil, seen)

	dict.Set("status", "connected")
	assert.Equal(t, 2, runs)
	assert.Equal(t, "connected", seen)
}

func TestReactiveDictSetOfEqualValueDoesNotInvalidate(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dict := NewReactiveDict(tracker)
	dict.Set("status", "connected")

	runs := 0
	tracker.Autorun(func(c *Computation) {
		dict.Get("status")
		runs++
	})
	assert.Equal(t, 1, runs)

	dict.Set("status", "connected")
	assert.Equal(t, 1, runs)
}

func TestReactiveDictDeleteInvalidates(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dict := NewReactiveDict(tracker)
	dict.Set("status", "connected")

	runs := 0
	tracker.Autorun(func(c *Computation) {
		dict.Get("status")
		runs++
	})
	assert.Equal(t, 1, runs)

	dict.Delete("status")
	assert.Equal(t, 2, runs)

	// deleting an absent key is a no-op.
	dict.Delete("status")
	assert.Equal(t, 2, runs)
}

func TestReactiveDictSetOfOtherKeyDoesNotInvalidate(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dict := NewReactiveDict(tracker)

	runs := 0
	tracker.Autorun(func(c *Computation) {
		dict.Get("status")
		runs++
	})
	assert.Equal(t, 1, runs)

	dict.Set("unrelated", "value")
	assert.Equal(t, 1, runs)
}

func TestReactiveDictEquals(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dict := NewReactiveDict(tracker)
	dict.Set("user", map[string]any{"name": "ada"})

	assert.Equal(t, true, dict.Equals("user", map[string]any{"name": "ada"}))
	assert.Equal(t, false, dict.Equals("user", map[string]any{"name": "grace"}))
	assert.Equal(t, false, dict.Equals("missing", "anything"))
}
