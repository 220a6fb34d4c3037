package ddp

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDependencyInvalidatesAutorun(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dep := tracker.NewDependency()

	runs := 0
	tracker.Autorun(func(c *Computation) {
		dep.Depend()
		runs++
	})
	assert.Equal(t, 1, runs)

	dep.Changed()
	assert.Equal(t, 2, runs)
}

func TestComputationStopDetachesFromDependency(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dep := tracker.NewDependency()

	runs := 0
	comp := tracker.Autorun(func(c *Computation) {
		dep.Depend()
		runs++
	})
	assert.Equal(t, 1, runs)

	comp.Stop()
	dep.Changed()
	assert.Equal(t, 1, runs)
	assert.Equal(t, false, dep.HasDependents())
}

func TestNonreactiveSuppressesDependTracking(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	dep := tracker.NewDependency()

	runs := 0
	tracker.Autorun(func(c *Computation) {
		tracker.Nonreactive(func() {
			dep.Depend()
		})
		runs++
	})
	assert.Equal(t, 1, runs)

	dep.Changed()
	assert.Equal(t, 1, runs)
}

func TestInvalidateIsIdempotentPerComputation(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	depA := tracker.NewDependency()
	depB := tracker.NewDependency()

	runs := 0
	invalidations := 0
	comp := tracker.Autorun(func(c *Computation) {
		depA.Depend()
		depB.Depend()
		runs++
	})
	comp.OnInvalidate(func(*Computation) {
		invalidations++
		// a second change that lands while the computation is already
		// invalidated (before its rerun) must not invalidate it again.
		depB.Changed()
	})

	depA.Changed()
	assert.Equal(t, 1, invalidations)
	assert.Equal(t, 2, runs)
}

func TestAfterFlushRunsOncePerFlushCycle(t *testing.T) {
	tracker := NewTracker(inlineScheduler{})
	calls := 0

	tracker.AfterFlush(func() { calls++ })
	assert.Equal(t, 1, calls)

	tracker.AfterFlush(func() { calls++ })
	assert.Equal(t, 2, calls)
}
