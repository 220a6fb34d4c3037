package ddp

import "sync"

// computationID identifies a Computation for map keys; ordered maps by
// string id rather than pointer graphs, per "Arenas vs
// pointer graphs".
type computationID = string

// Dependency is a set of Computations that depend on some piece of
// state. Changed() invalidates every dependent and schedules a flush.
type Dependency struct {
	tracker *Tracker
	mu sync.Mutex
	deps map[computationID]*Computation
}

func newDependency(tracker *Tracker) *Dependency {
	return &Dependency{tracker: tracker, deps: map[computationID]*Computation{}}
}

// Depend registers the currently-running computation (if any) as
// dependent on self. No-op outside a computation run.
func (self *Dependency) Depend() bool {
	c := self.tracker.current()
	if c == nil {
		return false
	}
	self.mu.Lock()
	if _, ok := self.deps[c.id]; !ok {
		self.deps[c.id] = c
		c.addDependency(self)
	}
	self.mu.Unlock()
	return true
}

// Changed invalidates every computation currently depending on self and
// schedules a batched flush.
func (self *Dependency) Changed() {
	self.mu.Lock()
	deps := make([]*Computation, 0, len(self.deps))
	for _, c := range self.deps {
		deps = append(deps, c)
	}
	self.mu.Unlock()

	for _, c := range deps {
		c.invalidate()
	}
}

func (self *Dependency) removeComputation(id computationID) {
	self.mu.Lock()
	delete(self.deps, id)
	self.mu.Unlock()
}

func (self *Dependency) HasDependents() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.deps) > 0
}

// Computation holds a user function and the Dependencies it touched
// during its last run.
type Computation struct {
	id computationID
	tracker *Tracker
	fn func(*Computation)
	mu sync.Mutex
	deps map[*Dependency]struct{}
	invalidated bool
	stopped bool
	firstRun bool
	onInvalidate []func(*Computation)
	onStop []func(*Computation)
}

func (self *Computation) addDependency(d *Dependency) {
	self.mu.Lock()
	self.deps[d] = struct{}{}
	self.mu.Unlock()
}

// Invalidate marks the computation invalidated and schedules a flush
// (idempotent: multiple Changed() calls within one tick collapse into
// one rerun).
func (self *Computation) invalidate() {
	self.mu.Lock()
	if self.stopped || self.invalidated {
		self.mu.Unlock()
		return
	}
	self.invalidated = true
	callbacks := self.onInvalidate
	self.onInvalidate = nil
	self.mu.Unlock()

	// enqueue the rerun and claim the flush cycle before firing
	// callbacks: an AfterFlush registered from inside a callback must
	// land in the same cycle as the rerun, after it, even when the
	// scheduler runs inline.
	needSchedule := self.tracker.enqueuePending(self)

	for _, cb := range callbacks {
		HandleError(func() { cb(self) })
	}

	if needSchedule {
		self.tracker.scheduler.Schedule(self.tracker.flush)
	}
}

// OnInvalidate registers a callback fired the next time this computation
// is invalidated or stopped, exactly once (used by subscription.go's
// reactive-reuse rule, which re-registers on every rerun). Registering
// on an already-invalidated or stopped computation fires immediately.
func (self *Computation) OnInvalidate(fn func(*Computation)) {
	self.mu.Lock()
	fireNow := self.invalidated || self.stopped
	if !fireNow {
		self.onInvalidate = append(self.onInvalidate, fn)
	}
	self.mu.Unlock()

	if fireNow {
		HandleError(func() { fn(self) })
	}
}

func (self *Computation) OnStop(fn func(*Computation)) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.onStop = append(self.onStop, fn)
}

// Stop detaches the computation from every Dependency and prevents
// further runs.
func (self *Computation) Stop() {
	self.mu.Lock()
	if self.stopped {
		self.mu.Unlock()
		return
	}
	self.stopped = true
	deps := self.deps
	self.deps = map[*Dependency]struct{}{}
	invalidateCallbacks := self.onInvalidate
	self.onInvalidate = nil
	callbacks := append([]func(*Computation){}, self.onStop...)
	self.mu.Unlock()

	for d := range deps {
		d.removeComputation(self.id)
	}
	// stopping counts as the final invalidation for pending OnInvalidate
	// callbacks, so reactive-reuse teardown still runs when a computation
	// is disposed rather than rerun.
	for _, cb := range invalidateCallbacks {
		HandleError(func() { cb(self) })
	}
	for _, cb := range callbacks {
		HandleError(func() { cb(self) })
	}
}

func (self *Computation) Stopped() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.stopped
}

func (self *Computation) Invalidated() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.invalidated
}

func (self *Computation) FirstRun() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.firstRun
}

func (self *Computation) run() {
	self.mu.Lock()
	if self.stopped {
		self.mu.Unlock()
		return
	}
	// detach from previous run's dependencies; they get rebuilt as the
	// function calls Depend() again.
	oldDeps := self.deps
	self.deps = map[*Dependency]struct{}{}
	self.invalidated = false
	self.firstRun = false
	self.mu.Unlock()

	for d := range oldDeps {
		d.removeComputation(self.id)
	}

	prev := self.tracker.setCurrent(self)
	defer self.tracker.setCurrent(prev)

	HandleError(func() { self.fn(self) })
}

// Tracker is the reactive scheduler: it owns the notion of "currently
// running computation" and the batched-flush cycle.
type Tracker struct {
	scheduler Scheduler

	mu sync.Mutex
	currentC *Computation
	pending map[computationID]*Computation
	flushing bool
	afterFlushCallbacks []func()
	nextID uint64
}

func NewTracker(scheduler Scheduler) *Tracker {
	if scheduler == nil {
		scheduler = DefaultScheduler()
	}
	return &Tracker{
		scheduler: scheduler,
		pending: map[computationID]*Computation{},
	}
}

// DefaultScheduler returns a fresh chanScheduler; Tracker callers that
// want deterministic tests should pass inlineScheduler{} explicitly.
func DefaultScheduler() Scheduler {
	return newChanScheduler()
}

func (self *Tracker) current() *Computation {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.currentC
}

func (self *Tracker) setCurrent(c *Computation) *Computation {
	self.mu.Lock()
	prev := self.currentC
	self.currentC = c
	self.mu.Unlock()
	return prev
}

func (self *Tracker) NewDependency() *Dependency {
	return newDependency(self)
}

// Autorun creates a Computation, runs it once immediately, and reruns it
// in a batched flush whenever any of its dependencies change.
func (self *Tracker) Autorun(fn func(*Computation)) *Computation {
	self.mu.Lock()
	self.nextID++
	id := idFromCounter(self.nextID)
	self.mu.Unlock()

	c := &Computation{
		id: id,
		tracker: self,
		fn: fn,
		deps: map[*Dependency]struct{}{},
		firstRun: true,
	}
	c.run()
	return c
}

// Nonreactive runs fn with no current computation, so any Depend()
// calls inside it are no-ops.
func (self *Tracker) Nonreactive(fn func()) {
	prev := self.setCurrent(nil)
	defer self.setCurrent(prev)
	fn()
}

// enqueuePending records c as needing a rerun on the next flush and
// claims the flush cycle; it returns true when the caller must schedule
// the flush itself.
func (self *Tracker) enqueuePending(c *Computation) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.pending[c.id] = c
	wasFlushing := self.flushing
	self.flushing = true
	return !wasFlushing
}

// AfterFlush registers fn to run at the end of the current flush cycle.
// Re-entrant registration (calling AfterFlush from inside an AfterFlush
// callback) re-queues for the next cycle.
func (self *Tracker) AfterFlush(fn func()) {
	self.mu.Lock()
	self.afterFlushCallbacks = append(self.afterFlushCallbacks, fn)
	wasFlushing := self.flushing
	self.flushing = true
	self.mu.Unlock()

	if !wasFlushing {
		self.scheduler.Schedule(self.flush)
	}
}

func (self *Tracker) flush() {
	for {
		self.mu.Lock()
		invalid := []*Computation{}
		for _, c := range self.pending {
			invalid = append(invalid, c)
		}
		self.pending = map[computationID]*Computation{}
		after := self.afterFlushCallbacks
		self.afterFlushCallbacks = nil
		self.mu.Unlock()

		for _, c := range invalid {
			if c.Invalidated() && !c.Stopped() {
				c.run()
			}
		}
		for _, cb := range after {
			HandleError(cb)
		}

		self.mu.Lock()
		if len(self.pending) == 0 {
			// afterFlushCallbacks may be non-empty here: a callback that
			// re-entrantly called AfterFlush (e.g. ReactiveMonitor's
			// perpetual resubscription) queues for the *next* flush cycle
			// rather than spinning this one forever. The next enqueuePending
			// or AfterFlush call will see flushing==false and reschedule.
			self.flushing = false
			self.mu.Unlock()
			return
		}
		self.mu.Unlock()
	}
}

func idFromCounter(n uint64) string {
	b := make([]byte, 0, 20)
	if n == 0 {
		return "0"
	}
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
