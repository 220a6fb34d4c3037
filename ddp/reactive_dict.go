package ddp

import "sync"

// ReactiveDict is a key/value map whose reads register a reactive
// dependency on the key: a computation that called Get("status") reruns
// when Set("status", ...) later stores a different value. Writes of an
// EJSON-equal value do not invalidate.
type ReactiveDict struct {
	tracker *Tracker

	mu sync.Mutex
	values map[string]any
	deps map[string]*Dependency
}

func NewReactiveDict(tracker *Tracker) *ReactiveDict {
	return &ReactiveDict{
		tracker: tracker,
		values: map[string]any{},
		deps: map[string]*Dependency{},
	}
}

func (self *ReactiveDict) dep(key string) *Dependency {
	d, ok := self.deps[key]
	if !ok {
		d = self.tracker.NewDependency()
		self.deps[key] = d
	}
	return d
}

// Get returns the value for key, registering the current computation (if
// any) as dependent on it.
func (self *ReactiveDict) Get(key string) (any, bool) {
	self.mu.Lock()
	d := self.dep(key)
	v, ok := self.values[key]
	self.mu.Unlock()

	d.Depend()
	return v, ok
}

// Set stores value under key and invalidates dependents, unless the
// stored value is already EJSON-equal.
func (self *ReactiveDict) Set(key string, value any) {
	self.mu.Lock()
	old, had := self.values[key]
	if had && EJSONEquals(old, value) {
		self.mu.Unlock()
		return
	}
	self.values[key] = value
	d := self.dep(key)
	self.mu.Unlock()

	d.Changed()
}

// Delete removes key and invalidates dependents if it was present.
func (self *ReactiveDict) Delete(key string) {
	self.mu.Lock()
	_, had := self.values[key]
	delete(self.values, key)
	var d *Dependency
	if had {
		d = self.dep(key)
	}
	self.mu.Unlock()

	if d != nil {
		d.Changed()
	}
}

// Equals reports whether the stored value for key is EJSON-equal to
// value, depending only on that key.
func (self *ReactiveDict) Equals(key string, value any) bool {
	v, ok := self.Get(key)
	return ok && EJSONEquals(v, value)
}
