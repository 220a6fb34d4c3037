package ddp

import "sync"

// Monitor is the broadcast-on-close channel idiom: Notify returns the
// current channel; every Broadcast closes it and swaps in a fresh one,
// waking every waiter exactly once without requiring them to register
// first.
type Monitor struct {
	mu sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{update: make(chan struct{})}
}

func (self *Monitor) Notify() chan struct{} {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.update
}

func (self *Monitor) Broadcast() {
	self.mu.Lock()
	defer self.mu.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// ReactiveMonitor gives a host with no UI framework of its own (a CLI,
// a batch job, a game loop) a way to block until the reactive graph's
// next flush instead of adopting Computation/Autorun directly:
//
//	for {
//	 <-client.Updated()
//	 render(client)
//	}
//
// It resubscribes itself after every flush using AfterFlush's
// documented re-entrant-registration behavior.
type ReactiveMonitor struct {
	tracker *Tracker
	monitor *Monitor
}

func NewReactiveMonitor(tracker *Tracker) *ReactiveMonitor {
	rm := &ReactiveMonitor{tracker: tracker, monitor: NewMonitor()}
	rm.resubscribe()
	return rm
}

func (self *ReactiveMonitor) resubscribe() {
	self.tracker.AfterFlush(func() {
		self.monitor.Broadcast()
		self.resubscribe()
	})
}

// Updated returns a channel that closes the next time a reactive flush
// completes. Safe to call again after it fires; each call returns
// whatever channel is currently live.
func (self *ReactiveMonitor) Updated() chan struct{} {
	return self.monitor.Notify()
}
