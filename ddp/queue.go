package ddp

import "sync"

// QueueConsumer is called with the head of the queue; it returns true
// if the item was accepted (and should be removed), false otherwise.
// The ddpClient's consumer is "if connected, send on socket and return
// true, else return false" — this is what gives the queue automatic
// backpressure during disconnects.
type QueueConsumer func(item EJSONObject) bool

// Queue is a single-consumer FIFO of outbound frames. It is not cleared
// on disconnect; Prepend is used on reconnect to splice replayed frames
// ahead of whatever is left.
//
// "Single consumer" is enforced by holding the queue lock for the whole
// drain: at most one goroutine is ever popping off the head at a time,
// matching the cooperative single-threaded model this protocol assumes.
type Queue struct {
	mu sync.Mutex
	items []EJSONObject
	consumer QueueConsumer
}

func NewQueue(consumer QueueConsumer) *Queue {
	return &Queue{consumer: consumer}
}

// Push enqueues a single frame then drives Process.
func (self *Queue) Push(item EJSONObject) {
	self.mu.Lock()
	self.items = append(self.items, item)
	self.mu.Unlock()
	self.Process()
}

// Prepend inserts items at the head, preserving the given order, then
// drives Process. Used for in-flight replay: the caller
// prepends login, then other pending methods, then sub frames, in that
// relative order, via three successive Prepend calls in reverse order
// (each Prepend puts its argument ahead of whatever is already there).
func (self *Queue) Prepend(items []EJSONObject) {
	if len(items) == 0 {
		return
	}
	self.mu.Lock()
	next := make([]EJSONObject, 0, len(items)+len(self.items))
	next = append(next, items...)
	next = append(next, self.items...)
	self.items = next
	self.mu.Unlock()
	self.Process()
}

// Process polls the head of the queue and calls the consumer; while the
// consumer accepts (true), it keeps draining. It stops at the first
// rejection, leaving the queue length non-decreasing until the consumer
// starts accepting again. The lock is held across the consumer call so
// a Prepend racing the drain can never splice frames in front of a head
// that has already been sent; the consumer must not reenter the queue.
func (self *Queue) Process() {
	self.mu.Lock()
	defer self.mu.Unlock()

	for len(self.items) > 0 {
		head := self.items[0]
		if !self.consumer(head) {
			return
		}
		self.items = self.items[1:]
	}
}

// Empty drops every queued frame without sending it.
func (self *Queue) Empty() {
	self.mu.Lock()
	self.items = nil
	self.mu.Unlock()
}

func (self *Queue) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.items)
}
