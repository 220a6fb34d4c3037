package ddp

import "sync"

// VentListener handles one vent event payload.
type VentListener func(event any)

// VentDispatcher detects the `__vent === '1'` sentinel on `changed`
// messages and routes message.e to the listener registered for
// message.id. Vent subscriptions ride the ordinary
// SubscriptionManager.Subscribe path; VentDispatcher only owns the
// listener registry keyed by the id carried in the vent payload (the
// client-generated ventId passed as the subscription's first parameter).
type VentDispatcher struct {
	log LogFunction

	mu sync.Mutex
	listeners map[string][]VentListener
}

func NewVentDispatcher(log LogFunction) *VentDispatcher {
	return &VentDispatcher{log: log, listeners: map[string][]VentListener{}}
}

// Listen registers fn to receive vent events addressed to id. Returns a
// function that removes the listener.
func (self *VentDispatcher) Listen(id string, fn VentListener) (remove func()) {
	self.mu.Lock()
	self.listeners[id] = append(self.listeners[id], fn)
	idx := len(self.listeners[id]) - 1
	self.mu.Unlock()

	return func() {
		self.mu.Lock()
		defer self.mu.Unlock()
		list := self.listeners[id]
		if idx < 0 || idx >= len(list) {
			return
		}
		next := make([]VentListener, 0, len(list)-1)
		next = append(next, list[:idx]...)
		next = append(next, list[idx+1:]...)
		if len(next) == 0 {
			delete(self.listeners, id)
		} else {
			self.listeners[id] = next
		}
	}
}

// Reset drops every listener registered for id, used when a subscription
// that carried vent listeners is torn down wholesale.
func (self *VentDispatcher) Reset(id string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	delete(self.listeners, id)
}

// VentSubscription is a subscription handle augmented with Listen: the
// server addresses vent events to the client-generated ventId that was
// passed as the subscription's first parameter.
type VentSubscription struct {
	ventId string
	handle *SubscriptionHandle
	dispatcher *VentDispatcher
}

func (self *VentSubscription) VentId() string { return self.ventId }

func (self *VentSubscription) Ready() bool { return self.handle.Ready() }

// Listen registers fn for this subscription's vent events. Returns a
// function that removes just this listener.
func (self *VentSubscription) Listen(fn VentListener) (remove func()) {
	return self.dispatcher.Listen(self.ventId, fn)
}

// Stop tears down the server subscription and drops every listener.
func (self *VentSubscription) Stop() {
	self.handle.Stop()
	self.dispatcher.Reset(self.ventId)
}

// HandleChanged inspects a `changed` message for the vent sentinel and
// dispatches message.e to id's listeners if present. It returns true
// if the message was a vent message. Vent messages are layered on top
// of `changed`, they are not an alternative to it: client.go ignores
// this return value and forwards every `changed` frame to
// CollectionStore.
func (self *VentDispatcher) HandleChanged(msg EJSONObject) bool {
	isVent, _ := msg["__vent"].(string)
	if isVent != "1" {
		return false
	}

	id, _ := msg["id"].(string)
	if id == "" {
		return true
	}
	event := msg["e"]

	self.mu.Lock()
	listeners := append([]VentListener{}, self.listeners[id]...)
	self.mu.Unlock()

	for _, fn := range listeners {
		HandleError(func() { fn(event) })
	}
	return true
}
