package ddp

import (
	"sync"
)

// SubscriptionCallbacks is the optional callback bundle subscribe()
// accepts.
type SubscriptionCallbacks struct {
	OnReady func()
	OnError func(*SubscriptionError)
	OnStop func(*SubscriptionError)
}

// subscriptionRecord is the client-side Subscription record. localId
// is stable across reactive reuse; remoteId is the id actually placed
// on the wire.
type subscriptionRecord struct {
	localId string
	remoteId string
	name string
	params []any

	mu sync.Mutex
	inactive bool
	ready bool
	callbacks SubscriptionCallbacks

	readyDep *Dependency
}

// SubscriptionHandle is returned from Subscribe.
type SubscriptionHandle struct {
	subscriptionId string
	manager *SubscriptionManager
	record *subscriptionRecord
}

func (self *SubscriptionHandle) SubscriptionId() string { return self.subscriptionId }

// Ready calls readyDep.Depend() before returning, wiring the current
// computation to react to readiness changes.
func (self *SubscriptionHandle) Ready() bool {
	self.record.readyDep.Depend()
	self.record.mu.Lock()
	defer self.record.mu.Unlock()
	return self.record.ready
}

func (self *SubscriptionHandle) Stop() {
	self.manager.stop(self.record)
}

// SubscriptionManager tracks every live subscription, including the
// reactive-reuse and replay bookkeeping described below.
type SubscriptionManager struct {
	tracker *Tracker
	sendSub func(id, name string, params []any)
	sendUnsub func(id string)
	idGenerator IDGenerator
	log LogFunction

	mu sync.Mutex
	byLocalId map[string]*subscriptionRecord
	byRemoteId map[string]*subscriptionRecord
	order []string // localId insertion order, for replay
	selfInitiatedUnsub map[string]bool // remoteId -> true while awaiting our own nosub echo
}

func NewSubscriptionManager(
	tracker *Tracker,
	idGenerator IDGenerator,
	log LogFunction,
	sendSub func(id, name string, params []any),
	sendUnsub func(id string),
) *SubscriptionManager {
	if idGenerator == nil {
		idGenerator = DefaultIDGenerator
	}
	return &SubscriptionManager{
		tracker: tracker,
		sendSub: sendSub,
		sendUnsub: sendUnsub,
		idGenerator: idGenerator,
		log: log,
		byLocalId: map[string]*subscriptionRecord{},
		byRemoteId: map[string]*subscriptionRecord{},
		selfInitiatedUnsub: map[string]bool{},
	}
}

// Subscribe reuses an inactive subscription to the same (name, params)
// if one exists; otherwise it allocates a fresh subscription and sends
// a `sub` frame.
func (self *SubscriptionManager) Subscribe(name string, params []any, callbacks SubscriptionCallbacks) *SubscriptionHandle {
	clonedParams, err := EJSONClone(params)
	if err != nil {
		clonedParams = params
	}
	clonedSlice, _ := clonedParams.([]any)
	if clonedSlice == nil {
		clonedSlice = params
	}

	self.mu.Lock()
	for _, rec := range self.byLocalId {
		rec.mu.Lock()
		isInactive := rec.inactive
		rec.mu.Unlock()
		if isInactive && rec.name == name && EJSONEquals(rec.params, clonedSlice) {
			rec.mu.Lock()
			rec.inactive = false
			rec.callbacks = callbacks
			wasReady := rec.ready
			rec.mu.Unlock()
			self.mu.Unlock()

			if wasReady && callbacks.OnReady != nil {
				HandleError(callbacks.OnReady)
			}
			// OnInvalidate hooks are one-shot, so the rerun that reused
			// this record must arm the inactive-marking again.
			self.wireReactiveReuse(rec)
			return &SubscriptionHandle{subscriptionId: rec.localId, manager: self, record: rec}
		}
	}
	self.mu.Unlock()

	localId := self.idGenerator.NewID()
	rec := &subscriptionRecord{
		localId: localId,
		remoteId: localId,
		name: name,
		params: clonedSlice,
		callbacks: callbacks,
		readyDep: self.tracker.NewDependency(),
	}

	self.mu.Lock()
	self.byLocalId[rec.localId] = rec
	self.byRemoteId[rec.remoteId] = rec
	self.order = append(self.order, rec.localId)
	self.mu.Unlock()

	self.sendSub(rec.remoteId, rec.name, rec.params)

	self.wireReactiveReuse(rec)

	return &SubscriptionHandle{subscriptionId: rec.localId, manager: self, record: rec}
}

// wireReactiveReuse: if Subscribe ran inside an active computation,
// mark the subscription inactive the moment that computation
// invalidates, and schedule an after-flush check that tears it down if
// it's still inactive then.
func (self *SubscriptionManager) wireReactiveReuse(rec *subscriptionRecord) {
	comp := self.tracker.current()
	if comp == nil {
		return
	}
	comp.OnInvalidate(func(*Computation) {
		rec.mu.Lock()
		rec.inactive = true
		rec.mu.Unlock()

		self.tracker.AfterFlush(func() {
			rec.mu.Lock()
			stillInactive := rec.inactive
			rec.mu.Unlock()
			if stillInactive {
				self.stop(rec)
			}
		})
	})
}

// HandleReady marks matching subscriptions ready, invalidates
// readyDep, and fires onReady once.
func (self *SubscriptionManager) HandleReady(remoteIds []string) {
	for _, remoteId := range remoteIds {
		self.mu.Lock()
		rec, ok := self.byRemoteId[remoteId]
		self.mu.Unlock()
		if !ok {
			continue
		}

		rec.mu.Lock()
		alreadyReady := rec.ready
		rec.ready = true
		onReady := rec.callbacks.OnReady
		rec.mu.Unlock()

		if alreadyReady {
			continue
		}
		rec.readyDep.Changed()
		if onReady != nil {
			HandleError(onReady)
		}
	}
}

// HandleNosub swallows the echo of a self-initiated unsub; otherwise
// the subscription's onError/onStop fire and it is removed.
func (self *SubscriptionManager) HandleNosub(remoteId string, errRaw any) {
	self.mu.Lock()
	if self.selfInitiatedUnsub[remoteId] {
		delete(self.selfInitiatedUnsub, remoteId)
		self.mu.Unlock()
		return
	}
	rec, ok := self.byRemoteId[remoteId]
	self.mu.Unlock()
	if !ok {
		return
	}

	self.removeRecord(rec)

	subErr := normalizeSubscriptionError(errRaw)

	rec.mu.Lock()
	wasReady := rec.ready
	onError := rec.callbacks.OnError
	onStop := rec.callbacks.OnStop
	rec.mu.Unlock()

	if wasReady {
		rec.readyDep.Changed()
	}
	if onError != nil {
		HandleError(func() { onError(subErr) })
	}
	if onStop != nil {
		HandleError(func() { onStop(subErr) })
	}
}

// stop sends unsub, records the self-initiated-unsub suppression,
// removes the record, invalidates readyDep if it was ready, and calls
// user onStop with a nil error.
func (self *SubscriptionManager) stop(rec *subscriptionRecord) {
	self.mu.Lock()
	_, stillPresent := self.byLocalId[rec.localId]
	if stillPresent {
		self.selfInitiatedUnsub[rec.remoteId] = true
	}
	self.mu.Unlock()

	if !stillPresent {
		return
	}

	self.sendUnsub(rec.remoteId)
	self.removeRecord(rec)

	rec.mu.Lock()
	wasReady := rec.ready
	onStop := rec.callbacks.OnStop
	rec.mu.Unlock()

	if wasReady {
		rec.readyDep.Changed()
	}
	if onStop != nil {
		HandleError(func() { onStop(nil) })
	}
}

func (self *SubscriptionManager) removeRecord(rec *subscriptionRecord) {
	self.mu.Lock()
	delete(self.byLocalId, rec.localId)
	delete(self.byRemoteId, rec.remoteId)
	self.order = removeString(self.order, rec.localId)
	self.mu.Unlock()
}

// ActiveSubFrames returns one `sub` frame per active (non-stopped)
// subscription, in registration order, for in-flight replay.
func (self *SubscriptionManager) ActiveSubFrames() []EJSONObject {
	self.mu.Lock()
	defer self.mu.Unlock()

	frames := make([]EJSONObject, 0, len(self.byLocalId))
	for _, localId := range self.order {
		rec, ok := self.byLocalId[localId]
		if !ok {
			continue
		}
		frames = append(frames, EJSONObject{
			"msg": "sub",
			"id": rec.remoteId,
			"name": rec.name,
			"params": rec.params,
		})
	}
	return frames
}
