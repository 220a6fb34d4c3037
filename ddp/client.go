package ddp

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectionStatus is the connection lifecycle state.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

// ClientEvents is the set of connection-lifecycle callbacks ddpClient
// fires, all deferred to the next tick via Scheduler.
type ClientEvents struct {
	OnStatusChange func(ConnectionStatus)
	OnConnected func(sessionReused bool)
}

// ddpClientSettings holds the reconnect shape: a fixed interval, not
// an exponential backoff.
type ddpClientSettings struct {
	ReconnectInterval time.Duration
	PingInterval time.Duration
	PingTimeout time.Duration

	// IsPrivate strips params/fields/result values (keeping field
	// names) from verbose frame logging. Defaults to true.
	IsPrivate bool
}

func defaultClientSettings() *ddpClientSettings {
	return &ddpClientSettings{
		ReconnectInterval: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PingTimeout: 15 * time.Second,
		IsPrivate: true,
	}
}

// ddpClient is the protocol state machine: it owns the Socket, drives
// the Queue, and dispatches every inbound frame by its `msg` field.
type ddpClient struct {
	settings *ddpClientSettings
	events ClientEvents
	log LogFunction
	frameLog LogFunction
	idGen IDGenerator
	sched Scheduler

	socket *Socket
	queue *Queue
	store *CollectionStore
	subs *SubscriptionManager
	calls *CallManager
	vent *VentDispatcher
	tracker *Tracker

	loginMethodName func() string

	mu sync.Mutex
	status ConnectionStatus
	sessionId string
	generation uint64
	reconnectTimer *time.Timer
	pingTimer *time.Timer
	stopped bool

	// write barrier: method ids sent but not yet covered by an
	// `updated` frame. Independent of CallManager's result
	// correlation; `result` and `updated` carry no joint ordering.
	pendingWrites map[string]bool
}

func newDDPClient(
	endpoint string,
	dialer *websocket.Dialer,
	socketSettings *SocketSettings,
	settings *ddpClientSettings,
	events ClientEvents,
	log LogFunction,
	idGen IDGenerator,
	sched Scheduler,
	tracker *Tracker,
	store *CollectionStore,
	calls *CallManager,
	loginMethodName func() string,
) *ddpClient {
	if settings == nil {
		settings = defaultClientSettings()
	}
	if idGen == nil {
		idGen = DefaultIDGenerator
	}
	if sched == nil {
		sched = inlineScheduler{}
	}

	self := &ddpClient{
		settings: settings,
		events: events,
		log: log,
		frameLog: SubLogFn(LogLevelDebug, log, "frame"),
		idGen: idGen,
		sched: sched,
		tracker: tracker,
		store: store,
		calls: calls,
		loginMethodName: loginMethodName,
		status: StatusDisconnected,
		pendingWrites: map[string]bool{},
	}

	self.vent = NewVentDispatcher(SubLogFn(LogLevelDebug, log, "vent"))
	self.queue = NewQueue(self.consumeQueueItem)
	self.socket = NewSocket(endpoint, dialer, socketSettings, SocketEvents{
		OnOpen: self.handleSocketOpen,
		OnClose: self.handleSocketClose,
		OnMessageIn: self.handleMessage,
		OnMessageOut: self.handleMessageOut,
		OnError: self.handleSocketError,
	}, SubLogFn(LogLevelDebug, log, "socket"))

	self.subs = NewSubscriptionManager(tracker, idGen, SubLogFn(LogLevelDebug, log, "sub"), self.sendSub, self.sendUnsub)

	return self
}

func (self *ddpClient) consumeQueueItem(item EJSONObject) bool {
	return self.socket.Send(item)
}

func (self *ddpClient) sendSub(id, name string, params []any) {
	self.queue.Push(EJSONObject{"msg": "sub", "id": id, "name": name, "params": params})
}

func (self *ddpClient) sendUnsub(id string) {
	self.queue.Push(EJSONObject{"msg": "unsub", "id": id})
}

// Connect opens the socket if it is not already open or connecting.
func (self *ddpClient) Connect(ctx context.Context) {
	self.mu.Lock()
	if self.stopped {
		self.stopped = false
	}
	self.mu.Unlock()
	self.setStatus(StatusConnecting)
	self.socket.Open(ctx)
}

// Disconnect closes the socket and cancels any pending reconnect,
// without clearing the queue (a later Connect can still replay whatever
// is in flight).
func (self *ddpClient) Disconnect() {
	self.mu.Lock()
	self.stopped = true
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	if self.pingTimer != nil {
		self.pingTimer.Stop()
		self.pingTimer = nil
	}
	self.mu.Unlock()

	self.socket.Close()
	self.setStatus(StatusDisconnected)
}

// Reconnect forces a fresh socket immediately, bypassing the fixed
// reconnect interval.
func (self *ddpClient) Reconnect(ctx context.Context) {
	self.socket.Close()
	self.Connect(ctx)
}

func (self *ddpClient) Status() ConnectionStatus {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.status
}

func (self *ddpClient) setStatus(status ConnectionStatus) {
	self.mu.Lock()
	changed := self.status != status
	self.status = status
	self.mu.Unlock()

	if changed && self.events.OnStatusChange != nil {
		self.sched.Schedule(func() { self.events.OnStatusChange(status) })
	}
}

// handleSocketOpen sends the initial `connect` frame. Resume is attempted with whatever sessionId we last saw;
// sessionReused is computed locally in handleConnected by comparing the echoed id, not trusted from the wire.
func (self *ddpClient) handleSocketOpen() {
	self.mu.Lock()
	sessionId := self.sessionId
	self.mu.Unlock()

	frame := EJSONObject{"msg": "connect", "version": "1", "support": []any{"1"}}
	if sessionId != "" {
		frame["session"] = sessionId
	}
	self.socket.Send(frame)
}

// handleSocketClose schedules exactly one reconnect after the fixed
// interval, unless Disconnect() was called in the meantime.
func (self *ddpClient) handleSocketClose() {
	self.setStatus(StatusDisconnected)

	self.mu.Lock()
	defer self.mu.Unlock()
	if self.stopped {
		return
	}
	if self.reconnectTimer != nil {
		return
	}
	self.reconnectTimer = time.AfterFunc(self.settings.ReconnectInterval, func() {
		self.mu.Lock()
		self.reconnectTimer = nil
		stopped := self.stopped
		self.mu.Unlock()
		if stopped {
			return
		}
		self.setStatus(StatusConnecting)
		self.socket.Open(context.Background())
	})
}

func (self *ddpClient) handleSocketError(err *TransportError) {
	self.log("socket error: %s", err)
	self.setStatus(StatusFailed)
}

func (self *ddpClient) handleMessageOut(obj EJSONObject) {
	self.frameLog("-> %v", self.redactFrame(obj, "params"))
}

// redactFrame returns obj unchanged when IsPrivate is off; otherwise it
// returns a shallow copy with each of the named keys holding a map
// redacted to nil values (field names kept, contents dropped). Non-map
// values under those keys (e.g. a "params" array) are replaced with the
// string "<redacted>".
func (self *ddpClient) redactFrame(obj EJSONObject, keys ...string) EJSONObject {
	if !self.settings.IsPrivate {
		return obj
	}
	clone := make(EJSONObject, len(obj))
	for k, v := range obj {
		clone[k] = v
	}
	for _, key := range keys {
		v, present := clone[key]
		if !present {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			clone[key] = redactFields(m)
		} else {
			clone[key] = "<redacted>"
		}
	}
	return clone
}

// handleMessage dispatches one inbound frame by its `msg` field.
func (self *ddpClient) handleMessage(obj EJSONObject) {
	msg, _ := obj["msg"].(string)
	switch msg {
	case "connected":
		self.handleConnected(obj)
	case "ping":
		self.handlePing(obj)
	case "pong":
		// no action required; pong only answers our own pings.
	case "added":
		self.handleAdded(obj)
	case "changed":
		self.handleChanged(obj)
	case "removed":
		self.handleRemoved(obj)
	case "ready":
		self.handleReady(obj)
	case "nosub":
		self.handleNosub(obj)
	case "result":
		self.handleResult(obj)
	case "updated":
		self.handleUpdated(obj)
	case "error":
		self.log("server error frame: %v", obj)
	default:
		self.log("unrecognized msg: %v", obj)
	}
}

// handleConnected detects session reuse, clears non-local collections
// when the session was not reused, then replays in-flight work in the
// required order.
func (self *ddpClient) handleConnected(obj EJSONObject) {
	newSessionId, _ := obj["session"].(string)

	self.mu.Lock()
	previousSessionId := self.sessionId
	self.sessionId = newSessionId
	self.generation++
	self.mu.Unlock()

	reused := previousSessionId != "" && previousSessionId == newSessionId
	if !reused {
		self.store.ClearNonLocal()
	}

	self.replayInFlight()
	self.startPingTimer()
	self.setStatus(StatusConnected)

	if self.events.OnConnected != nil {
		self.sched.Schedule(func() { self.events.OnConnected(reused) })
	}
}

// replayInFlight re-sends work that was in flight across a reconnect:
// login method first, then other pending methods, then one `sub` per
// active subscription — achieved with three Prepend calls in reverse
// order, since each Prepend places its argument ahead of whatever Queue
// already holds.
func (self *ddpClient) replayInFlight() {
	subFrames := self.subs.ActiveSubFrames()
	loginFrames, otherFrames := self.calls.PendingMethodFrames(self.loginMethodName())

	self.queue.Prepend(subFrames)
	self.queue.Prepend(otherFrames)
	self.queue.Prepend(loginFrames)
}

func (self *ddpClient) handlePing(obj EJSONObject) {
	frame := EJSONObject{"msg": "pong"}
	if id, ok := obj["id"]; ok {
		frame["id"] = id
	}
	self.queue.Push(frame)
}

func (self *ddpClient) startPingTimer() {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.pingTimer != nil {
		self.pingTimer.Stop()
	}
	self.pingTimer = time.AfterFunc(self.settings.PingInterval, self.sendPing)
}

func (self *ddpClient) sendPing() {
	id := self.idGen.NewID()
	self.queue.Push(EJSONObject{"msg": "ping", "id": id})
	self.startPingTimer()
}

func (self *ddpClient) handleAdded(obj EJSONObject) {
	self.frameLog("<- %v", self.redactFrame(obj, "fields"))

	collection, _ := obj["collection"].(string)
	id, _ := obj["id"].(string)
	fields, _ := obj["fields"].(map[string]any)
	self.store.handleAdded(collection, id, fields)
}

func (self *ddpClient) handleChanged(obj EJSONObject) {
	self.frameLog("<- %v", self.redactFrame(obj, "fields"))

	// vent sentinel layers on top of the ordinary change; the frame is
	// still forwarded to CollectionStore below either way.
	self.vent.HandleChanged(obj)

	collection, _ := obj["collection"].(string)
	id, _ := obj["id"].(string)
	fields, _ := obj["fields"].(map[string]any)
	var cleared []string
	if rawCleared, ok := obj["cleared"].([]any); ok {
		for _, c := range rawCleared {
			if s, ok := c.(string); ok {
				cleared = append(cleared, s)
			}
		}
	}
	self.store.handleChanged(collection, id, fields, cleared)
}

func (self *ddpClient) handleRemoved(obj EJSONObject) {
	self.frameLog("<- %v", obj)

	collection, _ := obj["collection"].(string)
	id, _ := obj["id"].(string)
	self.store.handleRemoved(collection, id)
}

func (self *ddpClient) handleReady(obj EJSONObject) {
	var ids []string
	if rawSubs, ok := obj["subs"].([]any); ok {
		for _, s := range rawSubs {
			if id, ok := s.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	self.subs.HandleReady(ids)
}

func (self *ddpClient) handleNosub(obj EJSONObject) {
	id, _ := obj["id"].(string)
	self.subs.HandleNosub(id, obj["error"])
}

func (self *ddpClient) handleResult(obj EJSONObject) {
	self.frameLog("<- %v", self.redactFrame(obj, "result"))

	id, _ := obj["id"].(string)
	self.calls.HandleResult(id, obj["error"], obj["result"])
}

// handleUpdated clears the write-barrier entry for each listed method:
// the server has finished sending the data frames that method produced.
func (self *ddpClient) handleUpdated(obj EJSONObject) {
	rawMethods, ok := obj["methods"].([]any)
	if !ok {
		return
	}
	self.mu.Lock()
	for _, m := range rawMethods {
		if id, ok := m.(string); ok {
			delete(self.pendingWrites, id)
		}
	}
	self.mu.Unlock()
}

// PendingWrites reports how many method calls are still awaiting their
// `updated` acknowledgement.
func (self *ddpClient) PendingWrites() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.pendingWrites)
}

// Call registers the pending call before enqueueing, so a same-tick
// result (impossible over a real socket, but not over an in-process
// transport used in tests) can never race ahead of registration.
func (self *ddpClient) Call(method string, params []any, callback MethodCallback) string {
	id := self.idGen.NewID()
	self.calls.Register(id, method, params, callback)
	self.mu.Lock()
	self.pendingWrites[id] = true
	self.mu.Unlock()
	self.queue.Push(EJSONObject{"msg": "method", "method": method, "params": params, "id": id})
	return id
}

func (self *ddpClient) Subscribe(name string, params []any, callbacks SubscriptionCallbacks) *SubscriptionHandle {
	return self.subs.Subscribe(name, params, callbacks)
}

func (self *ddpClient) Vent() *VentDispatcher {
	return self.vent
}
