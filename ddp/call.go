package ddp

import "sync"

// MethodCallback is invoked at most once with the server's result
// or error.
type MethodCallback func(err *MethodError, result any)

type pendingCall struct {
	id string
	method string
	params []any
	callback MethodCallback
}

// CallManager correlates outbound method calls with their `result`
// frames. Ordering note: `result` may precede or follow
// `updated` for the same id; CallManager only ever looks at `result`.
type CallManager struct {
	mu sync.Mutex
	pending map[string]*pendingCall
	order []string // registration order, for replay
}

func NewCallManager() *CallManager {
	return &CallManager{pending: map[string]*pendingCall{}}
}

// Register records a pending call before (or immediately after) the
// `method` frame is sent, so a fast result can't race the registration
// when send and register are sequenced correctly by the caller.
func (self *CallManager) Register(id, method string, params []any, callback MethodCallback) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.pending[id] = &pendingCall{id: id, method: method, params: params, callback: callback}
	self.order = append(self.order, id)
}

// HandleResult dispatches the matching callback, if any, and removes
// the record.
func (self *CallManager) HandleResult(id string, errRaw any, result any) {
	self.mu.Lock()
	call, ok := self.pending[id]
	if ok {
		delete(self.pending, id)
		self.order = removeString(self.order, id)
	}
	self.mu.Unlock()

	if !ok || call.callback == nil {
		return
	}

	var me *MethodError
	if errRaw != nil {
		me = normalizeMethodError(errRaw)
	}
	HandleError(func() { call.callback(me, result) })
}

// PendingMethodFrames returns method frames for every call still
// awaiting a result, in registration order, for in-flight replay. Any
// call to loginMethodName is returned separately and always replays
// first.
func (self *CallManager) PendingMethodFrames(loginMethodName string) (loginFrames []EJSONObject, otherFrames []EJSONObject) {
	self.mu.Lock()
	defer self.mu.Unlock()

	for _, id := range self.order {
		call, ok := self.pending[id]
		if !ok {
			continue
		}
		frame := EJSONObject{
			"msg": "method",
			"method": call.method,
			"params": call.params,
			"id": call.id,
		}
		if call.method == loginMethodName {
			loginFrames = append(loginFrames, frame)
		} else {
			otherFrames = append(otherFrames, frame)
		}
	}
	return loginFrames, otherFrames
}

func (self *CallManager) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.pending)
}
