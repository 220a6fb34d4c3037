package ddp

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SocketSettings holds per-phase timeouts rather than one blanket
// deadline.
type SocketSettings struct {
	DialTimeout time.Duration
	WriteTimeout time.Duration
	ReadTimeout time.Duration
}

func DefaultSocketSettings() *SocketSettings {
	return &SocketSettings{
		DialTimeout: 10 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout: 0, // no read deadline; DDP pings keep the connection alive
	}
}

// SocketEvents is the set of callbacks Socket fires. All are optional;
// nil callbacks are simply skipped. Socket calls them synchronously:
// OnMessageIn runs on the read-pump goroutine, OnOpen and OnClose on
// whichever goroutine opened or lost the connection. ddpClient binds them
// directly to its handlers and defers only its own public events
// through the Scheduler.
type SocketEvents struct {
	OnOpen func()
	OnClose func()
	OnMessageIn func(EJSONObject)
	OnMessageOut func(EJSONObject)
	OnError func(*TransportError)
}

// Socket wraps a single live *websocket.Conn. open() is idempotent: if a
// connection already exists, it is a no-op.
type Socket struct {
	endpoint string
	dialer *websocket.Dialer
	settings *SocketSettings
	events SocketEvents
	log LogFunction

	mu sync.Mutex
	conn *websocket.Conn
	closing bool
	writeMu sync.Mutex
}

func NewSocket(endpoint string, dialer *websocket.Dialer, settings *SocketSettings, events SocketEvents, log LogFunction) *Socket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if settings == nil {
		settings = DefaultSocketSettings()
	}
	return &Socket{
		endpoint: endpoint,
		dialer: dialer,
		settings: settings,
		events: events,
		log: log,
	}
}

// Open dials the endpoint if no socket is currently live, and starts the
// read pump. Idempotent: a live socket makes this a no-op.
func (self *Socket) Open(ctx context.Context) {
	self.mu.Lock()
	if self.conn != nil {
		self.mu.Unlock()
		return
	}
	self.closing = false
	self.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, self.settings.DialTimeout)
	defer cancel()

	conn, _, err := self.dialer.DialContext(dialCtx, self.endpoint, nil)
	if err != nil {
		self.log("dial error: %s", err)
		self.fireError(newTransportError("websocket_error", err))
		self.fireClose()
		return
	}

	self.mu.Lock()
	self.conn = conn
	self.mu.Unlock()

	if self.events.OnOpen != nil {
		self.events.OnOpen()
	}

	go self.readPump(conn)
}

func (self *Socket) readPump(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			self.mu.Lock()
			wasOurs := self.conn == conn
			if wasOurs {
				self.conn = nil
			}
			self.mu.Unlock()
			if wasOurs {
				if !self.isExpectedClose(err) {
					self.fireError(newTransportError("websocket_error", err))
				}
				self.fireClose()
			}
			return
		}

		obj, err := EJSONDecode(message)
		if err != nil {
			// malformed frame: dropped silently.
			self.log("dropped malformed frame: %s", err)
			continue
		}
		if self.events.OnMessageIn != nil {
			self.events.OnMessageIn(obj)
		}
	}
}

func (self *Socket) isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
	)
}

// Send writes a single EJSON frame. Returns false without error if the
// socket is closing or not open, so a send racing a close is a no-op;
// the Queue's consumer treats a false return the same as "not
// connected".
func (self *Socket) Send(obj EJSONObject) bool {
	self.mu.Lock()
	conn := self.conn
	closing := self.closing
	self.mu.Unlock()

	if conn == nil || closing {
		return false
	}

	frame, err := EJSONEncode(obj)
	if err != nil {
		self.log("encode error: %s", err)
		return false
	}

	self.writeMu.Lock()
	defer self.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		self.log("write error: %s", err)
		return false
	}

	if self.events.OnMessageOut != nil {
		self.events.OnMessageOut(obj)
	}
	return true
}

// Close marks the socket as closing and tears down the live connection,
// if any. A racing Send becomes a no-op. Open() is
// allowed again afterward.
func (self *Socket) Close() {
	self.mu.Lock()
	self.closing = true
	conn := self.conn
	self.conn = nil
	self.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (self *Socket) IsOpen() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.conn != nil
}

func (self *Socket) fireClose() {
	if self.events.OnClose != nil {
		self.events.OnClose()
	}
}

func (self *Socket) fireError(err *TransportError) {
	if self.events.OnError != nil {
		self.events.OnError(err)
	}
}
