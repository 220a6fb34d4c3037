package ddp

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// ClientSettings bundles every tunable a connect() call exposes to an
// embedder: one struct per component, assembled by the caller before
// construction.
type ClientSettings struct {
	Socket *SocketSettings
	Client *ddpClientSettings
	Dialer *websocket.Dialer

	Storage KeyStorage
	Hasher PasswordHasher
	NetInfo NetInfo

	// ReachabilityURL is handed to NetInfo.Configure when NetInfo is
	// set; reachability transitions to connected then trigger an
	// immediate reconnect instead of waiting out the reconnect interval.
	ReachabilityURL string
	UseNativeReachability bool

	IDGenerator IDGenerator
	Scheduler Scheduler

	// SuppressURLErrors skips ValidateEndpoint's ws(s):// + /websocket
	// shape check, for deployments that front DDP behind a differently
	// named path.
	SuppressURLErrors bool

	// IsVerbose raises GlobalLogLevel to Debug for frame-level tracing.
	// It is a package-global toggle (glog's own convention), so the last
	// Client constructed with IsVerbose set wins process-wide.
	IsVerbose bool
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		Socket: DefaultSocketSettings(),
		Client: defaultClientSettings(),
	}
}

// Events is the full set of callbacks an embedder can receive.
type Events struct {
	OnStatusChange func(ConnectionStatus)
	OnConnected func(sessionReused bool)
	OnLogin func()
	OnLoginFailure func(*LoginFailure)
	OnLogout func()
}

// Client is the public façade: it
// owns one DDP connection, its reactive collections, and its login
// state, and is the only type an embedding application constructs
// directly.
type Client struct {
	endpoint string
	settings *ClientSettings
	log LogFunction

	tracker *Tracker
	store *CollectionStore
	calls *CallManager
	inner *ddpClient
	auth *AuthController
	monitor *ReactiveMonitor
}

const loginMethodName = "login"

// NewClient wires every component together the way ddpClient's
// constructor expects: Tracker -> CollectionStore -> CallManager ->
// ddpClient -> AuthController, with AuthController's callMethod bound
// back onto ddpClient.Call.
func NewClient(endpoint string, settings *ClientSettings, events Events) (*Client, error) {
	if settings == nil {
		settings = DefaultClientSettings()
	}

	if err := ValidateEndpoint(endpoint, settings.SuppressURLErrors); err != nil {
		return nil, err
	}

	if settings.IsVerbose {
		GlobalLogLevel = LogLevelDebug
	}

	log := LogFn(LogLevelInfo, "ddp")

	scheduler := settings.Scheduler
	if scheduler == nil {
		scheduler = newChanScheduler()
	}

	tracker := NewTracker(scheduler)
	store := NewCollectionStore(tracker)
	calls := NewCallManager()

	c := &Client{
		endpoint: endpoint,
		settings: settings,
		log: log,
		tracker: tracker,
		store: store,
		calls: calls,
	}

	c.inner = newDDPClient(
		endpoint,
		settings.Dialer,
		settings.Socket,
		settings.Client,
		ClientEvents{
			OnStatusChange: events.OnStatusChange,
			OnConnected: events.OnConnected,
		},
		log,
		settings.IDGenerator,
		scheduler,
		tracker,
		store,
		calls,
		func() string { return loginMethodName },
	)

	c.auth = NewAuthController(
		c.inner.Call,
		settings.Storage,
		settings.Hasher,
		AuthEvents{
			OnLogin: events.OnLogin,
			OnLoginFailure: events.OnLoginFailure,
			OnLogout: events.OnLogout,
		},
		SubLogFn(LogLevelInfo, log, "auth"),
		scheduler,
	)

	c.monitor = NewReactiveMonitor(tracker)

	if settings.NetInfo != nil {
		if err := settings.NetInfo.Configure(settings.ReachabilityURL, settings.UseNativeReachability); err != nil {
			log("netinfo configure failed: %s", err)
		}
		settings.NetInfo.AddEventListener(func(isConnected bool) {
			if isConnected && c.Status() != StatusConnected {
				c.Reconnect(context.Background())
			}
		})
	}

	return c, nil
}

func (self *Client) Connect(ctx context.Context) { self.inner.Connect(ctx) }
func (self *Client) Disconnect() { self.inner.Disconnect() }
func (self *Client) Reconnect(ctx context.Context) { self.inner.Reconnect(ctx) }
func (self *Client) Status() ConnectionStatus { return self.inner.Status() }

// ConnectionStatus is a richer accessor than Status: it additionally
// exposes whether a reconnect is currently scheduled, useful for host
// UI "reconnecting in Ns" indicators.
func (self *Client) ConnectionStatus() (status ConnectionStatus, reconnectPending bool) {
	self.inner.mu.Lock()
	defer self.inner.mu.Unlock()
	return self.inner.status, self.inner.reconnectTimer != nil
}

func (self *Client) Call(method string, params []any, callback MethodCallback) string {
	return self.inner.Call(method, params, callback)
}

func (self *Client) Subscribe(name string, params []any, callbacks SubscriptionCallbacks) *SubscriptionHandle {
	return self.inner.Subscribe(name, params, callbacks)
}

// Collection returns a handle for reading/observing a server-mirrored
// collection. Local collections (never touched by wire frames) are
// created via LocalCollection instead.
func (self *Client) Collection(name string) *Collection {
	return self.store.Collection(name, false)
}

func (self *Client) LocalCollection(name string) *Collection {
	return self.store.Collection(name, true)
}

func (self *Client) Find(collectionName string, selector map[string]any, opts FindOptions) *Cursor {
	return self.store.Find(collectionName, selector, opts)
}

func (self *Client) Vent() *VentDispatcher { return self.inner.Vent() }

// VentSubscribe establishes a vent subscription: a normal `sub` whose
// first parameter is a client-generated vent id that the server echoes
// on its sentinel `changed` frames. The returned handle adds Listen.
func (self *Client) VentSubscribe(name string, params []any, callbacks SubscriptionCallbacks) *VentSubscription {
	ventId := self.inner.idGen.NewID()
	subParams := append([]any{ventId}, params...)
	handle := self.inner.Subscribe(name, subParams, callbacks)
	return &VentSubscription{
		ventId: ventId,
		handle: handle,
		dispatcher: self.inner.Vent(),
	}
}

func (self *Client) Tracker() *Tracker { return self.tracker }

// NewReactiveDict returns a key/value store wired into this client's
// reactive graph.
func (self *Client) NewReactiveDict() *ReactiveDict {
	return NewReactiveDict(self.tracker)
}

// PendingWrites reports how many method calls are still awaiting their
// `updated` acknowledgement (the write barrier).
func (self *Client) PendingWrites() int { return self.inner.PendingWrites() }

// Updated returns a channel that closes the next time the reactive
// graph finishes a flush cycle (see ReactiveMonitor).
func (self *Client) Updated() chan struct{} { return self.monitor.Updated() }

// Auth surface.
func (self *Client) LoginWithPassword(selector any, password string, cb func(*LoginFailure)) {
	self.auth.LoginWithPassword(selector, password, cb)
}

func (self *Client) LoginWithPasswordAnd2faCode(selector any, password, code string, cb func(*LoginFailure)) {
	self.auth.LoginWithPasswordAnd2faCode(selector, password, code, cb)
}

func (self *Client) LoginWithToken(ctx context.Context, token string) {
	self.auth.LoginWithToken(ctx, token)
}

func (self *Client) Logout(ctx context.Context, cb func(error)) {
	self.auth.Logout(ctx, cb)
}

func (self *Client) LogoutOtherClients(ctx context.Context, cb func(error)) {
	self.auth.LogoutOtherClients(ctx, cb)
}

func (self *Client) LoadInitialUser(ctx context.Context, opts LoadInitialUserOptions) {
	self.auth.LoadInitialUser(ctx, opts)
}

func (self *Client) UserId() string { return self.auth.UserId() }
func (self *Client) LoggingIn() bool { return self.auth.LoggingIn() }
func (self *Client) LoggingOut() bool { return self.auth.LoggingOut() }
func (self *Client) IsLoggedIn() bool { return self.auth.IsLoggedIn() }
func (self *Client) GetAuthToken() string { return self.auth.Token() }
func (self *Client) LoginTokenExpires() time.Time { return self.auth.LoginTokenExpires() }

// User returns the current user's document from the conventional
// "users" collection, or (nil, false) when logged out or the document
// hasn't arrived yet.
func (self *Client) User() (Doc, bool) {
	userId := self.UserId()
	if userId == "" {
		return nil, false
	}
	return self.store.Collection("users", false).FindOne(userId)
}
