package ddp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// defaultPasswordHasher digests the plaintext password the way DDP
// expects: a sha-256 hex digest handed to the server, which remains
// the real credential store.
type defaultPasswordHasher struct{}

func (defaultPasswordHasher) Hash(password string) (string, string, error) {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:]), "sha-256", nil
}

// AuthEvents is the set of callbacks AuthController fires.
type AuthEvents struct {
	OnLogin func()
	OnLoginFailure func(*LoginFailure)
	OnLogout func()
}

// AuthController owns password/2fa login, token resume with
// classification and backoff, logout, and the initial-user bootstrap.
type AuthController struct {
	callMethod func(method string, params []any, cb MethodCallback) string
	storage KeyStorage
	hasher PasswordHasher
	events AuthEvents
	log LogFunction
	scheduler Scheduler

	mu sync.Mutex
	token string
	userId string
	tokenExpiresAt time.Time
	isLoggingIn bool
	isCallingLogin bool
	isTokenLogin bool
	isLoggedIn bool
	isLoggingOut bool
	retryTimeoutMs int
}

func NewAuthController(
	callMethod func(method string, params []any, cb MethodCallback) string,
	storage KeyStorage,
	hasher PasswordHasher,
	events AuthEvents,
	log LogFunction,
	scheduler Scheduler,
) *AuthController {
	if hasher == nil {
		hasher = defaultPasswordHasher{}
	}
	if scheduler == nil {
		scheduler = inlineScheduler{}
	}
	return &AuthController{
		callMethod: callMethod,
		storage: storage,
		hasher: hasher,
		events: events,
		log: log,
		scheduler: scheduler,
		retryTimeoutMs: 50,
	}
}

func (self *AuthController) UserId() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.userId
}

func (self *AuthController) Token() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.token
}

func (self *AuthController) LoggingIn() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.isLoggingIn
}

func (self *AuthController) IsLoggedIn() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.isLoggedIn
}

func (self *AuthController) LoggingOut() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.isLoggingOut
}

func (self *AuthController) LoginTokenExpires() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.tokenExpiresAt
}

// loginSelectorParam builds the DDP `user` selector object: a string
// selector is split on '@' into {username} or {email} depending on
// whether it looks like an email address.
func loginSelectorParam(selector any) any {
	s, ok := selector.(string)
	if !ok {
		return selector
	}
	if strings.Contains(s, "@") {
		return map[string]any{"email": s}
	}
	return map[string]any{"username": s}
}

// LoginWithPassword logs in with a username/email selector and
// password.
func (self *AuthController) LoginWithPassword(selector any, password string, cb func(*LoginFailure)) {
	self.loginWithPasswordAndCode(selector, password, "", cb)
}

// LoginWithPasswordAnd2faCode is LoginWithPassword plus a 2FA code.
func (self *AuthController) LoginWithPasswordAnd2faCode(selector any, password string, code string, cb func(*LoginFailure)) {
	self.loginWithPasswordAndCode(selector, password, code, cb)
}

func (self *AuthController) loginWithPasswordAndCode(selector any, password string, code string, cb func(*LoginFailure)) {
	digest, algorithm, err := self.hasher.Hash(password)
	if err != nil {
		if cb != nil {
			cb(normalizeLoginFailure(err, false))
		}
		return
	}

	self.mu.Lock()
	self.isLoggingIn = true
	self.mu.Unlock()

	params := map[string]any{
		"user": loginSelectorParam(selector),
		"password": map[string]any{"digest": digest, "algorithm": algorithm},
	}
	if code != "" {
		params["code"] = code
	}

	self.callMethod("login", []any{params}, func(methodErr *MethodError, result any) {
		self.mu.Lock()
		self.isLoggingIn = false
		self.mu.Unlock()

		if methodErr != nil {
			lf := normalizeLoginFailure(methodErr, false)
			if self.events.OnLoginFailure != nil {
				HandleError(func() { self.events.OnLoginFailure(lf) })
			}
			if cb != nil {
				cb(lf)
			}
			return
		}

		self.applySuccessfulLogin(result, false)
		if cb != nil {
			cb(nil)
		}
	})
}

// LoginWithToken resumes a session with a persisted token, classifying
// the response as rate-limited, a resume rejection, a retryable
// failure, or success.
func (self *AuthController) LoginWithToken(ctx context.Context, token string) {
	self.mu.Lock()
	if self.isCallingLogin {
		self.mu.Unlock()
		return
	}
	if strings.TrimSpace(token) == "" {
		self.isLoggedIn = false
		self.mu.Unlock()
		return
	}
	self.isCallingLogin = true
	self.isLoggingIn = true
	self.isTokenLogin = true
	timeoutMs := self.retryTimeoutMs
	self.mu.Unlock()

	self.doLoginWithToken(ctx, token, timeoutMs)
}

func (self *AuthController) doLoginWithToken(ctx context.Context, token string, timeoutMs int) {
	self.callMethod("login", []any{map[string]any{"resume": token}}, func(methodErr *MethodError, result any) {
		self.mu.Lock()
		self.isCallingLogin = false
		self.isLoggingIn = false
		self.mu.Unlock()

		if methodErr != nil {
			self.classifyResumeFailure(ctx, token, methodErr, timeoutMs)
			return
		}

		if !resultHasToken(result) {
			// a successful payload with no token is treated as a resume
			// rejection.
			self.classifyResumeFailure(ctx, token, &MethodError{Error: "token-expired"}, timeoutMs)
			return
		}

		self.applySuccessfulLogin(result, true)
	})
}

func resultHasToken(result any) bool {
	obj, ok := result.(map[string]any)
	if !ok {
		return false
	}
	t, ok := obj["token"].(string)
	return ok && t != ""
}

func (self *AuthController) classifyResumeFailure(ctx context.Context, token string, methodErr *MethodError, timeoutMs int) {
	if methodErr.Error == "too-many-requests" {
		timeToReset := 0
		if details, ok := methodErr.Details.(map[string]any); ok {
			if f, ok := details["timeToReset"].(float64); ok {
				timeToReset = int(f)
			}
		}
		lf := normalizeLoginFailure(methodErr, false)
		if self.events.OnLoginFailure != nil {
			HandleError(func() { self.events.OnLoginFailure(lf) })
		}
		delay := time.Duration(timeToReset+100) * time.Millisecond
		self.scheduleAfter(delay, func() {
			self.LoadInitialUser(ctx, LoadInitialUserOptions{})
		})
		return
	}

	if isResumeRejection(methodErr) {
		self.clearPersistedAuth(ctx)

		self.mu.Lock()
		self.isLoggedIn = false
		self.token = ""
		self.userId = ""
		self.tokenExpiresAt = time.Time{}
		self.mu.Unlock()

		lf := normalizeLoginFailure(methodErr, true)
		if self.events.OnLoginFailure != nil {
			HandleError(func() { self.events.OnLoginFailure(lf) })
		}
		return
	}

	// any other error: surface it, then reschedule with doubling
	// backoff capped at 8000ms.
	lf := normalizeLoginFailure(methodErr, false)
	if self.events.OnLoginFailure != nil {
		HandleError(func() { self.events.OnLoginFailure(lf) })
	}

	nextTimeout := timeoutMs * 2
	if nextTimeout > 8000 {
		nextTimeout = 8000
	}
	self.scheduleAfter(time.Duration(timeoutMs)*time.Millisecond, func() {
		self.mu.Lock()
		self.isCallingLogin = true
		self.isLoggingIn = true
		self.mu.Unlock()
		self.doLoginWithToken(ctx, token, nextTimeout)
	})
}

func isResumeRejection(methodErr *MethodError) bool {
	switch methodErr.Error {
	case "403", "token-expired", "not-authorized", "incorrect-auth-token":
		return true
	default:
		return false
	}
}

func (self *AuthController) applySuccessfulLogin(result any, isTokenLogin bool) {
	obj, _ := result.(map[string]any)

	token, _ := obj["token"].(string)
	userId, _ := obj["id"].(string)
	if userId == "" {
		userId, _ = obj["userId"].(string)
	}

	var expiresAt time.Time
	if raw, ok := obj["tokenExpires"]; ok {
		if t, ok := ParseEJSONDate(raw); ok {
			expiresAt = t
		}
	}

	self.mu.Lock()
	self.token = token
	self.userId = userId
	self.tokenExpiresAt = expiresAt
	self.isLoggedIn = true
	self.isTokenLogin = isTokenLogin
	self.retryTimeoutMs = 500
	self.mu.Unlock()

	ctx := context.Background()
	if self.storage != nil {
		self.storage.SetItem(ctx, KeyLoginToken, token)
		if !expiresAt.IsZero() {
			self.storage.SetItem(ctx, KeyLoginTokenExpires, expiresAt.UTC().Format(time.RFC3339))
		}
		self.storage.SetItem(ctx, KeyUserId, userId)
	}

	if self.events.OnLogin != nil {
		HandleError(self.events.OnLogin)
	}
}

func (self *AuthController) clearPersistedAuth(ctx context.Context) {
	if self.storage == nil {
		return
	}
	self.storage.RemoveItem(ctx, KeyLoginToken)
	self.storage.RemoveItem(ctx, KeyLoginTokenExpires)
	self.storage.RemoveItem(ctx, KeyUserId)
}

// Logout sends `method('logout')` and clears persisted/in-memory auth
// state on completion.
func (self *AuthController) Logout(ctx context.Context, cb func(error)) {
	self.mu.Lock()
	hasSession := self.token != "" || self.userId != ""
	self.mu.Unlock()

	if !hasSession {
		if cb != nil {
			cb(nil)
		}
		return
	}

	self.mu.Lock()
	self.isLoggingOut = true
	self.mu.Unlock()

	self.callMethod("logout", nil, func(methodErr *MethodError, _ any) {
		self.clearPersistedAuth(ctx)

		self.mu.Lock()
		self.token = ""
		self.userId = ""
		self.tokenExpiresAt = time.Time{}
		self.isLoggedIn = false
		self.isLoggingOut = false
		self.mu.Unlock()

		if self.events.OnLogout != nil {
			HandleError(self.events.OnLogout)
		}
		if cb != nil {
			var err error
			if methodErr != nil {
				err = &loginMethodErrorWrapper{methodErr}
			}
			cb(err)
		}
	})
}

type loginMethodErrorWrapper struct{ *MethodError }

func (self *loginMethodErrorWrapper) Error() string { return self.ErrorString() }

// LogoutOtherClients sends `method('logoutOtherClients')`, and on
// success rotates the locally held token without disturbing userId.
func (self *AuthController) LogoutOtherClients(ctx context.Context, cb func(error)) {
	self.callMethod("logoutOtherClients", nil, func(methodErr *MethodError, result any) {
		if methodErr != nil {
			if cb != nil {
				cb(&loginMethodErrorWrapper{methodErr})
			}
			return
		}
		if obj, ok := result.(map[string]any); ok {
			if newToken, ok := obj["token"].(string); ok && newToken != "" {
				self.mu.Lock()
				self.token = newToken
				self.mu.Unlock()
				if self.storage != nil {
					self.storage.SetItem(ctx, KeyLoginToken, newToken)
				}
			}
		}
		if cb != nil {
			cb(nil)
		}
	})
}

// LoadInitialUserOptions mirrors loadInitialUser's options.
type LoadInitialUserOptions struct {
	SkipLogin bool
}

// LoadInitialUser resets the retry timeout, seeds reactive state from
// persisted storage, then (unless SkipLogin) resumes with the persisted
// token.
func (self *AuthController) LoadInitialUser(ctx context.Context, opts LoadInitialUserOptions) {
	self.mu.Lock()
	self.retryTimeoutMs = 500
	self.mu.Unlock()

	var persistedToken, persistedUserId string
	var persistedExpires time.Time

	if self.storage != nil {
		if v, ok, _ := self.storage.GetItem(ctx, KeyLoginToken); ok {
			persistedToken = v
		}
		if v, ok, _ := self.storage.GetItem(ctx, KeyUserId); ok {
			persistedUserId = v
		}
		if v, ok, _ := self.storage.GetItem(ctx, KeyLoginTokenExpires); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				persistedExpires = t
			}
		}
	}

	// if the deployment issues loginTokens as JWTs, pre-seed the expiry
	// from the unverified claim so LoginTokenExpires() reads correctly
	// before the resume round trip completes.
	if persistedExpires.IsZero() && persistedToken != "" {
		if _, exp, ok := ParseLoginTokenUnverified(persistedToken); ok && !exp.IsZero() {
			persistedExpires = exp
		}
	}

	self.mu.Lock()
	self.token = persistedToken
	self.userId = persistedUserId
	self.tokenExpiresAt = persistedExpires
	self.mu.Unlock()

	if opts.SkipLogin {
		return
	}
	self.LoginWithToken(ctx, persistedToken)
}

func (self *AuthController) scheduleAfter(d time.Duration, fn func()) {
	self.scheduler.Schedule(func() {
		time.AfterFunc(d, fn)
	})
}

// ParseLoginTokenUnverified decodes the persisted token as a JWT
// without verifying its signature, used only to pre-seed
// tokenExpiresAt before the resume round trip completes, when the
// deployment issues loginTokens as JWTs (a common but not universal
// DDP/Meteor deployment shape; opaque tokens simply fail to parse here
// and are left alone).
func ParseLoginTokenUnverified(token string) (userId string, expiresAt time.Time, ok bool) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return "", time.Time{}, false
	}
	claims, isMap := parsed.Claims.(gojwt.MapClaims)
	if !isMap {
		return "", time.Time{}, false
	}
	if uid, found := claims["userId"]; found {
		userId, _ = uid.(string)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return userId, expiresAt, true
}
