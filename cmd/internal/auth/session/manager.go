package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"argus/cmd/internal/auth/transport"
	"argus/cmd/internal/clock"
	"argus/cmd/internal/credstore"
	"argus/cmd/internal/metrics"
	"argus/cmd/security/token"
)

// State is the session manager state.
type State int

const (
	StateUninitialized State = iota
	StateRestoring
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Transport is the subset of the authenticated transport the manager needs.
type Transport interface {
	Do(ctx context.Context, req transport.Request, out any) error
	SetCredential(tok string)
	OnAuthorizationExpired(fn func(transport.ExpiredEvent)) func()
}

// Snapshot is an immutable view of the manager state.
type Snapshot struct {
	State     State
	User      *User
	Loading   bool
	LastError error
}

// Manager is the session manager. It is safe for concurrent use.
type Manager struct {
	tr    Transport
	store credstore.Store
	log   *slog.Logger
	sched clock.Scheduler
	cfg   Config

	mu      sync.Mutex
	state   State
	user    *User
	token   string
	loading bool
	lastErr error

	refreshTimer clock.Timer
	refreshGen   uint64

	subs    []subscriber
	nextSub uint64

	expiredSubs []expiredSubscriber

	unsubscribeTransport func()
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

type expiredSubscriber struct {
	id uint64
	fn func(transport.ExpiredEvent)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithScheduler injects the scheduler used for proactive refresh.
func WithScheduler(s clock.Scheduler) Option {
	return func(m *Manager) { m.sched = clock.OrSystem(s) }
}

// WithConfig sets the manager configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// NewManager wires a manager to its transport and credential store and subscribes to
// the transport's authorization-expired events.
func NewManager(tr Transport, store credstore.Store, opts ...Option) (*Manager, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil credential store", ErrConfig)
	}

	m := &Manager{
		tr:    tr,
		store: store,
		log:   slog.Default(),
		sched: clock.System,
		cfg:   DefaultConfig(),
		state: StateUninitialized,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}

	m.unsubscribeTransport = tr.OnAuthorizationExpired(m.handleExpired)
	return m, nil
}

// Config returns the configuration the manager runs with.
func (m *Manager) Config() Config { return m.cfg }

// Close detaches the manager from the transport and cancels any pending refresh.
// It does not log out.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopRefreshLocked()
	unsub := m.unsubscribeTransport
	m.unsubscribeTransport = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// ---- queries ----

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns a copy of the current user, or nil.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyUser(m.user)
}

// Token returns the armed bearer token, or "".
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// IsAdmin reports whether the current user is an admin.
func (m *Manager) IsAdmin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil && m.user.IsAdmin()
}

// IsOperator reports whether the current user is an operator or an admin.
func (m *Manager) IsOperator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil && m.user.IsOperator()
}

// ---- subscriptions ----

// Subscribe registers fn for state changes and returns a function that removes it.
// fn runs after the change is applied, outside the manager lock.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// OnExpired registers fn for forced logouts caused by an expired credential.
// The composition root turns this into a navigation to the login entry point.
func (m *Manager) OnExpired(fn func(transport.ExpiredEvent)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.expiredSubs = append(m.expiredSubs, expiredSubscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.expiredSubs {
			if s.id == id {
				m.expiredSubs = append(m.expiredSubs[:i:i], m.expiredSubs[i+1:]...)
				return
			}
		}
	}
}

// ---- operations ----

// Restore loads a persisted credential. It never fails: a missing, malformed or unreadable
// credential clears the store and settles in Unauthenticated. Restore only runs from
// Uninitialized; later calls are no-ops.
func (m *Manager) Restore(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateRestoring)
	m.loading = true
	m.mu.Unlock()
	m.notify()

	tok, user, err := m.readPersisted(ctx)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			m.log.Warn("session.restore.invalid", "err", err)
		} else {
			m.log.Info("session.restore.empty")
		}
		m.clearPersisted(ctx)
		m.tr.SetCredential("")

		m.mu.Lock()
		m.token = ""
		m.user = nil
		m.loading = false
		m.setStateLocked(StateUnauthenticated)
		m.mu.Unlock()
		m.notify()
		return
	}

	m.tr.SetCredential(tok)

	m.mu.Lock()
	m.token = tok
	m.user = &user
	m.loading = false
	m.setStateLocked(StateAuthenticated)
	m.scheduleRefreshLocked(tok)
	m.mu.Unlock()

	m.log.Info("session.restore.ok", "username", user.Username, "role", string(user.EffectiveRole()), "token_fp", token.Fingerprint(tok))
	m.notify()
}

// Login exchanges username/password for a bearer token. On failure the prior state is kept
// and the error is recorded as LastError. Concurrent calls are not deduplicated.
func (m *Manager) Login(ctx context.Context, username, password string) (User, error) {
	m.mu.Lock()
	if m.state == StateAuthenticated {
		m.mu.Unlock()
		return User{}, ErrAlreadyAuthenticated
	}
	m.lastErr = nil
	m.loading = true
	m.mu.Unlock()
	m.notify()

	var resp tokenResponse
	err := m.tr.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Form:   url.Values{"username": {strings.TrimSpace(username)}, "password": {password}},
	}, &resp)
	if err == nil {
		err = checkTokenResponse(resp)
	}
	if err != nil {
		err = classifyLoginErr(err)
		m.mu.Lock()
		m.loading = false
		m.lastErr = err
		m.mu.Unlock()
		m.log.Info("session.login.fail", "username", username, "err", err)
		m.notify()
		return User{}, err
	}

	user := *resp.User
	m.persist(ctx, resp.AccessToken, user)
	m.tr.SetCredential(resp.AccessToken)

	m.mu.Lock()
	m.token = resp.AccessToken
	m.user = &user
	m.loading = false
	m.setStateLocked(StateAuthenticated)
	m.scheduleRefreshLocked(resp.AccessToken)
	m.mu.Unlock()

	m.log.Info("session.login.ok", "username", user.Username, "role", string(user.EffectiveRole()), "token_fp", token.Fingerprint(resp.AccessToken))
	m.notify()
	return user, nil
}

// Logout notifies the backend (best effort) and unconditionally clears the local session.
// It is idempotent and never fails.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	hadToken := m.token != ""
	m.mu.Unlock()

	if hadToken {
		lctx, cancel := context.WithTimeout(ctx, m.logoutTimeout())
		err := m.tr.Do(lctx, transport.Request{Method: http.MethodPost, Path: "/auth/logout"}, nil)
		cancel()
		if err != nil {
			m.log.Info("session.logout.remote.fail", "err", err)
		}
	}

	m.clearLocal(ctx, "logout")
}

// RefreshToken exchanges the current token for a new one. Any failure logs the session out
// and returns an error wrapping ErrRefreshFailed.
func (m *Manager) RefreshToken(ctx context.Context) (User, error) {
	m.mu.Lock()
	authenticated := m.state == StateAuthenticated && m.token != ""
	m.mu.Unlock()

	if !authenticated {
		metrics.SessionRefreshTotal.WithLabelValues("fail").Inc()
		m.Logout(ctx)
		return User{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNotAuthenticated)
	}

	var resp tokenResponse
	err := m.tr.Do(ctx, transport.Request{Method: http.MethodPost, Path: "/auth/refresh"}, &resp)
	if err == nil && resp.User == nil {
		// The backend may omit the user on refresh; keep the current one.
		resp.User = m.User()
	}
	if err == nil {
		err = checkTokenResponse(resp)
	}
	if err != nil {
		metrics.SessionRefreshTotal.WithLabelValues("fail").Inc()
		m.log.Warn("session.refresh.fail", "err", err)
		m.Logout(ctx)
		return User{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	user := *resp.User
	m.persist(ctx, resp.AccessToken, user)
	m.tr.SetCredential(resp.AccessToken)

	m.mu.Lock()
	m.token = resp.AccessToken
	m.user = &user
	m.setStateLocked(StateAuthenticated)
	m.scheduleRefreshLocked(resp.AccessToken)
	m.mu.Unlock()

	metrics.SessionRefreshTotal.WithLabelValues("ok").Inc()
	m.log.Info("session.refresh.ok", "username", user.Username, "token_fp", token.Fingerprint(resp.AccessToken))
	m.notify()
	return user, nil
}

// Me reloads the current user from the backend and persists it.
func (m *Manager) Me(ctx context.Context) (User, error) {
	m.mu.Lock()
	authenticated := m.state == StateAuthenticated
	tok := m.token
	m.mu.Unlock()
	if !authenticated {
		return User{}, ErrNotAuthenticated
	}

	var u User
	if err := m.tr.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/auth/me"}, &u); err != nil {
		return User{}, err
	}
	if err := validateUser(u); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	m.mu.Lock()
	if m.state != StateAuthenticated || m.token != tok {
		m.mu.Unlock()
		return u, nil
	}
	m.user = &u
	m.mu.Unlock()

	m.persist(ctx, tok, u)
	m.notify()
	return u, nil
}

// handleExpired is the transport's authorization-expired listener: a local forced logout
// followed by the OnExpired callbacks.
func (m *Manager) handleExpired(ev transport.ExpiredEvent) {
	m.log.Warn("session.expired", "method", ev.Method, "path", ev.Path, "token_fp", ev.TokenFingerprint)
	m.clearLocal(context.Background(), "expired")

	m.mu.Lock()
	subs := append([]expiredSubscriber(nil), m.expiredSubs...)
	m.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// ---- internals ----

func (m *Manager) clearLocal(ctx context.Context, reason string) {
	m.mu.Lock()
	m.stopRefreshLocked()
	m.mu.Unlock()

	m.clearPersisted(ctx)
	m.tr.SetCredential("")

	m.mu.Lock()
	was := m.state
	m.token = ""
	m.user = nil
	m.loading = false
	m.setStateLocked(StateUnauthenticated)
	m.mu.Unlock()

	if was != StateUnauthenticated {
		m.log.Info("session.cleared", "reason", reason, "from", was.String())
	}
	m.notify()
}

func (m *Manager) readPersisted(ctx context.Context) (string, User, error) {
	tok, err := m.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil {
		return "", User{}, err
	}
	if strings.TrimSpace(tok) == "" {
		return "", User{}, fmt.Errorf("empty persisted token")
	}
	raw, err := m.store.Get(ctx, credstore.KeyUser)
	if err != nil {
		return "", User{}, err
	}
	user, err := decodeUser(raw)
	if err != nil {
		return "", User{}, err
	}
	return tok, user, nil
}

func (m *Manager) persist(ctx context.Context, tok string, user User) {
	raw, err := encodeUser(user)
	if err != nil {
		m.log.Warn("session.persist.fail", "key", credstore.KeyUser, "err", err)
		return
	}
	if err := m.store.Set(ctx, credstore.KeyAccessToken, tok); err != nil {
		m.log.Warn("session.persist.fail", "key", credstore.KeyAccessToken, "err", err)
	}
	if err := m.store.Set(ctx, credstore.KeyUser, raw); err != nil {
		m.log.Warn("session.persist.fail", "key", credstore.KeyUser, "err", err)
	}
}

func (m *Manager) clearPersisted(ctx context.Context) {
	// Clearing must happen even when the caller's context is already done.
	ctx = context.WithoutCancel(ctx)
	for _, key := range []string{credstore.KeyAccessToken, credstore.KeyUser} {
		if err := m.store.Remove(ctx, key); err != nil {
			m.log.Warn("session.clear.fail", "key", key, "err", err)
		}
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.SessionTransitionsTotal.WithLabelValues(s.String()).Inc()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.state,
		User:      copyUser(m.user),
		Loading:   m.loading,
		LastError: m.lastErr,
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	snap := m.snapshotLocked()
	subs := append([]subscriber(nil), m.subs...)
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}

func (m *Manager) logoutTimeout() time.Duration {
	if m.cfg.LogoutTimeout <= 0 {
		return 5 * time.Second
	}
	return m.cfg.LogoutTimeout
}

func checkTokenResponse(resp tokenResponse) error {
	if err := validate.Struct(resp); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.User == nil {
		return fmt.Errorf("%w: missing user", ErrInvalidResponse)
	}
	if err := validateUser(*resp.User); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyLoginErr maps credential rejections to ErrAuthenticationFailed and keeps the
// server's message for display.
func classifyLoginErr(err error) error {
	var rf *transport.RequestFailed
	if errors.As(err, &rf) {
		switch rf.Status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
			if rf.ServerMessage != "" {
				return fmt.Errorf("%w: %s", ErrAuthenticationFailed, rf.ServerMessage)
			}
			return ErrAuthenticationFailed
		}
	}
	return err
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
