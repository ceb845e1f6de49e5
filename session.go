package vibesync

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Session is the local identity of the logged-in user.
type Session struct {
	Token       string `toml:"token" json:"token"`
	UserID      string `toml:"user_id" json:"userId"`
	Username    string `toml:"username" json:"username"`
	DisplayName string `toml:"display_name" json:"displayName"`
}

// Valid reports whether the session can authenticate.
func (s Session) Valid() bool { return s.Token != "" }

// SessionStore persists session fields between runs. It is read once at
// bootstrap and written when the identity is resolved.
type SessionStore interface {
	LoadSession() (Session, error)
	SaveSession(Session) error
	ClearSession() error
}

// MemorySessionStore is a goroutine-safe in-memory SessionStore.
type MemorySessionStore struct {
	mu sync.RWMutex
	s  Session
}

func NewMemorySessionStore() *MemorySessionStore { return &MemorySessionStore{} }

func (m *MemorySessionStore) LoadSession() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, nil
}

func (m *MemorySessionStore) SaveSession(s Session) error {
	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) ClearSession() error {
	return m.SaveSession(Session{})
}

// ============================================================================
// Lifecycle
// ============================================================================

// Bootstrap completes the session: it loads persisted fields when the
// session has no token, resolves the username through the auth/me routes
// when it is missing, then loads the first feed page, notifications and
// recent messages. Read-path failures are logged and do not fail Bootstrap.
func (e *Engine) Bootstrap(ctx context.Context) error {
	s := e.Session()
	if !s.Valid() {
		stored, err := e.sessions.LoadSession()
		if err != nil {
			return err
		}
		s = stored
	}
	if !s.Valid() {
		return ErrNoSession
	}

	if s.Username == "" {
		u, err := e.resolveMe(ctx)
		if err != nil {
			return err
		}
		s.Username, s.UserID = u.Username, u.ID
		if s.DisplayName == "" {
			s.DisplayName = u.Username
		}
	}
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	if err := e.sessions.SaveSession(s); err != nil {
		e.log.Warn("session_save_failed", zap.Error(err))
	}

	_ = e.LoadFeed(ctx)
	_ = e.RefreshNotifications(ctx)
	_ = e.RefreshMessages(ctx)
	return nil
}

func (e *Engine) resolveMe(ctx context.Context) (*User, error) {
	attempts := make([]Attempt[*User], 0, len(e.meRoutes))
	for _, r := range e.meRoutes {
		route := r
		attempts = append(attempts, Attempt[*User]{
			Name: route.String(),
			Do:   func(ctx context.Context) (*User, error) { return e.api.CurrentUser(ctx, route) },
		})
	}
	u, _, err := FirstSuccess(ctx, "auth me", attempts, ChainOptions{
		ShortCircuit: IsPermission,
		OnAttempt:    e.logAttempt("auth_me"),
	})
	return u, err
}

// Start opens the push channel for the session, tearing down any channel
// left from an earlier Start. The join intent is registered before the
// connection completes and fires as soon as it does.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	old, oldStop := e.transport, e.stopRun
	e.transport, e.stopRun = nil, nil
	s := e.session
	e.mu.Unlock()
	if oldStop != nil {
		oldStop()
	}
	if old != nil {
		old.Disconnect()
	}
	if e.socketURL == "" {
		return nil
	}
	runCtx, stopRun := context.WithCancel(context.Background())

	cfg := e.realtime
	cfg.Token = s.Token
	if cfg.Logger == nil {
		cfg.Logger = e.log
	}
	t := NewTransport(e.socketURL, &cfg)
	t.OnEvent(func(event string, payload json.RawMessage) { e.HandleEvent(event, payload) })
	t.OnConnected(func(reconnect bool) {
		if reconnect {
			e.resyncAfterReconnect(runCtx)
		}
	})
	t.OnDisconnected(func(err error) {
		if err != nil {
			e.log.Info("push_channel_lost", zap.Error(err))
		}
	})

	e.mu.Lock()
	e.transport, e.stopRun = t, stopRun
	e.mu.Unlock()

	if s.Username != "" {
		_ = t.Join(ctx, s.Username)
	}
	return t.Connect(ctx)
}

// Stop releases the push channel and clears all session state held in memory.
func (e *Engine) Stop() {
	e.mu.Lock()
	t, stopRun := e.transport, e.stopRun
	e.transport, e.stopRun = nil, nil
	e.mu.Unlock()
	if stopRun != nil {
		stopRun()
	}
	if t != nil {
		t.Disconnect()
	}
	e.store.mutate(func(st *storeState) { e.pager.Reset(FeedSubject{}) })
	e.store.Reset()
}

// Logout stops the engine and forgets the persisted session.
func (e *Engine) Logout() error {
	e.Stop()
	e.mu.Lock()
	e.session = Session{}
	e.mu.Unlock()
	return e.sessions.ClearSession()
}
