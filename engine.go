package vibesync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================================
// Notices
// ============================================================================

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// DefaultNoticeTTL is how long info notices stay visible.
const DefaultNoticeTTL = 2500 * time.Millisecond

// Notice is a non-blocking, user-visible signal. A zero TTL means it stays
// until dismissed.
type Notice struct {
	Level   NoticeLevel
	Title   string
	Text    string
	TTL     time.Duration
	Message *Message // set for failed sends
	Err     error
}

type noticeEmitter struct {
	mu       sync.RWMutex
	handlers []func(Notice)
}

func (e *noticeEmitter) emit(n Notice) {
	e.mu.RLock()
	handlers := append([]func(Notice){}, e.handlers...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(n)
		}()
	}
}

// ============================================================================
// Engine
// ============================================================================

// Engine reconciles local optimistic mutations, request/response results and
// push events into one Store for a single session.
type Engine struct {
	api      API
	store    *Store
	pager    *Paginator
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
	sessions SessionStore

	editRoutes   []Route
	deleteRoutes []Route
	meRoutes     []Route
	noticeTTL    time.Duration
	socketURL    string
	realtime     RealtimeConfig
	pageSize     int
	dedupWindow  time.Duration
	registerer   prometheus.Registerer

	resync        *rate.Limiter
	resyncEvery   time.Duration
	resyncBurst   int
	resyncPending atomic.Bool

	mu        sync.Mutex
	session   Session
	transport *Transport
	stopRun   context.CancelFunc

	notices noticeEmitter
}

type EngineOption func(*Engine)

func WithPageSize(n int) EngineOption {
	return func(e *Engine) { e.pageSize = n }
}

func WithDedupWindow(d time.Duration) EngineOption {
	return func(e *Engine) { e.dedupWindow = d }
}

func WithEditRoutes(routes []Route) EngineOption {
	return func(e *Engine) { e.editRoutes = routes }
}

func WithDeleteConversationRoutes(routes []Route) EngineOption {
	return func(e *Engine) { e.deleteRoutes = routes }
}

func WithMeRoutes(routes []Route) EngineOption {
	return func(e *Engine) { e.meRoutes = routes }
}

func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithMetrics registers the engine counters on reg instead of a private registry.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.registerer = reg }
}

// WithResyncLimit bounds how often a reconnect may trigger a snapshot refresh.
func WithResyncLimit(every time.Duration, burst int) EngineOption {
	return func(e *Engine) {
		e.resyncEvery = every
		e.resyncBurst = burst
	}
}

func WithNoticeTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.noticeTTL = d }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithSessionStore(s SessionStore) EngineOption {
	return func(e *Engine) { e.sessions = s }
}

// WithRealtime enables the push channel at socketURL.
func WithRealtime(socketURL string, cfg RealtimeConfig) EngineOption {
	return func(e *Engine) {
		e.socketURL = socketURL
		e.realtime = cfg
	}
}

// NewEngine creates an engine for session backed by api.
func NewEngine(api API, session Session, opts ...EngineOption) *Engine {
	e := &Engine{
		api:          api,
		session:      session,
		log:          zap.NewNop(),
		now:          time.Now,
		sessions:     NewMemorySessionStore(),
		editRoutes:   DefaultEditRoutes,
		deleteRoutes: DefaultDeleteConversationRoutes,
		meRoutes:     DefaultMeRoutes,
		noticeTTL:    DefaultNoticeTTL,
		pageSize:     DefaultPageSize,
		dedupWindow:  DefaultDedupWindow,
		resyncEvery:  5 * time.Second,
		resyncBurst:  1,
		realtime:     RealtimeConfig{AutoReconnect: true},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registerer == nil {
		e.registerer = prometheus.NewRegistry()
	}
	e.metrics = NewMetrics(e.registerer)
	e.resync = rate.NewLimiter(rate.Every(e.resyncEvery), e.resyncBurst)
	e.pager = NewPaginator(e.pageSize)
	e.store = NewStore()
	e.store.mutate(func(st *storeState) { st.dedupWindow = e.dedupWindow })
	return e
}

func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) Paginator() *Paginator { return e.pager }

// OnNotice registers a handler for user-visible notices.
func (e *Engine) OnNotice(h func(Notice)) {
	e.notices.mu.Lock()
	e.notices.handlers = append(e.notices.handlers, h)
	e.notices.mu.Unlock()
}

func (e *Engine) info(title, text string) {
	e.notices.emit(Notice{Level: NoticeInfo, Title: title, Text: text, TTL: e.noticeTTL})
}

func (e *Engine) success(title string) {
	e.notices.emit(Notice{Level: NoticeSuccess, Title: title, TTL: e.noticeTTL})
}

func (e *Engine) failure(title string, err error) {
	text := errorText(err)
	if IsPermission(err) {
		title, text = "Not authorized", ErrNotAuthorized.Error()
	}
	e.notices.emit(Notice{Level: NoticeError, Title: title, Text: text, Err: err})
}

// errorText prefers the server message carried by an APIError.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	if apiErr := asAPIError(err); apiErr != nil && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// ── Identity ─────────────────────────────────────────────

func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) username() string { return e.Session().Username }

// likeIdentity is the identity recorded in a post's likes set.
func (e *Engine) likeIdentity() string {
	s := e.Session()
	if s.UserID != "" {
		return s.UserID
	}
	return s.Username
}

// authorIdentity prefers the user id, as the likes set does.
func authorIdentity(a Author) string {
	if a.ID != "" {
		return a.ID
	}
	return a.Username
}

func (e *Engine) selfAuthor() Author {
	s := e.Session()
	return Author{ID: s.UserID, Username: s.Username}
}

// ── Transport access ─────────────────────────────────────

func (e *Engine) Transport() *Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport
}

// emit sends a best-effort event; failures and a missing connection are logged only.
func (e *Engine) emit(ctx context.Context, event string, payload any) {
	t := e.Transport()
	if t == nil || t.State() != StateConnected {
		e.log.Debug("emit_skipped", zap.String("event", event))
		return
	}
	if err := t.Emit(ctx, event, payload); err != nil {
		e.log.Debug("emit_failed", zap.String("event", event), zap.Error(err))
	}
}
