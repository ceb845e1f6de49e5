package vibesync

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Events
// ============================================================================

// Push-channel event names.
const (
	EventJoin         = "join"
	EventOnlineUsers  = "onlineUsers"
	EventNewPost      = "newPost"
	EventNewLike      = "newLike"
	EventNewComment   = "newComment"
	EventUpdatePost   = "updatePost"
	EventNotification = "notification"
	EventChatMessage  = "chatMessage"
)

// RealtimeEnvelope is the wire format for every frame in both directions.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LikeEvent is emitted after a confirmed like.
type LikeEvent struct {
	PostID       string `json:"postId"`
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername,omitempty"`
	PostOwnerID  string `json:"postOwnerId,omitempty"`
}

// CommentEvent is emitted after a confirmed comment.
type CommentEvent struct {
	PostID       string `json:"postId"`
	Text         string `json:"text"`
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername,omitempty"`
	PostOwnerID  string `json:"postOwnerId,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the push-channel transport.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int // negative retries forever
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	PingTimeout          time.Duration
	DialTimeout          time.Duration
	HTTPClient           *http.Client
	Logger               *zap.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// RealtimeState represents the connection state. Joined is tracked
// separately as a sub-state of StateConnected.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(eventType string, payload json.RawMessage)

// eventDispatcher runs handlers inline on the read loop, one frame at a
// time, so events reach the engine in arrival order.
type eventDispatcher struct {
	mu             sync.RWMutex
	log            *zap.Logger
	generic        map[string][]RealtimeEventHandler
	all            []RealtimeEventHandler
	onConnected    []func(reconnect bool)
	onDisconnected []func(err error)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newEventDispatcher(log *zap.Logger) *eventDispatcher {
	return &eventDispatcher{
		log:     log,
		generic: make(map[string][]RealtimeEventHandler),
	}
}

func (d *eventDispatcher) dispatch(env RealtimeEnvelope) {
	d.mu.RLock()
	handlers := append(append([]RealtimeEventHandler{}, d.generic[env.Type]...), d.all...)
	d.mu.RUnlock()
	for _, h := range handlers {
		d.safely(env.Type, func() { h(env.Type, env.Payload) })
	}
}

func (d *eventDispatcher) emitConnected(reconnect bool) {
	d.mu.RLock()
	handlers := append([]func(bool){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		d.safely("connected", func() { h(reconnect) })
	}
}

func (d *eventDispatcher) emitDisconnected(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		d.safely("disconnected", func() { h(err) })
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		d.safely("reconnecting", func() { h(attempt, delay) })
	}
}

func (d *eventDispatcher) safely(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("realtime_handler_panic", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	fn()
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

// reset clears the attempt count after a successful connect.
func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

// nextDelay returns the backoff before the next attempt and the attempt number.
func (r *reconnector) nextDelay() (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay, r.attempt
}

// ============================================================================
// Transport
// ============================================================================

// Transport owns one websocket push channel for one session. States move
// disconnected → connecting → connected; a completed websocket handshake is
// the connect acknowledgment. Once connected, the join intent for the
// session identity is emitted, including after every reconnect.
type Transport struct {
	url        string
	config     *RealtimeConfig
	log        *zap.Logger
	dispatcher *eventDispatcher
	recon      *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	joined           bool
	identity         string
	everConnected    bool
	intentionalClose bool
	cancelFn         context.CancelFunc
	stopCh           chan struct{}
}

// NewTransport creates a disconnected transport for socketURL. http and
// https URLs are mapped to ws and wss.
func NewTransport(socketURL string, config *RealtimeConfig) *Transport {
	if config == nil {
		config = &RealtimeConfig{}
	}
	cfg := *config
	cfg.defaults()
	return &Transport{
		url:        socketURL,
		config:     &cfg,
		log:        cfg.Logger,
		dispatcher: newEventDispatcher(cfg.Logger),
		recon:      newReconnector(&cfg),
		state:      StateDisconnected,
		stopCh:     make(chan struct{}),
	}
}

// On registers a handler for one event type.
func (t *Transport) On(eventType string, h RealtimeEventHandler) {
	t.dispatcher.mu.Lock()
	t.dispatcher.generic[eventType] = append(t.dispatcher.generic[eventType], h)
	t.dispatcher.mu.Unlock()
}

// OnEvent registers a handler for every event type.
func (t *Transport) OnEvent(h RealtimeEventHandler) {
	t.dispatcher.mu.Lock()
	t.dispatcher.all = append(t.dispatcher.all, h)
	t.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event. reconnect
// is false for the first connection of this transport.
func (t *Transport) OnConnected(h func(reconnect bool)) {
	t.dispatcher.mu.Lock()
	t.dispatcher.onConnected = append(t.dispatcher.onConnected, h)
	t.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event. err is
// nil for a client-initiated disconnect.
func (t *Transport) OnDisconnected(h func(err error)) {
	t.dispatcher.mu.Lock()
	t.dispatcher.onDisconnected = append(t.dispatcher.onDisconnected, h)
	t.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (t *Transport) OnReconnecting(h func(attempt int, delay time.Duration)) {
	t.dispatcher.mu.Lock()
	t.dispatcher.onReconnecting = append(t.dispatcher.onReconnecting, h)
	t.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (t *Transport) State() RealtimeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Joined reports whether the join intent was emitted on the current connection.
func (t *Transport) Joined() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined
}

func (t *Transport) dialURL() (string, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return "", fmt.Errorf("invalid socket url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if t.config.Token != "" {
		q := u.Query()
		q.Set("token", t.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the push channel. ctx bounds the dial only; the connection
// lives until Disconnect or a transport failure.
func (t *Transport) Connect(ctx context.Context) error {
	return t.connect(ctx, false)
}

func (t *Transport) connect(ctx context.Context, resume bool) error {
	t.mu.Lock()
	if resume && t.intentionalClose {
		t.mu.Unlock()
		return ErrNotConnected
	}
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.intentionalClose = false
	if t.stopCh == nil {
		t.stopCh = make(chan struct{})
	}
	t.mu.Unlock()

	wsURL, err := t.dialURL()
	if err != nil {
		t.setState(StateDisconnected)
		return err
	}

	opts := &websocket.DialOptions{HTTPClient: t.config.HTTPClient}
	if t.config.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + t.config.Token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.intentionalClose {
		// Disconnect raced the dial.
		t.state = StateDisconnected
		t.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ErrNotConnected
	}
	t.conn = conn
	t.state = StateConnected
	t.joined = false
	t.cancelFn = cancel
	reconnect := t.everConnected
	t.everConnected = true
	identity := t.identity
	t.mu.Unlock()
	t.recon.reset()
	t.log.Debug("realtime_connected", zap.Bool("reconnect", reconnect))

	if identity != "" {
		if err := t.sendJoin(ctx, conn, identity); err != nil {
			t.log.Warn("realtime_join_failed", zap.String("identity", identity), zap.Error(err))
		}
	}

	go t.readLoop(connCtx, conn)
	go t.heartbeatLoop(connCtx, conn)

	t.dispatcher.emitConnected(reconnect)
	return nil
}

// Join records identity as the session's join intent. It is emitted now if
// connected, otherwise on the next connect.
func (t *Transport) Join(ctx context.Context, identity string) error {
	t.mu.Lock()
	t.identity = identity
	conn := t.conn
	connected := t.state == StateConnected && conn != nil
	t.mu.Unlock()

	if !connected {
		t.log.Debug("realtime_join_deferred", zap.String("identity", identity))
		return nil
	}
	return t.sendJoin(ctx, conn, identity)
}

func (t *Transport) sendJoin(ctx context.Context, conn *websocket.Conn, identity string) error {
	if err := t.write(ctx, conn, EventJoin, identity); err != nil {
		return err
	}
	t.mu.Lock()
	if t.conn == conn {
		t.joined = true
	}
	t.mu.Unlock()
	return nil
}

// Emit sends one event. It fails with ErrNotConnected when there is no live connection.
func (t *Transport) Emit(ctx context.Context, event string, payload any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return t.write(ctx, conn, event, payload)
}

func (t *Transport) write(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(RealtimeEnvelope{Type: event, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Disconnect closes the connection and stops any pending reconnect.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.intentionalClose = true
	cancel := t.cancelFn
	t.cancelFn = nil
	conn := t.conn
	t.conn = nil
	was := t.state
	t.state = StateDisconnected
	t.joined = false
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	if was != StateDisconnected {
		t.dispatcher.emitDisconnected(nil)
	}
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.log.Debug("realtime_close", zap.Error(err))
	}
	return nil
}

func (t *Transport) setState(s RealtimeState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			intentional := t.intentionalClose
			var cancel context.CancelFunc
			if t.conn == conn {
				t.conn = nil
				t.state = StateDisconnected
				t.joined = false
				cancel = t.cancelFn
				t.cancelFn = nil
			}
			t.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			if intentional {
				return
			}

			t.log.Info("realtime_disconnected", zap.Error(err))
			t.dispatcher.emitDisconnected(err)

			if t.config.AutoReconnect {
				t.scheduleReconnect()
			}
			return
		}

		var env RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			t.log.Debug("realtime_bad_frame", zap.ByteString("frame", truncate(data, 200)))
			continue
		}
		t.dispatcher.dispatch(env)
	}
}

func (t *Transport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, t.config.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				t.log.Warn("realtime_heartbeat_failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	stop := t.stopCh
	t.mu.Unlock()
	if stop == nil {
		return
	}

	for t.recon.shouldReconnect() {
		delay, attempt := t.recon.nextDelay()
		t.dispatcher.emitReconnecting(attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.config.DialTimeout)
		err := t.connect(ctx, true)
		cancel()
		if err == nil || err == ErrNotConnected {
			return
		}
		t.log.Debug("realtime_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	t.log.Warn("realtime_reconnect_exhausted")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
