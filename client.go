// Package vibesync is the client-side synchronization core for the Vibestream
// social feed: a request/response API client, a push-channel transport, and
// an engine that reconciles both into one local view of posts, notifications,
// messages and presence.
//
// Example:
//
//	client := vibesync.NewClient(token, vibesync.WithBaseURL("https://api.example.com/api"))
//	engine := vibesync.NewEngine(client, vibesync.Session{Token: token, Username: "alice"})
//	defer engine.Stop()
//
//	engine.LoadFeed(ctx)
//	engine.SendMessage(ctx, "bob", "hi")
package vibesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://vibestream-backend.onrender.com/api"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	rest       *resty.Client
	log        *zap.Logger

	Posts         *PostsClient
	Users         *UsersClient
	Notifications *NotificationsClient
	Messages      *MessagesClient
	Auth          *AuthClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken overrides the token passed to NewClient.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates an API client. token may be empty before login.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.rest = resty.NewWithClient(c.httpClient).
		SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json")
	if c.token != "" {
		c.rest.SetAuthToken(c.token)
	}

	c.Posts = &PostsClient{c: c}
	c.Users = &UsersClient{c: c}
	c.Notifications = &NotificationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Auth = &AuthClient{c: c}
	return c
}

// SetToken sets or replaces the bearer token, e.g. after login.
func (c *Client) SetToken(token string) {
	c.token = token
	c.rest.SetAuthToken(token)
}

func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string) (any, error) {
	req := c.rest.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	return c.execute(req, method, path)
}

func (c *Client) execute(req *resty.Request, method, path string) (any, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.log.Debug("api_response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
	)
	if resp.IsError() {
		return nil, newAPIError(resp.StatusCode(), resp.Body())
	}
	if len(bytes.TrimSpace(resp.Body())) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return out, nil
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var m map[string]any
	if json.Unmarshal(body, &m) == nil {
		if msg := firstString(m, "msg", "message", "error", "error.message"); msg != "" {
			e.Message = msg
		}
		e.Code = firstString(m, "code", "error.code")
	} else if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
		e.Message = s
	}
	return e
}

// multipart attaches an optional image to req under field.
func multipart(req *resty.Request, field string, img *ImageUpload) error {
	if img == nil {
		return nil
	}
	r, err := img.open()
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	req.SetMultipartField(field, img.FileName, img.ContentType, r)
	return nil
}

func (u *ImageUpload) open() (io.Reader, error) {
	if u.data == nil {
		if u.Reader == nil {
			return nil, fmt.Errorf("%w: no image data", ErrInvalidImage)
		}
		b, err := io.ReadAll(u.Reader)
		if err != nil {
			return nil, err
		}
		u.data = b
	}
	return bytes.NewReader(u.data), nil
}

func pageQuery(page, limit int) map[string]string {
	return map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	}
}

// ============================================================================
// Routes
// ============================================================================

// ParamMode places the parameters of a Route in the query string or the body.
type ParamMode int

const (
	ParamsInBody ParamMode = iota
	ParamsInQuery
)

// Route is one candidate endpoint for an operation whose backend path is not
// fixed. Path may contain an {id} placeholder.
type Route struct {
	Method string
	Path   string
	Params ParamMode
}

func (r Route) String() string { return r.Method + " " + r.Path }

func (r Route) expand(id string) string {
	return strings.ReplaceAll(r.Path, "{id}", url.PathEscape(id))
}

var DefaultEditRoutes = []Route{
	{Method: http.MethodPut, Path: "/posts/{id}"},
	{Method: http.MethodPost, Path: "/posts/{id}"},
	{Method: http.MethodPost, Path: "/posts/{id}/edit"},
	{Method: http.MethodPut, Path: "/posts/{id}/edit"},
	{Method: http.MethodPost, Path: "/posts/edit/{id}"},
}

var DefaultDeleteConversationRoutes = []Route{
	{Method: http.MethodDelete, Path: "/messages/conversation", Params: ParamsInQuery},
	{Method: http.MethodDelete, Path: "/messages/conversation", Params: ParamsInBody},
	{Method: http.MethodPost, Path: "/messages/conversation/delete", Params: ParamsInBody},
}

// DefaultMeRoutes are the current-user paths tried in order; backends differ
// in how they mount the auth router.
var DefaultMeRoutes = []Route{
	{Method: http.MethodGet, Path: "/auth/me"},
	{Method: http.MethodGet, Path: "/api/auth/me"},
	{Method: http.MethodGet, Path: "/me"},
}

// ============================================================================
// Sub-Clients
// ============================================================================

// PostsClient handles the feed.
type PostsClient struct{ c *Client }

func (p *PostsClient) List(ctx context.Context, page, limit int) (*PostPage, error) {
	raw, err := p.c.do(ctx, http.MethodGet, "/posts", nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodePostPage(raw, page), nil
}

func (p *PostsClient) ListByUser(ctx context.Context, userID string, page, limit int) (*PostPage, error) {
	raw, err := p.c.do(ctx, http.MethodGet, "/posts/user/"+url.PathEscape(userID), nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodePostPage(raw, page), nil
}

func (p *PostsClient) Create(ctx context.Context, text string, image *ImageUpload) (*Post, error) {
	if err := image.Validate(); err != nil {
		return nil, err
	}
	req := p.c.rest.R().SetContext(ctx).SetMultipartFormData(map[string]string{"text": text})
	if err := multipart(req, "image", image); err != nil {
		return nil, err
	}
	return decodePost(p.c.execute(req, http.MethodPost, "/posts"))
}

func (p *PostsClient) Like(ctx context.Context, postID string) (*Post, error) {
	return decodePost(p.c.do(ctx, http.MethodPut, "/posts/"+url.PathEscape(postID)+"/like", nil, nil))
}

func (p *PostsClient) Comment(ctx context.Context, postID, text string) (*Post, error) {
	return decodePost(p.c.do(ctx, http.MethodPost, "/posts/"+url.PathEscape(postID)+"/comment",
		map[string]string{"text": text}, nil))
}

// Edit sends the edit through one route. An empty body counts as failure so
// that the next route in a chain is tried.
func (p *PostsClient) Edit(ctx context.Context, route Route, postID string, edit PostEdit) (*Post, error) {
	if err := edit.Image.Validate(); err != nil {
		return nil, err
	}
	fields := map[string]string{"text": edit.Text}
	if edit.RemoveImage {
		fields["removeImage"] = "1"
	}
	req := p.c.rest.R().SetContext(ctx).SetMultipartFormData(fields)
	if err := multipart(req, "image", edit.Image); err != nil {
		return nil, err
	}
	raw, err := p.c.execute(req, route.Method, route.expand(postID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%s returned no post", route)
	}
	return decodePost(raw, nil)
}

func (p *PostsClient) Delete(ctx context.Context, postID string) error {
	_, err := p.c.do(ctx, http.MethodDelete, "/posts/"+url.PathEscape(postID), nil, nil)
	return err
}

// UsersClient handles profiles.
type UsersClient struct{ c *Client }

func (u *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	return decodeUser(u.c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil))
}

func (u *UsersClient) Follow(ctx context.Context, userID string) (*User, error) {
	return decodeUser(u.c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/follow", nil, nil))
}

func (u *UsersClient) UpdateAvatar(ctx context.Context, image *ImageUpload) (*User, error) {
	if image == nil {
		return nil, fmt.Errorf("%w: avatar image required", ErrInvalidImage)
	}
	if err := image.Validate(); err != nil {
		return nil, err
	}
	req := u.c.rest.R().SetContext(ctx)
	if err := multipart(req, "avatar", image); err != nil {
		return nil, err
	}
	return decodeUser(u.c.execute(req, http.MethodPut, "/users/avatar"))
}

func (u *UsersClient) Search(ctx context.Context, q string) ([]User, error) {
	raw, err := u.c.do(ctx, http.MethodGet, "/users/search", nil, map[string]string{"q": q})
	if err != nil {
		return nil, err
	}
	list, _ := raw.([]any)
	out := make([]User, 0, len(list))
	for _, item := range list {
		out = append(out, NormalizeUser(item))
	}
	return out, nil
}

// NotificationsClient lists notifications.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) List(ctx context.Context) ([]Notification, error) {
	raw, err := n.c.do(ctx, http.MethodGet, "/notifications", nil, nil)
	if err != nil {
		return nil, err
	}
	list, _ := raw.([]any)
	out := make([]Notification, 0, len(list))
	for _, item := range list {
		out = append(out, NormalizeNotification(item))
	}
	return out, nil
}

// MessagesClient handles private messages.
type MessagesClient struct{ c *Client }

// Recent lists the latest messages involving user. Older backends only
// serve the unqualified /messages listing.
func (m *MessagesClient) Recent(ctx context.Context, user string) ([]Message, error) {
	q := map[string]string{"user": user}
	raw, err := m.c.do(ctx, http.MethodGet, "/messages/recent", nil, q)
	if err != nil {
		m.c.log.Debug("recent_messages_fallback", zap.Error(err))
		raw, err = m.c.do(ctx, http.MethodGet, "/messages", nil, q)
		if err != nil {
			return nil, err
		}
	}
	return decodeMessages(raw), nil
}

func (m *MessagesClient) UnreadCount(ctx context.Context, user string) (int, error) {
	raw, err := m.c.do(ctx, http.MethodGet, "/messages/unread-count", nil, map[string]string{"user": user})
	if err != nil {
		return 0, err
	}
	obj, _ := raw.(map[string]any)
	n, _ := strconv.Atoi(firstString(obj, "unread", "count"))
	return n, nil
}

func (m *MessagesClient) Send(ctx context.Context, from, to, text string) (*Message, error) {
	raw, err := m.c.do(ctx, http.MethodPost, "/messages", map[string]string{
		"fromUsername": from,
		"toUsername":   to,
		"text":         text,
	}, nil)
	if err != nil {
		return nil, err
	}
	msg := NormalizeMessage(raw)
	if msg.From == "" {
		msg.From = from
	}
	if msg.To == "" {
		msg.To = to
	}
	if msg.Text == "" {
		msg.Text = text
	}
	msg.DeliveryState = DeliveryConfirmed
	return &msg, nil
}

func (m *MessagesClient) Conversation(ctx context.Context, userA, userB string) ([]Message, error) {
	raw, err := m.c.do(ctx, http.MethodGet, "/messages/conversation", nil, map[string]string{
		"userA": userA,
		"userB": userB,
	})
	if err != nil {
		return nil, err
	}
	return decodeMessages(raw), nil
}

func (m *MessagesClient) MarkRead(ctx context.Context, username, peer string) error {
	_, err := m.c.do(ctx, http.MethodPut, "/messages/conversation/mark-read",
		map[string]string{"username": username, "peer": peer}, nil)
	return err
}

func (m *MessagesClient) DeleteConversation(ctx context.Context, route Route, userA, userB string) error {
	params := map[string]string{"userA": userA, "userB": userB}
	var err error
	if route.Params == ParamsInQuery {
		_, err = m.c.do(ctx, route.Method, route.Path, nil, params)
	} else {
		_, err = m.c.do(ctx, route.Method, route.Path, params, nil)
	}
	return err
}

// AuthClient handles login and identity.
type AuthClient struct{ c *Client }

func (a *AuthClient) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	raw, err := a.c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	obj, _ := raw.(map[string]any)
	res := &LoginResult{Token: firstString(obj, "token", "accessToken")}
	if u, ok := obj["user"]; ok {
		res.User = NormalizeUser(u)
	} else {
		res.User = NormalizeUser(obj)
	}
	if res.Token == "" {
		return nil, fmt.Errorf("login response carried no token")
	}
	return res, nil
}

// MeAt fetches the current user through a single route.
func (a *AuthClient) MeAt(ctx context.Context, route Route) (*User, error) {
	u, err := decodeUser(a.c.do(ctx, route.Method, route.Path, nil, nil))
	if err != nil {
		return nil, err
	}
	if u.Username == "" {
		return nil, fmt.Errorf("%s returned no username", route)
	}
	return u, nil
}

// Me tries DefaultMeRoutes in order.
func (a *AuthClient) Me(ctx context.Context) (*User, error) {
	attempts := make([]Attempt[*User], 0, len(DefaultMeRoutes))
	for _, r := range DefaultMeRoutes {
		route := r
		attempts = append(attempts, Attempt[*User]{
			Name: route.String(),
			Do:   func(ctx context.Context) (*User, error) { return a.MeAt(ctx, route) },
		})
	}
	u, _, err := FirstSuccess(ctx, "auth.me", attempts, ChainOptions{ShortCircuit: IsPermission})
	return u, err
}

// ============================================================================
// Decoders
// ============================================================================

func decodePost(raw any, err error) (*Post, error) {
	if err != nil {
		return nil, err
	}
	p := NormalizePost(raw)
	return &p, nil
}

func decodeUser(raw any, err error) (*User, error) {
	if err != nil {
		return nil, err
	}
	u := NormalizeUser(raw)
	return &u, nil
}

func decodeMessages(raw any) []Message {
	list, _ := raw.([]any)
	out := make([]Message, 0, len(list))
	for _, item := range list {
		out = append(out, NormalizeMessage(item))
	}
	return out
}

func decodePostPage(raw any, page int) *PostPage {
	pp := &PostPage{Page: page}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		list, _ = v["posts"].([]any)
		if n, err := strconv.Atoi(firstString(v, "totalPages", "pages")); err == nil {
			pp.TotalPages = n
		}
	}
	pp.Posts = make([]Post, 0, len(list))
	for _, item := range list {
		pp.Posts = append(pp.Posts, NormalizePost(item))
	}
	return pp
}
