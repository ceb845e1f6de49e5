package vibesync

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a non-2xx response from the request/response API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsPermission reports whether err carries a 401 or 403 response.
func IsPermission(err error) bool {
	if errors.Is(err, ErrNotAuthorized) {
		return true
	}
	if apiErr := asAPIError(err); apiErr != nil {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return false
}

func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

var (
	ErrNotAuthorized = errors.New("not authorized")
	ErrSelfTarget    = errors.New("cannot message yourself")
	ErrEmptyMessage  = errors.New("message text is empty")
	ErrEmptyPost     = errors.New("post needs text or an image")
	ErrEmptyComment  = errors.New("comment text is empty")
	ErrNotConnected  = errors.New("not connected")
	ErrInvalidImage  = errors.New("invalid image")
	ErrUnknownPost   = errors.New("post not in feed")
	ErrNoSession     = errors.New("no active session")
	ErrNotEditing    = errors.New("post is not being edited")
	ErrEditSaving    = errors.New("edit is already being saved")
)

// ============================================================================
// Feed Types
// ============================================================================

// Author identifies the user behind a post or comment.
type Author struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Comment is an append-only entry on a post.
type Comment struct {
	ID     string `json:"_id"`
	Author Author `json:"user"`
	Text   string `json:"text"`
}

// Post is a feed entry. Likes holds each user identity at most once.
type Post struct {
	ID        string    `json:"_id"`
	Author    Author    `json:"user"`
	Text      string    `json:"text"`
	Image     string    `json:"image,omitempty"`
	Likes     []string  `json:"likes"`
	Comments  []Comment `json:"comments"`
	Edited    bool      `json:"edited,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of p.
func (p Post) Clone() Post {
	out := p
	out.Likes = append([]string(nil), p.Likes...)
	out.Comments = append([]Comment(nil), p.Comments...)
	return out
}

// LikedBy reports whether identity is in the likes set.
func (p Post) LikedBy(identity string) bool {
	for _, l := range p.Likes {
		if l == identity {
			return true
		}
	}
	return false
}

// PostPage is one page of the feed as returned by the API.
type PostPage struct {
	Page       int
	Posts      []Post
	TotalPages int // 0 when the server does not report it
}

// FeedSubject selects which feed is paginated. The zero value is the global feed.
type FeedSubject struct {
	ProfileID string
}

func (s FeedSubject) String() string {
	if s.ProfileID == "" {
		return "global"
	}
	return "profile:" + s.ProfileID
}

// PostEdit carries the requested changes for an edit.
type PostEdit struct {
	Text        string
	Image       *ImageUpload
	RemoveImage bool
}

// ============================================================================
// Messaging Types
// ============================================================================

// DeliveryState tracks a message from local send to server confirmation.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

const tempIDPrefix = "temp-"

// Message is a private message between two usernames.
type Message struct {
	ID            string        `json:"_id"`
	From          string        `json:"fromUsername"`
	To            string        `json:"toUsername"`
	Text          string        `json:"text"`
	CreatedAt     time.Time     `json:"createdAt"`
	Read          bool          `json:"read"`
	DeliveryState DeliveryState `json:"deliveryState,omitempty"`
}

// IsTemporary reports whether the message still carries a locally generated id.
func (m Message) IsTemporary() bool {
	return isTempID(m.ID)
}

func isTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Peer returns the other party of the message relative to self.
func (m Message) Peer(self string) string {
	if m.From == self {
		return m.To
	}
	return m.From
}

// Notification is created by push events only.
type Notification struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"`
	From      string    `json:"fromUsername"`
	PostID    string    `json:"postId,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Dismissed bool      `json:"-"`
}

// PeerSummary is one row of the conversation list.
type PeerSummary struct {
	Peer        string
	LastMessage Message
}

// ============================================================================
// User Types
// ============================================================================

// User is a profile as returned by the users API.
type User struct {
	ID        string   `json:"_id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	Followers []string `json:"followers,omitempty"`
	Following []string `json:"following,omitempty"`
}

// LoginResult is returned by Auth.Login.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ============================================================================
// Uploads
// ============================================================================

const MaxImageBytes = 3 * 1024 * 1024

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageUpload is an image attached to a post or avatar update.
// Preview is an optional local reference shown while the upload is pending.
type ImageUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
	Preview     string

	data []byte // buffered on first send so fallback routes can resend
}

// Validate enforces the size and content-type limits.
func (u *ImageUpload) Validate() error {
	if u == nil {
		return nil
	}
	if u.Size > MaxImageBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d MB", ErrInvalidImage, u.Size, MaxImageBytes/(1024*1024))
	}
	if !allowedImageTypes[u.ContentType] {
		return fmt.Errorf("%w: type %q (JPEG, PNG, GIF, WEBP only)", ErrInvalidImage, u.ContentType)
	}
	return nil
}
