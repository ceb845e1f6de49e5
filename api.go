package vibesync

import "context"

//go:generate mockgen -destination=mock/api.go -package=mock github.com/vibestream/vibesync-go API

// API is the request/response surface the Engine consumes. *Client
// implements it; tests substitute mock.MockAPI.
type API interface {
	ListPosts(ctx context.Context, subject FeedSubject, page, limit int) (*PostPage, error)
	CreatePost(ctx context.Context, text string, image *ImageUpload) (*Post, error)
	LikePost(ctx context.Context, postID string) (*Post, error)
	CommentPost(ctx context.Context, postID, text string) (*Post, error)
	EditPost(ctx context.Context, route Route, postID string, edit PostEdit) (*Post, error)
	DeletePost(ctx context.Context, postID string) error

	ListNotifications(ctx context.Context) ([]Notification, error)

	RecentMessages(ctx context.Context, username string) ([]Message, error)
	SendMessage(ctx context.Context, from, to, text string) (*Message, error)
	Conversation(ctx context.Context, userA, userB string) ([]Message, error)
	MarkConversationRead(ctx context.Context, username, peer string) error
	DeleteConversation(ctx context.Context, route Route, userA, userB string) error

	CurrentUser(ctx context.Context, route Route) (*User, error)
}

var _ API = (*Client)(nil)

func (c *Client) ListPosts(ctx context.Context, subject FeedSubject, page, limit int) (*PostPage, error) {
	if subject.ProfileID != "" {
		return c.Posts.ListByUser(ctx, subject.ProfileID, page, limit)
	}
	return c.Posts.List(ctx, page, limit)
}

func (c *Client) CreatePost(ctx context.Context, text string, image *ImageUpload) (*Post, error) {
	return c.Posts.Create(ctx, text, image)
}

func (c *Client) LikePost(ctx context.Context, postID string) (*Post, error) {
	return c.Posts.Like(ctx, postID)
}

func (c *Client) CommentPost(ctx context.Context, postID, text string) (*Post, error) {
	return c.Posts.Comment(ctx, postID, text)
}

func (c *Client) EditPost(ctx context.Context, route Route, postID string, edit PostEdit) (*Post, error) {
	return c.Posts.Edit(ctx, route, postID, edit)
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.Posts.Delete(ctx, postID)
}

func (c *Client) ListNotifications(ctx context.Context) ([]Notification, error) {
	return c.Notifications.List(ctx)
}

func (c *Client) RecentMessages(ctx context.Context, username string) ([]Message, error) {
	return c.Messages.Recent(ctx, username)
}

func (c *Client) SendMessage(ctx context.Context, from, to, text string) (*Message, error) {
	return c.Messages.Send(ctx, from, to, text)
}

func (c *Client) Conversation(ctx context.Context, userA, userB string) ([]Message, error) {
	return c.Messages.Conversation(ctx, userA, userB)
}

func (c *Client) MarkConversationRead(ctx context.Context, username, peer string) error {
	return c.Messages.MarkRead(ctx, username, peer)
}

func (c *Client) DeleteConversation(ctx context.Context, route Route, userA, userB string) error {
	return c.Messages.DeleteConversation(ctx, route, userA, userB)
}

func (c *Client) CurrentUser(ctx context.Context, route Route) (*User, error) {
	return c.Auth.MeAt(ctx, route)
}
