package vibesync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vibesync "github.com/vibestream/vibesync-go"
	"github.com/vibestream/vibesync-go/mock"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type harness struct {
	engine  *vibesync.Engine
	api     *mock.MockAPI
	notices []vibesync.Notice
}

func newHarness(t *testing.T, opts ...vibesync.EngineOption) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	api := mock.NewMockAPI(ctrl)
	opts = append([]vibesync.EngineOption{vibesync.WithClock(func() time.Time { return t0 })}, opts...)
	h := &harness{
		api:    api,
		engine: vibesync.NewEngine(api, vibesync.Session{Token: "tok", UserID: "u-alice", Username: "alice"}, opts...),
	}
	h.engine.OnNotice(func(n vibesync.Notice) { h.notices = append(h.notices, n) })
	return h
}

func (h *harness) push(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	h.engine.HandleEvent(event, raw)
}

// seedFeed loads a single page holding posts.
func (h *harness) seedFeed(t *testing.T, posts ...vibesync.Post) {
	t.Helper()
	h.api.EXPECT().ListPosts(gomock.Any(), vibesync.FeedSubject{}, 1, vibesync.DefaultPageSize).
		Return(&vibesync.PostPage{Page: 1, Posts: posts, TotalPages: 1}, nil)
	require.NoError(t, h.engine.LoadFeed(context.Background()))
}

func (h *harness) post(t *testing.T, id string) vibesync.Post {
	t.Helper()
	p, ok := h.engine.Store().Post(id)
	require.True(t, ok, "post %s not in feed", id)
	return p
}

func (h *harness) lastNotice(t *testing.T) vibesync.Notice {
	t.Helper()
	require.NotEmpty(t, h.notices)
	return h.notices[len(h.notices)-1]
}

func countID(list []vibesync.Message, id string) int {
	n := 0
	for _, m := range list {
		if m.ID == id {
			n++
		}
	}
	return n
}

var errNotFound = &vibesync.APIError{StatusCode: 404, Message: "Not Found"}

// ============================================================================
// Messages
// ============================================================================

func TestSendMessageConfirmedOnce(t *testing.T) {
	ctx := context.Background()
	saved := &vibesync.Message{ID: "m1", From: "alice", To: "bob", Text: "hi", CreatedAt: t0.Add(time.Second)}

	t.Run("response only", func(t *testing.T) {
		h := newHarness(t)
		h.api.EXPECT().Conversation(gomock.Any(), "alice", "bob").Return(nil, nil)
		h.api.EXPECT().MarkConversationRead(gomock.Any(), "alice", "bob").Return(nil)
		h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "hi").Return(saved, nil)

		require.NoError(t, h.engine.OpenConversation(ctx, "bob"))
		got, err := h.engine.SendMessage(ctx, "bob", " hi ")
		require.NoError(t, err)
		assert.Equal(t, vibesync.DeliveryConfirmed, got.DeliveryState)

		recent := h.engine.Store().RecentMessages()
		require.Len(t, recent, 1)
		assert.Equal(t, "m1", recent[0].ID)
		assert.Equal(t, vibesync.DeliveryConfirmed, recent[0].DeliveryState)
		thread := h.engine.Store().Conversation()
		require.Len(t, thread, 1)
		assert.Equal(t, "m1", thread[0].ID)
	})

	t.Run("push echo before response", func(t *testing.T) {
		h := newHarness(t)
		h.api.EXPECT().Conversation(gomock.Any(), "alice", "bob").Return(nil, nil)
		h.api.EXPECT().MarkConversationRead(gomock.Any(), "alice", "bob").Return(nil)
		h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "hi").
			DoAndReturn(func(context.Context, string, string, string) (*vibesync.Message, error) {
				h.push(t, vibesync.EventChatMessage, map[string]any{
					"_id": "m1", "fromUsername": "alice", "toUsername": "bob", "text": "hi",
					"createdAt": saved.CreatedAt.Format(time.RFC3339Nano),
				})
				return saved, nil
			})

		require.NoError(t, h.engine.OpenConversation(ctx, "bob"))
		_, err := h.engine.SendMessage(ctx, "bob", "hi")
		require.NoError(t, err)

		assert.Len(t, h.engine.Store().RecentMessages(), 1)
		assert.Equal(t, 1, countID(h.engine.Store().RecentMessages(), "m1"))
		assert.Len(t, h.engine.Store().Conversation(), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.Metrics().Deduplicated))
	})

	t.Run("push echo without id", func(t *testing.T) {
		h := newHarness(t)
		h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "hi").
			DoAndReturn(func(context.Context, string, string, string) (*vibesync.Message, error) {
				h.push(t, vibesync.EventChatMessage, map[string]any{
					"from": "alice", "to": "bob", "message": "hi",
					"createdAt": t0.Add(2 * time.Second).Format(time.RFC3339Nano),
				})
				return saved, nil
			})
		_, err := h.engine.SendMessage(ctx, "bob", "hi")
		require.NoError(t, err)

		recent := h.engine.Store().RecentMessages()
		require.Len(t, recent, 1)
		assert.Equal(t, "m1", recent[0].ID)
	})

	t.Run("push echo after response", func(t *testing.T) {
		h := newHarness(t)
		h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "hi").Return(saved, nil)
		_, err := h.engine.SendMessage(ctx, "bob", "hi")
		require.NoError(t, err)

		h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "m1", "from": "alice", "to": "bob", "text": "hi"})
		assert.Len(t, h.engine.Store().RecentMessages(), 1)
	})
}

func TestSendMessageFailure(t *testing.T) {
	h := newHarness(t)
	h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "hi").
		Return(nil, &vibesync.APIError{StatusCode: 500, Message: "db down"})

	_, err := h.engine.SendMessage(context.Background(), "bob", "hi")
	require.Error(t, err)

	assert.Empty(t, h.engine.Store().RecentMessages(), "pending copy removed")
	n := h.lastNotice(t)
	assert.Equal(t, vibesync.NoticeError, n.Level)
	assert.Equal(t, "db down", n.Text)
	require.NotNil(t, n.Message)
	assert.Equal(t, vibesync.DeliveryFailed, n.Message.DeliveryState)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.Metrics().Mutations.WithLabelValues("send_message", "rolled_back")))
}

func TestSelfTargetRejectedWithoutEffects(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.SendMessage(context.Background(), "alice", "hi")
	assert.ErrorIs(t, err, vibesync.ErrSelfTarget)
	assert.ErrorIs(t, h.engine.OpenConversation(context.Background(), "alice"), vibesync.ErrSelfTarget)

	assert.Empty(t, h.engine.Store().RecentMessages())
	assert.Equal(t, "", h.engine.Store().OpenPeer())
}

func TestSendMessageValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SendMessage(context.Background(), "bob", "   ")
	assert.ErrorIs(t, err, vibesync.ErrEmptyMessage)

	anon := vibesync.NewEngine(h.api, vibesync.Session{})
	_, err = anon.SendMessage(context.Background(), "bob", "hi")
	assert.ErrorIs(t, err, vibesync.ErrNoSession)
}

func TestUnreadCountTracksOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "b1", "from": "bob", "to": "alice", "text": "1"})
	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "b2", "from": "bob", "to": "alice", "text": "2"})
	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "c1", "from": "carol", "to": "alice", "text": "3"})
	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "b2", "from": "bob", "to": "alice", "text": "2"})
	assert.Equal(t, 3, h.engine.Store().UnreadCount("alice"))

	h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "re").
		Return(&vibesync.Message{ID: "a1", From: "alice", To: "bob", Text: "re", CreatedAt: t0}, nil)
	_, err := h.engine.SendMessage(ctx, "bob", "re")
	require.NoError(t, err)
	assert.Equal(t, 3, h.engine.Store().UnreadCount("alice"), "own sends never count")

	h.api.EXPECT().Conversation(gomock.Any(), "alice", "bob").Return([]vibesync.Message{
		{ID: "b1", From: "bob", To: "alice", Text: "1", CreatedAt: t0.Add(-2 * time.Minute)},
		{ID: "b2", From: "bob", To: "alice", Text: "2", CreatedAt: t0.Add(-time.Minute)},
		{ID: "a1", From: "alice", To: "bob", Text: "re", CreatedAt: t0},
	}, nil)
	h.api.EXPECT().MarkConversationRead(gomock.Any(), "alice", "bob").Return(nil)
	require.NoError(t, h.engine.OpenConversation(ctx, "bob"))
	assert.Equal(t, 1, h.engine.Store().UnreadCount("alice"))

	thread := h.engine.Store().Conversation()
	require.Len(t, thread, 3)
	assert.Equal(t, []string{"b1", "b2", "a1"}, []string{thread[0].ID, thread[1].ID, thread[2].ID})
}

func TestChatMessageThreadRouting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.EXPECT().Conversation(gomock.Any(), "alice", "bob").Return(nil, nil)
	h.api.EXPECT().MarkConversationRead(gomock.Any(), "alice", "bob").Return(errors.New("offline"))
	require.NoError(t, h.engine.OpenConversation(ctx, "bob"), "mark-read failure is not fatal")

	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "1", "from": "bob", "to": "alice", "text": "in thread"})
	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "2", "from": "carol", "to": "alice", "text": "elsewhere"})
	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "3", "from": "alice", "to": "dave", "text": "other device"})

	assert.Len(t, h.engine.Store().RecentMessages(), 3)
	thread := h.engine.Store().Conversation()
	require.Len(t, thread, 1)
	assert.Equal(t, "1", thread[0].ID)

	require.Len(t, h.notices, 1, "only the message neither to self nor from the open peer raises a notice")
	assert.Equal(t, "Message from alice", h.notices[0].Title)
	assert.Equal(t, vibesync.DefaultNoticeTTL, h.notices[0].TTL)
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	seed := func(h *harness) {
		h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "1", "from": "bob", "to": "alice", "text": "x"})
		h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "2", "from": "carol", "to": "alice", "text": "y"})
	}

	t.Run("first route succeeds", func(t *testing.T) {
		h := newHarness(t)
		seed(h)
		h.api.EXPECT().DeleteConversation(gomock.Any(), vibesync.DefaultDeleteConversationRoutes[0], "alice", "bob").Return(nil)

		localOnly, err := h.engine.DeleteConversation(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, localOnly)
		assert.Len(t, h.engine.Store().RecentMessages(), 1)
	})

	t.Run("exhaustion degrades to local removal", func(t *testing.T) {
		h := newHarness(t)
		seed(h)
		h.api.EXPECT().DeleteConversation(gomock.Any(), gomock.Any(), "alice", "bob").Return(errNotFound).Times(3)

		localOnly, err := h.engine.DeleteConversation(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, localOnly)
		assert.Len(t, h.engine.Store().RecentMessages(), 1)
		n := h.lastNotice(t)
		assert.Equal(t, vibesync.NoticeWarning, n.Level)
		assert.Equal(t, "Removed locally only", n.Title)
	})

	t.Run("permission error short-circuits", func(t *testing.T) {
		h := newHarness(t)
		seed(h)
		h.api.EXPECT().DeleteConversation(gomock.Any(), vibesync.DefaultDeleteConversationRoutes[0], "alice", "bob").
			Return(&vibesync.APIError{StatusCode: 401, Message: "Unauthorized"})

		_, err := h.engine.DeleteConversation(ctx, "bob")
		assert.ErrorIs(t, err, vibesync.ErrNotAuthorized)
		assert.Len(t, h.engine.Store().RecentMessages(), 2, "nothing removed")
		assert.Equal(t, "Not authorized", h.lastNotice(t).Title)
	})
}

// ============================================================================
// Posts
// ============================================================================

func TestLikeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Author: vibesync.Author{Username: "bob"}})

	h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUserId": "u-bob"})
	h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUserId": "u-bob"})

	h.api.EXPECT().LikePost(gomock.Any(), "p1").
		DoAndReturn(func(context.Context, string) (*vibesync.Post, error) {
			h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUserId": "u-alice"})
			h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUserId": "u-carol"})
			return &vibesync.Post{ID: "p1", Likes: []string{"u-bob", "u-alice"}}, nil
		})
	_, err := h.engine.LikePost(context.Background(), "p1")
	require.NoError(t, err)

	h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUserId": "u-alice"})

	assert.ElementsMatch(t, []string{"u-bob", "u-alice", "u-carol"}, h.post(t, "p1").Likes)
}

func TestLikeRollbackKeepsConcurrentLikes(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "hello", Likes: []string{"u-bob"}})

	h.api.EXPECT().LikePost(gomock.Any(), "p1").
		DoAndReturn(func(context.Context, string) (*vibesync.Post, error) {
			assert.True(t, h.post(t, "p1").LikedBy("u-alice"), "tentative like applied before the call")
			h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUserId": "u-carol"})
			return nil, errors.New("timeout")
		})
	_, err := h.engine.LikePost(context.Background(), "p1")
	require.Error(t, err)

	p := h.post(t, "p1")
	assert.Equal(t, []string{"u-bob", "u-carol"}, p.Likes)
	assert.Equal(t, vibesync.NoticeError, h.lastNotice(t).Level)
}

func TestCommentAndPushMerge(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1"})

	h.api.EXPECT().CommentPost(gomock.Any(), "p1", "first!").
		DoAndReturn(func(context.Context, string, string) (*vibesync.Post, error) {
			h.push(t, vibesync.EventNewComment, map[string]any{"postId": "p1", "text": "second", "fromUserId": "bob"})
			return &vibesync.Post{ID: "p1", Comments: []vibesync.Comment{
				{ID: "c1", Author: vibesync.Author{ID: "u-alice", Username: "alice"}, Text: "first!"},
			}}, nil
		})
	_, err := h.engine.CommentPost(context.Background(), "p1", "first!")
	require.NoError(t, err)

	comments := h.post(t, "p1").Comments
	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "second", comments[1].Text)

	// The server echo of our own comment does not duplicate it.
	h.push(t, vibesync.EventNewComment, map[string]any{"postId": "p1", "text": "first!", "fromUserId": "alice"})
	assert.Len(t, h.post(t, "p1").Comments, 2)
}

func TestCommentRollback(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1"})
	h.api.EXPECT().CommentPost(gomock.Any(), "p1", "x").Return(nil, errors.New("nope"))

	_, err := h.engine.CommentPost(context.Background(), "p1", "x")
	require.Error(t, err)
	assert.Empty(t, h.post(t, "p1").Comments)

	_, err = h.engine.CommentPost(context.Background(), "p1", " ")
	assert.ErrorIs(t, err, vibesync.ErrEmptyComment)
	_, err = h.engine.CommentPost(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, vibesync.ErrUnknownPost)
}

func TestEditKeepsConcurrentComment(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "draft", Image: "img.png"})
	require.NoError(t, h.engine.BeginEdit("p1"))

	h.api.EXPECT().EditPost(gomock.Any(), vibesync.DefaultEditRoutes[0], "p1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ vibesync.Route, _ string, edit vibesync.PostEdit) (*vibesync.Post, error) {
			assert.Equal(t, "final", h.post(t, "p1").Text, "tentative text visible while saving")
			h.push(t, vibesync.EventNewComment, map[string]any{"postId": "p1", "text": "nice", "fromUserId": "bob"})
			return &vibesync.Post{ID: "p1", Text: edit.Text, Image: "img.png", Edited: true}, nil
		})
	_, err := h.engine.SaveEdit(context.Background(), vibesync.PostEdit{Text: "final"})
	require.NoError(t, err)

	p := h.post(t, "p1")
	assert.Equal(t, "final", p.Text)
	assert.True(t, p.Edited)
	require.Len(t, p.Comments, 1)
	assert.Equal(t, "nice", p.Comments[0].Text)
	_, open := h.engine.Store().EditDraft()
	assert.False(t, open, "draft closed after save")
}

func TestEditFallbackStopsAtFirstSuccess(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "a"})
	require.NoError(t, h.engine.BeginEdit("p1"))

	routes := vibesync.DefaultEditRoutes
	gomock.InOrder(
		h.api.EXPECT().EditPost(gomock.Any(), routes[0], "p1", gomock.Any()).Return(nil, errNotFound),
		h.api.EXPECT().EditPost(gomock.Any(), routes[1], "p1", gomock.Any()).Return(nil, errNotFound),
		h.api.EXPECT().EditPost(gomock.Any(), routes[2], "p1", gomock.Any()).Return(&vibesync.Post{ID: "p1", Text: "b"}, nil),
	)
	_, err := h.engine.SaveEdit(context.Background(), vibesync.PostEdit{Text: "b"})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.engine.Metrics().Fallbacks.WithLabelValues("edit_post", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.Metrics().Fallbacks.WithLabelValues("edit_post", "success")))
}

func TestEditRollbackRestoresExactly(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "original", Image: "old.png"})
	require.NoError(t, h.engine.BeginEdit("p1"))

	h.api.EXPECT().EditPost(gomock.Any(), gomock.Any(), "p1", gomock.Any()).Return(nil, errNotFound).Times(len(vibesync.DefaultEditRoutes))
	_, err := h.engine.SaveEdit(context.Background(), vibesync.PostEdit{Text: "changed", RemoveImage: true})
	require.Error(t, err)

	p := h.post(t, "p1")
	assert.Equal(t, "original", p.Text)
	assert.Equal(t, "old.png", p.Image)

	draft, open := h.engine.Store().EditDraft()
	require.True(t, open, "failed edit keeps the draft open")
	assert.False(t, draft.Saving)
	assert.Equal(t, "changed", draft.Text)
	assert.Error(t, draft.Err)
	assert.Equal(t, "Failed to update post", h.lastNotice(t).Title)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.Metrics().Mutations.WithLabelValues("edit_post", "rolled_back")))
}

func TestEditPermissionShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "mine"})
	require.NoError(t, h.engine.BeginEdit("p1"))

	h.api.EXPECT().EditPost(gomock.Any(), vibesync.DefaultEditRoutes[0], "p1", gomock.Any()).
		Return(nil, &vibesync.APIError{StatusCode: 403, Message: "Forbidden"})
	_, err := h.engine.SaveEdit(context.Background(), vibesync.PostEdit{Text: "theirs"})
	require.Error(t, err)
	assert.True(t, vibesync.IsPermission(err))
	assert.Equal(t, "Not authorized", h.lastNotice(t).Title)
	assert.Equal(t, "mine", h.post(t, "p1").Text)
}

func TestEditRequiresDraft(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SaveEdit(context.Background(), vibesync.PostEdit{Text: "x"})
	assert.ErrorIs(t, err, vibesync.ErrNotEditing)
	assert.ErrorIs(t, h.engine.BeginEdit("nope"), vibesync.ErrUnknownPost)

	h.seedFeed(t, vibesync.Post{ID: "p1"})
	require.NoError(t, h.engine.BeginEdit("p1"))
	h.engine.CancelEdit()
	_, open := h.engine.Store().EditDraft()
	assert.False(t, open)
}

func TestCreatePost(t *testing.T) {
	ctx := context.Background()

	t.Run("failure leaves no temporary post", func(t *testing.T) {
		h := newHarness(t)
		h.seedFeed(t, vibesync.Post{ID: "p1"})
		h.api.EXPECT().CreatePost(gomock.Any(), "hello", gomock.Nil()).
			DoAndReturn(func(context.Context, string, *vibesync.ImageUpload) (*vibesync.Post, error) {
				posts := h.engine.Store().Posts()
				require.Len(t, posts, 2)
				assert.Contains(t, posts[0].ID, "temp-")
				return nil, errors.New("500")
			})
		_, err := h.engine.CreatePost(ctx, "hello", nil)
		require.Error(t, err)

		posts := h.engine.Store().Posts()
		require.Len(t, posts, 1)
		assert.Equal(t, "p1", posts[0].ID)
	})

	t.Run("push echo is not duplicated", func(t *testing.T) {
		h := newHarness(t)
		h.seedFeed(t, vibesync.Post{ID: "p1"})
		h.api.EXPECT().CreatePost(gomock.Any(), "hello", gomock.Nil()).
			DoAndReturn(func(context.Context, string, *vibesync.ImageUpload) (*vibesync.Post, error) {
				h.push(t, vibesync.EventNewPost, map[string]any{"_id": "p2", "text": "hello"})
				return &vibesync.Post{ID: "p2", Text: "hello"}, nil
			})
		_, err := h.engine.CreatePost(ctx, "hello", nil)
		require.NoError(t, err)

		h.push(t, vibesync.EventNewPost, map[string]any{"_id": "p2", "text": "hello"})
		posts := h.engine.Store().Posts()
		require.Len(t, posts, 2)
		assert.Equal(t, []string{"p2", "p1"}, []string{posts[0].ID, posts[1].ID})
	})

	t.Run("validation", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CreatePost(ctx, "  ", nil)
		assert.ErrorIs(t, err, vibesync.ErrEmptyPost)

		big := &vibesync.ImageUpload{FileName: "a.png", ContentType: "image/png", Size: vibesync.MaxImageBytes + 1}
		_, err = h.engine.CreatePost(ctx, "x", big)
		assert.ErrorIs(t, err, vibesync.ErrInvalidImage)
		assert.Empty(t, h.engine.Store().Posts())
	})
}

func TestDeletePostRollback(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1"}, vibesync.Post{ID: "p2"}, vibesync.Post{ID: "p3"})
	h.api.EXPECT().DeletePost(gomock.Any(), "p2").Return(errors.New("boom"))

	require.Error(t, h.engine.DeletePost(context.Background(), "p2"))
	posts := h.engine.Store().Posts()
	require.Len(t, posts, 3)
	assert.Equal(t, "p2", posts[1].ID, "restored at its old position")

	h.api.EXPECT().DeletePost(gomock.Any(), "p2").Return(nil)
	require.NoError(t, h.engine.DeletePost(context.Background(), "p2"))
	assert.Len(t, h.engine.Store().Posts(), 2)
}

// ============================================================================
// Feed
// ============================================================================

func makePosts(n int) []vibesync.Post {
	out := make([]vibesync.Post, n)
	for i := range out {
		out[i] = vibesync.Post{ID: fmt.Sprintf("p%02d", i+1)}
	}
	return out
}

func TestLoadMoreUntilExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	all := makePosts(12)

	h.api.EXPECT().ListPosts(gomock.Any(), vibesync.FeedSubject{}, gomock.Any(), 5).
		DoAndReturn(func(_ context.Context, _ vibesync.FeedSubject, page, limit int) (*vibesync.PostPage, error) {
			start := (page - 1) * limit
			end := start + limit
			if end > len(all) {
				end = len(all)
			}
			return &vibesync.PostPage{Page: page, Posts: all[start:end], TotalPages: 3}, nil
		}).Times(3)

	require.NoError(t, h.engine.LoadFeed(ctx))
	assert.True(t, h.engine.HasMore())
	loaded, err := h.engine.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)
	loaded, err = h.engine.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)

	assert.False(t, h.engine.HasMore())
	posts := h.engine.Store().Posts()
	require.Len(t, posts, 12)
	for i, p := range posts {
		assert.Equal(t, all[i].ID, p.ID)
	}

	loaded, err = h.engine.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, loaded, "no request once exhausted")
}

func TestStalePageDiscardedAfterSubjectReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	profile := vibesync.FeedSubject{ProfileID: "u-bob"}

	h.api.EXPECT().ListPosts(gomock.Any(), profile, 1, 5).
		Return(&vibesync.PostPage{Page: 1, Posts: []vibesync.Post{{ID: "bob-1"}}}, nil)
	h.api.EXPECT().ListPosts(gomock.Any(), vibesync.FeedSubject{}, 1, 5).
		DoAndReturn(func(context.Context, vibesync.FeedSubject, int, int) (*vibesync.PostPage, error) {
			require.NoError(t, h.engine.LoadFeed(ctx), "duplicate request is a no-op")
			require.NoError(t, h.engine.SetFeedSubject(ctx, profile))
			return &vibesync.PostPage{Page: 1, Posts: makePosts(5)}, nil
		})

	require.NoError(t, h.engine.LoadFeed(ctx))

	posts := h.engine.Store().Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "bob-1", posts[0].ID)
	assert.False(t, h.engine.HasMore())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.engine.Metrics().StalePages))
}

func TestFeedFetchFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1"})

	h.api.EXPECT().ListPosts(gomock.Any(), vibesync.FeedSubject{}, 1, 5).Return(nil, errors.New("offline"))
	require.Error(t, h.engine.LoadFeed(ctx))
	assert.Len(t, h.engine.Store().Posts(), 1)
	assert.False(t, h.engine.Paginator().Outstanding())
}

// ============================================================================
// Push events
// ============================================================================

func TestNotificationPush(t *testing.T) {
	h := newHarness(t)
	h.push(t, vibesync.EventNotification, map[string]any{"type": "like", "fromUsername": "bob", "postId": "p1"})
	h.push(t, vibesync.EventNotification, map[string]any{"type": "follow"})

	list := h.engine.Store().Notifications()
	require.Len(t, list, 2)
	assert.Equal(t, "follow", list[0].Type, "newest first")
	assert.Equal(t, "like from bob", h.notices[0].Title)
	assert.Equal(t, "follow from Someone", h.notices[1].Title)
	assert.Equal(t, 2500*time.Millisecond, h.notices[0].TTL)

	assert.True(t, h.engine.DismissNotification(list[1].ID))
	assert.Len(t, h.engine.Store().ActiveNotifications(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.engine.Metrics().PushEvents.WithLabelValues(vibesync.EventNotification)))
}

func TestOnlineUsersReplacePresence(t *testing.T) {
	h := newHarness(t)
	h.push(t, vibesync.EventOnlineUsers, []string{"bob", "carol"})
	h.push(t, vibesync.EventOnlineUsers, []string{"dave"})

	presence := h.engine.Store().Presence()
	assert.Equal(t, []string{"dave"}, presence.List())
}

func TestPushForUnknownPostIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "t"})
	h.push(t, vibesync.EventNewLike, map[string]any{"postId": "zzz", "fromUserId": "bob"})
	h.push(t, vibesync.EventNewComment, map[string]any{"postId": "zzz", "text": "x"})
	h.engine.HandleEvent(vibesync.EventNewLike, json.RawMessage(`{not json`))
	h.engine.HandleEvent("typing", nil)

	p := h.post(t, "p1")
	assert.Empty(t, p.Likes)
	assert.Empty(t, p.Comments)
}

func TestUpdatePostPushRespectsLocalEdit(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "v1"})

	h.push(t, vibesync.EventUpdatePost, map[string]any{"_id": "p1", "text": "v2", "edited": true, "likes": []any{"bob"}})
	p := h.post(t, "p1")
	assert.Equal(t, "v2", p.Text)
	assert.Equal(t, []string{"bob"}, p.Likes)

	require.NoError(t, h.engine.BeginEdit("p1"))
	h.api.EXPECT().EditPost(gomock.Any(), gomock.Any(), "p1", gomock.Any()).
		DoAndReturn(func(context.Context, vibesync.Route, string, vibesync.PostEdit) (*vibesync.Post, error) {
			h.push(t, vibesync.EventUpdatePost, map[string]any{"_id": "p1", "text": "remote"})
			assert.Equal(t, "mine", h.post(t, "p1").Text)
			return &vibesync.Post{ID: "p1", Text: "mine", Likes: []string{"bob"}}, nil
		})
	_, err := h.engine.SaveEdit(context.Background(), vibesync.PostEdit{Text: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", h.post(t, "p1").Text)
}

// ============================================================================
// Session
// ============================================================================

func TestBootstrapResolvesIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mock.NewMockAPI(ctrl)
	sessions := vibesync.NewMemorySessionStore()
	require.NoError(t, sessions.SaveSession(vibesync.Session{Token: "tok"}))

	e := vibesync.NewEngine(api, vibesync.Session{}, vibesync.WithSessionStore(sessions))

	gomock.InOrder(
		api.EXPECT().CurrentUser(gomock.Any(), vibesync.DefaultMeRoutes[0]).Return(nil, errNotFound),
		api.EXPECT().CurrentUser(gomock.Any(), vibesync.DefaultMeRoutes[1]).Return(&vibesync.User{ID: "u1", Username: "alice"}, nil),
	)
	api.EXPECT().ListPosts(gomock.Any(), vibesync.FeedSubject{}, 1, 5).Return(&vibesync.PostPage{Page: 1}, nil)
	api.EXPECT().ListNotifications(gomock.Any()).Return(nil, errors.New("flaky"))
	api.EXPECT().RecentMessages(gomock.Any(), "alice").Return([]vibesync.Message{{ID: "m1", From: "bob", To: "alice"}}, nil)

	require.NoError(t, e.Bootstrap(context.Background()))

	s := e.Session()
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "u1", s.UserID)
	stored, _ := sessions.LoadSession()
	assert.Equal(t, s, stored)
	assert.Len(t, e.Store().RecentMessages(), 1)
}

func TestBootstrapWithoutSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := vibesync.NewEngine(mock.NewMockAPI(ctrl), vibesync.Session{})
	assert.ErrorIs(t, e.Bootstrap(context.Background()), vibesync.ErrNoSession)
}

func TestStopClearsState(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1"})
	h.push(t, vibesync.EventOnlineUsers, []string{"bob"})
	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "1", "from": "bob", "to": "alice"})

	h.engine.Stop()
	assert.Empty(t, h.engine.Store().Posts())
	assert.Empty(t, h.engine.Store().RecentMessages())
	assert.Equal(t, 0, h.engine.Store().Presence().Len())
	assert.Nil(t, h.engine.Transport())

	require.NoError(t, h.engine.Logout())
	assert.False(t, h.engine.Session().Valid())
}

// ============================================================================
// Options
// ============================================================================

func TestDedupWindowOption(t *testing.T) {
	ctx := context.Background()
	at := t0.Add(3 * time.Minute)
	saved := &vibesync.Message{ID: "m1", From: "alice", To: "bob", Text: "hi", CreatedAt: at}

	for _, tc := range []struct {
		name    string
		opts    []vibesync.EngineOption
		pending int
	}{
		{"default window keeps a late echo apart", nil, 2},
		{"wider window folds it into the pending copy", []vibesync.EngineOption{vibesync.WithDedupWindow(5 * time.Minute)}, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts...)
			var during int
			h.api.EXPECT().SendMessage(gomock.Any(), "alice", "bob", "hi").
				DoAndReturn(func(context.Context, string, string, string) (*vibesync.Message, error) {
					h.push(t, vibesync.EventChatMessage, map[string]any{
						"from": "alice", "to": "bob", "text": "hi",
						"createdAt": at.Format(time.RFC3339Nano),
					})
					during = len(h.engine.Store().RecentMessages())
					return saved, nil
				})
			_, err := h.engine.SendMessage(ctx, "bob", "hi")
			require.NoError(t, err)

			assert.Equal(t, tc.pending, during)
			recent := h.engine.Store().RecentMessages()
			require.Len(t, recent, 1)
			assert.Equal(t, "m1", recent[0].ID)
		})
	}
}

func TestCustomRoutes(t *testing.T) {
	ctx := context.Background()
	edit := vibesync.Route{Method: "PATCH", Path: "/v2/posts/{id}"}
	del := vibesync.Route{Method: "DELETE", Path: "/v2/chats", Params: vibesync.ParamsInQuery}
	me := vibesync.Route{Method: "GET", Path: "/v2/whoami"}

	h := newHarness(t,
		vibesync.WithEditRoutes([]vibesync.Route{edit}),
		vibesync.WithDeleteConversationRoutes([]vibesync.Route{del}),
		vibesync.WithMeRoutes([]vibesync.Route{me}),
		vibesync.WithNoticeTTL(time.Second),
	)
	h.seedFeed(t, vibesync.Post{ID: "p1", Text: "a"})

	require.NoError(t, h.engine.BeginEdit("p1"))
	h.api.EXPECT().EditPost(gomock.Any(), edit, "p1", gomock.Any()).Return(nil, errNotFound)
	_, err := h.engine.SaveEdit(ctx, vibesync.PostEdit{Text: "b"})
	var chain *vibesync.ChainError
	require.ErrorAs(t, err, &chain)
	assert.Equal(t, 1, chain.Attempts)

	_, err = h.engine.SendMessage(ctx, "alice", "note to self")
	require.ErrorIs(t, err, vibesync.ErrSelfTarget)
	assert.Equal(t, time.Second, h.lastNotice(t).TTL)

	h.push(t, vibesync.EventChatMessage, map[string]any{"_id": "1", "from": "bob", "to": "alice", "text": "x"})
	h.api.EXPECT().DeleteConversation(gomock.Any(), del, "alice", "bob").Return(nil)
	localOnly, err := h.engine.DeleteConversation(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, localOnly)

	ctrl := gomock.NewController(t)
	api := mock.NewMockAPI(ctrl)
	e := vibesync.NewEngine(api, vibesync.Session{Token: "tok"}, vibesync.WithMeRoutes([]vibesync.Route{me}))
	api.EXPECT().CurrentUser(gomock.Any(), me).Return(&vibesync.User{ID: "u1", Username: "alice"}, nil)
	api.EXPECT().ListPosts(gomock.Any(), gomock.Any(), 1, vibesync.DefaultPageSize).Return(&vibesync.PostPage{Page: 1}, nil)
	api.EXPECT().ListNotifications(gomock.Any()).Return(nil, nil)
	api.EXPECT().RecentMessages(gomock.Any(), "alice").Return(nil, nil)
	require.NoError(t, e.Bootstrap(ctx))
	assert.Equal(t, "alice", e.Session().Username)
}

func TestNewLikeByUsernameResolvesToKnownID(t *testing.T) {
	h := newHarness(t)
	h.seedFeed(t, vibesync.Post{ID: "p1", Author: vibesync.Author{ID: "u-carol", Username: "carol"}})

	h.api.EXPECT().LikePost(gomock.Any(), "p1").
		DoAndReturn(func(context.Context, string) (*vibesync.Post, error) {
			h.push(t, vibesync.EventNewLike, vibesync.LikeEvent{PostID: "p1", FromUserID: "carol"})
			return &vibesync.Post{ID: "p1", Author: vibesync.Author{ID: "u-carol", Username: "carol"}, Likes: []string{"u-carol", "u-alice"}}, nil
		})
	_, err := h.engine.LikePost(context.Background(), "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u-carol", "u-alice"}, h.post(t, "p1").Likes)

	h.push(t, vibesync.EventNewLike, map[string]any{"postId": "p1", "fromUsername": "alice"})
	assert.ElementsMatch(t, []string{"u-carol", "u-alice"}, h.post(t, "p1").Likes, "own username maps to own id")
}
