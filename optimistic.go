package vibesync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Every mutation here follows one shape: capture the pre-state and apply
// the tentative change in one store step, call the API with the store
// unlocked, then either confirm (the server entity wins, concurrent
// additive pushes are folded back in) or compensate (the mutated fields
// return to the pre-state) in a second store step.

// ============================================================================
// Posts
// ============================================================================

// CreatePost publishes a post. A temporary entry is shown at the head of the
// feed until the server answers.
func (e *Engine) CreatePost(ctx context.Context, text string, image *ImageUpload) (*Post, error) {
	text = strings.TrimSpace(text)
	if text == "" && image == nil {
		return nil, ErrEmptyPost
	}
	if err := image.Validate(); err != nil {
		e.failure("Invalid image", err)
		return nil, err
	}

	temp := Post{
		ID:        newTempID(),
		Author:    e.selfAuthor(),
		Text:      text,
		CreatedAt: e.now().UTC(),
	}
	if image != nil {
		temp.Image = image.Preview
	}
	e.store.mutate(func(st *storeState) { st.prependPost(temp) })

	saved, err := e.api.CreatePost(ctx, text, image)
	if err != nil {
		e.store.mutate(func(st *storeState) { st.removePost(temp.ID) })
		e.metrics.mutation("create_post", outcomeRolledBack)
		e.log.Warn("create_post_failed", zap.Error(err))
		e.failure("Failed to create post", err)
		return nil, err
	}

	var out Post
	e.store.mutate(func(st *storeState) {
		_, idx, ok := st.removePost(temp.ID)
		if !ok {
			idx = 0
		}
		// A push echo of this post may already be in the feed.
		if saved.ID != "" {
			if _, i, dup := st.removePost(saved.ID); dup && i < idx {
				idx--
			}
		}
		out = saved.Clone()
		st.insertPost(idx, out)
	})
	e.metrics.mutation("create_post", outcomeConfirmed)
	e.success("Posted")
	e.emit(ctx, EventNewPost, out)
	return &out, nil
}

// LikePost toggles the session user's like on a post.
func (e *Engine) LikePost(ctx context.Context, postID string) (*Post, error) {
	self := e.likeIdentity()
	var (
		pre   Post
		found bool
		liked bool
	)
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(postID)
		if i < 0 {
			return
		}
		found = true
		pre = st.posts[i].Clone()
		liked = !pre.LikedBy(self)
		p := st.posts[i].Clone()
		if liked {
			p.Likes = addLike(p.Likes, self)
		} else {
			p.Likes = removeLike(p.Likes, self)
		}
		st.posts[i] = p
	})
	if !found {
		return nil, ErrUnknownPost
	}

	saved, err := e.api.LikePost(ctx, postID)
	if err != nil {
		e.store.mutate(func(st *storeState) {
			if i := st.postIndex(postID); i >= 0 {
				st.posts[i] = restoreLikes(pre, st.posts[i], self)
			}
		})
		e.metrics.mutation("like_post", outcomeRolledBack)
		e.log.Warn("like_post_failed", zap.String("post_id", postID), zap.Error(err))
		e.failure("Failed to update like", err)
		return nil, err
	}

	out := e.confirmPost(postID, pre, *saved, self, "")
	e.metrics.mutation("like_post", outcomeConfirmed)
	if liked {
		e.emit(ctx, EventNewLike, LikeEvent{PostID: postID, FromUserID: e.likeIdentity(), FromUsername: e.username(), PostOwnerID: authorIdentity(saved.Author)})
	}
	return out, nil
}

// CommentPost appends a comment to a post.
func (e *Engine) CommentPost(ctx context.Context, postID, text string) (*Post, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyComment
	}
	temp := Comment{ID: newTempID(), Author: e.selfAuthor(), Text: text}
	var (
		pre   Post
		found bool
	)
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(postID)
		if i < 0 {
			return
		}
		found = true
		pre = st.posts[i].Clone()
		p := st.posts[i].Clone()
		p.Comments = append(p.Comments, temp)
		st.posts[i] = p
	})
	if !found {
		return nil, ErrUnknownPost
	}

	saved, err := e.api.CommentPost(ctx, postID, text)
	if err != nil {
		e.store.mutate(func(st *storeState) {
			if i := st.postIndex(postID); i >= 0 {
				p := st.posts[i].Clone()
				p.Comments = removeComment(p.Comments, temp.ID)
				st.posts[i] = p
			}
		})
		e.metrics.mutation("comment_post", outcomeRolledBack)
		e.log.Warn("comment_post_failed", zap.String("post_id", postID), zap.Error(err))
		e.failure("Failed to add comment", err)
		return nil, err
	}

	out := e.confirmPost(postID, pre, *saved, "", temp.ID)
	e.metrics.mutation("comment_post", outcomeConfirmed)
	e.emit(ctx, EventNewComment, CommentEvent{PostID: postID, Text: text, FromUserID: e.likeIdentity(), FromUsername: e.username(), PostOwnerID: authorIdentity(saved.Author)})
	return out, nil
}

// confirmPost installs the server copy of a post after a like or comment,
// keeping concurrent pushes and the tentative text of an edit being saved.
func (e *Engine) confirmPost(postID string, pre, saved Post, skipLike, skipComment string) *Post {
	var out *Post
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(postID)
		if i < 0 {
			return
		}
		cur := st.posts[i]
		merged := mergeConcurrent(saved, pre, cur, skipLike, skipComment)
		if st.editing(postID) {
			merged.Text, merged.Image, merged.Edited = cur.Text, cur.Image, cur.Edited
		}
		st.posts[i] = merged
		p := merged.Clone()
		out = &p
	})
	if out == nil {
		p := saved.Clone()
		out = &p
	}
	return out
}

// restoreLikes returns cur with its likes back at pre, plus any likes that
// arrived concurrently other than skip.
func restoreLikes(pre, cur Post, skip string) Post {
	out := cur.Clone()
	out.Likes = append([]string(nil), pre.Likes...)
	for _, l := range cur.Likes {
		if l == skip || pre.LikedBy(l) {
			continue
		}
		out.Likes = addLike(out.Likes, l)
	}
	return out
}

func removeComment(list []Comment, id string) []Comment {
	out := list[:0:0]
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// ── Edit ─────────────────────────────────────────────────

// BeginEdit opens an edit draft for a post, replacing any other open draft.
func (e *Engine) BeginEdit(postID string) error {
	var err error
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(postID)
		if i < 0 {
			err = ErrUnknownPost
			return
		}
		if st.draft != nil && st.draft.Saving {
			err = ErrEditSaving
			return
		}
		st.draft = &EditDraft{PostID: postID, Text: st.posts[i].Text}
	})
	return err
}

// CancelEdit closes the open draft. A save in flight still settles.
func (e *Engine) CancelEdit() {
	e.store.mutate(func(st *storeState) {
		if st.draft != nil && !st.draft.Saving {
			st.draft = nil
		}
	})
}

// SaveEdit saves the open draft through the ordered edit routes. On failure
// the post is restored and the draft stays open with Err set.
func (e *Engine) SaveEdit(ctx context.Context, edit PostEdit) (*Post, error) {
	if err := edit.Image.Validate(); err != nil {
		e.failure("Invalid image", err)
		return nil, err
	}
	edit.Text = strings.TrimSpace(edit.Text)

	var (
		pre    Post
		postID string
		err    error
	)
	e.store.mutate(func(st *storeState) {
		d := st.draft
		switch {
		case d == nil:
			err = ErrNotEditing
			return
		case d.Saving:
			err = ErrEditSaving
			return
		}
		i := st.postIndex(d.PostID)
		if i < 0 {
			st.draft = nil
			err = ErrUnknownPost
			return
		}
		postID = d.PostID
		d.Text, d.Image, d.RemoveImage = edit.Text, edit.Image, edit.RemoveImage
		d.Saving, d.Err = true, nil

		pre = st.posts[i].Clone()
		p := st.posts[i].Clone()
		p.Text = edit.Text
		switch {
		case edit.Image != nil:
			p.Image = edit.Image.Preview
		case edit.RemoveImage:
			p.Image = ""
		}
		st.posts[i] = p
	})
	if err != nil {
		return nil, err
	}

	attempts := make([]Attempt[*Post], 0, len(e.editRoutes))
	for _, r := range e.editRoutes {
		route := r
		attempts = append(attempts, Attempt[*Post]{
			Name: route.String(),
			Do: func(ctx context.Context) (*Post, error) {
				return e.api.EditPost(ctx, route, postID, edit)
			},
		})
	}
	saved, idx, err := FirstSuccess(ctx, "edit post", attempts, ChainOptions{
		ShortCircuit: IsPermission,
		OnAttempt:    e.logAttempt("edit_post"),
	})
	if err == nil && saved == nil {
		err = fmt.Errorf("edit post: %s returned no post", attempts[idx].Name)
	}
	if err != nil {
		e.store.mutate(func(st *storeState) {
			if i := st.postIndex(postID); i >= 0 {
				p := st.posts[i].Clone()
				p.Text, p.Image, p.Edited = pre.Text, pre.Image, pre.Edited
				st.posts[i] = p
			}
			if st.draft != nil && st.draft.PostID == postID {
				st.draft.Saving = false
				st.draft.Err = err
			}
		})
		e.metrics.mutation("edit_post", outcomeRolledBack)
		e.log.Warn("edit_post_failed", zap.String("post_id", postID), zap.Error(err))
		e.failure("Failed to update post", err)
		return nil, err
	}

	var out Post
	e.store.mutate(func(st *storeState) {
		out = saved.Clone()
		if i := st.postIndex(postID); i >= 0 {
			out = mergeConcurrent(*saved, pre, st.posts[i], "", "")
			st.posts[i] = out
			out = out.Clone()
		}
		if st.draft != nil && st.draft.PostID == postID {
			st.draft = nil
		}
	})
	e.metrics.mutation("edit_post", outcomeConfirmed)
	e.log.Debug("edit_post_saved", zap.String("post_id", postID), zap.String("route", attempts[idx].Name))
	e.success("Post updated")
	e.emit(ctx, EventUpdatePost, out)
	return &out, nil
}

func (e *Engine) logAttempt(op string) func(int, string, error) {
	observe := e.metrics.observeAttempt(op)
	return func(i int, name string, err error) {
		observe(i, name, err)
		if err != nil {
			e.log.Debug("fallback_attempt_failed", zap.String("op", op), zap.String("route", name), zap.Error(err))
		}
	}
}

// ── Delete ───────────────────────────────────────────────

// DeletePost removes a post. On failure it is put back at its old position.
func (e *Engine) DeletePost(ctx context.Context, postID string) error {
	var (
		removed Post
		idx     int
		found   bool
	)
	e.store.mutate(func(st *storeState) {
		removed, idx, found = st.removePost(postID)
	})
	if !found {
		return ErrUnknownPost
	}

	if err := e.api.DeletePost(ctx, postID); err != nil {
		e.store.mutate(func(st *storeState) {
			if st.postIndex(postID) < 0 {
				st.insertPost(idx, removed)
			}
		})
		e.metrics.mutation("delete_post", outcomeRolledBack)
		e.log.Warn("delete_post_failed", zap.String("post_id", postID), zap.Error(err))
		e.failure("Failed to delete post", err)
		return err
	}

	e.store.mutate(func(st *storeState) {
		if st.draft != nil && st.draft.PostID == postID && !st.draft.Saving {
			st.draft = nil
		}
	})
	e.metrics.mutation("delete_post", outcomeConfirmed)
	e.success("Deleted")
	return nil
}

// ============================================================================
// Messages
// ============================================================================

// SendMessage sends text to peer. A pending copy is shown immediately and
// replaced by the server copy; on failure it is removed, a notice carries
// the failed message, and a chatMessage emission is attempted.
func (e *Engine) SendMessage(ctx context.Context, to, text string) (*Message, error) {
	self := e.username()
	if self == "" {
		return nil, ErrNoSession
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, fmt.Errorf("recipient is empty")
	}
	if to == self {
		e.info("Cannot message yourself", "Choose another user to chat with.")
		return nil, ErrSelfTarget
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	temp := Message{
		ID:            newTempID(),
		From:          self,
		To:            to,
		Text:          text,
		CreatedAt:     e.now().UTC(),
		DeliveryState: DeliveryPending,
	}
	e.store.mutate(func(st *storeState) {
		st.upsertRecent(temp)
		if st.inOpenThread(temp) {
			st.upsertThread(temp)
		}
	})

	saved, err := e.api.SendMessage(ctx, self, to, text)
	if err != nil {
		e.store.mutate(func(st *storeState) { st.removeMessageID(temp.ID) })
		failed := temp
		failed.DeliveryState = DeliveryFailed
		e.metrics.mutation("send_message", outcomeRolledBack)
		e.log.Warn("send_message_failed", zap.String("to", to), zap.Error(err))
		e.notices.emit(Notice{Level: NoticeError, Title: "Send failed", Text: errorText(err), Message: &failed, Err: err})
		e.emit(ctx, EventChatMessage, map[string]string{"fromUsername": self, "toUsername": to, "text": text})
		return nil, err
	}

	out := *saved
	out.DeliveryState = DeliveryConfirmed
	var dropped int
	e.store.mutate(func(st *storeState) {
		dropped = st.dropMessages(temp, out)
		st.upsertRecent(out)
		if st.inOpenThread(out) {
			st.upsertThread(out)
		}
	})
	if dropped > 1 {
		e.metrics.Deduplicated.Inc()
	}
	e.metrics.mutation("send_message", outcomeConfirmed)
	return &out, nil
}

// OpenConversation makes peer the open conversation and loads the thread.
// Messages are marked read on success; a mark-read failure is only logged.
func (e *Engine) OpenConversation(ctx context.Context, peer string) error {
	self := e.username()
	if self == "" {
		return ErrNoSession
	}
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return fmt.Errorf("peer is empty")
	}
	if peer == self {
		e.info("Cannot message yourself", "")
		return ErrSelfTarget
	}

	e.store.mutate(func(st *storeState) {
		st.openPeer = peer
		st.thread = nil
		for _, m := range st.recent {
			if m.Peer(self) == peer {
				st.thread = append(st.thread, m)
			}
		}
		sortThread(st.thread)
	})

	if err := e.loadThread(ctx, self, peer); err != nil {
		return err
	}
	if err := e.MarkConversationRead(ctx, peer); err != nil {
		e.log.Debug("mark_read_failed", zap.String("peer", peer), zap.Error(err))
	}
	return nil
}

// loadThread replaces the open thread with the server copy, keeping local
// pending sends the server has not seen yet.
func (e *Engine) loadThread(ctx context.Context, self, peer string) error {
	msgs, err := e.api.Conversation(ctx, self, peer)
	if err != nil {
		e.log.Warn("conversation_fetch_failed", zap.String("peer", peer), zap.Error(err))
		return err
	}
	e.store.mutate(func(st *storeState) {
		if st.openPeer != peer {
			return
		}
		pending := make([]Message, 0)
		for _, m := range st.thread {
			if m.DeliveryState == DeliveryPending {
				pending = append(pending, m)
			}
		}
		st.thread = nil
		for _, m := range msgs {
			st.upsertThread(m)
		}
		for _, m := range pending {
			dup := false
			for _, cur := range st.thread {
				if st.sameMessage(cur, m) {
					dup = true
					break
				}
			}
			if !dup {
				st.upsertThread(m)
			}
		}
	})
	return nil
}

// CloseConversation clears the open conversation.
func (e *Engine) CloseConversation() {
	e.store.mutate(func(st *storeState) {
		st.openPeer = ""
		st.thread = nil
	})
}

// MarkConversationRead marks messages from peer as read, upstream then locally.
func (e *Engine) MarkConversationRead(ctx context.Context, peer string) error {
	self := e.username()
	if self == "" {
		return ErrNoSession
	}
	if err := e.api.MarkConversationRead(ctx, self, peer); err != nil {
		return err
	}
	e.store.mutate(func(st *storeState) { st.markRead(self, peer) })
	return nil
}

// DeleteConversation deletes the conversation with peer through the ordered
// delete routes. When every route fails for reasons other than permission,
// the conversation is still removed locally and localOnly is true.
func (e *Engine) DeleteConversation(ctx context.Context, peer string) (localOnly bool, err error) {
	self := e.username()
	if self == "" {
		return false, ErrNoSession
	}
	peer = strings.TrimSpace(peer)
	if peer == "" || peer == self {
		return false, ErrSelfTarget
	}

	attempts := make([]Attempt[struct{}], 0, len(e.deleteRoutes))
	for _, r := range e.deleteRoutes {
		route := r
		attempts = append(attempts, Attempt[struct{}]{
			Name: route.String(),
			Do: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, e.api.DeleteConversation(ctx, route, self, peer)
			},
		})
	}
	_, _, err = FirstSuccess(ctx, "delete conversation", attempts, ChainOptions{
		ShortCircuit: IsPermission,
		OnAttempt:    e.logAttempt("delete_conversation"),
	})
	if err != nil && IsPermission(err) {
		e.metrics.mutation("delete_conversation", outcomeRolledBack)
		e.failure("Failed to delete conversation", err)
		return false, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	e.store.mutate(func(st *storeState) { st.removeConversation(self, peer) })

	if err != nil {
		e.metrics.mutation("delete_conversation", outcomeLocalOnly)
		e.log.Warn("delete_conversation_local_only", zap.String("peer", peer), zap.Error(err))
		e.notices.emit(Notice{
			Level: NoticeWarning,
			Title: "Removed locally only",
			Text:  "The server did not confirm the deletion; the conversation may reappear after a refresh.",
			TTL:   e.noticeTTL,
			Err:   err,
		})
		return true, nil
	}
	e.metrics.mutation("delete_conversation", outcomeConfirmed)
	e.success("Conversation deleted")
	return false, nil
}
