package vibesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Push events
// ============================================================================

// HandleEvent applies one push-channel event. Unknown events are ignored.
// It never fails; a malformed payload is normalized on a best-effort basis.
func (e *Engine) HandleEvent(event string, payload json.RawMessage) {
	var raw any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &raw); err != nil {
			raw = string(payload)
		}
	}

	switch event {
	case EventOnlineUsers:
		e.store.presence.Replace(NormalizePresence(raw))
	case EventNewPost:
		e.applyNewPost(raw)
	case EventNewLike:
		e.applyNewLike(raw)
	case EventNewComment:
		e.applyNewComment(raw)
	case EventUpdatePost:
		e.applyUpdatePost(raw)
	case EventNotification:
		e.applyNotification(raw)
	case EventChatMessage:
		e.applyChatMessage(raw)
	default:
		e.log.Debug("push_event_ignored", zap.String("event", event))
		return
	}
	e.metrics.PushEvents.WithLabelValues(event).Inc()
}

func (e *Engine) applyNewPost(raw any) {
	p := NormalizePost(raw)
	var inserted bool
	e.store.mutate(func(st *storeState) { inserted = st.prependPost(p) })
	if !inserted {
		e.log.Debug("push_post_duplicate", zap.String("post_id", p.ID))
	}
}

func (e *Engine) applyNewLike(raw any) {
	m, _ := raw.(map[string]any)
	postID := firstString(m, "postId", "post._id", "post.id")
	from := firstString(m, "fromUserId", "userId", "fromUsername")
	if postID == "" || from == "" {
		return
	}
	self := e.Session()
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(postID)
		if i < 0 {
			return
		}
		liker := st.resolveUser(from)
		if self.UserID != "" && from == self.Username {
			liker = self.UserID
		}
		p := st.posts[i].Clone()
		p.Likes = addLike(p.Likes, liker)
		st.posts[i] = p
	})
}

func (e *Engine) applyNewComment(raw any) {
	m, _ := raw.(map[string]any)
	postID := firstString(m, "postId", "post._id", "post.id")
	if postID == "" {
		return
	}
	var c Comment
	if obj, ok := m["comment"].(map[string]any); ok {
		c = normalizeComment(obj)
	} else {
		c = Comment{
			ID: "c-" + randomSuffix(),
			Author: Author{
				ID:       firstString(m, "fromUserId", "userId"),
				Username: firstString(m, "fromUsername", "username"),
			},
			Text: firstString(m, "text"),
		}
	}
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(postID)
		if i < 0 || hasComment(st.posts[i].Comments, c) {
			return
		}
		p := st.posts[i].Clone()
		p.Comments = append(p.Comments, c)
		st.posts[i] = p
	})
}

// applyUpdatePost takes the text and image of a post edited elsewhere and
// merges its likes and comments additively. An edit being saved locally
// keeps its tentative text.
func (e *Engine) applyUpdatePost(raw any) {
	upd := NormalizePost(raw)
	if upd.ID == "" {
		return
	}
	e.store.mutate(func(st *storeState) {
		i := st.postIndex(upd.ID)
		if i < 0 {
			return
		}
		p := st.posts[i].Clone()
		if !st.editing(upd.ID) {
			p.Text, p.Image, p.Edited = upd.Text, upd.Image, upd.Edited
		}
		for _, l := range upd.Likes {
			p.Likes = addLike(p.Likes, l)
		}
		for _, c := range upd.Comments {
			if !hasComment(p.Comments, c) {
				p.Comments = append(p.Comments, c)
			}
		}
		st.posts[i] = p
	})
}

func (e *Engine) applyNotification(raw any) {
	n := NormalizeNotification(raw)
	e.store.mutate(func(st *storeState) { st.prependNotification(n) })

	from := n.From
	if from == "" {
		from = "Someone"
	}
	e.info(fmt.Sprintf("%s from %s", n.Type, from), n.Message)
}

func (e *Engine) applyChatMessage(raw any) {
	msg := NormalizeMessage(raw)
	self := e.username()

	var (
		replaced bool
		visible  bool
	)
	e.store.mutate(func(st *storeState) {
		replaced = st.upsertRecent(msg)
		if st.inOpenThread(msg) {
			st.upsertThread(msg)
		}
		visible = msg.To == self || (st.openPeer != "" && msg.From == st.openPeer)
	})
	if replaced {
		e.metrics.Deduplicated.Inc()
	}
	if !visible {
		e.info("Message from "+msg.From, truncateText(msg.Text, 80))
	}
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// DismissNotification hides a notification locally.
func (e *Engine) DismissNotification(id string) bool {
	found := false
	e.store.mutate(func(st *storeState) {
		for i := range st.notifications {
			if st.notifications[i].ID == id {
				st.notifications[i].Dismissed = true
				found = true
			}
		}
	})
	return found
}

// ============================================================================
// Feed
// ============================================================================

// SetFeedSubject switches between the global feed and a profile feed. The
// feed is emptied and page 1 of the new subject is loaded.
func (e *Engine) SetFeedSubject(ctx context.Context, subject FeedSubject) error {
	e.store.mutate(func(st *storeState) {
		e.pager.Reset(subject)
		st.posts = nil
	})
	return e.LoadFeed(ctx)
}

// LoadFeed (re)loads page 1 of the current subject. It is a no-op while
// another page request is outstanding.
func (e *Engine) LoadFeed(ctx context.Context) error {
	t, ok := e.pager.Request(1)
	if !ok {
		return nil
	}
	return e.fetchPage(ctx, t)
}

// LoadMore loads the next page. It reports false when nothing was requested
// because a request is outstanding or the feed is exhausted.
func (e *Engine) LoadMore(ctx context.Context) (bool, error) {
	t, ok := e.pager.Next()
	if !ok {
		return false, nil
	}
	return true, e.fetchPage(ctx, t)
}

func (e *Engine) HasMore() bool { return e.pager.HasMore() }

func (e *Engine) fetchPage(ctx context.Context, t Ticket) error {
	page, err := e.api.ListPosts(ctx, t.Subject, t.Page, e.pager.PageSize())
	if err != nil {
		e.pager.Fail(t)
		e.log.Warn("feed_page_failed", zap.Int("page", t.Page), zap.Stringer("subject", t.Subject), zap.Error(err))
		return err
	}

	applied := false
	e.store.mutate(func(st *storeState) {
		if !e.pager.Complete(t, len(page.Posts), page.TotalPages) {
			return
		}
		applied = true
		if t.Page == 1 {
			// Keep posts still waiting for their create to confirm.
			var pending []Post
			for _, p := range st.posts {
				if isTempID(p.ID) {
					pending = append(pending, p)
				}
			}
			st.posts = pending
		}
		st.appendPage(page.Posts)
	})
	if !applied {
		e.metrics.StalePages.Inc()
		e.log.Debug("feed_page_stale", zap.Int("page", t.Page), zap.Stringer("subject", t.Subject))
	}
	return nil
}

// ============================================================================
// Snapshot refresh
// ============================================================================

// RefreshNotifications replaces notifications with the server list. On
// failure the current list is left untouched.
func (e *Engine) RefreshNotifications(ctx context.Context) error {
	list, err := e.api.ListNotifications(ctx)
	if err != nil {
		e.log.Warn("notifications_fetch_failed", zap.Error(err))
		return err
	}
	e.store.mutate(func(st *storeState) { st.replaceNotifications(list) })
	return nil
}

// RefreshMessages replaces recent messages with the server list, keeping
// local sends that are still pending.
func (e *Engine) RefreshMessages(ctx context.Context) error {
	self := e.username()
	if self == "" {
		return ErrNoSession
	}
	list, err := e.api.RecentMessages(ctx, self)
	if err != nil {
		e.log.Warn("recent_messages_fetch_failed", zap.Error(err))
		return err
	}
	e.store.mutate(func(st *storeState) {
		var pending []Message
		for _, m := range st.recent {
			if m.DeliveryState == DeliveryPending {
				pending = append(pending, m)
			}
		}
		st.recent = nil
		for i := len(list) - 1; i >= 0; i-- {
			st.upsertRecent(list[i])
		}
		for i := len(pending) - 1; i >= 0; i-- {
			m := pending[i]
			dup := false
			for _, cur := range st.recent {
				if st.sameMessage(cur, m) {
					dup = true
					break
				}
			}
			if !dup {
				st.upsertRecent(m)
			}
		}
	})
	return nil
}

// resyncAfterReconnect refreshes snapshot state once the push channel is
// back, since events sent while it was down are not replayed. A reconnect
// inside the throttle window is deferred to the end of the window, and
// reconnects while one is deferred share it.
func (e *Engine) resyncAfterReconnect(ctx context.Context) {
	r := e.resync.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		e.resyncNow(ctx)
		return
	}
	if !e.resyncPending.CompareAndSwap(false, true) {
		r.Cancel()
		e.log.Debug("resync_coalesced")
		return
	}
	e.log.Debug("resync_deferred", zap.Duration("delay", delay))
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			r.Cancel()
			e.resyncPending.Store(false)
		case <-timer.C:
			e.resyncPending.Store(false)
			e.resyncNow(ctx)
		}
	}()
}

func (e *Engine) resyncNow(ctx context.Context) {
	e.metrics.Resyncs.Inc()
	e.log.Info("resync_after_reconnect")

	_ = e.RefreshNotifications(ctx)
	_ = e.RefreshMessages(ctx)
	if peer := e.store.OpenPeer(); peer != "" {
		_ = e.loadThread(ctx, e.username(), peer)
	}
}
