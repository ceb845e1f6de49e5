package vibesync

import (
	"sort"
	"sync"
	"time"
)

// DefaultDedupWindow bounds how far apart a pending local send and its
// server copy may be timestamped and still be treated as one message.
const DefaultDedupWindow = time.Minute

// EditDraft is the open edit of one post. It survives a failed save so the
// user can retry.
type EditDraft struct {
	PostID      string
	Text        string
	Image       *ImageUpload
	RemoveImage bool
	Saving      bool
	Err         error
}

// Store holds the reconciled collections for one session. Reads return
// copies; all writes go through the Engine.
type Store struct {
	mu       sync.RWMutex
	st       storeState
	presence *Presence
}

type storeState struct {
	posts         []Post
	notifications []Notification
	recent        []Message // newest first
	thread        []Message // open conversation, sorted by (CreatedAt, ID)
	openPeer      string
	draft         *EditDraft
	dedupWindow   time.Duration
}

func NewStore() *Store {
	return &Store{
		st:       storeState{dedupWindow: DefaultDedupWindow},
		presence: NewPresence(),
	}
}

// mutate runs fn as one atomic step.
func (s *Store) mutate(fn func(st *storeState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

func (s *Store) read(fn func(st *storeState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.st)
}

// Reset empties every collection, used on logout.
func (s *Store) Reset() {
	s.mutate(func(st *storeState) {
		window := st.dedupWindow
		*st = storeState{dedupWindow: window}
	})
	s.presence.Clear()
}

// ── Read accessors ───────────────────────────────────────

func (s *Store) Posts() []Post {
	var out []Post
	s.read(func(st *storeState) {
		out = make([]Post, len(st.posts))
		for i, p := range st.posts {
			out[i] = p.Clone()
		}
	})
	return out
}

func (s *Store) Post(id string) (Post, bool) {
	var (
		p  Post
		ok bool
	)
	s.read(func(st *storeState) {
		if i := st.postIndex(id); i >= 0 {
			p, ok = st.posts[i].Clone(), true
		}
	})
	return p, ok
}

// Notifications returns every notification, newest first, including dismissed ones.
func (s *Store) Notifications() []Notification {
	var out []Notification
	s.read(func(st *storeState) {
		out = append([]Notification(nil), st.notifications...)
	})
	return out
}

// ActiveNotifications returns the notifications not dismissed locally.
func (s *Store) ActiveNotifications() []Notification {
	var out []Notification
	s.read(func(st *storeState) {
		for _, n := range st.notifications {
			if !n.Dismissed {
				out = append(out, n)
			}
		}
	})
	return out
}

func (s *Store) RecentMessages() []Message {
	var out []Message
	s.read(func(st *storeState) {
		out = append([]Message(nil), st.recent...)
	})
	return out
}

// Conversation returns the open thread in (CreatedAt, ID) order.
func (s *Store) Conversation() []Message {
	var out []Message
	s.read(func(st *storeState) {
		out = append([]Message(nil), st.thread...)
	})
	sortThread(out)
	return out
}

func (s *Store) OpenPeer() string {
	var peer string
	s.read(func(st *storeState) { peer = st.openPeer })
	return peer
}

// UnreadCount counts stored messages addressed to self and not yet read.
// It is derived on every call and never cached.
func (s *Store) UnreadCount(self string) int {
	n := 0
	s.read(func(st *storeState) {
		seen := make(map[string]bool, len(st.recent)+len(st.thread))
		count := func(list []Message) {
			for _, m := range list {
				if seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				if m.To == self && !m.Read {
					n++
				}
			}
		}
		count(st.recent)
		count(st.thread)
	})
	return n
}

// Peers lists one summary per conversation partner, most recent first.
func (s *Store) Peers(self string) []PeerSummary {
	var out []PeerSummary
	s.read(func(st *storeState) {
		idx := make(map[string]int)
		for _, m := range st.recent {
			peer := m.Peer(self)
			if peer == "" || peer == self {
				continue
			}
			if i, ok := idx[peer]; ok {
				if m.CreatedAt.After(out[i].LastMessage.CreatedAt) {
					out[i].LastMessage = m
				}
				continue
			}
			idx[peer] = len(out)
			out = append(out, PeerSummary{Peer: peer, LastMessage: m})
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out
}

func (s *Store) EditDraft() (EditDraft, bool) {
	var (
		d  EditDraft
		ok bool
	)
	s.read(func(st *storeState) {
		if st.draft != nil {
			d, ok = *st.draft, true
		}
	})
	return d, ok
}

func (s *Store) Presence() *Presence { return s.presence }

// ── Posts ────────────────────────────────────────────────

func (st *storeState) postIndex(id string) int {
	for i := range st.posts {
		if st.posts[i].ID == id {
			return i
		}
	}
	return -1
}

// prependPost inserts p at the head unless a post with its id is present.
func (st *storeState) prependPost(p Post) bool {
	if p.ID != "" && st.postIndex(p.ID) >= 0 {
		return false
	}
	st.posts = append([]Post{p}, st.posts...)
	return true
}

// appendPage appends a fetched page, skipping ids already in the feed.
func (st *storeState) appendPage(posts []Post) {
	for _, p := range posts {
		if p.ID != "" && st.postIndex(p.ID) >= 0 {
			continue
		}
		st.posts = append(st.posts, p)
	}
}

func (st *storeState) removePost(id string) (Post, int, bool) {
	i := st.postIndex(id)
	if i < 0 {
		return Post{}, -1, false
	}
	p := st.posts[i]
	st.posts = append(st.posts[:i:i], st.posts[i+1:]...)
	return p, i, true
}

func (st *storeState) insertPost(i int, p Post) {
	if i < 0 || i > len(st.posts) {
		i = len(st.posts)
	}
	st.posts = append(st.posts[:i:i], append([]Post{p}, st.posts[i:]...)...)
}

// editing reports whether a save for postID is in flight.
func (st *storeState) editing(postID string) bool {
	return st.draft != nil && st.draft.PostID == postID && st.draft.Saving
}

// ── Notifications ────────────────────────────────────────

func (st *storeState) prependNotification(n Notification) {
	for _, cur := range st.notifications {
		if cur.ID == n.ID {
			return
		}
	}
	st.notifications = append([]Notification{n}, st.notifications...)
}

// replaceNotifications swaps in a fetched list, keeping local dismissal flags.
func (st *storeState) replaceNotifications(list []Notification) {
	dismissed := make(map[string]bool)
	for _, n := range st.notifications {
		if n.Dismissed {
			dismissed[n.ID] = true
		}
	}
	out := make([]Notification, len(list))
	for i, n := range list {
		n.Dismissed = dismissed[n.ID]
		out[i] = n
	}
	st.notifications = out
}

// ── Messages ─────────────────────────────────────────────

// sameMessage reports whether a and b represent one logical send: equal
// ids, equal coordinates, or a pending local copy and its server copy.
func (st *storeState) sameMessage(a, b Message) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if a.From != b.From || a.To != b.To || a.Text != b.Text {
		return false
	}
	if a.CreatedAt.Equal(b.CreatedAt) {
		return true
	}
	if a.IsTemporary() == b.IsTemporary() {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= st.dedupWindow
}

// upsertRecent removes any copy of m and puts m at the head. It reports
// whether an existing copy was replaced.
func (st *storeState) upsertRecent(m Message) bool {
	replaced := false
	out := st.recent[:0:0]
	for _, cur := range st.recent {
		if st.sameMessage(cur, m) {
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	st.recent = append([]Message{m}, out...)
	return replaced
}

// upsertThread removes any copy of m from the open thread and inserts m in order.
func (st *storeState) upsertThread(m Message) {
	out := st.thread[:0:0]
	for _, cur := range st.thread {
		if !st.sameMessage(cur, m) {
			out = append(out, cur)
		}
	}
	st.thread = append(out, m)
	sortThread(st.thread)
}

// dropMessages removes every message matching any of keys from both lists
// and returns how many recent entries were removed.
func (st *storeState) dropMessages(keys ...Message) int {
	match := func(m Message) bool {
		for _, k := range keys {
			if st.sameMessage(m, k) {
				return true
			}
		}
		return false
	}
	filter := func(list []Message) []Message {
		out := list[:0:0]
		for _, m := range list {
			if !match(m) {
				out = append(out, m)
			}
		}
		return out
	}
	before := len(st.recent)
	st.recent = filter(st.recent)
	st.thread = filter(st.thread)
	return before - len(st.recent)
}

func (st *storeState) removeMessageID(id string) {
	filter := func(list []Message) []Message {
		out := list[:0:0]
		for _, m := range list {
			if m.ID != id {
				out = append(out, m)
			}
		}
		return out
	}
	st.recent = filter(st.recent)
	st.thread = filter(st.thread)
}

// inOpenThread reports whether m belongs in the thread view: it involves the
// open peer, or no conversation is open.
func (st *storeState) inOpenThread(m Message) bool {
	return st.openPeer == "" || m.From == st.openPeer || m.To == st.openPeer
}

// markRead flags messages from peer to self as read.
func (st *storeState) markRead(self, peer string) {
	for i := range st.recent {
		if st.recent[i].From == peer && st.recent[i].To == self {
			st.recent[i].Read = true
		}
	}
	for i := range st.thread {
		if st.thread[i].From == peer && st.thread[i].To == self {
			st.thread[i].Read = true
		}
	}
}

// removeConversation drops every message between self and peer.
func (st *storeState) removeConversation(self, peer string) {
	between := func(m Message) bool {
		return (m.From == self && m.To == peer) || (m.From == peer && m.To == self)
	}
	filter := func(list []Message) []Message {
		out := list[:0:0]
		for _, m := range list {
			if !between(m) {
				out = append(out, m)
			}
		}
		return out
	}
	st.recent = filter(st.recent)
	st.thread = filter(st.thread)
	if st.openPeer == peer {
		st.openPeer = ""
		st.thread = nil
	}
}

func sortThread(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// ── Merge helpers ────────────────────────────────────────

// resolveUser maps a username to the user id carried by stored post and
// comment authors, so likes stay keyed by id. Ids and unknown names pass
// through unchanged.
func (st *storeState) resolveUser(s string) string {
	id := ""
	for _, p := range st.posts {
		for _, a := range postAuthors(p) {
			if a.ID == s {
				return s
			}
			if id == "" && a.ID != "" && a.Username == s {
				id = a.ID
			}
		}
	}
	if id != "" {
		return id
	}
	return s
}

func postAuthors(p Post) []Author {
	out := make([]Author, 0, len(p.Comments)+1)
	out = append(out, p.Author)
	for _, c := range p.Comments {
		out = append(out, c.Author)
	}
	return out
}

// addLike adds identity to likes unless already present.
func addLike(likes []string, identity string) []string {
	for _, l := range likes {
		if l == identity {
			return likes
		}
	}
	return append(likes, identity)
}

func removeLike(likes []string, identity string) []string {
	out := likes[:0:0]
	for _, l := range likes {
		if l != identity {
			out = append(out, l)
		}
	}
	return out
}

func hasComment(list []Comment, c Comment) bool {
	for _, cur := range list {
		if cur.ID != "" && cur.ID == c.ID {
			return true
		}
		if cur.Text == c.Text && sameAuthor(cur.Author, c.Author) {
			return true
		}
	}
	return false
}

func sameAuthor(a, b Author) bool {
	if a.ID != "" && (a.ID == b.ID || a.ID == b.Username) {
		return true
	}
	return a.Username != "" && (a.Username == b.Username || a.Username == b.ID)
}

// mergeConcurrent folds the likes and comments that arrived between pre
// and cur into base. skipLike and skipComment name the tentative entries of
// the mutation being settled so they are not resurrected.
func mergeConcurrent(base, pre, cur Post, skipLike, skipComment string) Post {
	out := base.Clone()
	for _, l := range cur.Likes {
		if l == skipLike || pre.LikedBy(l) {
			continue
		}
		out.Likes = addLike(out.Likes, l)
	}
	for _, c := range cur.Comments {
		if c.ID == skipComment || hasComment(pre.Comments, c) {
			continue
		}
		if !hasComment(out.Comments, c) {
			out.Comments = append(out.Comments, c)
		}
	}
	return out
}
