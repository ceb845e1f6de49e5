package vibesync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payloads from the push channel and the API name the same field in several
// ways (from, fromUsername, fromUser.username, ...). Everything in this file
// turns such a payload into the canonical types; nothing downstream looks at
// raw shapes. None of these functions fail: a malformed payload yields a
// best-effort record with empty strings.

type normalizer struct {
	now func() time.Time
}

var defaultNormalizer = normalizer{now: time.Now}

// NormalizeMessage converts an arbitrary message payload into a Message.
func NormalizeMessage(raw any) Message { return defaultNormalizer.message(raw) }

// NormalizeMessageJSON decodes data and normalizes it. Undecodable input is
// treated as message text.
func NormalizeMessageJSON(data []byte) Message {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		raw = string(data)
	}
	return defaultNormalizer.message(raw)
}

// NormalizeNotification converts an arbitrary notification payload.
func NormalizeNotification(raw any) Notification { return defaultNormalizer.notification(raw) }

// NormalizePost converts an arbitrary post payload.
func NormalizePost(raw any) Post { return defaultNormalizer.post(raw) }

// NormalizePresence converts an online-users snapshot into a list of identities.
func NormalizePresence(raw any) []string { return normalizePresence(raw) }

// NormalizeUser converts an arbitrary user payload.
func NormalizeUser(raw any) User { return normalizeUser(raw) }

func (n normalizer) message(raw any) Message {
	m, ok := raw.(map[string]any)
	if !ok {
		text := ""
		if raw != nil {
			text = fmt.Sprint(raw)
		}
		created := n.now().UTC()
		return Message{
			ID:            synthesizeID("msg", "", "", created),
			Text:          text,
			CreatedAt:     created,
			DeliveryState: DeliveryConfirmed,
		}
	}

	from := strings.TrimSpace(firstString(m,
		"fromUsername", "from", "fromUser.username", "fromUser.name", "from_user.username", "from_user.name"))
	to := strings.TrimSpace(firstString(m,
		"toUsername", "to", "toUser.username", "toUser.name", "to_user.username", "to_user.name"))
	text := firstString(m, "text", "message", "body", "msg")

	created, ok := firstTime(m, "createdAt", "created_at", "created", "timestamp", "time")
	if !ok {
		created = n.now().UTC()
	}

	id := firstString(m, "_id", "id", "msgId", "messageId")
	if id == "" {
		id = synthesizeID("", from, to, created)
	}

	state := DeliveryState(firstString(m, "deliveryState"))
	switch state {
	case DeliveryPending, DeliveryConfirmed, DeliveryFailed:
	default:
		state = DeliveryConfirmed
		if strings.HasPrefix(id, tempIDPrefix) {
			state = DeliveryPending
		}
	}

	return Message{
		ID:            id,
		From:          from,
		To:            to,
		Text:          text,
		CreatedAt:     created,
		Read:          firstBool(m, "read", "isRead"),
		DeliveryState: state,
	}
}

func (n normalizer) notification(raw any) Notification {
	m, _ := raw.(map[string]any)
	from := firstString(m, "fromUsername", "from", "fromUser.username", "sender")
	created, ok := firstTime(m, "createdAt", "created_at", "timestamp")
	if !ok {
		created = n.now().UTC()
	}
	id := firstString(m, "_id", "id")
	if id == "" {
		id = synthesizeID("n", from, "", created)
	}
	return Notification{
		ID:        id,
		Type:      firstString(m, "type", "kind"),
		From:      from,
		PostID:    firstString(m, "postId", "post._id", "post.id", "post"),
		Message:   firstString(m, "message", "text", "msg"),
		CreatedAt: created,
	}
}

func (n normalizer) post(raw any) Post {
	m, _ := raw.(map[string]any)
	created, ok := firstTime(m, "createdAt", "created_at")
	if !ok {
		created = n.now().UTC()
	}
	p := Post{
		ID:        firstString(m, "_id", "id"),
		Author:    normalizeAuthor(firstValue(m, "user", "author", "postedBy")),
		Text:      firstString(m, "text", "content"),
		Image:     firstString(m, "image", "imageUrl", "image_url"),
		Edited:    firstBool(m, "edited", "isEdited"),
		CreatedAt: created,
	}

	if likes, ok := firstValue(m, "likes").([]any); ok {
		for _, l := range likes {
			if id := identityOf(l); id != "" && !p.LikedBy(id) {
				p.Likes = append(p.Likes, id)
			}
		}
	}
	if comments, ok := firstValue(m, "comments").([]any); ok {
		for _, c := range comments {
			p.Comments = append(p.Comments, normalizeComment(c))
		}
	}
	return p
}

func normalizeComment(raw any) Comment {
	m, _ := raw.(map[string]any)
	author := normalizeAuthor(firstValue(m, "user", "author"))
	id := firstString(m, "_id", "id")
	if id == "" {
		id = "c-" + randomSuffix()
	}
	return Comment{ID: id, Author: author, Text: firstString(m, "text")}
}

func normalizeAuthor(raw any) Author {
	switch v := raw.(type) {
	case map[string]any:
		return Author{
			ID:       firstString(v, "_id", "id"),
			Username: firstString(v, "username", "name"),
			Avatar:   firstString(v, "avatar"),
		}
	case string:
		return Author{ID: v}
	}
	return Author{}
}

func normalizeUser(raw any) User {
	m, _ := raw.(map[string]any)
	if inner, ok := m["user"].(map[string]any); ok && firstString(m, "_id", "id") == "" {
		m = inner
	}
	u := User{
		ID:       firstString(m, "_id", "id"),
		Username: firstString(m, "username", "name"),
		Email:    firstString(m, "email"),
		Avatar:   firstString(m, "avatar"),
		Bio:      firstString(m, "bio"),
	}
	if list, ok := m["followers"].([]any); ok {
		for _, f := range list {
			if id := identityOf(f); id != "" {
				u.Followers = append(u.Followers, id)
			}
		}
	}
	if list, ok := m["following"].([]any); ok {
		for _, f := range list {
			if id := identityOf(f); id != "" {
				u.Following = append(u.Following, id)
			}
		}
	}
	return u
}

func normalizePresence(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return []string{}
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		var id string
		switch v := item.(type) {
		case map[string]any:
			id = firstString(v, "username", "userId", "id", "_id")
		default:
			id = identityOf(v)
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ============================================================================
// Helpers
// ============================================================================

// lookup resolves a dotted path ("fromUser.username") inside m.
func lookup(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func firstValue(m map[string]any, paths ...string) any {
	for _, p := range paths {
		if v, ok := lookup(m, p); ok {
			return v
		}
	}
	return nil
}

// firstString returns the first non-empty scalar found at paths.
func firstString(m map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func firstBool(m map[string]any, paths ...string) bool {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			b, err := strconv.ParseBool(t)
			if err == nil {
				return b
			}
		case float64:
			return t != 0
		}
	}
	return false
}

func firstTime(m map[string]any, paths ...string) (time.Time, bool) {
	for _, p := range paths {
		v, ok := lookup(m, p)
		if !ok {
			continue
		}
		if t, ok := parseTime(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseTime accepts RFC 3339 strings and unix timestamps in seconds or milliseconds.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC(), true
		}
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return fromUnix(n), true
		}
	case float64:
		return fromUnix(t), true
	case json.Number:
		if n, err := t.Float64(); err == nil {
			return fromUnix(n), true
		}
	}
	return time.Time{}, false
}

func fromUnix(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

// identityOf extracts a user identity from a bare id or a user object.
func identityOf(v any) string {
	if m, ok := v.(map[string]any); ok {
		return firstString(m, "_id", "id", "username")
	}
	return scalarString(v)
}

// synthesizeID builds an id from the message coordinates plus a random
// disambiguator so that distinct payloads never collide.
func synthesizeID(prefix, from, to string, at time.Time) string {
	id := fmt.Sprintf("%s-%s-%d-%s", from, to, at.UnixMilli(), randomSuffix())
	if prefix != "" {
		id = prefix + "-" + id
	}
	return id
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}
