package messagecenter

import (
	"strings"
	"sync"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

// memo caches one derived value until the store version moves.
type memo[T any] struct {
	mu      sync.Mutex
	valid   bool
	version uint64
	val     T
}

func (m *memo[T]) get(version uint64, compute func() T) T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid && m.version == version {
		return m.val
	}
	m.val = compute()
	m.version = version
	m.valid = true
	return m.val
}

// views holds the memoized projections. The cached values never leave the
// package; callers get their own copies.
type views struct {
	messages      memo[[]model.Message]
	selected      memo[*model.Conversation]
	conversations memo[[]model.Conversation]
	unread        memo[model.UnreadCounts]
}

// Messages returns the selected conversation's messages, oldest first.
func (c *center) Messages() []model.Message {
	return cloneMessages(c.views.messages.get(c.store.Version(), func() []model.Message {
		id := c.store.SelectedID()
		if id == "" {
			return nil
		}
		return c.store.Messages(id)
	}))
}

func (c *center) SelectedConversation() *model.Conversation {
	conv := c.views.selected.get(c.store.Version(), func() *model.Conversation {
		id := c.store.SelectedID()
		if id == "" {
			return nil
		}
		found, ok := c.store.Conversation(id)
		if !ok {
			return nil
		}
		return &found
	})
	if conv == nil {
		return nil
	}
	out := conv.Clone()
	return &out
}

func (c *center) Conversations() []model.Conversation {
	convs := c.views.conversations.get(c.store.Version(), c.store.Conversations)
	if convs == nil {
		return nil
	}
	out := make([]model.Conversation, len(convs))
	for i, conv := range convs {
		out[i] = conv.Clone()
	}
	return out
}

func (c *center) UnreadCounts() model.UnreadCounts {
	u := c.views.unread.get(c.store.Version(), c.store.UnreadCounts)
	byType := make(map[model.ConversationType]int, len(u.ByType))
	for k, v := range u.ByType {
		byType[k] = v
	}
	return model.UnreadCounts{Total: u.Total, ByType: byType}
}

func cloneMessages(in []model.Message) []model.Message {
	if in == nil {
		return nil
	}
	out := make([]model.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// TypingUsers lists who else is typing in the selected conversation. Entries
// older than the typing expiry are left out. Not memoized since it depends
// on the clock.
func (c *center) TypingUsers() []model.TypingStatus {
	if !c.store.Settings().TypingIndicators {
		return nil
	}
	id := c.store.SelectedID()
	if id == "" {
		return nil
	}
	me := c.userID()
	var out []model.TypingStatus
	for _, ts := range c.store.Typing(id, c.cfg.TypingExpiry) {
		if ts.UserID != me {
			out = append(out, ts)
		}
	}
	return out
}

func (c *center) ConnectionState() model.ConnectionState {
	st, _ := c.store.ConnectionState()
	return st
}

func (c *center) ReconnectAttempts() int {
	_, n := c.store.ConnectionState()
	return n
}

func (c *center) IsLoading() bool {
	return c.store.IsLoading()
}

func (c *center) Subscribe(fn func()) func() {
	return c.store.Subscribe(fn)
}

// SearchMessages matches query case-insensitively against content and sender
// name. An empty conversationID searches every conversation, in list order.
func (c *center) SearchMessages(query, conversationID string) []model.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	match := func(m model.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), q) ||
			strings.Contains(strings.ToLower(m.SenderName), q)
	}

	var out []model.Message
	if conversationID != "" {
		for _, m := range c.store.Messages(conversationID) {
			if match(m) {
				out = append(out, m)
			}
		}
		return out
	}

	all := c.store.AllMessages()
	for _, conv := range c.store.Conversations() {
		for _, m := range all[conv.ID] {
			if match(m) {
				out = append(out, m)
			}
		}
	}
	return out
}

func (c *center) FilterConversations(filter model.ConversationFilter) []model.Conversation {
	var out []model.Conversation
	for _, conv := range c.store.Conversations() {
		if filter.Matches(conv) {
			out = append(out, conv)
		}
	}
	return out
}
