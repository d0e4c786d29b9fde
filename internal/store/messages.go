package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	out := make([]model.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

// AllMessages returns every loaded message keyed by conversation id.
func (s *Store) AllMessages() map[string][]model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]model.Message, len(s.messages))
	for id, list := range s.messages {
		cp := make([]model.Message, len(list))
		for i, m := range list {
			cp[i] = m.Clone()
		}
		out[id] = cp
	}
	return out
}

func (s *Store) Message(conversationID, messageID string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.messageIndex(conversationID, messageID); i >= 0 {
		return s.messages[conversationID][i].Clone(), true
	}
	return model.Message{}, false
}

func (s *Store) messageIndex(conversationID, messageID string) int {
	for i, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// AddMessage appends m to its conversation. A conversation seen for the
// first time is created. When the conversation is not selected and the
// message is not our own, its unread counter goes up by one. A message whose
// id is already present replaces the stored copy and leaves counters alone.
func (s *Store) AddMessage(m model.Message) {
	s.mutate(func() bool {
		convID := m.ConversationID
		if i := s.messageIndex(convID, m.ID); i >= 0 {
			s.messages[convID][i] = m.Clone()
			return true
		}
		s.messages[convID] = append(s.messages[convID], m.Clone())

		ci := s.conversationIndex(convID)
		if ci < 0 {
			s.conversations = append([]model.Conversation{{
				ID:   convID,
				Type: model.ConversationPrivate,
				Name: m.SenderName,
			}}, s.conversations...)
			ci = 0
		}
		c := &s.conversations[ci]
		if m.Timestamp.After(c.LastActivity) {
			c.LastActivity = m.Timestamp
		}
		if convID != s.selected && !m.IsOwn {
			c.UnreadCount++
		}
		return true
	})
}

// MergeMessages folds a page of history into the conversation, keeping one
// copy per id and ordering by timestamp. Locally pending messages survive.
func (s *Store) MergeMessages(conversationID string, page []model.Message) {
	s.mutate(func() bool {
		existing := s.messages[conversationID]
		seen := make(map[string]int, len(existing)+len(page))
		merged := make([]model.Message, 0, len(existing)+len(page))
		for _, m := range existing {
			seen[m.ID] = len(merged)
			merged = append(merged, m)
		}
		for _, m := range page {
			if i, ok := seen[m.ID]; ok {
				merged[i] = m.Clone()
				continue
			}
			seen[m.ID] = len(merged)
			merged = append(merged, m.Clone())
		}
		sortByTimestamp(merged)
		s.messages[conversationID] = merged
		return true
	})
}

// UpdateMessage applies fn to the stored message. It reports whether the
// message was found.
func (s *Store) UpdateMessage(conversationID, messageID string, fn func(*model.Message)) bool {
	return s.mutate(func() bool {
		i := s.messageIndex(conversationID, messageID)
		if i < 0 {
			return false
		}
		fn(&s.messages[conversationID][i])
		return true
	})
}

// ReplaceMessage swaps the stored message with id oldID for m, keeping its
// position. Used to restore a snapshot and to turn a temporary id into the
// server id.
func (s *Store) ReplaceMessage(conversationID, oldID string, m model.Message) bool {
	return s.mutate(func() bool {
		i := s.messageIndex(conversationID, oldID)
		if i < 0 {
			return false
		}
		s.messages[conversationID][i] = m.Clone()
		return true
	})
}

// RemoveMessage deletes a message and returns it with its former position.
func (s *Store) RemoveMessage(conversationID, messageID string) (model.Message, int, bool) {
	var removed model.Message
	idx := -1
	s.mutate(func() bool {
		i := s.messageIndex(conversationID, messageID)
		if i < 0 {
			return false
		}
		list := s.messages[conversationID]
		removed = list[i]
		idx = i
		s.messages[conversationID] = append(list[:i], list[i+1:]...)
		return true
	})
	return removed, idx, idx >= 0
}

// InsertMessage puts m back at position idx, clamped to the list bounds.
func (s *Store) InsertMessage(m model.Message, idx int) {
	s.mutate(func() bool {
		list := s.messages[m.ConversationID]
		if idx < 0 || idx > len(list) {
			idx = len(list)
		}
		list = append(list, model.Message{})
		copy(list[idx+1:], list[idx:])
		list[idx] = m.Clone()
		s.messages[m.ConversationID] = list
		return true
	})
}

// SetTyping upserts or clears a typing entry for (conversation, user).
func (s *Store) SetTyping(ts model.TypingStatus) {
	s.mutate(func() bool {
		byUser := s.typing[ts.ConversationID]
		if !ts.IsTyping {
			if _, ok := byUser[ts.UserID]; !ok {
				return false
			}
			delete(byUser, ts.UserID)
			return true
		}
		if byUser == nil {
			byUser = make(map[string]model.TypingStatus)
			s.typing[ts.ConversationID] = byUser
		}
		if ts.UpdatedAt.IsZero() {
			ts.UpdatedAt = s.now()
		}
		byUser[ts.UserID] = ts
		return true
	})
}

// Typing lists the entries for a conversation that are younger than expiry.
func (s *Store) Typing(conversationID string, expiry time.Duration) []model.TypingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []model.TypingStatus
	for _, ts := range s.typing[conversationID] {
		if expiry > 0 && now.Sub(ts.UpdatedAt) >= expiry {
			continue
		}
		out = append(out, ts)
	}
	return out
}

// PruneTyping drops entries older than expiry across all conversations.
func (s *Store) PruneTyping(expiry time.Duration) {
	s.mutate(func() bool {
		now := s.now()
		changed := false
		for _, byUser := range s.typing {
			for id, ts := range byUser {
				if now.Sub(ts.UpdatedAt) >= expiry {
					delete(byUser, id)
					changed = true
				}
			}
		}
		return changed
	})
}

func (s *Store) SetUserStatus(st model.UserStatus) {
	s.mutate(func() bool {
		prev := s.statuses[st.UserID]
		if st.LastSeen.IsZero() {
			st.LastSeen = prev.LastSeen
		}
		if st.Status == "" {
			st.Status = prev.Status
		}
		s.statuses[st.UserID] = st
		return true
	})
}

func (s *Store) UserStatus(userID string) (model.UserStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[userID]
	return st, ok
}

// LoadDrafts reads persisted drafts into memory.
func (s *Store) LoadDrafts(ctx context.Context) error {
	if s.drafts == nil {
		return nil
	}
	list, err := s.drafts.ListDrafts(ctx)
	if err != nil {
		return err
	}
	s.mutate(func() bool {
		for _, d := range list {
			s.draftText[d.ConversationID] = d
		}
		return len(list) > 0
	})
	return nil
}

// SaveDraft stores the draft in memory and, best effort, in the repository.
func (s *Store) SaveDraft(ctx context.Context, conversationID, content string) {
	d := model.Draft{ConversationID: conversationID, Content: content, UpdatedAt: s.now()}
	s.mutate(func() bool {
		s.draftText[conversationID] = d
		return true
	})
	if s.drafts != nil {
		if err := s.drafts.SaveDraft(ctx, d); err != nil {
			s.log.Warn("persist draft failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
}

func (s *Store) Draft(conversationID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draftText[conversationID].Content
}

func (s *Store) ClearDraft(ctx context.Context, conversationID string) {
	s.mutate(func() bool {
		if _, ok := s.draftText[conversationID]; !ok {
			return false
		}
		delete(s.draftText, conversationID)
		return true
	})
	if s.drafts != nil {
		if err := s.drafts.DeleteDraft(ctx, conversationID); err != nil {
			s.log.Warn("delete draft failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
}
