package messagecenter

import (
	"context"
	"net/url"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

func tempID() string {
	return model.TempIDPrefix + uuid.NewString()
}

// fileURL points an attachment at the local file until the upload pipeline
// replaces it.
func fileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// SendMessage appends an optimistic copy to the selected conversation and
// emits it. The copy keeps its temporary id until the server acknowledges.
func (c *center) SendMessage(ctx context.Context, draft model.MessageDraft) (model.Message, error) {
	conv := c.store.SelectedID()
	if conv == "" {
		return model.Message{}, ErrNoConversation
	}
	u := c.store.User()

	typ := draft.Type
	if typ == "" {
		typ = model.MessageText
		if len(draft.Attachments) > 0 {
			typ = model.MessageFile
		}
	}
	var atts []model.Attachment
	for _, f := range draft.Attachments {
		atts = append(atts, model.Attachment{
			ID:       uuid.NewString(),
			Name:     f.Name,
			URL:      fileURL(f.Path),
			Size:     f.Size,
			MimeType: f.MimeType,
		})
	}

	id := tempID()
	m := model.Message{
		ID:             id,
		ClientID:       id,
		ConversationID: conv,
		SenderID:       u.ID,
		SenderName:     u.Name,
		SenderAvatar:   u.Avatar,
		Content:        draft.Content,
		Type:           typ,
		Timestamp:      c.now(),
		Status:         model.StatusSending,
		IsOwn:          true,
		ReplyTo:        draft.ReplyTo,
		Attachments:    atts,
		Mentions:       draft.Mentions,
	}
	c.store.AddMessage(m)
	c.store.ClearDraft(ctx, conv)
	if c.typing.Typing(conv) {
		c.typing.Set(conv, false)
	}
	c.pending.Track(id, conv)

	err := c.session.Send(protocol.MessageSend, protocol.SendMessagePayload{
		ClientID:       id,
		ConversationID: conv,
		Content:        m.Content,
		Type:           typ,
		ReplyTo:        m.ReplyTo,
		Attachments:    atts,
		Mentions:       m.Mentions,
	})
	if err != nil {
		c.pending.Resolve(id)
		c.store.UpdateMessage(conv, id, func(stored *model.Message) {
			stored.Status = model.StatusFailed
		})
		m.Status = model.StatusFailed
		c.log.Warn("send message failed", zap.String("conversation_id", conv), zap.Error(err))
		c.toast.Error("Failed to send message")
		return m, err
	}
	return m, nil
}

// mutateMessage applies fn locally, emits, and restores the snapshot when the
// emit fails.
func (c *center) mutateMessage(conversationID, messageID string, fn func(*model.Message), typ string, payload any, done, action string) error {
	snapshot, ok := c.store.Message(conversationID, messageID)
	if !ok {
		c.toast.Error("Failed to " + action + ": message not found")
		return ErrMessageNotFound
	}
	c.store.UpdateMessage(conversationID, messageID, fn)
	if err := c.session.Send(typ, payload); err != nil {
		c.store.ReplaceMessage(conversationID, messageID, snapshot)
		c.log.Warn("message mutation failed", zap.String("type", typ), zap.String("message_id", messageID), zap.Error(err))
		c.toast.Error("Failed to " + action)
		return err
	}
	if done != "" {
		c.toast.Success(done)
	}
	return nil
}

func (c *center) EditMessage(conversationID, messageID, content string) error {
	now := c.now()
	return c.mutateMessage(conversationID, messageID, func(m *model.Message) {
		m.Content = content
		m.Edited = true
		m.EditedAt = &now
	}, protocol.MessageEdit, protocol.EditPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
	}, "Message edited", "edit message")
}

func (c *center) PinMessage(conversationID, messageID string, pinned bool) error {
	done := "Message pinned"
	if !pinned {
		done = "Message unpinned"
	}
	return c.mutateMessage(conversationID, messageID, func(m *model.Message) {
		m.Pinned = pinned
	}, protocol.MessagePin, protocol.PinPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Pinned:         pinned,
	}, done, "pin message")
}

// AddReaction toggles the user's reaction; a second call with the same emoji
// removes it.
func (c *center) AddReaction(conversationID, messageID, emoji string) error {
	me := c.userID()
	return c.mutateMessage(conversationID, messageID, func(m *model.Message) {
		m.ToggleReaction(emoji, me)
	}, protocol.MessageReact, protocol.ReactPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Emoji:          emoji,
	}, "", "react to message")
}

func (c *center) DeleteMessage(conversationID, messageID string) error {
	removed, idx, ok := c.store.RemoveMessage(conversationID, messageID)
	if !ok {
		c.toast.Error("Failed to delete message: message not found")
		return ErrMessageNotFound
	}
	if removed.IsTemporary() {
		c.pending.Resolve(removed.ID)
	}
	err := c.session.Send(protocol.MessageDelete, protocol.MessageRefPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err != nil {
		c.store.InsertMessage(removed, idx)
		c.log.Warn("delete message failed", zap.String("message_id", messageID), zap.Error(err))
		c.toast.Error("Failed to delete message")
		return err
	}
	c.toast.Success("Message deleted")
	return nil
}

// ForwardMessage copies a message into each target conversation. The copies
// are pending until the server acknowledges them one by one.
func (c *center) ForwardMessage(conversationID, messageID string, targetIDs []string) error {
	src, ok := c.store.Message(conversationID, messageID)
	if !ok {
		c.toast.Error("Failed to forward message: message not found")
		return ErrMessageNotFound
	}
	if len(targetIDs) == 0 {
		return nil
	}
	u := c.store.User()
	now := c.now()
	clientIDs := make([]string, 0, len(targetIDs))
	for _, target := range targetIDs {
		id := tempID()
		cp := src.Clone()
		cp.ID = id
		cp.ClientID = id
		cp.ConversationID = target
		cp.SenderID = u.ID
		cp.SenderName = u.Name
		cp.SenderAvatar = u.Avatar
		cp.Timestamp = now
		cp.Status = model.StatusSending
		cp.IsOwn = true
		cp.Reactions = nil
		cp.Pinned = false
		cp.Edited = false
		cp.EditedAt = nil
		c.store.AddMessage(cp)
		c.pending.Track(id, target)
		clientIDs = append(clientIDs, id)
	}

	err := c.session.Send(protocol.MessageForward, protocol.ForwardPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		TargetIDs:      targetIDs,
		ClientIDs:      clientIDs,
	})
	if err != nil {
		for i, id := range clientIDs {
			c.pending.Resolve(id)
			c.store.RemoveMessage(targetIDs[i], id)
		}
		c.log.Warn("forward message failed", zap.String("message_id", messageID), zap.Error(err))
		c.toast.Error("Failed to forward message")
		return err
	}
	c.toast.Success("Message forwarded")
	return nil
}
