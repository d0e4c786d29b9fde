package messagecenter

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

func (c *center) CreateConversation(conv model.Conversation) (model.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Type == "" {
		conv.Type = model.ConversationPrivate
	}
	if conv.LastActivity.IsZero() {
		conv.LastActivity = c.now()
	}
	c.store.UpsertConversation(conv)
	if err := c.session.Send(protocol.ConversationCreate, protocol.ConversationPayload{Conversation: conv}); err != nil {
		c.store.RemoveConversation(conv.ID)
		c.log.Warn("create conversation failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		c.toast.Error("Failed to create conversation")
		return model.Conversation{}, err
	}
	c.toast.Success("Conversation created")
	return conv, nil
}

func (c *center) UpdateConversation(id string, patch model.ConversationPatch) error {
	return c.mutateConversation(id, patch, protocol.ConversationUpdate,
		protocol.ConversationPatchPayload{ConversationID: id, Patch: patch},
		"Conversation updated", "update conversation")
}

func (c *center) ArchiveConversation(id string) error {
	archived := true
	return c.mutateConversation(id, model.ConversationPatch{Archived: &archived}, protocol.ConversationArchive,
		protocol.RoomPayload{ConversationID: id},
		"Conversation archived", "archive conversation")
}

func (c *center) mutateConversation(id string, patch model.ConversationPatch, typ string, payload any, done, action string) error {
	snapshot, ok := c.store.Conversation(id)
	if !ok {
		c.toast.Error("Failed to " + action + ": conversation not found")
		return ErrConversationNotFound
	}
	c.store.UpdateConversation(id, patch)
	if err := c.session.Send(typ, payload); err != nil {
		c.store.UpsertConversation(snapshot)
		c.log.Warn("conversation mutation failed", zap.String("type", typ), zap.String("conversation_id", id), zap.Error(err))
		c.toast.Error("Failed to " + action)
		return err
	}
	c.toast.Success(done)
	return nil
}

// DeleteConversation removes the conversation with its messages. A failed
// emit puts both back.
func (c *center) DeleteConversation(id string) error {
	msgs := c.store.Messages(id)
	wasSelected := c.store.SelectedID() == id
	removed, ok := c.store.RemoveConversation(id)
	if !ok {
		c.toast.Error("Failed to delete conversation: conversation not found")
		return ErrConversationNotFound
	}
	if wasSelected {
		c.session.SetRoom("")
	}
	if err := c.session.Send(protocol.ConversationDelete, protocol.RoomPayload{ConversationID: id}); err != nil {
		c.store.UpsertConversation(removed)
		c.store.MergeMessages(id, msgs)
		if wasSelected {
			c.store.SetSelected(id)
			c.session.SetRoom(id)
		}
		c.log.Warn("delete conversation failed", zap.String("conversation_id", id), zap.Error(err))
		c.toast.Error("Failed to delete conversation")
		return err
	}
	c.histMu.Lock()
	delete(c.loaded, id)
	c.histMu.Unlock()
	c.toast.Success("Conversation deleted")
	return nil
}
