package router

import (
	"time"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

// Normalize maps a server message onto the client model. IsOwn and the
// per-reaction Reacted flag are computed against currentUserID.
func Normalize(w protocol.WireMessage, currentUserID string, now time.Time) model.Message {
	m := model.Message{
		ID:             w.ID,
		ClientID:       w.ClientID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		SenderName:     w.SenderName,
		SenderAvatar:   w.SenderImage,
		Content:        w.Content,
		Type:           messageType(w.MessageType),
		Timestamp:      w.CreatedAt,
		Status:         messageStatus(w.Status),
		IsOwn:          currentUserID != "" && w.SenderID == currentUserID,
		ReplyTo:        w.ReplyTo,
		Attachments:    w.Attachments,
		Mentions:       w.Mentions,
		Edited:         w.Edited,
		EditedAt:       w.EditedAt,
		Pinned:         w.Pinned,
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	for _, r := range w.Reactions {
		if len(r.Users) == 0 {
			continue
		}
		m.Reactions = append(m.Reactions, model.Reaction{
			Emoji:   r.Emoji,
			Count:   len(r.Users),
			Users:   append([]string(nil), r.Users...),
			Reacted: contains(r.Users, currentUserID),
		})
	}
	return m.Clone()
}

// fixReacted recomputes Reacted for reactions delivered in a patch.
func fixReacted(in []model.Reaction, currentUserID string) []model.Reaction {
	if in == nil {
		return nil
	}
	out := make([]model.Reaction, 0, len(in))
	for _, r := range in {
		if r.Count == 0 {
			r.Count = len(r.Users)
		}
		if r.Count <= 0 {
			continue
		}
		r.Users = append([]string(nil), r.Users...)
		r.Reacted = contains(r.Users, currentUserID)
		out = append(out, r)
	}
	return out
}

func messageType(s string) model.MessageType {
	switch t := model.MessageType(s); t {
	case model.MessageText, model.MessageImage, model.MessageFile, model.MessageVoice, model.MessageSystem:
		return t
	default:
		return model.MessageText
	}
}

func messageStatus(s string) model.MessageStatus {
	switch st := model.MessageStatus(s); st {
	case model.StatusSending, model.StatusSent, model.StatusDelivered, model.StatusRead, model.StatusFailed:
		return st
	default:
		return model.StatusSent
	}
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
