package protocol

import (
	"time"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

// WireMessage is a message as the server sends it. Field names follow the
// server, not the client model; the router normalizes it.
type WireMessage struct {
	ID             string             `json:"id"`
	ClientID       string             `json:"clientId,omitempty"`
	ConversationID string             `json:"conversationId"`
	SenderID       string             `json:"senderId"`
	SenderName     string             `json:"senderName"`
	SenderImage    string             `json:"senderImage,omitempty"`
	Content        string             `json:"content"`
	MessageType    string             `json:"messageType"`
	CreatedAt      time.Time          `json:"createdAt"`
	Status         string             `json:"status,omitempty"`
	ReplyTo        *model.ReplyRef    `json:"replyTo,omitempty"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	Mentions       []string           `json:"mentions,omitempty"`
	Reactions      []WireReaction     `json:"reactions,omitempty"`
	Edited         bool               `json:"edited,omitempty"`
	EditedAt       *time.Time         `json:"editedAt,omitempty"`
	Pinned         bool               `json:"pinned,omitempty"`
}

type WireReaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

type SendMessagePayload struct {
	ClientID       string             `json:"clientId"`
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Type           model.MessageType  `json:"type"`
	ReplyTo        *model.ReplyRef    `json:"replyTo,omitempty"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	Mentions       []string           `json:"mentions,omitempty"`
}

type MessageRefPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type EditPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
}

type PinPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Pinned         bool   `json:"pinned"`
}

type ReactPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

type ForwardPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId"`
	TargetIDs      []string `json:"targetIds"`
	ClientIDs      []string `json:"clientIds"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserName       string `json:"userName,omitempty"`
}

type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

type StatusPayload struct {
	Status model.Presence `json:"status"`
}

type ProjectPayload struct {
	ProjectID string `json:"projectId"`
}

type ProjectNotificationPayload struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ConversationPayload struct {
	Conversation model.Conversation `json:"conversation"`
}

type ConversationPatchPayload struct {
	ConversationID string                  `json:"conversationId"`
	Patch          model.ConversationPatch `json:"patch"`
}
