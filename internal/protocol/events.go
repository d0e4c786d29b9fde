package protocol

import (
	"fmt"
	"time"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

// Event is a decoded inbound frame. The set of implementations is closed;
// consumers switch over the concrete types.
type Event interface {
	EventType() string
}

type MessageNewEvent struct {
	Message WireMessage
}

type MessageSentEvent struct {
	ClientID string      `json:"clientId"`
	Message  WireMessage `json:"message"`
}

type MessageReadEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

type MessageUpdatedEvent struct {
	ConversationID string             `json:"conversationId"`
	MessageID      string             `json:"messageId"`
	Patch          model.MessagePatch `json:"patch"`
}

type MessageDeletedEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type ConversationJoinedEvent struct {
	ConversationID string `json:"conversationId"`
}

// ConversationUpdateEvent carries either a full conversation (create), a
// patch, or a deletion marker.
type ConversationUpdateEvent struct {
	ConversationID string                  `json:"conversationId"`
	Conversation   *model.Conversation     `json:"conversation,omitempty"`
	Patch          model.ConversationPatch `json:"patch"`
	Deleted        bool                    `json:"deleted,omitempty"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"-"`
}

type UserStatusEvent struct {
	UserID   string         `json:"userId"`
	Status   model.Presence `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

type ProjectNotificationEvent struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
}

type PongEvent struct {
	Timestamp int64 `json:"timestamp"`
}

type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (MessageNewEvent) EventType() string          { return MessageNew }
func (MessageSentEvent) EventType() string         { return MessageSent }
func (MessageReadEvent) EventType() string         { return MessageRead }
func (MessageUpdatedEvent) EventType() string      { return MessageUpdated }
func (MessageDeletedEvent) EventType() string      { return MessageDeleted }
func (ConversationJoinedEvent) EventType() string  { return ConversationJoined }
func (ConversationUpdateEvent) EventType() string  { return ConversationUpdate }
func (UserStatusEvent) EventType() string          { return UserStatus }
func (ProjectNotificationEvent) EventType() string { return ProjectNotification }
func (PongEvent) EventType() string                { return Pong }
func (ErrorEvent) EventType() string               { return Error }

func (e TypingEvent) EventType() string {
	if e.IsTyping {
		return TypingStart
	}
	return TypingStop
}

// Decode turns an inbound frame into its typed event.
func Decode(env Envelope) (Event, error) {
	switch env.Type {
	case MessageNew:
		var m WireMessage
		if err := env.Bind(&m); err != nil {
			return nil, err
		}
		return MessageNewEvent{Message: m}, nil
	case MessageSent:
		return bindEvent[MessageSentEvent](env)
	case MessageRead:
		return bindEvent[MessageReadEvent](env)
	case MessageUpdated:
		return bindEvent[MessageUpdatedEvent](env)
	case MessageDeleted:
		return bindEvent[MessageDeletedEvent](env)
	case ConversationJoined:
		return bindEvent[ConversationJoinedEvent](env)
	case ConversationUpdate:
		return bindEvent[ConversationUpdateEvent](env)
	case TypingStart, TypingStop:
		var t TypingEvent
		if err := env.Bind(&t); err != nil {
			return nil, err
		}
		t.IsTyping = env.Type == TypingStart
		return t, nil
	case UserStatus:
		return bindEvent[UserStatusEvent](env)
	case ProjectNotification:
		return bindEvent[ProjectNotificationEvent](env)
	case Pong:
		return bindEvent[PongEvent](env)
	case Error:
		return bindEvent[ErrorEvent](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func bindEvent[T Event](env Envelope) (Event, error) {
	var ev T
	if err := env.Bind(&ev); err != nil {
		return nil, err
	}
	return ev, nil
}
