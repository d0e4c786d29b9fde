// Package router applies inbound realtime events to the client store.
package router

import (
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/notify"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
	"github.com/ageniuscoder/mmchat/realtime/internal/store"
)

// Notifier is the notification gate as seen by the router.
type Notifier interface {
	Notify(m model.Message) bool
}

type Router struct {
	store   *store.Store
	gate    Notifier
	toast   notify.Toaster
	pending *Pending
	log     *zap.Logger
	now     func() time.Time
}

func New(st *store.Store, gate Notifier, toast notify.Toaster, pending *Pending, log *zap.Logger) *Router {
	if pending == nil {
		pending = NewPending()
	}
	return &Router{
		store:   st,
		gate:    gate,
		toast:   toast,
		pending: pending,
		log:     logging.OrNop(log).Named("router"),
		now:     time.Now,
	}
}

// Handle dispatches one event. It is called in arrival order from the
// transport's read goroutine.
func (r *Router) Handle(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.MessageNewEvent:
		r.messageNew(e)
	case protocol.MessageSentEvent:
		r.messageSent(e)
	case protocol.MessageReadEvent:
		r.messageRead(e)
	case protocol.MessageUpdatedEvent:
		r.messageUpdated(e)
	case protocol.MessageDeletedEvent:
		r.store.RemoveMessage(e.ConversationID, e.MessageID)
	case protocol.ConversationJoinedEvent:
		r.log.Debug("joined conversation", zap.String("conversation_id", e.ConversationID))
	case protocol.ConversationUpdateEvent:
		r.conversationUpdate(e)
	case protocol.TypingEvent:
		r.typing(e)
	case protocol.UserStatusEvent:
		r.store.SetUserStatus(model.UserStatus{UserID: e.UserID, Status: e.Status, LastSeen: e.LastSeen})
	case protocol.ProjectNotificationEvent:
		if r.toast != nil {
			r.toast.Info(e.Title, e.Message)
		}
	case protocol.ErrorEvent:
		r.log.Warn("server error", zap.String("code", e.Code), zap.String("message", e.Message))
		if r.toast != nil {
			r.toast.Error(e.Message)
		}
	case protocol.PongEvent:
	default:
		r.log.Warn("unhandled event", zap.String("type", ev.EventType()))
	}
}

func (r *Router) messageNew(e protocol.MessageNewEvent) {
	me := r.store.UserID()
	m := Normalize(e.Message, me, r.now())

	// Our own send echoed back before its ack: reconcile instead of appending.
	if m.IsOwn && m.ClientID != "" {
		if _, ok := r.store.Message(m.ConversationID, m.ClientID); ok {
			r.ack(m.ClientID, m)
			return
		}
	}

	_, dup := r.store.Message(m.ConversationID, m.ID)
	r.store.AddMessage(m)
	if dup || m.IsOwn || r.gate == nil {
		return
	}
	if m.ConversationID != r.store.SelectedID() {
		r.gate.Notify(m)
	}
}

func (r *Router) messageSent(e protocol.MessageSentEvent) {
	m := Normalize(e.Message, r.store.UserID(), r.now())
	m.IsOwn = true
	if m.ClientID == "" {
		m.ClientID = e.ClientID
	}
	r.ack(e.ClientID, m)
}

// ack swaps the temporary message for the server copy and marks it sent.
func (r *Router) ack(clientID string, m model.Message) {
	conv, tracked := r.pending.Resolve(clientID)
	if m.ConversationID == "" {
		m.ConversationID = conv
	}
	if m.ID == "" {
		m.ID = clientID
	}
	m.Status = model.StatusSent

	if local, ok := r.store.Message(m.ConversationID, clientID); ok {
		if len(m.Attachments) == 0 {
			m.Attachments = local.Attachments
		}
		if m.ReplyTo == nil {
			m.ReplyTo = local.ReplyTo
		}
		if _, exists := r.store.Message(m.ConversationID, m.ID); exists && m.ID != clientID {
			r.store.RemoveMessage(m.ConversationID, clientID)
			r.store.ReplaceMessage(m.ConversationID, m.ID, m)
			return
		}
		r.store.ReplaceMessage(m.ConversationID, clientID, m)
		return
	}
	if !r.store.UpdateMessage(m.ConversationID, m.ID, func(stored *model.Message) {
		stored.Status = model.StatusSent
	}) {
		r.log.Debug("ack for unknown message", zap.String("client_id", clientID), zap.Bool("tracked", tracked))
	}
}

func (r *Router) messageRead(e protocol.MessageReadEvent) {
	if e.UserID != "" && e.UserID == r.store.UserID() {
		return
	}
	r.store.UpdateMessage(e.ConversationID, e.MessageID, func(m *model.Message) {
		m.Status = model.StatusRead
	})
}

func (r *Router) messageUpdated(e protocol.MessageUpdatedEvent) {
	patch := e.Patch
	patch.Reactions = fixReacted(patch.Reactions, r.store.UserID())
	if !r.store.UpdateMessage(e.ConversationID, e.MessageID, patch.Apply) {
		r.log.Debug("update for unknown message",
			zap.String("conversation_id", e.ConversationID), zap.String("message_id", e.MessageID))
	}
}

func (r *Router) conversationUpdate(e protocol.ConversationUpdateEvent) {
	id := e.ConversationID
	if id == "" && e.Conversation != nil {
		id = e.Conversation.ID
	}
	if e.Deleted {
		r.store.RemoveConversation(id)
		return
	}
	existing, known := r.store.Conversation(id)
	if e.Conversation != nil {
		c := e.Conversation.Clone()
		c.ID = id
		if known {
			c.UnreadCount = existing.UnreadCount
		}
		r.store.UpsertConversation(c)
		known = true
	}
	if !known {
		r.log.Debug("patch for unknown conversation", zap.String("conversation_id", id))
		return
	}
	r.store.UpdateConversation(id, e.Patch)
}

func (r *Router) typing(e protocol.TypingEvent) {
	if e.UserID == r.store.UserID() {
		return
	}
	r.store.SetTyping(model.TypingStatus{
		ConversationID: e.ConversationID,
		UserID:         e.UserID,
		UserName:       e.UserName,
		IsTyping:       e.IsTyping,
	})
}
