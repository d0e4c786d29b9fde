package relay

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
	"github.com/ageniuscoder/mmchat/realtime/internal/storage"
	"github.com/ageniuscoder/mmchat/realtime/internal/utils"
)

// frameError is reported back to the client as an error event.
type frameError struct {
	code string
	msg  string
}

func (e frameError) Error() string { return e.code + ": " + e.msg }

var (
	errForbidden = frameError{"forbidden", "not the sender of this message"}
	errNotFound  = frameError{"not_found", "message not found"}
	errWrongConv = frameError{"invalid_payload", "conversationId does not match the message"}
)

// Required fields per frame, checked separately from the payload decode.
type convRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type messageRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
	MessageID      string `json:"messageId" validate:"required"`
}

type sendRef struct {
	ClientID       string `json:"clientId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
}

type projectRef struct {
	ProjectID string `json:"projectId" validate:"required"`
}

type reactRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
	MessageID      string `json:"messageId" validate:"required"`
	Emoji          string `json:"emoji" validate:"required"`
}

type forwardRef struct {
	MessageID string   `json:"messageId" validate:"required"`
	TargetIDs []string `json:"targetIds" validate:"required,min=1"`
}

type statusRef struct {
	Status string `json:"status" validate:"required,oneof=online away busy offline"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// bind decodes the frame into payload and checks the required fields in ref.
func (s *Server) bind(env protocol.Envelope, payload, ref any) error {
	if err := env.Bind(payload); err != nil {
		return frameError{"bad_payload", err.Error()}
	}
	if ref == nil {
		return nil
	}
	if err := env.Bind(ref); err != nil {
		return frameError{"bad_payload", err.Error()}
	}
	if err := s.validate.Struct(ref); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return frameError{"invalid_payload", utils.ValidationSummary(ve)}
		}
		return frameError{"invalid_payload", err.Error()}
	}
	return nil
}

func encode(typ string, payload any) []byte {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return nil
	}
	b, _ := json.Marshal(env)
	return b
}

func encodeReply(req protocol.Envelope, typ string, payload any) []byte {
	env, err := protocol.Reply(req, typ, payload)
	if err != nil {
		return nil
	}
	b, _ := json.Marshal(env)
	return b
}

func (s *Server) sendError(c *Client, req protocol.Envelope, code, msg string) {
	s.hub.Send(c, encodeReply(req, protocol.Error, protocol.ErrorEvent{Code: code, Message: msg}))
}

// handleFrame is the read pump callback for one inbound frame.
func (s *Server) handleFrame(c *Client, raw []byte) {
	if !c.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.RateLimited.Inc()
		}
		s.sendError(c, protocol.Envelope{}, "rate_limited", "too many frames")
		return
	}
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		s.sendError(c, protocol.Envelope{}, "bad_frame", "malformed frame")
		return
	}
	if s.metrics != nil {
		s.metrics.Frames.WithLabelValues(env.Type).Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.dispatch(ctx, c, env); err != nil {
		var fe frameError
		if !errors.As(err, &fe) {
			s.log.Error("frame failed", zap.String("type", env.Type), zap.String("user_id", c.userID), zap.Error(err))
			fe = frameError{"internal", "internal error"}
		}
		s.sendError(c, env, fe.code, fe.msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, env protocol.Envelope) error {
	switch env.Type {
	case protocol.Ping:
		var p protocol.PingPayload
		if err := s.bind(env, &p, nil); err != nil {
			return err
		}
		s.hub.Send(c, encodeReply(env, protocol.Pong, protocol.PongEvent{Timestamp: p.Timestamp}))
	case protocol.MessageSend:
		return s.messageSend(ctx, c, env)
	case protocol.MessageForward:
		return s.messageForward(ctx, c, env)
	case protocol.MessageRead:
		var p protocol.MessageRefPayload
		if err := s.bind(env, &p, &messageRef{}); err != nil {
			return err
		}
		s.hub.ToMembers(p.ConversationID, encode(protocol.MessageRead, protocol.MessageReadEvent{
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			UserID:         c.userID,
			ReadAt:         s.now().UTC(),
		}), c)
	case protocol.MessageEdit:
		var p protocol.EditPayload
		if err := s.bind(env, &p, &messageRef{}); err != nil {
			return err
		}
		now := s.now().UTC()
		return s.mutate(ctx, c, p.ConversationID, p.MessageID, true, func(w *protocol.WireMessage) model.MessagePatch {
			w.Content = p.Content
			w.Edited = true
			w.EditedAt = &now
			edited := true
			return model.MessagePatch{Content: &p.Content, Edited: &edited, EditedAt: &now}
		})
	case protocol.MessagePin:
		var p protocol.PinPayload
		if err := s.bind(env, &p, &messageRef{}); err != nil {
			return err
		}
		return s.mutate(ctx, c, p.ConversationID, p.MessageID, false, func(w *protocol.WireMessage) model.MessagePatch {
			w.Pinned = p.Pinned
			return model.MessagePatch{Pinned: &p.Pinned}
		})
	case protocol.MessageReact:
		var p protocol.ReactPayload
		if err := s.bind(env, &p, &reactRef{}); err != nil {
			return err
		}
		return s.mutate(ctx, c, p.ConversationID, p.MessageID, false, func(w *protocol.WireMessage) model.MessagePatch {
			w.Reactions = toggleReaction(w.Reactions, p.Emoji, c.userID)
			return model.MessagePatch{Reactions: reactionsOf(w.Reactions)}
		})
	case protocol.MessageDelete:
		var p protocol.MessageRefPayload
		if err := s.bind(env, &p, &messageRef{}); err != nil {
			return err
		}
		return s.messageDelete(ctx, c, p)
	case protocol.TypingStart, protocol.TypingStop:
		var p protocol.TypingPayload
		if err := s.bind(env, &p, &convRef{}); err != nil {
			return err
		}
		name := p.UserName
		if name == "" {
			name = c.userID
		}
		s.hub.ToRoom(conversationRoom(p.ConversationID), encode(env.Type, protocol.TypingEvent{
			ConversationID: p.ConversationID,
			UserID:         c.userID,
			UserName:       name,
		}), c)
	case protocol.ConversationJoin:
		var p protocol.RoomPayload
		if err := s.bind(env, &p, &convRef{}); err != nil {
			return err
		}
		s.hub.Join(c, conversationRoom(p.ConversationID))
		s.hub.AddMembers(p.ConversationID, c.userID)
		s.hub.Send(c, encodeReply(env, protocol.ConversationJoined, protocol.ConversationJoinedEvent{ConversationID: p.ConversationID}))
	case protocol.ConversationLeave:
		var p protocol.RoomPayload
		if err := s.bind(env, &p, &convRef{}); err != nil {
			return err
		}
		s.hub.Leave(c, conversationRoom(p.ConversationID))
	case protocol.ConversationCreate:
		var p protocol.ConversationPayload
		if err := s.bind(env, &p, nil); err != nil {
			return err
		}
		if p.Conversation.ID == "" {
			return frameError{"invalid_payload", "conversation.id: This field is required."}
		}
		users := []string{c.userID}
		for _, part := range p.Conversation.Participants {
			users = append(users, part.ID)
		}
		s.hub.AddMembers(p.Conversation.ID, users...)
		conv := p.Conversation
		s.hub.ToMembers(conv.ID, encode(protocol.ConversationUpdate, protocol.ConversationUpdateEvent{
			ConversationID: conv.ID,
			Conversation:   &conv,
		}), c)
	case protocol.ConversationUpdate:
		var p protocol.ConversationPatchPayload
		if err := s.bind(env, &p, &convRef{}); err != nil {
			return err
		}
		s.hub.ToMembers(p.ConversationID, encode(protocol.ConversationUpdate, protocol.ConversationUpdateEvent{
			ConversationID: p.ConversationID,
			Patch:          p.Patch,
		}), c)
	case protocol.ConversationArchive:
		var p protocol.RoomPayload
		if err := s.bind(env, &p, &convRef{}); err != nil {
			return err
		}
		// archiving is per user and has no audience
		s.log.Debug("conversation archived", zap.String("conversation_id", p.ConversationID), zap.String("user_id", c.userID))
	case protocol.ConversationDelete:
		var p protocol.RoomPayload
		if err := s.bind(env, &p, &convRef{}); err != nil {
			return err
		}
		s.hub.ToMembers(p.ConversationID, encode(protocol.ConversationUpdate, protocol.ConversationUpdateEvent{
			ConversationID: p.ConversationID,
			Deleted:        true,
		}), c)
	case protocol.UserStatus:
		var p protocol.StatusPayload
		if err := s.bind(env, &p, &statusRef{}); err != nil {
			return err
		}
		s.setStatus(ctx, c.userID, p.Status, c)
	case protocol.ProjectJoin:
		var p protocol.ProjectPayload
		if err := s.bind(env, &p, &projectRef{}); err != nil {
			return err
		}
		s.hub.Join(c, projectRoom(p.ProjectID))
	case protocol.ProjectNotification:
		var p protocol.ProjectNotificationPayload
		if err := s.bind(env, &p, &projectRef{}); err != nil {
			return err
		}
		s.hub.ToRoom(projectRoom(p.ProjectID), encode(protocol.ProjectNotification, protocol.ProjectNotificationEvent{
			ProjectID: p.ProjectID,
			Title:     p.Title,
			Message:   p.Message,
			Level:     p.Level,
		}), c)
	default:
		return frameError{"unknown_event", "unknown event type " + env.Type}
	}
	return nil
}

func (s *Server) newWire(c *Client, conv, clientID string) protocol.WireMessage {
	return protocol.WireMessage{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		ConversationID: conv,
		SenderID:       c.userID,
		SenderName:     c.userID,
		CreatedAt:      s.now().UTC().Truncate(time.Millisecond),
		Status:         string(model.StatusSent),
	}
}

// deliver persists w, acknowledges it to the sender and fans it out.
func (s *Server) deliver(ctx context.Context, c *Client, req *protocol.Envelope, w protocol.WireMessage) error {
	if err := s.repo.Insert(ctx, w); err != nil {
		return err
	}
	s.hub.AddMembers(w.ConversationID, c.userID)

	ack := protocol.MessageSentEvent{ClientID: w.ClientID, Message: w}
	if req != nil {
		s.hub.Send(c, encodeReply(*req, protocol.MessageSent, ack))
	} else {
		s.hub.Send(c, encode(protocol.MessageSent, ack))
	}
	s.hub.ToMembers(w.ConversationID, encode(protocol.MessageNew, w), c)

	if err := s.pub.Publish(ctx, w); err != nil {
		s.log.Warn("publish failed", zap.String("message_id", w.ID), zap.Error(err))
	}
	return nil
}

func (s *Server) messageSend(ctx context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.SendMessagePayload
	if err := s.bind(env, &p, &sendRef{}); err != nil {
		return err
	}
	w := s.newWire(c, p.ConversationID, p.ClientID)
	w.Content = p.Content
	w.MessageType = string(p.Type)
	if w.MessageType == "" {
		w.MessageType = string(model.MessageText)
	}
	w.ReplyTo = p.ReplyTo
	w.Attachments = p.Attachments
	w.Mentions = p.Mentions
	return s.deliver(ctx, c, &env, w)
}

func (s *Server) messageForward(ctx context.Context, c *Client, env protocol.Envelope) error {
	var p protocol.ForwardPayload
	if err := s.bind(env, &p, &forwardRef{}); err != nil {
		return err
	}
	if len(p.ClientIDs) != 0 && len(p.ClientIDs) != len(p.TargetIDs) {
		return frameError{"invalid_payload", "clientIds: must match targetIds"}
	}
	src, err := s.repo.Get(ctx, p.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	for i, target := range p.TargetIDs {
		clientID := ""
		if len(p.ClientIDs) > 0 {
			clientID = p.ClientIDs[i]
		}
		w := s.newWire(c, target, clientID)
		w.Content = src.Content
		w.MessageType = src.MessageType
		w.Attachments = src.Attachments
		w.Mentions = src.Mentions
		if err := s.deliver(ctx, c, nil, w); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) messageDelete(ctx context.Context, c *Client, p protocol.MessageRefPayload) error {
	w, err := s.repo.Get(ctx, p.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	if w.SenderID != c.userID {
		return errForbidden
	}
	if err := s.repo.Delete(ctx, p.MessageID); err != nil {
		return err
	}
	s.hub.ToMembers(w.ConversationID, encode(protocol.MessageDeleted, protocol.MessageDeletedEvent{
		ConversationID: w.ConversationID,
		MessageID:      w.ID,
	}), c)
	return nil
}

// mutate loads a stored message, applies fn and fans out the resulting patch.
func (s *Server) mutate(ctx context.Context, c *Client, conv, id string, ownOnly bool, fn func(*protocol.WireMessage) model.MessagePatch) error {
	w, err := s.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	if conv != "" && conv != w.ConversationID {
		return errWrongConv
	}
	if ownOnly && w.SenderID != c.userID {
		return errForbidden
	}
	patch := fn(&w)
	if err := s.repo.Update(ctx, w); err != nil {
		return err
	}
	s.hub.ToMembers(w.ConversationID, encode(protocol.MessageUpdated, protocol.MessageUpdatedEvent{
		ConversationID: w.ConversationID,
		MessageID:      w.ID,
		Patch:          patch,
	}), c)
	return nil
}

func toggleReaction(in []protocol.WireReaction, emoji, userID string) []protocol.WireReaction {
	for i := range in {
		if in[i].Emoji != emoji {
			continue
		}
		users := in[i].Users[:0]
		found := false
		for _, u := range in[i].Users {
			if u == userID {
				found = true
				continue
			}
			users = append(users, u)
		}
		if !found {
			users = append(users, userID)
		}
		if len(users) == 0 {
			return append(in[:i], in[i+1:]...)
		}
		in[i].Users = users
		return in
	}
	return append(in, protocol.WireReaction{Emoji: emoji, Users: []string{userID}})
}

// reactionsOf never returns nil so the patch always carries the field.
func reactionsOf(in []protocol.WireReaction) []model.Reaction {
	out := make([]model.Reaction, 0, len(in))
	for _, r := range in {
		out = append(out, model.Reaction{
			Emoji: r.Emoji,
			Count: len(r.Users),
			Users: append([]string(nil), r.Users...),
		})
	}
	return out
}

func (s *Server) setStatus(ctx context.Context, userID string, status model.Presence, except *Client) {
	st := model.UserStatus{UserID: userID, Status: status, LastSeen: s.now().UTC()}
	if err := s.presence.Set(ctx, st); err != nil {
		s.log.Warn("presence update failed", zap.String("user_id", userID), zap.Error(err))
	}
	s.hub.ToAll(encode(protocol.UserStatus, protocol.UserStatusEvent{
		UserID:   st.UserID,
		Status:   st.Status,
		LastSeen: st.LastSeen,
	}), except)
}
