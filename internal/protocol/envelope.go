// Package protocol defines the JSON frames exchanged with the messaging server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound event names (client -> server).
const (
	MessageSend         = "message:send"
	MessageRead         = "message:read"
	TypingStart         = "typing:start"
	TypingStop          = "typing:stop"
	ConversationJoin    = "conversation:join"
	ConversationLeave   = "conversation:leave"
	UserStatus          = "user:status"
	ProjectJoin         = "project:join"
	ProjectNotification = "project:notification"
	Ping                = "ping"

	MessageEdit         = "message:edit"
	MessageDelete       = "message:delete"
	MessagePin          = "message:pin"
	MessageReact        = "message:react"
	MessageForward      = "message:forward"
	ConversationCreate  = "conversation:create"
	ConversationUpdate  = "conversation:update"
	ConversationArchive = "conversation:archive"
	ConversationDelete  = "conversation:delete"
)

// Inbound-only event names (server -> client). Names shared with the outbound
// set (message:read, typing:*, user:status, project:notification,
// conversation:update) are reused.
const (
	MessageNew         = "message:new"
	MessageSent        = "message:sent"
	MessageUpdated     = "message:updated"
	MessageDeleted     = "message:deleted"
	ConversationJoined = "conversation:joined"
	Pong               = "pong"
	Error              = "error"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is one text frame on the socket. ID is set on frames that expect a
// reply; the reply carries the same value in ReplyTo.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a frame of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Data = b
	return env, nil
}

// Reply builds a frame answering req.
func Reply(req Envelope, typ string, payload any) (Envelope, error) {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.ReplyTo = req.ID
	return env, nil
}

func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
