package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageVoice  MessageType = "voice"
	MessageSystem MessageType = "system"
)

// MessageStatus follows sending -> sent -> delivered -> read, or failed.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// TempIDPrefix marks ids generated locally before the server acknowledged a send.
const TempIDPrefix = "temp-"

type ReplyRef struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
}

type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type Reaction struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	Users   []string `json:"users"`
	Reacted bool     `json:"reacted"`
}

type Message struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"clientId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	SenderName     string        `json:"senderName"`
	SenderAvatar   string        `json:"senderAvatar,omitempty"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         MessageStatus `json:"status"`
	IsOwn          bool          `json:"isOwn"`
	ReplyTo        *ReplyRef     `json:"replyTo,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Mentions       []string      `json:"mentions,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Edited         bool          `json:"edited,omitempty"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	Pinned         bool          `json:"pinned,omitempty"`
}

// IsTemporary reports whether the message still carries a locally generated id.
func (m Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Clone returns a deep copy so callers can mutate slices without touching store state.
func (m Message) Clone() Message {
	out := m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.Mentions = append([]string(nil), m.Mentions...)
	if m.Reactions != nil {
		out.Reactions = make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			r.Users = append([]string(nil), r.Users...)
			out.Reactions[i] = r
		}
	}
	return out
}

// ToggleReaction adds or removes userID's reaction with emoji. Reactions whose
// count drops to zero are removed.
func (m *Message) ToggleReaction(emoji, userID string) {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		if r.Reacted {
			r.Reacted = false
			r.Count--
			r.Users = removeString(r.Users, userID)
			if r.Count <= 0 {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			}
			return
		}
		r.Reacted = true
		r.Count++
		r.Users = append(r.Users, userID)
		return
	}
	m.Reactions = append(m.Reactions, Reaction{
		Emoji:   emoji,
		Count:   1,
		Users:   []string{userID},
		Reacted: true,
	})
}

func removeString(in []string, s string) []string {
	out := in[:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// MessagePatch is a partial update; nil fields are left untouched. Reactions
// is always encoded so an emptied list still reaches peers.
type MessagePatch struct {
	Content   *string        `json:"content,omitempty"`
	Status    *MessageStatus `json:"status,omitempty"`
	Edited    *bool          `json:"edited,omitempty"`
	EditedAt  *time.Time     `json:"editedAt,omitempty"`
	Pinned    *bool          `json:"pinned,omitempty"`
	Reactions []Reaction     `json:"reactions"`
}

func (p MessagePatch) Apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Edited != nil {
		m.Edited = *p.Edited
	}
	if p.EditedAt != nil {
		t := *p.EditedAt
		m.EditedAt = &t
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.Reactions != nil {
		m.Reactions = p.Reactions
	}
}

// LocalFile is an attachment chosen by the user but not yet uploaded.
type LocalFile struct {
	Name     string
	Path     string
	Size     int64
	MimeType string
}

// MessageDraft is what the UI hands to SendMessage.
type MessageDraft struct {
	Content     string
	Type        MessageType
	ReplyTo     *ReplyRef
	Attachments []LocalFile
	Mentions    []string
}
