package model

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
	ConversationSystem  ConversationType = "system"
	ConversationProject ConversationType = "project"
)

type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Name         string           `json:"name"`
	Participants []Participant    `json:"participants"`
	LastActivity time.Time        `json:"lastActivity"`
	UnreadCount  int              `json:"unreadCount"`
	Pinned       bool             `json:"pinned,omitempty"`
	Muted        bool             `json:"muted,omitempty"`
	Archived     bool             `json:"archived,omitempty"`
	ProjectID    string           `json:"projectId,omitempty"`
}

func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	return out
}

// ConversationPatch is a partial update; nil fields are left untouched.
type ConversationPatch struct {
	Name         *string       `json:"name,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastActivity *time.Time    `json:"lastActivity,omitempty"`
	UnreadCount  *int          `json:"unreadCount,omitempty"`
	Pinned       *bool         `json:"pinned,omitempty"`
	Muted        *bool         `json:"muted,omitempty"`
	Archived     *bool         `json:"archived,omitempty"`
}

func (p ConversationPatch) Apply(c *Conversation) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Participants != nil {
		c.Participants = append([]Participant(nil), p.Participants...)
	}
	if p.LastActivity != nil {
		c.LastActivity = *p.LastActivity
	}
	if p.UnreadCount != nil && *p.UnreadCount >= 0 {
		c.UnreadCount = *p.UnreadCount
	}
	if p.Pinned != nil {
		c.Pinned = *p.Pinned
	}
	if p.Muted != nil {
		c.Muted = *p.Muted
	}
	if p.Archived != nil {
		c.Archived = *p.Archived
	}
}

// ConversationFilter selects a subset of conversations: "all", "unread" or a
// ConversationType value.
type ConversationFilter string

const (
	FilterAll    ConversationFilter = "all"
	FilterUnread ConversationFilter = "unread"
)

// Matches reports whether c is selected by f.
func (f ConversationFilter) Matches(c Conversation) bool {
	switch f {
	case FilterAll, "":
		return true
	case FilterUnread:
		return c.UnreadCount > 0
	default:
		return string(c.Type) == string(f)
	}
}

type TypingStatus struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	IsTyping       bool      `json:"isTyping"`
	UpdatedAt      time.Time `json:"-"`
}

type Draft struct {
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
)

type UserStatus struct {
	UserID   string    `json:"userId"`
	Status   Presence  `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// User is the authenticated local user.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Reconnecting ConnectionState = "reconnecting"
)

// UnreadCounts aggregates unread counters across conversations.
type UnreadCounts struct {
	Total  int                      `json:"total"`
	ByType map[ConversationType]int `json:"byType"`
}
