// Package notify decides whether an arriving message surfaces as a desktop
// notification and carries the toast surface used by the router and facade.
package notify

import (
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

const (
	genericTitle = "New message"
	genericBody  = "You have a new message"
)

// Permission mirrors the platform notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notification is what the gate hands to the platform.
type Notification struct {
	Title          string
	Body           string
	Icon           string
	ConversationID string
	MessageID      string
}

// Notifier is the platform notification surface. Permission must not prompt.
type Notifier interface {
	Permission() Permission
	Show(n Notification) error
}

// SoundPlayer plays the notification sound at volume in [0, 1].
type SoundPlayer interface {
	Play(volume float64) error
}

// SettingsSource supplies the current settings on every decision.
type SettingsSource interface {
	Settings() model.Settings
}

type Option func(*Gate)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) { g.log = logging.OrNop(l).Named("notify") }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

type Gate struct {
	settings SettingsSource
	notifier Notifier
	sound    SoundPlayer
	log      *zap.Logger
	now      func() time.Time
}

func NewGate(settings SettingsSource, notifier Notifier, sound SoundPlayer, opts ...Option) *Gate {
	g := &Gate{
		settings: settings,
		notifier: notifier,
		sound:    sound,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Notify runs the gate for m. It reports whether a notification was shown.
func (g *Gate) Notify(m model.Message) bool {
	st := g.settings.Settings()
	if !st.BrowserNotifications {
		return false
	}
	if InQuietHours(g.now(), st.DoNotDisturb) {
		g.log.Debug("quiet hours, notification suppressed", zap.String("conversation_id", m.ConversationID))
		return false
	}

	shown := false
	n := Build(m, st)
	if g.notifier != nil && g.notifier.Permission() == PermissionGranted {
		if err := g.notifier.Show(n); err != nil {
			g.log.Warn("show notification failed", zap.Error(err))
		} else {
			shown = true
		}
	}
	if st.Sound && g.sound != nil {
		if err := g.sound.Play(st.SoundVolume); err != nil {
			g.log.Debug("notification sound failed", zap.Error(err))
		}
	}
	return shown
}

// Build applies the sender and preview settings to m.
func Build(m model.Message, st model.Settings) Notification {
	n := Notification{
		Title:          genericTitle,
		Body:           genericBody,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
	}
	if st.ShowSender && m.SenderName != "" {
		n.Title = m.SenderName
		n.Icon = m.SenderAvatar
	}
	if st.ShowPreview {
		n.Body = m.Content
	}
	return n
}

// InQuietHours reports whether now falls inside q. A window whose start is
// after its end wraps midnight. Unparseable bounds disable the window.
func InQuietHours(now time.Time, q model.QuietHours) bool {
	if !q.Enabled {
		return false
	}
	start, err := model.ParseClock(q.StartTime)
	if err != nil {
		return false
	}
	end, err := model.ParseClock(q.EndTime)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start > end {
		return cur >= start || cur <= end
	}
	return cur >= start && cur <= end
}
