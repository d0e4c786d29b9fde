package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

type staticSettings model.Settings

func (s staticSettings) Settings() model.Settings { return model.Settings(s) }

type recordingNotifier struct {
	perm  Permission
	shown []Notification
	asked int
}

func (r *recordingNotifier) Permission() Permission {
	r.asked++
	return r.perm
}

func (r *recordingNotifier) Show(n Notification) error {
	r.shown = append(r.shown, n)
	return nil
}

type failingSound struct{ played int }

func (f *failingSound) Play(float64) error {
	f.played++
	return errors.New("no audio device")
}

func at(hh, mm int) time.Time {
	return time.Date(2024, 3, 10, hh, mm, 0, 0, time.Local)
}

func TestInQuietHours(t *testing.T) {
	overnight := model.QuietHours{Enabled: true, StartTime: "22:00", EndTime: "08:00"}
	sameDay := model.QuietHours{Enabled: true, StartTime: "09:00", EndTime: "17:00"}

	cases := []struct {
		name string
		q    model.QuietHours
		now  time.Time
		want bool
	}{
		{"overnight late", overnight, at(23, 0), true},
		{"overnight early", overnight, at(3, 0), true},
		{"overnight noon", overnight, at(12, 0), false},
		{"same day inside", sameDay, at(12, 0), true},
		{"same day evening", sameDay, at(20, 0), false},
		{"disabled", model.QuietHours{StartTime: "00:00", EndTime: "23:59"}, at(12, 0), false},
		{"garbage", model.QuietHours{Enabled: true, StartTime: "late", EndTime: "08:00"}, at(23, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InQuietHours(tc.now, tc.q))
		})
	}
}

func TestNotifySuppressedInQuietHours(t *testing.T) {
	st := model.DefaultSettings()
	st.BrowserNotifications = true
	st.DoNotDisturb = model.QuietHours{Enabled: true, StartTime: "22:00", EndTime: "08:00"}
	n := &recordingNotifier{perm: PermissionGranted}
	g := NewGate(staticSettings(st), n, nil, WithClock(func() time.Time { return at(23, 30) }))

	assert.False(t, g.Notify(model.Message{ID: "m1", SenderName: "Bob", Content: "late"}))
	assert.Empty(t, n.shown)
}

func TestNotifyDisabled(t *testing.T) {
	st := model.DefaultSettings()
	st.BrowserNotifications = false
	n := &recordingNotifier{perm: PermissionGranted}
	g := NewGate(staticSettings(st), n, nil)

	assert.False(t, g.Notify(model.Message{ID: "m1"}))
	assert.Zero(t, n.asked)
}

func TestNotifyNeedsGrantedPermission(t *testing.T) {
	st := model.DefaultSettings()
	n := &recordingNotifier{perm: PermissionDefault}
	sound := &failingSound{}
	g := NewGate(staticSettings(st), n, sound, WithClock(func() time.Time { return at(12, 0) }))

	assert.False(t, g.Notify(model.Message{ID: "m1"}))
	assert.Empty(t, n.shown)
	assert.Equal(t, 1, sound.played)
}

func TestNotifyTitleAndBody(t *testing.T) {
	msg := model.Message{ID: "m1", ConversationID: "c1", SenderName: "Bob", Content: "lunch?"}

	st := model.DefaultSettings()
	n := &recordingNotifier{perm: PermissionGranted}
	g := NewGate(staticSettings(st), n, nil, WithClock(func() time.Time { return at(12, 0) }))
	require.True(t, g.Notify(msg))
	assert.Equal(t, "Bob", n.shown[0].Title)
	assert.Equal(t, "lunch?", n.shown[0].Body)

	st.ShowSender = false
	st.ShowPreview = false
	hidden := Build(msg, st)
	assert.Equal(t, genericTitle, hidden.Title)
	assert.Equal(t, genericBody, hidden.Body)
}
