package model

import (
	"fmt"
	"time"
)

// QuietHours is a daily window during which notifications are suppressed.
// Times are "HH:MM" in local time.
type QuietHours struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Settings are the per-user notification and indicator preferences.
type Settings struct {
	BrowserNotifications bool       `json:"browserNotifications"`
	ShowSender           bool       `json:"showSender"`
	ShowPreview          bool       `json:"showPreview"`
	Sound                bool       `json:"sound"`
	SoundVolume          float64    `json:"soundVolume"`
	TypingIndicators     bool       `json:"typingIndicators"`
	ReadReceipts         bool       `json:"readReceipts"`
	DoNotDisturb         QuietHours `json:"doNotDisturb"`
}

func DefaultSettings() Settings {
	return Settings{
		BrowserNotifications: true,
		ShowSender:           true,
		ShowPreview:          true,
		Sound:                true,
		SoundVolume:          0.5,
		TypingIndicators:     true,
		ReadReceipts:         true,
		DoNotDisturb: QuietHours{
			StartTime: "22:00",
			EndTime:   "08:00",
		},
	}
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
