package notify

import (
	"go.uber.org/zap"
)

// Toaster shows transient in-app messages.
type Toaster interface {
	Success(msg string)
	Error(msg string)
	Info(title, msg string)
}

// LogNotifier prints notifications through zap. It reports Granted so the
// gate treats the log as the platform.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Permission() Permission { return PermissionGranted }

func (l LogNotifier) Show(n Notification) error {
	l.Log.Info("notification",
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.String("conversation_id", n.ConversationID))
	return nil
}

type LogSound struct {
	Log *zap.Logger
}

func (l LogSound) Play(volume float64) error {
	l.Log.Debug("notification sound", zap.Float64("volume", volume))
	return nil
}

type LogToaster struct {
	Log *zap.Logger
}

func (l LogToaster) Success(msg string) {
	l.Log.Info("toast", zap.String("kind", "success"), zap.String("msg", msg))
}

func (l LogToaster) Error(msg string) {
	l.Log.Warn("toast", zap.String("kind", "error"), zap.String("msg", msg))
}

func (l LogToaster) Info(title, msg string) {
	l.Log.Info("toast", zap.String("kind", "info"), zap.String("title", title), zap.String("msg", msg))
}
