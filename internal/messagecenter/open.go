package messagecenter

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/auth"
	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/history"
	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/metrics"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/notify"
	"github.com/ageniuscoder/mmchat/realtime/internal/router"
	"github.com/ageniuscoder/mmchat/realtime/internal/store"
	"github.com/ageniuscoder/mmchat/realtime/internal/transport"
)

// Options are the host integrations handed to Open. Zero values fall back to
// log-only implementations.
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Drafts     store.DraftRepository
	Settings   *model.Settings
	Notifier   notify.Notifier
	Sound      notify.SoundPlayer
	Toaster    notify.Toaster
}

// Open builds the full client stack for user and returns its facade. A nil
// user yields the inert facade. The transport is the process-wide session;
// closing the facade destroys it.
func Open(ctx context.Context, cfg config.Client, user *model.User, o Options) (Center, error) {
	if user == nil || user.ID == "" {
		return Inert(), nil
	}
	log := logging.OrNop(o.Logger)

	storeOpts := []store.Option{store.WithLogger(log)}
	if o.Drafts != nil {
		storeOpts = append(storeOpts, store.WithDraftRepository(o.Drafts))
	}
	st := store.New(storeOpts...)
	st.SetUser(user)
	if o.Settings != nil {
		st.SetSettings(*o.Settings)
	}
	if err := st.LoadDrafts(ctx); err != nil {
		log.Warn("load drafts failed", zap.Error(err))
	}

	toaster := o.Toaster
	if toaster == nil {
		toaster = notify.LogToaster{Log: log}
	}
	notifier := o.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{Log: log}
	}
	sound := o.Sound
	if sound == nil {
		sound = notify.LogSound{Log: log}
	}
	gate := notify.NewGate(st, notifier, sound, notify.WithLogger(log))
	pending := router.NewPending()
	rt := router.New(st, gate, toaster, pending, log)

	var c *center
	sessionOpts := []transport.Option{
		transport.WithLogger(log),
		transport.WithStateListener(st.SetConnectionState),
		transport.WithEventHandler(rt.Handle),
		transport.WithGiveUpHandler(func() {
			if c != nil {
				c.FailPending()
			}
			toaster.Error("Connection lost, giving up after repeated attempts")
		}),
	}
	histOpts := []history.Option{history.WithLogger(log)}
	if cfg.TokenURL != "" {
		tokens := auth.NewTokenSource(cfg.TokenURL)
		sessionOpts = append(sessionOpts, transport.WithTokenSource(tokens))
		histOpts = append(histOpts, history.WithTokenSource(tokens))
	}
	if o.Registerer != nil {
		sessionOpts = append(sessionOpts, transport.WithMetrics(metrics.NewSession(o.Registerer)))
	}
	session, err := transport.Init(cfg, sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}

	var hist HistoryFetcher
	if cfg.HistoryURL != "" {
		hist = history.New(cfg.HistoryURL, histOpts...)
	}

	c = newCenter(Deps{
		Store:   st,
		Session: session,
		History: hist,
		Toaster: toaster,
		Pending: pending,
		Config:  cfg,
		Logger:  log,
	})
	c.closers = append(c.closers, transport.Destroy)
	return c, nil
}
