// Package messagecenter is the application-facing API of the realtime core.
// The UI talks to a Center only; the transport and router stay behind it.
package messagecenter

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/history"
	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/notify"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
	"github.com/ageniuscoder/mmchat/realtime/internal/router"
	"github.com/ageniuscoder/mmchat/realtime/internal/store"
	"github.com/ageniuscoder/mmchat/realtime/internal/typing"
)

var (
	ErrNoConversation       = errors.New("no conversation selected")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Center is the session facade. Mutating operations apply locally first and
// report their outcome through the toaster; the returned error is for callers
// that want it, the user has already been told.
type Center interface {
	Messages() []model.Message
	SelectedConversation() *model.Conversation
	Conversations() []model.Conversation
	UnreadCounts() model.UnreadCounts
	TypingUsers() []model.TypingStatus
	ConnectionState() model.ConnectionState
	ReconnectAttempts() int
	IsLoading() bool

	// Subscribe registers fn to run after every change to the views above,
	// inbound events included. fn runs outside any lock.
	Subscribe(fn func()) (unsubscribe func())

	Connect(ctx context.Context) error
	Disconnect()
	Ping(ctx context.Context) (time.Duration, error)
	SelectConversation(ctx context.Context, id string) error
	LoadOlder(ctx context.Context) error

	SendMessage(ctx context.Context, draft model.MessageDraft) (model.Message, error)
	MarkAsRead(conversationID, messageID string)
	SetTyping(conversationID string, typing bool)
	EditMessage(conversationID, messageID, content string) error
	DeleteMessage(conversationID, messageID string) error
	ForwardMessage(conversationID, messageID string, targetIDs []string) error
	PinMessage(conversationID, messageID string, pinned bool) error
	AddReaction(conversationID, messageID, emoji string) error

	CreateConversation(c model.Conversation) (model.Conversation, error)
	UpdateConversation(id string, patch model.ConversationPatch) error
	ArchiveConversation(id string) error
	DeleteConversation(id string) error

	SaveDraft(ctx context.Context, conversationID, content string)
	GetDraft(conversationID string) string
	ClearDraft(ctx context.Context, conversationID string)

	SearchMessages(query, conversationID string) []model.Message
	FilterConversations(filter model.ConversationFilter) []model.Conversation

	UpdateStatus(status model.Presence) error
	JoinProject(projectID string) error
	SendProjectNotification(n protocol.ProjectNotificationPayload) error

	Close()
}

// Session is the part of the transport the facade drives.
type Session interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
	Send(typ string, payload any) error
	Request(ctx context.Context, typ string, payload any) (protocol.Envelope, error)
	SetRoom(conversationID string)
}

// HistoryFetcher loads pages of past messages.
type HistoryFetcher interface {
	Fetch(ctx context.Context, q history.Query) ([]protocol.WireMessage, error)
}

type Deps struct {
	Store   *store.Store
	Session Session
	History HistoryFetcher
	Toaster notify.Toaster
	Pending *router.Pending
	Config  config.Client
	Logger  *zap.Logger
	// Scheduler drives the typing timeout; nil means real timers.
	Scheduler typing.Scheduler
	Now       func() time.Time
}

type historyState struct {
	exhausted bool
}

type center struct {
	store   *store.Store
	session Session
	history HistoryFetcher
	toast   notify.Toaster
	pending *router.Pending
	typing  *typing.Debouncer
	cfg     config.Client
	log     *zap.Logger
	now     func() time.Time

	histMu sync.Mutex
	loaded map[string]*historyState

	views views

	closeOnce sync.Once
	stop      chan struct{}
	closers   []func()
}

// New returns the facade for the user held by d.Store, or the inert facade
// when there is no user yet.
func New(d Deps) Center {
	if d.Store == nil || d.Store.User() == nil || d.Session == nil {
		return Inert()
	}
	return newCenter(d)
}

func newCenter(d Deps) *center {
	c := &center{
		store:   d.Store,
		session: d.Session,
		history: d.History,
		toast:   d.Toaster,
		pending: d.Pending,
		cfg:     d.Config,
		log:     logging.OrNop(d.Logger).Named("messagecenter"),
		now:     d.Now,
		loaded:  make(map[string]*historyState),
		stop:    make(chan struct{}),
	}
	if c.toast == nil {
		c.toast = notify.LogToaster{Log: c.log}
	}
	if c.pending == nil {
		c.pending = router.NewPending()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.cfg.TypingTimeout <= 0 {
		c.cfg.TypingTimeout = config.DefaultClient().TypingTimeout
	}
	if c.cfg.HistoryPageSize <= 0 {
		c.cfg.HistoryPageSize = config.DefaultClient().HistoryPageSize
	}
	c.typing = typing.NewDebouncer(c.cfg.TypingTimeout, d.Scheduler, c.emitTyping)
	if c.cfg.TypingExpiry > 0 {
		go c.pruneTyping(c.cfg.TypingExpiry)
	}
	return c
}

func (c *center) pruneTyping(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.store.PruneTyping(every)
		}
	}
}

func (c *center) userID() string {
	return c.store.UserID()
}

func (c *center) userName() string {
	if u := c.store.User(); u != nil {
		return u.Name
	}
	return ""
}

func (c *center) Connect(ctx context.Context) error {
	if err := c.session.Connect(ctx, c.userID()); err != nil {
		c.log.Warn("connect failed", zap.Error(err))
		c.toast.Error("Connection failed, check your network")
		return err
	}
	return nil
}

func (c *center) Disconnect() {
	c.session.Disconnect()
}

// Ping measures one request/response round trip.
func (c *center) Ping(ctx context.Context) (time.Duration, error) {
	start := c.now()
	if _, err := c.session.Request(ctx, protocol.Ping, protocol.PingPayload{Timestamp: start.UnixMilli()}); err != nil {
		return 0, err
	}
	return c.now().Sub(start), nil
}

func (c *center) SelectConversation(ctx context.Context, id string) error {
	prev := c.store.SelectedID()
	if prev != "" && prev != id {
		c.send(protocol.ConversationLeave, protocol.RoomPayload{ConversationID: prev})
	}
	c.store.SetSelected(id)
	c.session.SetRoom(id)
	if id == "" {
		return nil
	}
	if prev != id {
		c.send(protocol.ConversationJoin, protocol.RoomPayload{ConversationID: id})
	}
	c.store.MarkConversationRead(id)

	c.histMu.Lock()
	_, cached := c.loaded[id]
	c.histMu.Unlock()
	if cached {
		return nil
	}
	return c.loadPage(ctx, id, "")
}

// LoadOlder fetches the page before the oldest loaded message of the
// selected conversation.
func (c *center) LoadOlder(ctx context.Context) error {
	id := c.store.SelectedID()
	if id == "" {
		return ErrNoConversation
	}
	c.histMu.Lock()
	st := c.loaded[id]
	c.histMu.Unlock()
	if st != nil && st.exhausted {
		return nil
	}
	before := ""
	for _, m := range c.store.Messages(id) {
		if !m.IsTemporary() {
			before = m.ID
			break
		}
	}
	return c.loadPage(ctx, id, before)
}

func (c *center) loadPage(ctx context.Context, id, before string) error {
	if c.history == nil {
		c.markLoaded(id, true)
		return nil
	}
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	page, err := c.history.Fetch(ctx, history.Query{
		UserID:         c.userID(),
		ConversationID: id,
		Before:         before,
		Limit:          c.cfg.HistoryPageSize,
	})
	if err != nil {
		c.log.Warn("load history failed", zap.String("conversation_id", id), zap.Error(err))
		c.toast.Error("Could not load messages")
		return err
	}
	me := c.userID()
	now := c.now()
	msgs := make([]model.Message, 0, len(page))
	for _, w := range page {
		if w.ConversationID == "" {
			w.ConversationID = id
		}
		msgs = append(msgs, router.Normalize(w, me, now))
	}
	c.store.MergeMessages(id, msgs)
	c.markLoaded(id, len(page) < c.cfg.HistoryPageSize)
	return nil
}

func (c *center) markLoaded(id string, exhausted bool) {
	c.histMu.Lock()
	c.loaded[id] = &historyState{exhausted: exhausted}
	c.histMu.Unlock()
}

func (c *center) MarkAsRead(conversationID, messageID string) {
	if messageID == "" {
		c.store.MarkConversationRead(conversationID)
		return
	}
	c.store.UpdateMessage(conversationID, messageID, func(m *model.Message) {
		m.Status = model.StatusRead
	})
	c.send(protocol.MessageRead, protocol.MessageRefPayload{ConversationID: conversationID, MessageID: messageID})
}

func (c *center) SetTyping(conversationID string, typing bool) {
	if !c.store.Settings().TypingIndicators {
		return
	}
	c.typing.Set(conversationID, typing)
}

func (c *center) emitTyping(conversationID string, typing bool) {
	typ := protocol.TypingStop
	if typing {
		typ = protocol.TypingStart
	}
	c.send(typ, protocol.TypingPayload{ConversationID: conversationID, UserName: c.userName()})
}

func (c *center) SaveDraft(ctx context.Context, conversationID, content string) {
	c.store.SaveDraft(ctx, conversationID, content)
}

func (c *center) GetDraft(conversationID string) string {
	return c.store.Draft(conversationID)
}

func (c *center) ClearDraft(ctx context.Context, conversationID string) {
	c.store.ClearDraft(ctx, conversationID)
}

func (c *center) UpdateStatus(status model.Presence) error {
	c.store.SetUserStatus(model.UserStatus{UserID: c.userID(), Status: status, LastSeen: c.now()})
	return c.sendOrToast(protocol.UserStatus, protocol.StatusPayload{Status: status}, "update status")
}

func (c *center) JoinProject(projectID string) error {
	return c.sendOrToast(protocol.ProjectJoin, protocol.ProjectPayload{ProjectID: projectID}, "join project")
}

func (c *center) SendProjectNotification(n protocol.ProjectNotificationPayload) error {
	return c.sendOrToast(protocol.ProjectNotification, n, "send notification")
}

// FailPending marks every unacknowledged send as failed. It runs when the
// transport gives up reconnecting and when the facade closes.
func (c *center) FailPending() {
	for clientID, conv := range c.pending.Drain() {
		c.store.UpdateMessage(conv, clientID, func(m *model.Message) {
			m.Status = model.StatusFailed
		})
	}
}

func (c *center) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.typing.Reset()
		c.FailPending()
		for _, fn := range c.closers {
			fn()
		}
	})
}

// send emits and logs failures. Used where the caller has nothing to roll back.
func (c *center) send(typ string, payload any) {
	if err := c.session.Send(typ, payload); err != nil {
		c.log.Warn("emit failed", zap.String("type", typ), zap.Error(err))
	}
}

func (c *center) sendOrToast(typ string, payload any, action string) error {
	if err := c.session.Send(typ, payload); err != nil {
		c.log.Warn("emit failed", zap.String("type", typ), zap.Error(err))
		c.toast.Error("Failed to " + action)
		return err
	}
	return nil
}
