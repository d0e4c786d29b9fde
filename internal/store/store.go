// Package store holds the client-side state shared by the transport, the
// event router and the message center. Every mutation goes through a method
// on Store; readers get copies.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

// DraftRepository persists drafts across restarts.
type DraftRepository interface {
	SaveDraft(ctx context.Context, d model.Draft) error
	DeleteDraft(ctx context.Context, conversationID string) error
	ListDrafts(ctx context.Context) ([]model.Draft, error)
}

type Option func(*Store)

func WithDraftRepository(r DraftRepository) Option {
	return func(s *Store) { s.drafts = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = logging.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu      sync.RWMutex
	version uint64

	user     *model.User
	settings model.Settings
	state    model.ConnectionState
	attempts int
	loading  bool
	selected string

	conversations []model.Conversation
	messages      map[string][]model.Message
	typing        map[string]map[string]model.TypingStatus
	statuses      map[string]model.UserStatus
	draftText     map[string]model.Draft

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int

	drafts DraftRepository
	log    *zap.Logger
	now    func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		settings:  model.DefaultSettings(),
		state:     model.Disconnected,
		messages:  make(map[string][]model.Message),
		typing:    make(map[string]map[string]model.TypingStatus),
		statuses:  make(map[string]model.UserStatus),
		draftText: make(map[string]model.Draft),
		listeners: make(map[int]func()),
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers fn to run after every mutation. The returned func
// removes it.
func (s *Store) Subscribe(fn func()) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// Version increases on every mutation; derived views cache against it.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// mutate runs fn under the write lock and notifies listeners when fn reports
// a change.
func (s *Store) mutate(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	if changed {
		s.version++
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

func (s *Store) notify() {
	s.listenerMu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) SetUser(u *model.User) {
	s.mutate(func() bool {
		if u == nil {
			s.user = nil
			return true
		}
		cp := *u
		s.user = &cp
		return true
	})
}

// User returns the authenticated user, or nil before authentication.
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

func (s *Store) SetSettings(st model.Settings) {
	s.mutate(func() bool {
		s.settings = st
		return true
	})
}

func (s *Store) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) SetConnectionState(state model.ConnectionState, attempts int) {
	s.mutate(func() bool {
		if s.state == state && s.attempts == attempts {
			return false
		}
		s.state = state
		s.attempts = attempts
		return true
	})
}

func (s *Store) ConnectionState() (model.ConnectionState, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.attempts
}

func (s *Store) SetLoading(v bool) {
	s.mutate(func() bool {
		if s.loading == v {
			return false
		}
		s.loading = v
		return true
	})
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Store) SetSelected(id string) {
	s.mutate(func() bool {
		if s.selected == id {
			return false
		}
		s.selected = id
		return true
	})
}

func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.conversationIndex(id); i >= 0 {
		return s.conversations[i].Clone(), true
	}
	return model.Conversation{}, false
}

func (s *Store) conversationIndex(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) SetConversations(list []model.Conversation) {
	s.mutate(func() bool {
		s.conversations = make([]model.Conversation, len(list))
		for i, c := range list {
			s.conversations[i] = c.Clone()
		}
		return true
	})
}

// UpsertConversation inserts c at the front, or replaces the existing entry
// with the same id in place.
func (s *Store) UpsertConversation(c model.Conversation) {
	s.mutate(func() bool {
		if i := s.conversationIndex(c.ID); i >= 0 {
			s.conversations[i] = c.Clone()
			return true
		}
		s.conversations = append([]model.Conversation{c.Clone()}, s.conversations...)
		return true
	})
}

func (s *Store) UpdateConversation(id string, patch model.ConversationPatch) bool {
	return s.mutate(func() bool {
		i := s.conversationIndex(id)
		if i < 0 {
			return false
		}
		patch.Apply(&s.conversations[i])
		return true
	})
}

// RemoveConversation drops the conversation and everything keyed by it. It
// returns the removed conversation so callers can restore it.
func (s *Store) RemoveConversation(id string) (model.Conversation, bool) {
	var removed model.Conversation
	ok := s.mutate(func() bool {
		i := s.conversationIndex(id)
		if i < 0 {
			return false
		}
		removed = s.conversations[i]
		s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
		delete(s.messages, id)
		delete(s.typing, id)
		if s.selected == id {
			s.selected = ""
		}
		return true
	})
	return removed, ok
}

func (s *Store) MarkConversationRead(id string) bool {
	return s.mutate(func() bool {
		i := s.conversationIndex(id)
		if i < 0 || s.conversations[i].UnreadCount == 0 {
			return false
		}
		s.conversations[i].UnreadCount = 0
		return true
	})
}

// UnreadCounts sums unread counters overall and per conversation type.
func (s *Store) UnreadCounts() model.UnreadCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := model.UnreadCounts{ByType: make(map[model.ConversationType]int)}
	for _, c := range s.conversations {
		out.Total += c.UnreadCount
		out.ByType[c.Type] += c.UnreadCount
	}
	return out
}

func sortByTimestamp(list []model.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
}
