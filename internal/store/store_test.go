package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

type memDrafts struct {
	saved   map[string]model.Draft
	failing bool
}

func (m *memDrafts) SaveDraft(_ context.Context, d model.Draft) error {
	if m.failing {
		return errors.New("disk full")
	}
	m.saved[d.ConversationID] = d
	return nil
}

func (m *memDrafts) DeleteDraft(_ context.Context, id string) error {
	delete(m.saved, id)
	return nil
}

func (m *memDrafts) ListDrafts(context.Context) ([]model.Draft, error) {
	var out []model.Draft
	for _, d := range m.saved {
		out = append(out, d)
	}
	return out, nil
}

func seeded() *Store {
	s := New()
	s.SetConversations([]model.Conversation{
		{ID: "a", Type: model.ConversationPrivate, UnreadCount: 5},
		{ID: "b", Type: model.ConversationGroup, UnreadCount: 0},
	})
	return s
}

func TestUnreadIncrementsOnlyForUnselected(t *testing.T) {
	s := seeded()
	s.SetSelected("b")

	s.AddMessage(model.Message{ID: "m1", ConversationID: "a", Timestamp: time.Now()})
	s.AddMessage(model.Message{ID: "m2", ConversationID: "b", Timestamp: time.Now()})

	a, _ := s.Conversation("a")
	b, _ := s.Conversation("b")
	assert.Equal(t, 6, a.UnreadCount)
	assert.Equal(t, 0, b.UnreadCount)
}

func TestOwnMessagesDoNotCountAsUnread(t *testing.T) {
	s := seeded()
	s.AddMessage(model.Message{ID: "m1", ConversationID: "b", IsOwn: true})
	b, _ := s.Conversation("b")
	assert.Equal(t, 0, b.UnreadCount)
}

func TestDuplicateMessageReplacesInPlace(t *testing.T) {
	s := seeded()
	s.AddMessage(model.Message{ID: "m1", ConversationID: "b", Content: "one"})
	s.AddMessage(model.Message{ID: "m1", ConversationID: "b", Content: "uno"})

	msgs := s.Messages("b")
	require.Len(t, msgs, 1)
	assert.Equal(t, "uno", msgs[0].Content)
	b, _ := s.Conversation("b")
	assert.Equal(t, 1, b.UnreadCount)
}

func TestAddMessageCreatesConversation(t *testing.T) {
	s := New()
	s.AddMessage(model.Message{ID: "m1", ConversationID: "new", SenderName: "Carol"})

	c, ok := s.Conversation("new")
	require.True(t, ok)
	assert.Equal(t, model.ConversationPrivate, c.Type)
	assert.Equal(t, "Carol", c.Name)
	assert.Equal(t, 1, c.UnreadCount)
}

func TestMarkConversationRead(t *testing.T) {
	s := seeded()
	assert.True(t, s.MarkConversationRead("a"))
	assert.False(t, s.MarkConversationRead("a"))
	a, _ := s.Conversation("a")
	assert.Equal(t, 0, a.UnreadCount)
}

func TestUnreadCounts(t *testing.T) {
	s := seeded()
	s.AddMessage(model.Message{ID: "m1", ConversationID: "b"})
	counts := s.UnreadCounts()
	assert.Equal(t, 6, counts.Total)
	assert.Equal(t, 5, counts.ByType[model.ConversationPrivate])
	assert.Equal(t, 1, counts.ByType[model.ConversationGroup])
}

func TestMergeMessagesDedupesAndSorts(t *testing.T) {
	s := New()
	base := time.Unix(1700000000, 0)
	s.AddMessage(model.Message{ID: "temp-1", ConversationID: "c", Timestamp: base.Add(10 * time.Second)})
	s.MergeMessages("c", []model.Message{
		{ID: "m1", ConversationID: "c", Timestamp: base},
		{ID: "m2", ConversationID: "c", Timestamp: base.Add(time.Second)},
	})
	s.MergeMessages("c", []model.Message{{ID: "m1", ConversationID: "c", Content: "again", Timestamp: base}})

	msgs := s.Messages("c")
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "temp-1"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "again", msgs[0].Content)
}

func TestRemoveAndInsertMessage(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		s.AddMessage(model.Message{ID: id, ConversationID: "x"})
	}
	m, idx, ok := s.RemoveMessage("x", "b")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Len(t, s.Messages("x"), 2)

	s.InsertMessage(m, idx)
	msgs := s.Messages("x")
	assert.Equal(t, "b", msgs[1].ID)
}

func TestRemoveConversationClearsSelection(t *testing.T) {
	s := seeded()
	s.SetSelected("a")
	s.AddMessage(model.Message{ID: "m1", ConversationID: "a"})

	removed, ok := s.RemoveConversation("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.ID)
	assert.Empty(t, s.SelectedID())
	assert.Empty(t, s.Messages("a"))
}

func TestTypingExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := New(WithClock(func() time.Time { return now }))

	s.SetTyping(model.TypingStatus{ConversationID: "c", UserID: "u2", IsTyping: true})
	assert.Len(t, s.Typing("c", 5*time.Second), 1)

	now = now.Add(5 * time.Second)
	assert.Empty(t, s.Typing("c", 5*time.Second))

	s.PruneTyping(5 * time.Second)
	assert.Empty(t, s.Typing("c", 0))
}

func TestSubscribeAndVersion(t *testing.T) {
	s := New()
	calls := 0
	unsub := s.Subscribe(func() { calls++ })

	v := s.Version()
	s.SetLoading(true)
	s.SetLoading(true)
	assert.Equal(t, 1, calls)
	assert.Equal(t, v+1, s.Version())

	unsub()
	s.SetLoading(false)
	assert.Equal(t, 1, calls)
}

func TestDraftsPersistBestEffort(t *testing.T) {
	ctx := context.Background()
	repo := &memDrafts{saved: map[string]model.Draft{"c": {ConversationID: "c", Content: "kept"}}}
	s := New(WithDraftRepository(repo))

	require.NoError(t, s.LoadDrafts(ctx))
	assert.Equal(t, "kept", s.Draft("c"))

	s.SaveDraft(ctx, "d", "hello")
	assert.Equal(t, "hello", repo.saved["d"].Content)

	s.ClearDraft(ctx, "d")
	assert.Empty(t, s.Draft("d"))
	assert.NotContains(t, repo.saved, "d")

	repo.failing = true
	s.SaveDraft(ctx, "e", "memory only")
	assert.Equal(t, "memory only", s.Draft("e"))
}
