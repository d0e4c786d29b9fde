package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
	"github.com/ageniuscoder/mmchat/realtime/internal/storage/sqlite"
)

func newTestRepo(t *testing.T) *Messages {
	t.Helper()
	db, err := sqlite.New("file:" + filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return NewMessages(db.Db, SQLite)
}

func TestRebindPostgres(t *testing.T) {
	got := Postgres.rebind(`SELECT a FROM t WHERE x=? AND y=? LIMIT ?`)
	assert.Equal(t, `SELECT a FROM t WHERE x=$1 AND y=$2 LIMIT $3`, got)
	assert.Equal(t, `x=?`, SQLite.rebind(`x=?`))
}

func TestMessagesInsertGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	at := time.UnixMilli(1700000000000).UTC()

	m := protocol.WireMessage{
		ID:             "m1",
		ClientID:       "temp-1",
		ConversationID: "c1",
		SenderID:       "u1",
		SenderName:     "Alice",
		Content:        "hello",
		MessageType:    string(model.MessageText),
		CreatedAt:      at,
		ReplyTo:        &model.ReplyRef{ID: "m0", Content: "hi", SenderName: "Bob"},
		Attachments:    []model.Attachment{{ID: "a1", Name: "plan.pdf", Size: 42}},
		Mentions:       []string{"u2"},
	}
	require.NoError(t, repo.Insert(ctx, m))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "temp-1", got.ClientID)
	assert.True(t, got.CreatedAt.Equal(at))
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "Bob", got.ReplyTo.SenderName)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, []string{"u2"}, got.Mentions)

	got.Content = "hello, edited"
	got.Edited = true
	got.Reactions = []protocol.WireReaction{{Emoji: "👍", Users: []string{"u2"}}}
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello, edited", again.Content)
	assert.True(t, again.Edited)
	require.Len(t, again.Reactions, 1)

	require.NoError(t, repo.Delete(ctx, "m1"))
	_, err = repo.Get(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "m1"), ErrNotFound)
}

func TestMessagesPage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.UnixMilli(1700000000000).UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, protocol.WireMessage{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "u1",
			Content:        fmt.Sprintf("msg %d", i),
			MessageType:    "text",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Insert(ctx, protocol.WireMessage{
		ID: "other", ConversationID: "c2", SenderID: "u1", MessageType: "text", CreatedAt: base,
	}))

	page, err := repo.Page(ctx, "c1", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m4", page[1].ID)

	older, err := repo.Page(ctx, "c1", "m3", 10)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, "m0", older[0].ID)
	assert.Equal(t, "m2", older[2].ID)
}
