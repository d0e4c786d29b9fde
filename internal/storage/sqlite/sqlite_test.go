package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

func openTestDB(t *testing.T) *Sqlite {
	t.Helper()
	db, err := New("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestMigrateIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Ping(context.Background()))
}

func TestDraftsRoundTrip(t *testing.T) {
	ctx := context.Background()
	drafts := openTestDB(t).Drafts()
	at := time.UnixMilli(1700000000000)

	require.NoError(t, drafts.SaveDraft(ctx, model.Draft{ConversationID: "c1", Content: "hel", UpdatedAt: at}))
	require.NoError(t, drafts.SaveDraft(ctx, model.Draft{ConversationID: "c1", Content: "hello", UpdatedAt: at.Add(time.Second)}))
	require.NoError(t, drafts.SaveDraft(ctx, model.Draft{ConversationID: "c2", Content: "later", UpdatedAt: at.Add(2 * time.Second)}))

	list, err := drafts.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c1", list[0].ConversationID)
	assert.Equal(t, "hello", list[0].Content)
	assert.True(t, list[0].UpdatedAt.Equal(at.Add(time.Second)))

	require.NoError(t, drafts.DeleteDraft(ctx, "c1"))
	list, err = drafts.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c2", list[0].ConversationID)
}
