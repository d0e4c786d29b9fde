package sqlite

import (
	"context"
	"time"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

// Drafts stores unsent message text per conversation.
type Drafts struct {
	s *Sqlite
}

func (s *Sqlite) Drafts() *Drafts {
	return &Drafts{s: s}
}

func (d *Drafts) SaveDraft(ctx context.Context, draft model.Draft) error {
	_, err := d.s.Db.ExecContext(ctx, `INSERT INTO drafts (conversation_id, content, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET content=excluded.content, updated_at_ms=excluded.updated_at_ms`,
		draft.ConversationID, draft.Content, draft.UpdatedAt.UnixMilli())
	return err
}

func (d *Drafts) DeleteDraft(ctx context.Context, conversationID string) error {
	_, err := d.s.Db.ExecContext(ctx, `DELETE FROM drafts WHERE conversation_id=?`, conversationID)
	return err
}

func (d *Drafts) ListDrafts(ctx context.Context) ([]model.Draft, error) {
	rows, err := d.s.Db.QueryContext(ctx, `SELECT conversation_id, content, updated_at_ms FROM drafts ORDER BY updated_at_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Draft
	for rows.Next() {
		var (
			draft model.Draft
			ms    int64
		)
		if err := rows.Scan(&draft.ConversationID, &draft.Content, &ms); err != nil {
			return nil, err
		}
		draft.UpdatedAt = time.UnixMilli(ms)
		out = append(out, draft)
	}
	return out, rows.Err()
}
