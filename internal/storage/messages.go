// Package storage holds the relay's message history repository, shared by the
// sqlite and postgres backends.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

var ErrNotFound = errors.New("message not found")

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// rebind rewrites '?' placeholders into $n for postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// extra holds the columns that are only ever read back as a whole.
type extra struct {
	SenderImage string                  `json:"senderImage,omitempty"`
	ReplyTo     *model.ReplyRef         `json:"replyTo,omitempty"`
	Attachments []model.Attachment      `json:"attachments,omitempty"`
	Mentions    []string                `json:"mentions,omitempty"`
	Reactions   []protocol.WireReaction `json:"reactions,omitempty"`
	EditedAt    *time.Time              `json:"editedAt,omitempty"`
}

type Messages struct {
	db      *sql.DB
	dialect Dialect
}

func NewMessages(db *sql.DB, d Dialect) *Messages {
	return &Messages{db: db, dialect: d}
}

func (r *Messages) Insert(ctx context.Context, m protocol.WireMessage) error {
	ex, err := encodeExtra(m)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.dialect.rebind(`INSERT INTO messages
		(id, client_id, conversation_id, sender_id, sender_name, content, message_type, extra, edited, pinned, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.ClientID, m.ConversationID, m.SenderID, m.SenderName, m.Content, m.MessageType,
		ex, boolInt(m.Edited), boolInt(m.Pinned), m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

func (r *Messages) Get(ctx context.Context, id string) (protocol.WireMessage, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT `+columns+` FROM messages WHERE id=?`), id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.WireMessage{}, ErrNotFound
	}
	return m, err
}

// Update rewrites the mutable fields of an existing message.
func (r *Messages) Update(ctx context.Context, m protocol.WireMessage) error {
	ex, err := encodeExtra(m)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(`UPDATE messages
		SET content=?, extra=?, edited=?, pinned=? WHERE id=?`),
		m.Content, ex, boolInt(m.Edited), boolInt(m.Pinned), m.ID)
	if err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Messages) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM messages WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Page returns up to limit messages of a conversation older than the message
// with id before (or the newest when before is empty), ordered oldest first.
func (r *Messages) Page(ctx context.Context, conversationID, before string, limit int) ([]protocol.WireMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if before == "" {
		rows, err = r.db.QueryContext(ctx, r.dialect.rebind(`SELECT `+columns+` FROM messages
			WHERE conversation_id=? ORDER BY created_at_ms DESC, id DESC LIMIT ?`), conversationID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, r.dialect.rebind(`SELECT `+columns+` FROM messages
			WHERE conversation_id=? AND created_at_ms < (SELECT created_at_ms FROM messages WHERE id=?)
			ORDER BY created_at_ms DESC, id DESC LIMIT ?`), conversationID, before, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("page conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []protocol.WireMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

const columns = `id, client_id, conversation_id, sender_id, sender_name, content, message_type, extra, edited, pinned, created_at_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (protocol.WireMessage, error) {
	var (
		m        protocol.WireMessage
		clientID sql.NullString
		ex       string
		edited   int
		pinned   int
		ms       int64
	)
	if err := sc.Scan(&m.ID, &clientID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content,
		&m.MessageType, &ex, &edited, &pinned, &ms); err != nil {
		return protocol.WireMessage{}, err
	}
	m.ClientID = clientID.String
	m.Edited = edited != 0
	m.Pinned = pinned != 0
	m.CreatedAt = time.UnixMilli(ms).UTC()

	var e extra
	if err := json.Unmarshal([]byte(ex), &e); err != nil {
		return protocol.WireMessage{}, fmt.Errorf("decode extra for %s: %w", m.ID, err)
	}
	m.SenderImage = e.SenderImage
	m.Mentions = e.Mentions
	m.Reactions = e.Reactions
	m.EditedAt = e.EditedAt
	m.ReplyTo = e.ReplyTo
	m.Attachments = e.Attachments
	return m, nil
}

func encodeExtra(m protocol.WireMessage) (string, error) {
	e := extra{
		SenderImage: m.SenderImage,
		ReplyTo:     m.ReplyTo,
		Attachments: m.Attachments,
		Mentions:    m.Mentions,
		Reactions:   m.Reactions,
		EditedAt:    m.EditedAt,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
