package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// HasIngested reports whether a conversation with the given raw hash has
// completed ingestion. Rows without the ingested_at sentinel do not count, so
// a partial prior ingest triggers a re-ingest.
func (s *Store) HasIngested(ctx context.Context, rawHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE raw_hash = ? AND ingested_at IS NOT NULL)",
		rawHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check raw hash %q: %w", rawHash, err)
	}
	return exists, nil
}

// ReplaceConversation writes a conversation and its messages in one
// transaction. Prior rows for the same conversation id (messages and chunks
// included, via cascade) are deleted first, so forced re-imports and content
// updates are atomic. FTS rows follow through the message triggers.
func (s *Store) ReplaceConversation(ctx context.Context, conv Conversation, msgs []Message, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation %q: %w", conv.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ?", conv.ID); err != nil {
		return fmt.Errorf("delete prior conversation %q: %w", conv.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations
			(id, title, created_at, updated_at, message_count,
			 default_model_slug, gizmo_id, raw_hash, meta, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt, len(msgs),
		nullStr(conv.DefaultModelSlug), nullStr(conv.GizmoID),
		conv.RawHash, nullBytes(conv.Meta), now)
	if err != nil {
		return fmt.Errorf("insert conversation %q: %w", conv.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, role, content_type, content_text,
			 created_at, turn_index, parent_id, text_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		_, err := stmt.ExecContext(ctx, m.ID, conv.ID, m.Role, m.ContentType,
			m.ContentText, m.CreatedAt, m.TurnIndex, nullStr(m.ParentID), m.TextHash)
		if err != nil {
			return fmt.Errorf("insert message %d of %q: %w", m.TurnIndex, conv.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation %q: %w", conv.ID, err)
	}
	return nil
}

const conversationColumns = `id, title, created_at, updated_at, message_count,
	default_model_slug, gizmo_id, raw_hash, meta, ingested_at`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	var slug, gizmo sql.NullString
	var meta []byte
	var ingested sql.NullInt64
	err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount,
		&slug, &gizmo, &c.RawHash, &meta, &ingested)
	if err != nil {
		return Conversation{}, err
	}
	c.DefaultModelSlug = fromNullStr(slug)
	c.GizmoID = fromNullStr(gizmo)
	c.Meta = meta
	c.IngestedAt = fromNullInt(ingested)
	return c, nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %q: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns conversations newest first, filtered and paged
// per opts. A zero limit defaults to 50.
func (s *Store) ListConversations(ctx context.Context, opts ListOptions) ([]Conversation, error) {
	query := "SELECT " + conversationColumns + " FROM conversations"
	var conds []string
	var args []any

	if opts.TitleSearch != "" {
		conds = append(conds, "title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(opts.TitleSearch)+"%")
	}
	if opts.GizmoID != "" {
		conds = append(conds, "gizmo_id = ?")
		args = append(args, opts.GizmoID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// AllConversations returns every conversation in a stable export order
// (created_at, then id).
func (s *Store) AllConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list all conversations: %w", err)
	}
	defer rows.Close()

	var result []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetMessages returns the messages of a conversation in turn order.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content_type, content_text,
		       created_at, turn_index, parent_id, text_hash
		FROM messages WHERE conversation_id = ? ORDER BY turn_index
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get messages for %q: %w", conversationID, err)
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var m Message
		var parent sql.NullString
		err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.ContentType,
			&m.ContentText, &m.CreatedAt, &m.TurnIndex, &parent, &m.TextHash)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ParentID = fromNullStr(parent)
		result = append(result, m)
	}
	return result, rows.Err()
}

// Stats returns corpus totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM conversations),
		       (SELECT count(*) FROM messages),
		       (SELECT count(*) FROM chunks),
		       (SELECT count(*) FROM projects)
	`).Scan(&st.Conversations, &st.Messages, &st.Chunks, &st.Projects)
	if err != nil {
		return Stats{}, fmt.Errorf("count stats: %w", err)
	}
	return st, nil
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
