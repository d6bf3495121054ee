package store

import (
	"context"
	"fmt"
)

// ReplaceChunks swaps the chunk set for a conversation in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, conversationID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunks for %q: %w", conversationID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("delete prior chunks for %q: %w", conversationID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(id, conversation_id, start_turn, end_turn, text, text_hash, target_size, overlap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID, conversationID, c.StartTurn,
			c.EndTurn, c.Text, c.TextHash, c.TargetSize, c.Overlap)
		if err != nil {
			return fmt.Errorf("insert chunk %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks for %q: %w", conversationID, err)
	}
	return nil
}

// ListChunks returns a conversation's chunks in window order.
func (s *Store) ListChunks(ctx context.Context, conversationID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, start_turn, end_turn, text, text_hash, target_size, overlap
		FROM chunks WHERE conversation_id = ? ORDER BY start_turn, end_turn
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %q: %w", conversationID, err)
	}
	defer rows.Close()

	var result []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.StartTurn, &c.EndTurn,
			&c.Text, &c.TextHash, &c.TargetSize, &c.Overlap); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
