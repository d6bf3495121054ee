package store

import (
	"context"
	"fmt"
	"strings"
)

// Search runs a ranked full-text query. Each whitespace-separated term is
// quoted individually, so multi-term queries match documents containing all
// terms regardless of adjacency. If the FTS compiler rejects the query, the
// search degrades to a case-insensitive substring match ordered by recency
// with rank 0. A zero limit defaults to 20.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}

	hits, err := s.searchFTS(ctx, query, limit)
	if err == nil {
		return hits, nil
	}
	// FTS rejects some inputs (unbalanced quotes, stray operators).
	return s.searchLike(ctx, query, limit)
}

// ftsQuery quotes each term so FTS operators and punctuation in user input
// stay literal while terms combine with the default AND.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

func (s *Store) searchFTS(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.role,
		       snippet(messages_fts, 0, '[', ']', '…', 12),
		       m.created_at, bm25(messages_fts)
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY bm25(messages_fts)
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("fts search %q: %w", query, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &h.Role,
			&h.Snippet, &h.CreatedAt, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) searchLike(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, substr(content_text, 1, 200),
		       created_at, 0.0
		FROM messages
		WHERE content_text LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?
	`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("substring search %q: %w", query, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.MessageID, &h.ConversationID, &h.Role,
			&h.Snippet, &h.CreatedAt, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
