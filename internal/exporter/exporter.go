// Package exporter emits deterministic reshapings of the corpus: markdown
// documents, bulk JSONL, training pairs, vault directories, and a single
// concatenated corpus file.
//
// Every export accepts a redaction toggle. Redaction state (the stable email
// token counter) lives per export run, so identical inputs always yield
// identical output.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"exportstudio/internal/logging"
	"exportstudio/internal/redact"
	"exportstudio/internal/store"
)

// vaultWriters bounds concurrent file writes during vault export.
const vaultWriters = 8

// Exporter renders persisted conversations.
type Exporter struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates an Exporter. logger may be nil.
func New(s *store.Store, logger *slog.Logger) *Exporter {
	logger = logging.Default(logger)
	return &Exporter{store: s, logger: logger.With("component", "exporter")}
}

// redactor returns a fresh per-run Redactor, or nil when redaction is off.
func redactor(enabled bool) *redact.Redactor {
	if !enabled {
		return nil
	}
	return redact.New()
}

func apply(r *redact.Redactor, s string) string {
	if r == nil {
		return s
	}
	return r.Apply(s)
}

// Markdown renders one conversation as a titled document with role headings
// in turn order.
func (e *Exporter) Markdown(ctx context.Context, conversationID string, redacted bool) (string, error) {
	return e.markdown(ctx, conversationID, redactor(redacted))
}

func (e *Exporter) markdown(ctx context.Context, conversationID string, r *redact.Redactor) (string, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	msgs, err := e.store.GetMessages(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return renderMarkdown(*conv, msgs, r), nil
}

func renderMarkdown(conv store.Conversation, msgs []store.Message, r *redact.Redactor) string {
	title := conv.Title
	if title == "" {
		title = "Untitled"
	}

	var sb strings.Builder
	sb.WriteString("# " + apply(r, title) + "\n")
	for _, m := range msgs {
		sb.WriteString("\n## " + m.Role + "\n\n")
		sb.WriteString(apply(r, m.ContentText))
		sb.WriteString("\n")
	}
	return sb.String()
}

// ProjectMarkdown renders every conversation of a project, joined by a
// horizontal rule, for use as a pattern prompt.
func (e *Exporter) ProjectMarkdown(ctx context.Context, gizmoID string, redacted bool) (string, error) {
	convs, err := e.store.ListConversations(ctx, store.ListOptions{GizmoID: gizmoID, Limit: 10000})
	if err != nil {
		return "", err
	}
	if len(convs) == 0 {
		return "", fmt.Errorf("project %q: %w", gizmoID, store.ErrNotFound)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })

	r := redactor(redacted)
	docs := make([]string, 0, len(convs))
	for _, conv := range convs {
		doc, err := e.markdown(ctx, conv.ID, r)
		if err != nil {
			return "", err
		}
		docs = append(docs, doc)
	}
	return strings.Join(docs, "\n\n---\n\n"), nil
}

// WriteJSONL streams every message as one JSON object per line, ordered by
// (conversation_id, turn_index). Returns the number of lines written.
func (e *Exporter) WriteJSONL(ctx context.Context, w io.Writer, redacted bool) (int, error) {
	convs, err := e.sortedConversations(ctx)
	if err != nil {
		return 0, err
	}

	r := redactor(redacted)
	enc := json.NewEncoder(w)
	count := 0
	for _, conv := range convs {
		msgs, err := e.store.GetMessages(ctx, conv.ID)
		if err != nil {
			return count, err
		}
		for _, m := range msgs {
			line := map[string]any{
				"id":              m.ID,
				"conversation_id": m.ConversationID,
				"role":            m.Role,
				"content_text":    apply(r, m.ContentText),
				"created_at":      m.CreatedAt,
				"turn_index":      m.TurnIndex,
			}
			if err := enc.Encode(line); err != nil {
				return count, fmt.Errorf("write jsonl line: %w", err)
			}
			count++
		}
	}
	return count, nil
}

// pair is one training record.
type pair struct {
	A    string   `json:"a"`
	B    string   `json:"b"`
	Meta pairMeta `json:"meta"`
}

type pairMeta struct {
	ConversationID string `json:"conversation_id"`
	PairIndex      int    `json:"pair_index"`
}

// WritePairs emits contiguous user→assistant adjacency pairs as JSONL.
// Tool and system turns break adjacency. Returns the number of pairs.
func (e *Exporter) WritePairs(ctx context.Context, w io.Writer, redacted bool) (int, error) {
	convs, err := e.sortedConversations(ctx)
	if err != nil {
		return 0, err
	}

	r := redactor(redacted)
	enc := json.NewEncoder(w)
	count := 0
	for _, conv := range convs {
		msgs, err := e.store.GetMessages(ctx, conv.ID)
		if err != nil {
			return count, err
		}
		pairIndex := 0
		for i := 0; i+1 < len(msgs); i++ {
			if msgs[i].Role != "user" || msgs[i+1].Role != "assistant" {
				continue
			}
			p := pair{
				A:    apply(r, msgs[i].ContentText),
				B:    apply(r, msgs[i+1].ContentText),
				Meta: pairMeta{ConversationID: conv.ID, PairIndex: pairIndex},
			}
			if err := enc.Encode(p); err != nil {
				return count, fmt.Errorf("write pair: %w", err)
			}
			pairIndex++
			count++
		}
	}
	return count, nil
}

// WriteVault writes one markdown file per conversation into dir, plus an
// INDEX.md. Rendering happens sequentially so redaction tokens stay stable;
// file writes fan out over a bounded worker group. Returns the number of
// conversation files written.
func (e *Exporter) WriteVault(ctx context.Context, dir string, redacted bool) (int, error) {
	convs, err := e.sortedConversations(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create vault directory: %w", err)
	}

	r := redactor(redacted)
	type doc struct {
		name    string
		content string
	}
	docs := make([]doc, 0, len(convs))
	var index strings.Builder
	index.WriteString("# Vault Index\n\n")
	for _, conv := range convs {
		content, err := e.markdown(ctx, conv.ID, r)
		if err != nil {
			return 0, err
		}
		name := vaultFilename(conv.Title, conv.ID)
		docs = append(docs, doc{name: name, content: content})
		fmt.Fprintf(&index, "- [[%s]]\n", strings.TrimSuffix(name, ".md"))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(vaultWriters)
	for _, d := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p := filepath.Join(dir, d.name)
			if err := os.WriteFile(p, []byte(d.content), 0o640); err != nil {
				return fmt.Errorf("write vault file %q: %w", d.name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	indexPath := filepath.Join(dir, "INDEX.md")
	if err := os.WriteFile(indexPath, []byte(index.String()), 0o640); err != nil {
		return 0, fmt.Errorf("write vault index: %w", err)
	}
	e.logger.Info("vault written", "dir", dir, "files", len(docs))
	return len(docs), nil
}

// WriteCorpus concatenates every conversation document into one stream,
// separated by horizontal rules. Returns the number of conversations.
func (e *Exporter) WriteCorpus(ctx context.Context, w io.Writer, redacted bool) (int, error) {
	convs, err := e.sortedConversations(ctx)
	if err != nil {
		return 0, err
	}

	r := redactor(redacted)
	for i, conv := range convs {
		if i > 0 {
			if _, err := io.WriteString(w, "\n\n---\n\n"); err != nil {
				return i, fmt.Errorf("write corpus separator: %w", err)
			}
		}
		doc, err := e.markdown(ctx, conv.ID, r)
		if err != nil {
			return i, err
		}
		if _, err := io.WriteString(w, doc); err != nil {
			return i, fmt.Errorf("write corpus document: %w", err)
		}
	}
	return len(convs), nil
}

// sortedConversations returns the corpus in stable export order by id.
func (e *Exporter) sortedConversations(ctx context.Context) ([]store.Conversation, error) {
	convs, err := e.store.AllConversations(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })
	return convs, nil
}

// vaultFilename derives a filesystem-safe name from the title plus a short
// id prefix to keep names unique.
func vaultFilename(title, id string) string {
	safe := sanitizeTitle(title)
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return safe + "__" + short + ".md"
}

func sanitizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		default:
			sb.WriteRune('_')
		}
	}
	safe := strings.Trim(sb.String(), "_")
	if len(safe) > 60 {
		safe = safe[:60]
	}
	if safe == "" {
		safe = "untitled"
	}
	return safe
}
