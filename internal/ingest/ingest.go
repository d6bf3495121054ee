// Package ingest drives the archive parser into the store: identity,
// deduplication, per-conversation transactions, and project rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"exportstudio/internal/archive"
	"exportstudio/internal/chunker"
	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

// ErrIngestInProgress rejects overlapping ingest runs. Ingestion is
// single-flight per process; concurrent runs against one database would
// interleave transactions without benefit.
var ErrIngestInProgress = errors.New("another ingest is already running")

// Options controls one ingest run.
type Options struct {
	// Force re-ingests conversations whose raw hash is already present.
	Force bool
	// Chunk rebuilds chunks for every ingested conversation.
	Chunk bool
	// ChunkConfig applies when Chunk is set; zero values take defaults.
	ChunkConfig chunker.Config
}

// Result reports ingest totals.
type Result struct {
	ConversationsAdded int `json:"conversations_added"`
	MessagesAdded      int `json:"messages_added"`
	Skipped            int `json:"skipped"`
	FailedRecords      int `json:"failed_records"`
}

// Ingestor persists parsed archives.
type Ingestor struct {
	store  *store.Store
	parser *archive.Parser
	logger *slog.Logger
	busy   atomic.Bool
	now    func() int64
}

// New creates an Ingestor. logger may be nil.
func New(s *store.Store, logger *slog.Logger) *Ingestor {
	logger = logging.Default(logger)
	return &Ingestor{
		store:  s,
		parser: archive.NewParser(logger),
		logger: logger.With("component", "ingest"),
		now:    func() int64 { return time.Now().Unix() },
	}
}

// Ingest reads the archive at path and persists its conversations, one
// transaction each. A conversation whose raw hash already completed ingestion
// is skipped unless opts.Force; a failed transaction is logged and the run
// continues with the next conversation.
func (i *Ingestor) Ingest(ctx context.Context, path string, opts Options) (Result, error) {
	if !i.busy.CompareAndSwap(false, true) {
		return Result{}, ErrIngestInProgress
	}
	defer i.busy.Store(false)

	rc, err := archive.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer rc.Close()

	var res Result
	var ck *chunker.Chunker
	if opts.Chunk {
		ck = chunker.New(i.store, i.logger)
	}

	parseRes, err := i.parser.Parse(rc, func(conv archive.Conversation) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !opts.Force {
			seen, err := i.store.HasIngested(ctx, conv.RawHash)
			if err != nil {
				return err
			}
			if seen {
				res.Skipped++
				return nil
			}
		}

		if err := i.persist(ctx, conv); err != nil {
			res.FailedRecords++
			i.logger.Warn("conversation not persisted", "conversation", conv.ID, "error", err)
			return nil
		}
		res.ConversationsAdded++
		res.MessagesAdded += len(conv.Messages)

		if ck != nil {
			if _, err := ck.Rechunk(ctx, conv.ID, opts.ChunkConfig); err != nil {
				return fmt.Errorf("chunk %q: %w", conv.ID, err)
			}
		}
		return nil
	})
	res.FailedRecords += parseRes.FailedRecords
	if err != nil {
		return res, fmt.Errorf("ingest %q: %w", path, err)
	}

	i.logger.Info("ingest finished", "path", path,
		"added", res.ConversationsAdded, "skipped", res.Skipped, "failed", res.FailedRecords)
	return res, nil
}

// persist maps one parsed conversation onto store rows.
func (i *Ingestor) persist(ctx context.Context, conv archive.Conversation) error {
	meta, err := archive.EncodeMeta(conv.Meta)
	if err != nil {
		return err
	}

	row := store.Conversation{
		ID:               conv.ID,
		Title:            conv.Title,
		CreatedAt:        conv.CreatedAt,
		UpdatedAt:        conv.UpdatedAt,
		DefaultModelSlug: conv.DefaultModelSlug,
		GizmoID:          conv.GizmoID,
		RawHash:          conv.RawHash,
		Meta:             meta,
	}

	msgs := make([]store.Message, len(conv.Messages))
	for j, m := range conv.Messages {
		msgs[j] = store.Message{
			ID:          m.ID,
			Role:        string(m.Role),
			ContentType: m.ContentType,
			ContentText: m.Text,
			CreatedAt:   m.CreatedAt,
			TurnIndex:   m.TurnIndex,
			ParentID:    m.ParentID,
			TextHash:    m.TextHash,
		}
	}

	if err := i.store.ReplaceConversation(ctx, row, msgs, i.now()); err != nil {
		return err
	}

	if conv.GizmoID != "" {
		p := store.Project{GizmoID: conv.GizmoID, GizmoType: "gpt"}
		if err := i.store.UpsertProject(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
