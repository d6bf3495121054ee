// Package chunker builds overlapping text windows over persisted
// conversations with stable, content-derived chunk identities.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

const (
	// DefaultTargetSize is the window length in characters.
	DefaultTargetSize = 2500
	// DefaultOverlap is the character overlap between adjacent windows.
	DefaultOverlap = 300
)

// ErrBadConfig indicates an unusable size/overlap combination.
var ErrBadConfig = errors.New("overlap must be non-negative and smaller than target size")

// Config holds the windowing parameters.
type Config struct {
	TargetSize int
	Overlap    int
}

// withDefaults fills zero fields with the default parameters.
func (c Config) withDefaults() Config {
	if c.TargetSize == 0 {
		c.TargetSize = DefaultTargetSize
		if c.Overlap == 0 {
			c.Overlap = DefaultOverlap
		}
	}
	return c
}

// Validate checks the parameter combination.
func (c Config) Validate() error {
	if c.TargetSize <= 0 || c.Overlap < 0 || c.Overlap >= c.TargetSize {
		return fmt.Errorf("%w: target=%d overlap=%d", ErrBadConfig, c.TargetSize, c.Overlap)
	}
	return nil
}

// block tracks one message's span in the rendered text, in rune offsets.
type block struct {
	turn       int
	start, end int
}

// Build renders the messages as role-headed text and slides a window of
// TargetSize runes forward by TargetSize-Overlap. Each chunk records the
// first and last turn fully contained in its window; a window inside one
// oversized message falls back to that message's turn. The final window is
// pulled back to the nearest header when it would otherwise contain none.
//
// Chunk identity is a pure function of the conversation id, the window turns,
// the parameters, and the chunk text hash, so identical inputs always yield
// identical rows.
func Build(conversationID string, msgs []store.Message, cfg Config) ([]store.Chunk, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	text, blocks := render(msgs)
	if len(text) == 0 {
		return nil, nil
	}

	stride := cfg.TargetSize - cfg.Overlap
	var chunks []store.Chunk

	for start := 0; start < len(text); start += stride {
		end := start + cfg.TargetSize
		final := end >= len(text)
		if final {
			end = len(text)
			start = ensureHeader(blocks, start, end, cfg.TargetSize)
		}

		startTurn, endTurn := windowTurns(blocks, start, end)
		body := string(text[start:end])
		textHash := hashText(body)

		chunks = append(chunks, store.Chunk{
			ID:             chunkID(conversationID, startTurn, endTurn, cfg, textHash),
			ConversationID: conversationID,
			StartTurn:      startTurn,
			EndTurn:        endTurn,
			Text:           body,
			TextHash:       textHash,
			TargetSize:     cfg.TargetSize,
			Overlap:        cfg.Overlap,
		})

		if final {
			break
		}
	}
	return chunks, nil
}

// render concatenates messages as "## role" headed sections separated by a
// blank line, tracking each message's rune span.
func render(msgs []store.Message) ([]rune, []block) {
	var sb strings.Builder
	starts := make([]int, len(msgs))
	ends := make([]int, len(msgs))

	runeLen := 0
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
			runeLen += 2
		}
		starts[i] = runeLen
		section := "## " + m.Role + "\n" + m.ContentText
		sb.WriteString(section)
		runeLen += len([]rune(section))
		ends[i] = runeLen
	}

	blocks := make([]block, len(msgs))
	for i, m := range msgs {
		blocks[i] = block{turn: m.TurnIndex, start: starts[i], end: ends[i]}
	}
	return []rune(sb.String()), blocks
}

// windowTurns finds the first and last turn fully contained in [start, end).
// When nothing fits (one message longer than the window), both bounds fall
// back to the overlapping message(s).
func windowTurns(blocks []block, start, end int) (int, int) {
	firstFull, lastFull := -1, -1
	firstOverlap, lastOverlap := -1, -1

	for _, b := range blocks {
		if b.end <= start || b.start >= end {
			continue
		}
		if firstOverlap == -1 {
			firstOverlap = b.turn
		}
		lastOverlap = b.turn
		if b.start >= start && b.end <= end {
			if firstFull == -1 {
				firstFull = b.turn
			}
			lastFull = b.turn
		}
	}

	switch {
	case firstFull != -1:
		return firstFull, lastFull
	case firstOverlap != -1:
		return firstOverlap, lastOverlap
	default:
		return 0, 0
	}
}

// ensureHeader pulls the window start back to the closest preceding message
// header when no header begins inside [start, end). The pull-back is bounded
// by the target size, so a window deep inside one oversized message stays a
// window instead of swallowing the whole message.
func ensureHeader(blocks []block, start, end, target int) int {
	for _, b := range blocks {
		if b.start >= start && b.start < end {
			return start
		}
	}
	best := start
	for _, b := range blocks {
		if b.start <= start {
			best = b.start
		}
	}
	if floor := end - target; best < floor {
		best = floor
	}
	return best
}

func chunkID(conversationID string, startTurn, endTurn int, cfg Config, textHash string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%d:%d:%d:%s",
		conversationID, startTurn, endTurn, cfg.TargetSize, cfg.Overlap, textHash))
	return hex.EncodeToString(sum[:])
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Chunker rebuilds chunk rows from persisted messages.
type Chunker struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Chunker. logger may be nil.
func New(s *store.Store, logger *slog.Logger) *Chunker {
	logger = logging.Default(logger)
	return &Chunker{store: s, logger: logger.With("component", "chunker")}
}

// Rechunk rebuilds the chunk set for one conversation, replacing any prior
// set in the same transaction.
func (c *Chunker) Rechunk(ctx context.Context, conversationID string, cfg Config) (int, error) {
	msgs, err := c.store.GetMessages(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	chunks, err := Build(conversationID, msgs, cfg)
	if err != nil {
		return 0, err
	}
	if err := c.store.ReplaceChunks(ctx, conversationID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// RechunkAll rebuilds chunks for every conversation, one transaction each.
func (c *Chunker) RechunkAll(ctx context.Context, cfg Config) (int, error) {
	convs, err := c.store.AllConversations(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, conv := range convs {
		n, err := c.Rechunk(ctx, conv.ID, cfg)
		if err != nil {
			return total, fmt.Errorf("rechunk %q: %w", conv.ID, err)
		}
		total += n
	}
	c.logger.Info("rechunked corpus", "conversations", len(convs), "chunks", total)
	return total, nil
}
