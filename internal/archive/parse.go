package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"exportstudio/internal/logging"
)

// known top-level conversation fields; everything else lands in Meta.
var knownFields = map[string]bool{
	"id":                 true,
	"conversation_id":    true,
	"title":              true,
	"create_time":        true,
	"update_time":        true,
	"default_model_slug": true,
	"gizmo_id":           true,
	"current_node":       true,
	"mapping":            true,
}

// rawConversation mirrors the export record shape.
type rawConversation struct {
	ID               string             `json:"id"`
	ConversationID   string             `json:"conversation_id"`
	Title            string             `json:"title"`
	CreateTime       float64            `json:"create_time"`
	UpdateTime       float64            `json:"update_time"`
	DefaultModelSlug string             `json:"default_model_slug"`
	GizmoID          string             `json:"gizmo_id"`
	CurrentNode      string             `json:"current_node"`
	Mapping          map[string]rawNode `json:"mapping"`
}

type rawNode struct {
	ID       string      `json:"id"`
	Parent   *string     `json:"parent"`
	Children []string    `json:"children"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	ID         string     `json:"id"`
	Author     rawAuthor  `json:"author"`
	Content    rawContent `json:"content"`
	CreateTime *float64   `json:"create_time"`
}

type rawAuthor struct {
	Role string `json:"role"`
}

type rawContent struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts"`
	Text        string            `json:"text"`
	Language    string            `json:"language"`
}

// Parser streams conversation records out of a raw conversations JSON document.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. logger may be nil.
func NewParser(logger *slog.Logger) *Parser {
	logger = logging.Default(logger)
	return &Parser{logger: logger.With("component", "archive")}
}

// Parse decodes the top-level conversation array from r, yielding each
// successfully normalized conversation to fn. Malformed records are skipped
// and counted; a non-nil error from fn aborts the run.
func (p *Parser) Parse(r io.Reader, fn func(Conversation) error) (Result, error) {
	var res Result

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return res, fmt.Errorf("read conversations document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return res, fmt.Errorf("conversations document is not a JSON array (got %v)", tok)
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return res, fmt.Errorf("read conversation record: %w", err)
		}

		conv, err := p.parseRecord(raw)
		if err != nil {
			res.FailedRecords++
			p.logger.Warn("skipping malformed conversation record", "error", err)
			continue
		}

		res.Conversations++
		if err := fn(conv); err != nil {
			return res, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return res, fmt.Errorf("read conversations document close: %w", err)
	}
	return res, nil
}

// parseRecord normalizes a single source record: identity, timestamps,
// canonical hash, meta side channel, and the linearized message sequence.
func (p *Parser) parseRecord(raw json.RawMessage) (Conversation, error) {
	var rec rawConversation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Conversation{}, fmt.Errorf("decode record: %w", err)
	}

	id := rec.ID
	if id == "" {
		id = rec.ConversationID
	}
	if id == "" {
		return Conversation{}, fmt.Errorf("record has no id")
	}
	if len(rec.Mapping) == 0 {
		return Conversation{}, fmt.Errorf("record %q has no mapping", id)
	}

	rawHash, err := canonicalHash(raw)
	if err != nil {
		return Conversation{}, fmt.Errorf("hash record %q: %w", id, err)
	}

	meta, err := extractMeta(raw)
	if err != nil {
		return Conversation{}, fmt.Errorf("extract meta for %q: %w", id, err)
	}

	conv := Conversation{
		ID:               id,
		Title:            rec.Title,
		CreatedAt:        int64(rec.CreateTime),
		UpdatedAt:        int64(rec.UpdateTime),
		DefaultModelSlug: rec.DefaultModelSlug,
		GizmoID:          rec.GizmoID,
		RawHash:          rawHash,
		Meta:             meta,
	}

	conv.Messages = linearize(rec.Mapping, rec.CurrentNode)
	return conv, nil
}

// extractMeta collects top-level fields outside the documented record shape.
// Returns nil when the record has no extra fields.
func extractMeta(raw json.RawMessage) (map[string]any, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}

	var meta map[string]any
	for k, v := range all {
		if knownFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", k, err)
		}
		if meta == nil {
			meta = make(map[string]any)
		}
		meta[k] = val
	}
	return meta, nil
}

// canonicalHash computes the sha256 of a canonical re-serialization of the
// record: object keys sorted, insignificant whitespace removed. Numbers pass
// through verbatim via json.Number so the digest is stable across runs.
func canonicalHash(raw json.RawMessage) (string, error) {
	canon, err := canonicalJSON(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys and emits compact output.
	return json.Marshal(v)
}

// hashText returns the hex sha256 of s.
func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
