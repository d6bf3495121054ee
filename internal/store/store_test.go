package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), ModeReadWrite)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(id, rawHash string, texts ...string) (Conversation, []Message) {
	conv := Conversation{
		ID:        id,
		Title:     "conversation " + id,
		CreatedAt: 1700000000,
		UpdatedAt: 1700000100,
		RawHash:   rawHash,
	}
	msgs := make([]Message, len(texts))
	for i, text := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = Message{
			ID:          fmt.Sprintf("%s-m%d", id, i),
			Role:        role,
			ContentType: "text",
			ContentText: text,
			CreatedAt:   1700000000 + int64(i),
			TurnIndex:   i,
			TextHash:    fmt.Sprintf("hash-%s-%d", id, i),
		}
	}
	return conv, msgs
}

func mustReplace(t *testing.T, s *Store, conv Conversation, msgs []Message) {
	t.Helper()
	if err := s.ReplaceConversation(context.Background(), conv, msgs, 1700000200); err != nil {
		t.Fatalf("replace conversation %q: %v", conv.ID, err)
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing.db"), ModeReadOnly)
	if err == nil {
		// modernc defers file access to the first query.
		if _, qerr := s.Stats(context.Background()); qerr == nil {
			t.Error("read-only open of a missing database should not serve queries")
		}
		s.Close()
	}
}

func TestReplaceAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, msgs := testConversation("c1", "hash1", "hi", "hello")
	conv.DefaultModelSlug = "gpt-4o"
	conv.GizmoID = "g-123"
	conv.Meta = []byte{0x81, 0xa1, 0x78, 0x01} // msgpack {"x":1}
	mustReplace(t, s, conv, msgs)

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "conversation c1" || got.MessageCount != 2 {
		t.Errorf("unexpected conversation: %+v", got)
	}
	if got.DefaultModelSlug != "gpt-4o" || got.GizmoID != "g-123" {
		t.Errorf("optional fields lost: %+v", got)
	}
	if len(got.Meta) == 0 {
		t.Error("meta blob lost")
	}
	if got.IngestedAt == 0 {
		t.Error("ingested_at sentinel not set")
	}

	gotMsgs, err := s.GetMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(gotMsgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(gotMsgs))
	}
	for i, m := range gotMsgs {
		if m.TurnIndex != i {
			t.Errorf("message %d out of order: turn %d", i, m.TurnIndex)
		}
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetConversation(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHasIngested(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.HasIngested(ctx, "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("empty store should have no hashes")
	}

	conv, msgs := testConversation("c1", "hash1", "hi")
	mustReplace(t, s, conv, msgs)

	ok, err = s.HasIngested(ctx, "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("ingested hash not found")
	}
}

func TestReplaceConversationDropsPriorRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, msgs := testConversation("c1", "hash1", "one", "two", "three")
	mustReplace(t, s, conv, msgs)

	conv2, msgs2 := testConversation("c1", "hash2", "replacement")
	mustReplace(t, s, conv2, msgs2)

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.RawHash != "hash2" || got.MessageCount != 1 {
		t.Errorf("prior rows not replaced: %+v", got)
	}
	gotMsgs, err := s.GetMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotMsgs) != 1 || gotMsgs[0].ContentText != "replacement" {
		t.Errorf("messages not replaced: %+v", gotMsgs)
	}

	// FTS rows for the old messages must be gone.
	hits, err := s.Search(ctx, "three", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("stale FTS rows survived replacement: %+v", hits)
	}
}

func TestListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		conv, msgs := testConversation(fmt.Sprintf("c%d", i), fmt.Sprintf("hash%d", i), "text")
		conv.CreatedAt = int64(1000 + i)
		if i < 2 {
			conv.GizmoID = "g-shared"
		}
		if i == 3 {
			conv.Title = "needle in haystack"
		}
		mustReplace(t, s, conv, msgs)
	}

	all, err := s.ListConversations(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 conversations, got %d", len(all))
	}
	if all[0].CreatedAt < all[1].CreatedAt {
		t.Error("not ordered newest first")
	}

	paged, err := s.ListConversations(ctx, ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 2 || paged[0].ID != all[1].ID {
		t.Errorf("paging wrong: %+v", paged)
	}

	byTitle, err := s.ListConversations(ctx, ListOptions{TitleSearch: "needle"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTitle) != 1 || byTitle[0].ID != "c3" {
		t.Errorf("title filter wrong: %+v", byTitle)
	}

	byGizmo, err := s.ListConversations(ctx, ListOptions{GizmoID: "g-shared"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byGizmo) != 2 {
		t.Errorf("gizmo filter wrong: %+v", byGizmo)
	}
}

func TestSearchRanked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, msgs := testConversation("c1", "hash1", "hi there", "hello world")
	mustReplace(t, s, conv, msgs)
	conv2, msgs2 := testConversation("c2", "hash2", "ping", "pong")
	mustReplace(t, s, conv2, msgs2)

	hits, err := s.Search(ctx, "hello", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	h := hits[0]
	if h.ConversationID != "c1" || h.MessageID != "c1-m1" || h.Role != "assistant" {
		t.Errorf("wrong hit: %+v", h)
	}
	if h.Snippet == "" {
		t.Error("empty snippet")
	}
}

func TestSearchMultiTermUnordered(t *testing.T) {
	s := newTestStore(t)
	conv, msgs := testConversation("c1", "hash1", "world peace, hello everyone", "just hello")
	mustReplace(t, s, conv, msgs)

	// Both terms present but neither adjacent nor in query order.
	hits, err := s.Search(context.Background(), "hello world", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].MessageID != "c1-m0" {
		t.Errorf("wrong hit: %+v", hits[0])
	}
}

func TestSearchQuoteSanitization(t *testing.T) {
	s := newTestStore(t)
	conv, msgs := testConversation("c1", "hash1", `he said "hello" loudly`)
	mustReplace(t, s, conv, msgs)

	hits, err := s.Search(context.Background(), `"hello"`, 10)
	if err != nil {
		t.Fatalf("quoted search must not error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}
}

func TestSearchFallbackSubstring(t *testing.T) {
	s := newTestStore(t)
	conv, msgs := testConversation("c1", "hash1", "looking for under_score style text")
	mustReplace(t, s, conv, msgs)

	// Exercise the fallback path directly.
	hits, err := s.searchLike(context.Background(), "under_score", 10)
	if err != nil {
		t.Fatalf("fallback search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Rank != 0 {
		t.Errorf("fallback rank should be 0, got %f", hits[0].Rank)
	}
}

func TestReplaceChunksIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, msgs := testConversation("c1", "hash1", "some text")
	mustReplace(t, s, conv, msgs)

	chunks := []Chunk{
		{ID: "chunk-a", StartTurn: 0, EndTurn: 0, Text: "some text", TextHash: "th1", TargetSize: 2500, Overlap: 300},
		{ID: "chunk-b", StartTurn: 0, EndTurn: 0, Text: "more text", TextHash: "th2", TargetSize: 2500, Overlap: 300},
	}
	if err := s.ReplaceChunks(ctx, "c1", chunks); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceChunks(ctx, "c1", chunks); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListChunks(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks after re-run, got %d", len(got))
	}

	// New parameter set replaces the old one.
	if err := s.ReplaceChunks(ctx, "c1", chunks[:1]); err != nil {
		t.Fatal(err)
	}
	got, err = s.ListChunks(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "chunk-a" {
		t.Errorf("chunk replacement wrong: %+v", got)
	}
}

func TestChunksCascadeWithConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, msgs := testConversation("c1", "hash1", "text")
	mustReplace(t, s, conv, msgs)
	if err := s.ReplaceChunks(ctx, "c1", []Chunk{
		{ID: "chunk-a", StartTurn: 0, EndTurn: 0, Text: "text", TextHash: "th", TargetSize: 100, Overlap: 10},
	}); err != nil {
		t.Fatal(err)
	}

	conv2, msgs2 := testConversation("c1", "hash2", "new")
	mustReplace(t, s, conv2, msgs2)

	got, err := s.ListChunks(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("chunks should cascade away on replacement, got %+v", got)
	}
}

func TestProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertProject(ctx, Project{GizmoID: "g-1", GizmoType: "gpt", DisplayName: "Research"}); err != nil {
		t.Fatal(err)
	}
	// Upsert with empty display name keeps the prior one.
	if err := s.UpsertProject(ctx, Project{GizmoID: "g-1", GizmoType: "gpt"}); err != nil {
		t.Fatal(err)
	}

	p, err := s.GetProject(ctx, "g-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "Research" {
		t.Errorf("display name clobbered: %+v", p)
	}

	conv, msgs := testConversation("c1", "hash1", "text")
	conv.GizmoID = "g-1"
	mustReplace(t, s, conv, msgs)

	list, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ConversationCount != 1 {
		t.Errorf("project counts wrong: %+v", list)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, msgs := testConversation("c1", "hash1", "a", "b")
	mustReplace(t, s, conv, msgs)
	if err := s.UpsertProject(ctx, Project{GizmoID: "g-1", GizmoType: "gpt"}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Conversations: 1, Messages: 2, Chunks: 0, Projects: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
}
