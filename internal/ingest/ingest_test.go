package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"exportstudio/internal/store"
)

func record(id, text string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"title": "conversation %s",
		"create_time": 1700000000,
		"update_time": 1700000100,
		"current_node": "n2",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": ["n1"], "message": null},
			"n1": {"id": "n1", "parent": "root", "children": ["n2"],
				"message": {"id": "%s-m1", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": [%q]}, "create_time": 100}},
			"n2": {"id": "n2", "parent": "n1", "children": [],
				"message": {"id": "%s-m2", "author": {"role": "assistant"},
					"content": {"content_type": "text", "parts": ["reply to %s"]}, "create_time": 200}}
		}
	}`, id, id, id, text, id, id)
}

func writeArchive(t *testing.T, records ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "conversations.json")
	doc := "["
	for i, r := range records {
		if i > 0 {
			doc += ","
		}
		doc += r
	}
	doc += "]"
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.ModeReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIngestBasic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := writeArchive(t, record("c1", "hi"), record("c2", "ping"))

	res, err := New(s, nil).Ingest(ctx, p, Options{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	want := Result{ConversationsAdded: 2, MessagesAdded: 4}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Conversations != 2 || st.Messages != 4 {
		t.Errorf("stats = %+v", st)
	}

	msgs, err := s.GetMessages(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range msgs {
		if m.TurnIndex != i {
			t.Errorf("turn index %d at position %d", m.TurnIndex, i)
		}
	}

	hits, err := s.Search(ctx, "hi", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ConversationID != "c1" {
		t.Errorf("search after ingest: %+v", hits)
	}
}

func TestIngestIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := writeArchive(t, record("c1", "hi"), record("c2", "ping"))
	ing := New(s, nil)

	if _, err := ing.Ingest(ctx, p, Options{}); err != nil {
		t.Fatal(err)
	}
	res, err := ing.Ingest(ctx, p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 2 || res.ConversationsAdded != 0 {
		t.Errorf("second run should skip everything: %+v", res)
	}

	st, _ := s.Stats(ctx)
	if st.Conversations != 2 || st.Messages != 4 {
		t.Errorf("row counts changed on re-ingest: %+v", st)
	}
}

func TestIngestForceReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ing := New(s, nil)

	if _, err := ing.Ingest(ctx, writeArchive(t, record("c1", "hi")), Options{}); err != nil {
		t.Fatal(err)
	}
	res, err := ing.Ingest(ctx, writeArchive(t, record("c1", "hi")), Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.ConversationsAdded != 1 || res.Skipped != 0 {
		t.Errorf("force should re-ingest: %+v", res)
	}

	st, _ := s.Stats(ctx)
	if st.Conversations != 1 || st.Messages != 2 {
		t.Errorf("force created duplicates: %+v", st)
	}
}

func TestIngestMalformedRecordCounted(t *testing.T) {
	s := newTestStore(t)
	p := writeArchive(t, `{"title": "broken"}`, record("c1", "hi"))

	res, err := New(s, nil).Ingest(context.Background(), p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.FailedRecords != 1 || res.ConversationsAdded != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngestWithChunking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := writeArchive(t, record("c1", "hi"))

	if _, err := New(s, nil).Ingest(ctx, p, Options{Chunk: true}); err != nil {
		t.Fatal(err)
	}
	chunks, err := s.ListChunks(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Error("chunks not built during ingest")
	}
}

func TestIngestRejectsOverlap(t *testing.T) {
	s := newTestStore(t)
	ing := New(s, nil)

	// Simulate a run in flight.
	if !ing.busy.CompareAndSwap(false, true) {
		t.Fatal("fresh ingestor should be idle")
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		_, err := ing.Ingest(context.Background(), "whatever.json", Options{})
		if !errors.Is(err, ErrIngestInProgress) {
			t.Errorf("expected ErrIngestInProgress, got %v", err)
		}
	})
	wg.Wait()
	ing.busy.Store(false)
}

func TestIngestUpsertsProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := `{
		"id": "c1",
		"title": "with gizmo",
		"gizmo_id": "g-abc",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": [],
				"message": {"id": "m1", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["hello"]}}}
		}
	}`
	if _, err := New(s, nil).Ingest(ctx, writeArchive(t, rec), Options{}); err != nil {
		t.Fatal(err)
	}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0].GizmoID != "g-abc" || projects[0].ConversationCount != 1 {
		t.Errorf("projects = %+v", projects)
	}
}
