package archive

import (
	"encoding/json"
	"strings"
	"testing"
)

func rawParts(parts ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(parts))
	for i, p := range parts {
		out[i] = json.RawMessage(p)
	}
	return out
}

// parseOne runs the parser over a JSON array with a single record.
func parseOne(t *testing.T, record string) Conversation {
	t.Helper()
	convs, res := parseAll(t, "["+record+"]")
	if res.FailedRecords != 0 {
		t.Fatalf("expected no failed records, got %d", res.FailedRecords)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	return convs[0]
}

func parseAll(t *testing.T, doc string) ([]Conversation, Result) {
	t.Helper()
	var convs []Conversation
	res, err := NewParser(nil).Parse(strings.NewReader(doc), func(c Conversation) error {
		convs = append(convs, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return convs, res
}

const basicRecord = `{
	"id": "conv-1",
	"title": "greeting",
	"create_time": 1700000000.5,
	"update_time": 1700000100,
	"current_node": "n2",
	"mapping": {
		"root": {"id": "root", "parent": null, "children": ["n1"], "message": null},
		"n1": {"id": "n1", "parent": "root", "children": ["n2"],
			"message": {"id": "m1", "author": {"role": "user"},
				"content": {"content_type": "text", "parts": ["hi"]}, "create_time": 100}},
		"n2": {"id": "n2", "parent": "n1", "children": [],
			"message": {"id": "m2", "author": {"role": "assistant"},
				"content": {"content_type": "text", "parts": ["hello"]}, "create_time": 200}}
	}
}`

func TestParseBasic(t *testing.T) {
	conv := parseOne(t, basicRecord)

	if conv.ID != "conv-1" || conv.Title != "greeting" {
		t.Errorf("identity mismatch: %+v", conv)
	}
	if conv.CreatedAt != 1700000000 || conv.UpdatedAt != 1700000100 {
		t.Errorf("timestamps mismatch: created=%d updated=%d", conv.CreatedAt, conv.UpdatedAt)
	}
	if conv.RawHash == "" {
		t.Error("raw hash not set")
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}

	for i, m := range conv.Messages {
		if m.TurnIndex != i {
			t.Errorf("message %d has turn index %d", i, m.TurnIndex)
		}
		if m.TextHash == "" {
			t.Errorf("message %d has no text hash", i)
		}
	}
	if conv.Messages[0].Role != RoleUser || conv.Messages[0].Text != "hi" {
		t.Errorf("first message: %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != RoleAssistant || conv.Messages[1].Text != "hello" {
		t.Errorf("second message: %+v", conv.Messages[1])
	}
	if conv.Messages[1].ParentID != "n1" {
		t.Errorf("parent id not preserved: %q", conv.Messages[1].ParentID)
	}
}

func TestParseBranchingFollowsCurrentNode(t *testing.T) {
	record := `{
		"id": "conv-branch",
		"title": "fork",
		"current_node": "leafA",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": ["a", "b"], "message": null},
			"a": {"id": "a", "parent": "root", "children": ["leafA"],
				"message": {"id": "a", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["path a"]}, "create_time": 100}},
			"b": {"id": "b", "parent": "root", "children": [],
				"message": {"id": "b", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["path b"]}, "create_time": 200}},
			"leafA": {"id": "leafA", "parent": "a", "children": [],
				"message": {"id": "leafA", "author": {"role": "assistant"},
					"content": {"content_type": "text", "parts": ["reply a"]}, "create_time": 300}}
		}
	}`
	conv := parseOne(t, record)

	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages on the current_node path, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Text != "path a" || conv.Messages[1].Text != "reply a" {
		t.Errorf("wrong path taken: %q / %q", conv.Messages[0].Text, conv.Messages[1].Text)
	}
	for _, m := range conv.Messages {
		if m.Text == "path b" {
			t.Error("abandoned branch was persisted")
		}
	}
}

func TestParseBranchingWithoutCurrentNode(t *testing.T) {
	// No current_node: the child with the latest timestamp wins.
	record := `{
		"id": "conv-nohint",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": ["a", "b"], "message": null},
			"a": {"id": "a", "parent": "root", "children": [],
				"message": {"id": "a", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["older"]}, "create_time": 100}},
			"b": {"id": "b", "parent": "root", "children": [],
				"message": {"id": "b", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["newer"]}, "create_time": 200}}
		}
	}`
	conv := parseOne(t, record)
	if len(conv.Messages) != 1 || conv.Messages[0].Text != "newer" {
		t.Fatalf("expected latest-timestamp child, got %+v", conv.Messages)
	}
}

func TestParseBranchingTieBreaksOnSmallestID(t *testing.T) {
	record := `{
		"id": "conv-tie",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": ["zz", "aa"], "message": null},
			"zz": {"id": "zz", "parent": "root", "children": [],
				"message": {"id": "zz", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["from zz"]}, "create_time": 100}},
			"aa": {"id": "aa", "parent": "root", "children": [],
				"message": {"id": "aa", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["from aa"]}, "create_time": 100}}
		}
	}`
	conv := parseOne(t, record)
	if len(conv.Messages) != 1 || conv.Messages[0].Text != "from aa" {
		t.Fatalf("expected smallest-id tie break, got %+v", conv.Messages)
	}
}

func TestParseSkipsEmptySystemKeepsTool(t *testing.T) {
	record := `{
		"id": "conv-roles",
		"current_node": "n3",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": ["n1"], "message": null},
			"n1": {"id": "n1", "parent": "root", "children": ["n2"],
				"message": {"id": "m1", "author": {"role": "system"},
					"content": {"content_type": "text", "parts": [""]}, "create_time": 1}},
			"n2": {"id": "n2", "parent": "n1", "children": ["n3"],
				"message": {"id": "m2", "author": {"role": "tool"},
					"content": {"content_type": "text", "parts": ["tool output"]}, "create_time": 2}},
			"n3": {"id": "n3", "parent": "n2", "children": [],
				"message": {"id": "m3", "author": {"role": "critic"},
					"content": {"content_type": "text", "parts": ["odd role"]}, "create_time": 3}}
		}
	}`
	conv := parseOne(t, record)

	if len(conv.Messages) != 2 {
		t.Fatalf("expected empty system node skipped, got %d messages", len(conv.Messages))
	}
	if conv.Messages[0].Role != RoleTool {
		t.Errorf("tool node not kept: %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != RoleUnknown {
		t.Errorf("unrecognized role not folded to unknown: %+v", conv.Messages[1])
	}
	if conv.Messages[0].TurnIndex != 0 || conv.Messages[1].TurnIndex != 1 {
		t.Error("turn indexes not dense after skip")
	}
}

func TestParseMalformedRecordSkipped(t *testing.T) {
	doc := `[{"title": "no id or mapping"}, ` + basicRecord + `]`
	convs, res := parseAll(t, doc)

	if res.FailedRecords != 1 {
		t.Errorf("expected 1 failed record, got %d", res.FailedRecords)
	}
	if res.Conversations != 1 || len(convs) != 1 {
		t.Errorf("good record should survive: %+v", res)
	}
}

func TestParseMissingTimestampsDefaultToZero(t *testing.T) {
	record := `{
		"id": "conv-nots",
		"mapping": {
			"root": {"id": "root", "parent": null, "children": ["n1"], "message": null},
			"n1": {"id": "n1", "parent": "root", "children": [],
				"message": {"id": "m1", "author": {"role": "user"},
					"content": {"content_type": "text", "parts": ["hi"]}}}
		}
	}`
	conv := parseOne(t, record)
	if conv.CreatedAt != 0 || conv.UpdatedAt != 0 {
		t.Errorf("missing conversation timestamps should be 0, got %d/%d", conv.CreatedAt, conv.UpdatedAt)
	}
	if conv.Messages[0].CreatedAt != 0 {
		t.Errorf("missing message timestamp should be 0, got %d", conv.Messages[0].CreatedAt)
	}
}

func TestRawHashIgnoresKeyOrder(t *testing.T) {
	a := parseOne(t, `{"id": "c", "title": "t", "mapping": {"root": {"id": "root", "parent": null, "children": [],
		"message": {"id": "m", "author": {"role": "user"}, "content": {"content_type": "text", "parts": ["x"]}}}}}`)
	b := parseOne(t, `{"title": "t", "mapping": {"root": {"children": [], "parent": null, "id": "root",
		"message": {"author": {"role": "user"}, "id": "m", "content": {"parts": ["x"], "content_type": "text"}}}}, "id": "c"}`)

	if a.RawHash != b.RawHash {
		t.Errorf("hash should be order-independent: %s vs %s", a.RawHash, b.RawHash)
	}
}

func TestRawHashDistinguishesContent(t *testing.T) {
	a := parseOne(t, basicRecord)
	b := parseOne(t, strings.Replace(basicRecord, `"hello"`, `"goodbye"`, 1))
	if a.RawHash == b.RawHash {
		t.Error("different records must hash differently")
	}
}

func TestParseMetaSideChannel(t *testing.T) {
	record := `{
		"id": "conv-meta",
		"is_archived": true,
		"moderation_results": [],
		"mapping": {"root": {"id": "root", "parent": null, "children": [],
			"message": {"id": "m", "author": {"role": "user"}, "content": {"content_type": "text", "parts": ["x"]}}}}
	}`
	conv := parseOne(t, record)

	if conv.Meta == nil {
		t.Fatal("meta side channel not captured")
	}
	if v, ok := conv.Meta["is_archived"].(bool); !ok || !v {
		t.Errorf("is_archived not preserved: %v", conv.Meta["is_archived"])
	}
	if _, ok := conv.Meta["mapping"]; ok {
		t.Error("documented fields must not leak into meta")
	}

	blob, err := EncodeMeta(conv.Meta)
	if err != nil {
		t.Fatalf("EncodeMeta: %v", err)
	}
	back, err := DecodeMeta(blob)
	if err != nil {
		t.Fatalf("DecodeMeta: %v", err)
	}
	if v, ok := back["is_archived"].(bool); !ok || !v {
		t.Errorf("meta did not round-trip: %v", back)
	}
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name string
		in   rawContent
		want string
	}{
		{
			"two text parts",
			rawContent{ContentType: "text", Parts: rawParts(`"one"`, `"two"`)},
			"one\n\ntwo",
		},
		{
			"non-text part marker",
			rawContent{ContentType: "multimodal_text", Parts: rawParts(`{"content_type": "image_asset_pointer"}`, `"caption"`)},
			"[content_type: image_asset_pointer]\n\ncaption",
		},
		{
			"code content",
			rawContent{ContentType: "code", Text: "print('hi')"},
			"[content_type: code]\nprint('hi')",
		},
		{
			"trailing whitespace trimmed",
			rawContent{ContentType: "text", Parts: rawParts(`"line one   \nline two\t"`)},
			"line one\nline two",
		},
		{
			"empty",
			rawContent{ContentType: "text"},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flattenContent(tt.in); got != tt.want {
				t.Errorf("flattenContent() = %q, want %q", got, tt.want)
			}
		})
	}
}
