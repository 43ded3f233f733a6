package reminder

import (
	"errors"
	"testing"
)

var knownIDs = map[int64]bool{1: true, 2: true, 3: true}

func TestParseBatch_PlainArray(t *testing.T) {
	batch, err := parseBatch(`[{"item_id":1,"message":"Due in 19 minutes"},{"item_id":2,"message":"Go!"}]`, knownIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 2 || batch[1] != "Due in 19 minutes" || batch[2] != "Go!" {
		t.Fatalf("unexpected batch: %v", batch)
	}
}

func TestParseBatch_FencedWithProse(t *testing.T) {
	raw := "Sure, here are your reminders:\n```json\n[\n  {\"item_id\": \"3\", \"message\": \"Time to ship [v2]\"}\n]\n```\nGood luck!"
	batch, err := parseBatch(raw, knownIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch[3] != "Time to ship [v2]" {
		t.Fatalf("unexpected batch: %v", batch)
	}
}

func TestParseBatch_ProseWithoutFence(t *testing.T) {
	raw := `Here you go: [{"task_id": 2, "message": "Due in 5 minutes"}] Stay sharp.`
	batch, err := parseBatch(raw, knownIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch[2] != "Due in 5 minutes" {
		t.Fatalf("unexpected batch: %v", batch)
	}
}

func TestParseBatch_SkipsInvalidEntries(t *testing.T) {
	raw := `[
		{"item_id": 1},
		{"message": "orphan"},
		{"item_id": 2, "message": ""},
		{"item_id": 99, "message": "unknown"},
		{"item_id": 3, "message": 42},
		{"item_id": "abc", "message": "bad id"},
		{"item_id": 1, "message": "kept"}
	]`
	batch, err := parseBatch(raw, knownIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 || batch[1] != "kept" {
		t.Fatalf("expected only item 1, got %v", batch)
	}
}

func TestParseBatch_SkipsNonObjectElements(t *testing.T) {
	batch, err := parseBatch(`[{"item_id":1,"message":"hi"}, "junk", 7, null, ["x"], {"item_id":2,"message":"there"}]`, knownIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 2 || batch[1] != "hi" || batch[2] != "there" {
		t.Fatalf("expected items 1 and 2, got %v", batch)
	}

	batch, err = parseBatch(`[1, 2, 3]`, knownIDs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %v", batch)
	}
}

func TestParseBatch_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot help with that.",
		`{"item_id": 1, "message": "object not array"}`,
		`[{"item_id": 1, "message": "unterminated"`,
	} {
		if _, err := parseBatch(raw, knownIDs); !errors.Is(err, ErrMalformedBatch) {
			t.Fatalf("expected ErrMalformedBatch for %q, got %v", raw, err)
		}
	}
}

func TestFindJSONBounds(t *testing.T) {
	s := `x ["a]", {"b": [1]}] y`
	start, end := findJSONBounds(s, '[')
	if start != 2 || s[start:end] != `["a]", {"b": [1]}]` {
		t.Fatalf("unexpected bounds %d..%d: %q", start, end, s[start:end])
	}
	if start, _ := findJSONBounds("no json", '['); start != -1 {
		t.Fatal("expected -1 for missing array")
	}
}
