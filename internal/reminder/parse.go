package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedBatch is returned when generator output is not a JSON array of
// reminder objects.
var ErrMalformedBatch = errors.New("malformed reminder batch")

// ParsedBatch maps item IDs to generated reminder texts.
type ParsedBatch map[int64]string

// parseBatch extracts reminders from generator output. Accepted shapes:
//   - Pure JSON: `[{"item_id":1,"message":"..."}]`
//   - Code-fenced: ```json\n[...]\n```
//   - Wrapped in prose: `Here you go:\n[...]\nGood luck!`
//
// Elements that are not objects, entries missing either key, entries with an
// empty message and entries with an ID outside known are dropped. "task_id"
// is accepted as an alias for "item_id".
func parseBatch(raw string, known map[int64]bool) (ParsedBatch, error) {
	content := stripFences(strings.TrimSpace(raw))
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedBatch)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(content), &entries); err != nil {
		start, end := findJSONBounds(content, '[')
		if start < 0 {
			return nil, fmt.Errorf("%w: no JSON array found", ErrMalformedBatch)
		}
		if err := json.Unmarshal([]byte(content[start:end]), &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
	}

	batch := make(ParsedBatch, len(entries))
	for _, raw := range entries {
		var e map[string]json.RawMessage
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		idRaw, ok := e["item_id"]
		if !ok {
			idRaw, ok = e["task_id"]
		}
		msgRaw, hasMsg := e["message"]
		if !ok || !hasMsg {
			continue
		}
		id, err := parseItemID(idRaw)
		if err != nil || !known[id] {
			continue
		}
		var msg string
		if err := json.Unmarshal(msgRaw, &msg); err != nil {
			continue
		}
		msg = strings.TrimSpace(msg)
		if msg == "" {
			continue
		}
		if _, dup := batch[id]; dup {
			continue
		}
		batch[id] = msg
	}
	return batch, nil
}

// parseItemID accepts a JSON number or a numeric string.
func parseItemID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// stripFences returns the body of the first markdown code fence in s, or s
// unchanged when it has none.
func stripFences(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return s
	}
	body := s[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// drop the info string ("json", "JSON", ...)
		if !strings.ContainsAny(body[:nl], "[{") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// findJSONBounds locates the first balanced JSON value in s opening with
// open ('[' or '{'). Returns the start index and end+1 index, or (-1, -1).
func findJSONBounds(s string, open byte) (int, int) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return -1, -1
	}
	closeChar := byte(']')
	if open == '{' {
		closeChar = '}'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}
