package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestExtractJSON_PlainObject extracts a bare JSON object unchanged.
func TestExtractJSON_PlainObject(t *testing.T) {
	raw, err := ExtractJSON(`{"score": 7, "feedback": "solid"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Score != 7 {
		t.Errorf("expected score 7, got %d", got.Score)
	}
}

// TestExtractJSON_MarkdownFence strips ```json fences around the object.
func TestExtractJSON_MarkdownFence(t *testing.T) {
	input := "```json\n{\"verdict\": \"human\"}\n```"
	raw, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"verdict": "human"}` {
		t.Errorf("unexpected extraction: %s", raw)
	}
}

// TestExtractJSON_SurroundingProse finds the object inside chatty output.
func TestExtractJSON_SurroundingProse(t *testing.T) {
	input := `Sure! Here is the evaluation you asked for: {"score": 4} Hope that helps.`
	raw, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"score": 4}` {
		t.Errorf("unexpected extraction: %s", raw)
	}
}

// TestExtractJSON_NestedObjects keeps nested braces balanced.
func TestExtractJSON_NestedObjects(t *testing.T) {
	input := `{"outer": {"inner": {"deep": true}}, "list": [1, 2]}`
	raw, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != input {
		t.Errorf("expected full object back, got %s", raw)
	}
}

// TestExtractJSON_BracesInsideStrings ignores braces inside string values.
func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	input := `{"feedback": "use { and } sparingly", "escaped": "a \"quote\" here"}`
	raw, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != input {
		t.Errorf("expected full object back, got %s", raw)
	}
}

// TestExtractJSON_NoObject reports ErrNoJSON when there is nothing to extract.
func TestExtractJSON_NoObject(t *testing.T) {
	_, err := ExtractJSON("I cannot answer that in JSON form, sorry.")
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

// TestExtractJSON_UnterminatedObject reports ErrNoJSON for a cut-off reply.
func TestExtractJSON_UnterminatedObject(t *testing.T) {
	_, err := ExtractJSON(`{"score": 7, "feedback": "truncat`)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}
