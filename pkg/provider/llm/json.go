package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON locates the first balanced JSON object in s and returns it as a
// RawMessage. Models frequently wrap structured replies in markdown fences or
// surround them with prose; this strips both.
//
// Returns ErrNoJSON (wrapped) when s contains no parseable object.
func ExtractJSON(s string) (json.RawMessage, error) {
	s = stripFences(s)

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoJSON, truncate(s, 120))
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, fmt.Errorf("%w: unbalanced object", ErrNoJSON)
				}
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: object never closes", ErrNoJSON)
}

// stripFences removes a single surrounding markdown code fence, with or
// without a language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(s[:nl])
		if len(tag) <= 8 {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
