package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON finds a JSON object or array inside completion text.
// It tries the whole text first, then fenced code blocks, then the
// outermost brace or bracket pair. Returns false when nothing parses.
func ExtractJSON(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if raw, ok := tryParse(trimmed); ok {
		return raw, true
	}

	if block, ok := fencedBlock(trimmed); ok {
		if raw, ok := tryParse(block); ok {
			return raw, true
		}
	}

	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		if span, ok := outermostSpan(trimmed, pair[0], pair[1]); ok {
			if raw, ok := tryParse(span); ok {
				return raw, true
			}
		}
	}

	return nil, false
}

func tryParse(s string) (json.RawMessage, bool) {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var probe any
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	switch probe.(type) {
	case map[string]any, []any:
		return json.RawMessage(s), true
	}
	return nil, false
}

func fencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	// Skip a language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// outermostSpan returns the substring from the first open to its
// matching close, tracking nesting and string literals.
func outermostSpan(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
