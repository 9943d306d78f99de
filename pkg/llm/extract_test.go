package llm

import "testing"

func TestExtractJSONDirect(t *testing.T) {
	raw, ok := ExtractJSON(`{"name":"Ada","age":36}`)
	if !ok {
		t.Fatal("expected a parse")
	}
	if string(raw) != `{"name":"Ada","age":36}` {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the data you asked for:\n```json\n{\"items\": [1, 2, 3]}\n```\nAnything else?"
	raw, ok := ExtractJSON(text)
	if !ok {
		t.Fatal("expected a parse")
	}
	if string(raw) != `{"items": [1, 2, 3]}` {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONEmbeddedObject(t *testing.T) {
	text := `The result is {"ok": true, "note": "has } inside a string"} as requested.`
	raw, ok := ExtractJSON(text)
	if !ok {
		t.Fatal("expected a parse")
	}
	if string(raw) != `{"ok": true, "note": "has } inside a string"}` {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONArray(t *testing.T) {
	raw, ok := ExtractJSON(`Top picks: ["a", "b"]`)
	if !ok {
		t.Fatal("expected a parse")
	}
	if string(raw) != `["a", "b"]` {
		t.Errorf("unexpected raw: %s", raw)
	}
}

func TestExtractJSONNone(t *testing.T) {
	for _, text := range []string{
		"no structured data here",
		"unbalanced {brace",
		"",
		"plain scalar: 42",
	} {
		if _, ok := ExtractJSON(text); ok {
			t.Errorf("text %q should not parse", text)
		}
	}
}
