package policy

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactText masks email addresses, card numbers and phone numbers in free
// text. Cards are masked before phones so long digit runs are not split.
func RedactText(input string) (string, bool) {
	out := input
	changed := false
	for _, r := range []struct {
		pattern *regexp.Regexp
		marker  string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactPII masks PII in a tool payload. JSON payloads are redacted string by
// string and values under identifier keys (id, ids, *_id, *Id) are kept
// verbatim; anything else is redacted as free text. An unchanged payload is
// returned byte for byte.
func RedactPII(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return RedactText(input)
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return RedactText(input)
	}
	doc, changed := redactValue(doc, false)
	if !changed {
		return input, false
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return RedactText(input)
	}
	return string(out), true
}

func redactValue(v any, identifier bool) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		changed := false
		for k, val := range t {
			if next, ok := redactValue(val, isIdentifierKey(k)); ok {
				t[k] = next
				changed = true
			}
		}
		return t, changed
	case []any:
		changed := false
		for i, val := range t {
			if next, ok := redactValue(val, identifier); ok {
				t[i] = next
				changed = true
			}
		}
		return t, changed
	case string:
		if identifier {
			return t, false
		}
		return RedactText(t)
	}
	return v, false
}

func isIdentifierKey(k string) bool {
	switch {
	case k == "id", k == "ids":
		return true
	case strings.HasSuffix(k, "_id"), strings.HasSuffix(k, "_ids"):
		return true
	case strings.HasSuffix(k, "Id"), strings.HasSuffix(k, "Ids"):
		return true
	}
	return false
}
