package audit

import (
	"encoding/json"
	"regexp"
)

// RedactionMarker replaces every sensitive value surfaced through Query.
const RedactionMarker = "[REDACTED]"

// sensitiveKey matches field names that must never leave the ledger boundary
// in clear form, at any nesting depth.
var sensitiveKey = regexp.MustCompile(`(?i)(secret|password|token|key|totp)`)

// RedactMap returns a deep copy of the input with every value under a
// sensitive key replaced by the redaction marker. Nested maps and slices are
// walked recursively; a sensitive key redacts its entire subtree.
func RedactMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for key, value := range in {
		if sensitiveKey.MatchString(key) {
			out[key] = RedactionMarker
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return RedactMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

// redactJSON redacts a JSON document held as a string. Documents that do not
// parse as objects are returned unchanged: the ledger only writes object
// payloads, so anything else predates the current schema.
func redactJSON(raw string) string {
	if raw == "" {
		return raw
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}

	encoded, err := json.Marshal(RedactMap(payload))
	if err != nil {
		return raw
	}
	return string(encoded)
}
