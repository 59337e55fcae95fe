package core

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of free-form model output.
//
// When marker is non-empty and present, only text after its first occurrence
// is considered. Within that window the span from the first '{' to the last
// '}' is parsed. The span is located greedily, not by brace matching: a
// trailing unrelated '}' after the payload makes the parse fail and the
// caller falls back to defaults.
func ExtractJSON(text, marker string) (map[string]interface{}, error) {
	if marker != "" {
		if idx := strings.Index(text, marker); idx >= 0 {
			text = text[idx+len(marker):]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end < start {
		return nil, &ExtractionError{Reason: "no JSON object found"}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, &ExtractionError{Reason: err.Error()}
	}
	return parsed, nil
}
