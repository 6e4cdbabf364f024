package executor

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// ExtractOutput interprets model text as structured output. It prefers a
// fenced ```json block, then the whole text as JSON, and finally returns the
// text unchanged. It never fails.
func ExtractOutput(text string) any {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &v); err == nil {
			return v
		}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}

	return text
}
