// File: internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// fencedRegex extracts the body of a markdown code fence. Backticks are
// written as \x60 because raw strings cannot contain them.
var fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// ParseJSONResponse decodes a model response into T. It tolerates the
// usual formatting noise: markdown fences around the JSON and prose before
// or after it.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncate(payload, 500))
	}
	return &result, nil
}

// ExtractJSON returns the JSON object or array embedded in response, or the
// trimmed response when none can be located.
func ExtractJSON(response string) string {
	s := strings.TrimSpace(response)
	if m := fencedRegex.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}

	// Whichever bracket opens first decides between object and array.
	open := strings.IndexAny(s, "{[")
	if open == -1 {
		return s
	}
	closer := "}"
	if s[open] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= open {
		return s
	}
	return s[open : end+1]
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
