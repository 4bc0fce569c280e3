package llm

import (
	"strings"

	"github.com/goccy/go-json"
)

// DecodeJSON unmarshals an LLM response into dest, tolerating markdown
// code fences and surrounding prose. Any decode failure is reported to
// the caller, which treats it exactly like a call failure.
func DecodeJSON(response string, dest any) error {
	return json.Unmarshal([]byte(ExtractJSON(response)), dest)
}

// ExtractJSON pulls the first JSON object or array out of a response.
// Models sometimes wrap JSON in ```json fences or lead with a sentence
// even when asked for raw JSON.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}

	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	if end := strings.LastIndexByte(s, close); end > start {
		return s[start : end+1]
	}
	return s[start:]
}
