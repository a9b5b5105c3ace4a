package llm

import (
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*)```")

// ExtractJSON returns the best-guess JSON substring in model output, trying
// in order: a fenced code block labeled json, the whole trimmed text if it
// is brace-delimited, and finally the widest substring between the first
// "{" and the last "}". Returns "" when nothing matches; callers must treat
// that as a hard parse failure, not an empty-but-valid payload.
func ExtractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}

	return ""
}
