package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Truncate shrinks a tool result to at most target bytes for storage in
// conversation state. JSON arrays are cut item-wise so the model still sees
// well-formed leading entries plus a count of what was dropped; anything
// else is cut as text. The marker always survives, so a truncated result is
// recognizable as such.
func Truncate(s string, target int) string {
	if len(s) <= target {
		return s
	}
	if out, ok := truncateJSONArray(s, target); ok {
		return out
	}
	return truncateText(s, target)
}

func truncateText(s string, target int) string {
	marker := fmt.Sprintf(" ...[truncated, %d chars omitted]", len(s))
	keep := target - len(marker)
	if keep < 0 {
		keep = 0
	}
	return s[:keep] + marker
}

// truncateJSONArray handles results that are a JSON array, keeping leading
// items while the re-marshaled form fits under target.
func truncateJSONArray(s string, target int) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "[") {
		return "", false
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return "", false
	}

	for keep := len(items) - 1; keep >= 0; keep-- {
		kept, err := json.Marshal(items[:keep])
		if err != nil {
			return "", false
		}
		marker := fmt.Sprintf(" ...[truncated, %d of %d items omitted]", len(items)-keep, len(items))
		if len(kept)+len(marker) <= target {
			return string(kept) + marker, true
		}
	}
	return "", false
}
