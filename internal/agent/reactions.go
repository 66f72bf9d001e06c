package agent

import (
	"regexp"
	"strings"
)

// Personas can ask for emoji reactions on the triggering message by
// embedding [react: X] tags in their response text.
var reactionTag = regexp.MustCompile(`\[react:\s*([^\]\s]+)\s*\]`)

// extractReactions strips reaction tags from the response and returns the
// cleaned text plus the requested emojis (capped to avoid tag spam).
func extractReactions(text string) (string, []string) {
	matches := reactionTag.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	const maxReactions = 3
	reactions := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(reactions) >= maxReactions {
			break
		}
		reactions = append(reactions, m[1])
	}

	cleaned := reactionTag.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(cleaned)
	return cleaned, reactions
}
