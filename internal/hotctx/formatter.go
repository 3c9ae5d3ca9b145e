package hotctx

import (
	"strings"
)

// FormatSystemPrompt appends the prior-context briefing in hctx to the base
// instruction. Empty sections are omitted entirely rather than rendering as
// empty headers; a nil or empty hctx yields the trimmed base unchanged.
//
// The formatter is pure and safe for concurrent use.
func FormatSystemPrompt(base string, hctx *HotContext) string {
	base = strings.TrimSpace(base)
	if hctx == nil {
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)

	if s := strings.TrimSpace(hctx.RecentSummary); s != "" {
		sb.WriteString("\n\n## Last Conversation\n")
		sb.WriteString(s)
	}

	var lines []string
	for _, sn := range hctx.Snippets {
		if c := strings.TrimSpace(sn.Content); c != "" {
			lines = append(lines, "- "+c)
		}
	}
	if len(lines) > 0 {
		sb.WriteString("\n\n## What You Remember About The User\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}

	return strings.TrimSpace(sb.String())
}
