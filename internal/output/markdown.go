package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/subtrack/subtrack/internal/core"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatRecords renders records as a Markdown table.
func (f *MarkdownFormatter) FormatRecords(records []core.RateLimitRecord, now time.Time) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limits\n\n")
	if len(records) == 0 {
		sb.WriteString("_No stored rate limit state._\n")
		return sb.String(), nil
	}

	sb.WriteString("| Key | Hits | Reset | Expires In |\n")
	sb.WriteString("|-----|------|-------|------------|\n")
	for _, r := range records {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n",
			escapeMarkdownCell(r.Key),
			r.TotalHits,
			r.ResetTime.UTC().Format(time.RFC3339),
			formatRemaining(r.ResetTime, now),
		))
	}
	sb.WriteString(fmt.Sprintf("\n**Total**: %d\n", len(records)))
	return sb.String(), nil
}

// FormatReset renders a reset summary as a Markdown paragraph.
func (f *MarkdownFormatter) FormatReset(summary ResetSummary) (string, error) {
	return fmt.Sprintf("**%s**\n", resetSentence(summary)), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
