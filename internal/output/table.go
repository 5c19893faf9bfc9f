package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/subtrack/subtrack/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatRecords renders records as a table with a count footer.
func (f *TableFormatter) FormatRecords(records []core.RateLimitRecord, now time.Time) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Hits", "Reset", "Expires In"})

	for _, r := range records {
		t.AppendRow(table.Row{
			r.Key,
			r.TotalHits,
			r.ResetTime.UTC().Format(time.RFC3339),
			formatRemaining(r.ResetTime, now),
		})
	}

	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d record(s)", len(records))})
	return t.Render(), nil
}

// FormatReset renders a reset summary as a single line.
func (f *TableFormatter) FormatReset(summary ResetSummary) (string, error) {
	return resetSentence(summary), nil
}
