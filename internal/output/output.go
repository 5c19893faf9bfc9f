package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/subtrack/subtrack/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders stored rate limit state.
type Formatter interface {
	FormatRecords(records []core.RateLimitRecord, now time.Time) (string, error)
	FormatReset(summary ResetSummary) (string, error)
}

// ResetSummary is the outcome of a reset or cleanup run.
type ResetSummary struct {
	Operation string `json:"operation" yaml:"operation"`
	Matched   int    `json:"matched" yaml:"matched"`
	Deleted   int64  `json:"deleted" yaml:"deleted"`
	DryRun    bool   `json:"dry_run" yaml:"dry_run"`
}

// recordView is the serialized shape of a record, with expiry resolved
// against the render time.
type recordView struct {
	Key       string    `json:"key" yaml:"key"`
	TotalHits int64     `json:"total_hits" yaml:"total_hits"`
	ResetTime time.Time `json:"reset_time" yaml:"reset_time"`
	Expired   bool      `json:"expired" yaml:"expired"`
}

func views(records []core.RateLimitRecord, now time.Time) []recordView {
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		out = append(out, recordView{
			Key:       r.Key,
			TotalHits: r.TotalHits,
			ResetTime: r.ResetTime.UTC(),
			Expired:   r.Expired(now),
		})
	}
	return out
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension used when writing format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func resetSentence(s ResetSummary) string {
	op := s.Operation
	if op == "" {
		op = "reset"
	}
	if s.DryRun {
		return fmt.Sprintf("%s: would delete %d rate limit record(s)", op, s.Matched)
	}
	if s.Matched > 0 {
		return fmt.Sprintf("%s: deleted %d/%d rate limit record(s)", op, s.Deleted, s.Matched)
	}
	return fmt.Sprintf("%s: deleted %d rate limit record(s)", op, s.Deleted)
}

func formatRemaining(reset, now time.Time) string {
	if !now.Before(reset) {
		return "expired"
	}
	return reset.Sub(now).Round(time.Second).String()
}
