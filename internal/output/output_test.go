package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/subtrack/subtrack/internal/core"
)

var renderNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func sampleRecords() []core.RateLimitRecord {
	return []core.RateLimitRecord{
		{Key: "auth:10.0.0.1", TotalHits: 5, ResetTime: renderNow.Add(10 * time.Minute)},
		{Key: "general:10.0.0|2", TotalHits: 1, ResetTime: renderNow.Add(-time.Minute)},
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":         FormatTable,
		"table":    FormatTable,
		"JSON":     FormatJSON,
		"yml":      FormatYAML,
		"yaml":     FormatYAML,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
	}
	for input, want := range cases {
		got, err := ParseFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseFormat("csv")
	require.Error(t, err)
}

func TestFormatExtension(t *testing.T) {
	assert.Equal(t, "json", FormatJSON.Extension())
	assert.Equal(t, "yaml", FormatYAML.Extension())
	assert.Equal(t, "md", FormatMarkdown.Extension())
	assert.Equal(t, "txt", FormatTable.Extension())
}

func TestJSONFormatterRecords(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatRecords(sampleRecords(), renderNow)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "auth:10.0.0.1", decoded[0]["key"])
	assert.Equal(t, float64(5), decoded[0]["total_hits"])
	assert.Equal(t, false, decoded[0]["expired"])
	assert.Equal(t, true, decoded[1]["expired"])
}

func TestJSONFormatterEmptyIsArray(t *testing.T) {
	rendered, err := (&JSONFormatter{}).FormatRecords(nil, renderNow)
	require.NoError(t, err)
	assert.Equal(t, "[]", rendered)
}

func TestYAMLFormatterReset(t *testing.T) {
	rendered, err := NewFormatter(FormatYAML).FormatReset(ResetSummary{Operation: "reset", Matched: 3, Deleted: 3})
	require.NoError(t, err)

	var decoded ResetSummary
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &decoded))
	assert.Equal(t, 3, decoded.Matched)
	assert.Equal(t, int64(3), decoded.Deleted)
	assert.False(t, decoded.DryRun)
}

func TestTableFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatRecords(sampleRecords(), renderNow)
	require.NoError(t, err)
	assert.Contains(t, rendered, "KEY")
	assert.Contains(t, rendered, "auth:10.0.0.1")
	assert.Contains(t, rendered, "10m0s")
	assert.Contains(t, rendered, "expired")

	line, err := NewFormatter(FormatTable).FormatReset(ResetSummary{Operation: "reset", Matched: 4, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "reset: would delete 4 rate limit record(s)", line)

	line, err = NewFormatter(FormatTable).FormatReset(ResetSummary{Operation: "cleanup", Deleted: 2})
	require.NoError(t, err)
	assert.Equal(t, "cleanup: deleted 2 rate limit record(s)", line)
}

func TestMarkdownFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown).FormatRecords(sampleRecords(), renderNow)
	require.NoError(t, err)
	assert.Contains(t, rendered, "| Key | Hits | Reset | Expires In |")
	assert.Contains(t, rendered, "general:10.0.0\\|2")
	assert.Contains(t, rendered, "**Total**: 2")

	empty, err := NewFormatter(FormatMarkdown).FormatRecords(nil, renderNow)
	require.NoError(t, err)
	assert.Contains(t, empty, "No stored rate limit state")
}
