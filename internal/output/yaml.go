package output

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/subtrack/subtrack/internal/core"
)

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatRecords(records []core.RateLimitRecord, now time.Time) (string, error) {
	data, err := yaml.Marshal(views(records, now))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *YAMLFormatter) FormatReset(summary ResetSummary) (string, error) {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
