package output

import (
	"encoding/json"
	"time"

	"github.com/subtrack/subtrack/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatRecords renders records as a JSON array.
func (f *JSONFormatter) FormatRecords(records []core.RateLimitRecord, now time.Time) (string, error) {
	return f.marshal(views(records, now))
}

// FormatReset renders a reset summary as a JSON object.
func (f *JSONFormatter) FormatReset(summary ResetSummary) (string, error) {
	return f.marshal(summary)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
