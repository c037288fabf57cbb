package match

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Well-known record fields
const (
	FieldMatch    = "match"
	FieldTimeline = "timeline"
	FieldSummary  = "summary"
	FieldTime     = "time"

	// Keys attached to every per-model result
	ResultModel            = "model"
	ResultProcessingTimeMs = "processingTimeMs"

	perModelPrefix = "summary_"
)

// Record is a stored match document. Apart from the well-known fields it
// carries arbitrary top-level keys written through the merge path.
type Record map[string]any

// Match returns the record's unique key, or "" when absent.
func (r Record) Match() string {
	s, _ := r[FieldMatch].(string)
	return s
}

// Timeline returns the timeline events. A missing or non-array timeline yields nil.
func (r Record) Timeline() []any {
	switch tl := r[FieldTimeline].(type) {
	case []any:
		return tl
	case []map[string]any:
		events := make([]any, len(tl))
		for i, e := range tl {
			events[i] = e
		}
		return events
	default:
		return nil
	}
}

// Time returns the record's recency timestamp in unix milliseconds.
// Numbers are taken as milliseconds, strings are parsed as RFC3339.
func (r Record) Time() int64 {
	return TimeValue(r[FieldTime])
}

// TimeValue converts a stored "time" value to unix milliseconds.
func TimeValue(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case time.Time:
		return t.UnixMilli()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli()
		}
	}
	return 0
}

// Has reports whether the record carries the given top-level field.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// EligibleFor reports whether the record still needs a summary under the
// per-model field: the timeline is non-empty and the field is absent.
func (r Record) EligibleFor(field string) bool {
	return r.Match() != "" && len(r.Timeline()) > 0 && !r.Has(field)
}

// Merge applies partial fields on top of the record (shallow). A nil value
// removes the key, except for "match" which is immutable.
func (r Record) Merge(partial Record) {
	for k, v := range partial {
		if v == nil {
			if k != FieldMatch {
				delete(r, k)
			}
			continue
		}
		r[k] = v
	}
}

// Clone returns a deep copy made through a JSON round trip, so callers can
// hand records out without sharing nested maps.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		// Non-JSON values only appear through programmer error; fall back to shallow.
		out := make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Record
	_ = json.Unmarshal(data, &out)
	return out
}

// FieldName maps a model identifier to the per-model record field that holds
// its result. Characters outside [A-Za-z0-9_-] become "_".
func FieldName(model string) string {
	model = norm.NFKC.String(strings.TrimSpace(model))
	var b strings.Builder
	b.WriteString(perModelPrefix)
	for _, c := range model {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// NewResult builds the stored per-model result from the parsed model output.
func NewResult(parsed map[string]any, model string, elapsed time.Duration) map[string]any {
	result := make(map[string]any, len(parsed)+2)
	for k, v := range parsed {
		result[k] = v
	}
	result[ResultModel] = model
	result[ResultProcessingTimeMs] = elapsed.Milliseconds()
	return result
}

// ValidateKey checks that key is usable and agrees with any "match" carried
// in the partial fields.
func ValidateKey(key string, partial Record) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("match key is required")
	}
	if v, ok := partial[FieldMatch]; ok {
		s, isString := v.(string)
		if !isString || s != key {
			return fmt.Errorf("match key %q does not agree with body match %v", key, v)
		}
	}
	return nil
}
