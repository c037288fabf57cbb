package match

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldName(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"robobays", "summary_robobays"},
		{"llama3.1:8b", "summary_llama3_1_8b"},
		{"gpt-4o-mini", "summary_gpt-4o-mini"},
		{"org/model $v2", "summary_org_model__v2"},
		{"  spaced  ", "summary_spaced"},
		{"ｆｕｌｌ", "summary_full"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, FieldName(tt.model))
		})
	}
}

func TestFieldName_NeverCollidesWithReservedFields(t *testing.T) {
	for _, model := range []string{"", "match", "timeline", "time"} {
		name := FieldName(model)
		assert.NotContains(t, []string{FieldMatch, FieldTimeline, FieldTime, FieldSummary}, name)
	}
}

func TestRecord_EligibleFor(t *testing.T) {
	field := FieldName("m")

	tests := []struct {
		name     string
		record   Record
		expected bool
	}{
		{"timeline and no field", Record{"match": "a", "timeline": []any{map[string]any{"t": 1}}}, true},
		{"empty timeline", Record{"match": "a", "timeline": []any{}}, false},
		{"missing timeline", Record{"match": "a"}, false},
		{"already summarized", Record{"match": "a", "timeline": []any{1}, field: map[string]any{}}, false},
		{"other model summarized", Record{"match": "a", "timeline": []any{1}, FieldName("x"): map[string]any{}}, true},
		{"missing match", Record{"timeline": []any{1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.EligibleFor(field))
		})
	}
}

func TestRecord_Merge(t *testing.T) {
	r := Record{"match": "m1", "a": 1.0, "b": "keep"}
	r.Merge(Record{"c": 2.0, "a": 3.0})

	assert.Equal(t, Record{"match": "m1", "a": 3.0, "b": "keep", "c": 2.0}, r)

	r.Merge(Record{"b": nil, "match": nil})
	assert.Equal(t, Record{"match": "m1", "a": 3.0, "c": 2.0}, r)
}

func TestRecord_Time(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(1700), Record{"time": 1700.0}.Time())
	assert.Equal(t, int64(1700), Record{"time": int64(1700)}.Time())
	assert.Equal(t, when.UnixMilli(), Record{"time": when.Format(time.RFC3339)}.Time())
	assert.Equal(t, when.UnixMilli(), Record{"time": when}.Time())
	assert.Equal(t, int64(0), Record{}.Time())
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	original := Record{"match": "m1", "nested": map[string]any{"x": 1.0}}
	clone := original.Clone()
	clone["nested"].(map[string]any)["x"] = 2.0

	assert.Equal(t, 1.0, original["nested"].(map[string]any)["x"])
}

func TestRecord_JSONRoundTripKeepsTimeline(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"match":"m1","timeline":[{"t":1},{"t":2}]}`), &r))

	assert.Equal(t, "m1", r.Match())
	assert.Len(t, r.Timeline(), 2)
}

func TestNewResult(t *testing.T) {
	result := NewResult(map[string]any{"headline": "close game"}, "robobays", 1500*time.Millisecond)

	assert.Equal(t, "close game", result["headline"])
	assert.Equal(t, "robobays", result[ResultModel])
	assert.Equal(t, int64(1500), result[ResultProcessingTimeMs])
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("m1", Record{"timeline": []any{}}))
	assert.NoError(t, ValidateKey("m1", Record{"match": "m1"}))
	assert.Error(t, ValidateKey("", Record{}))
	assert.Error(t, ValidateKey("  ", Record{}))
	assert.Error(t, ValidateKey("m1", Record{"match": "m2"}))
	assert.Error(t, ValidateKey("m1", Record{"match": 12.0}))
}
