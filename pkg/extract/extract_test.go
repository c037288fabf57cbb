package extract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_RecoversEmbeddedObject(t *testing.T) {
	original := map[string]any{
		"headline": "Blue team wins",
		"score":    3.0,
		"players":  []any{"a", "b"},
		"nested":   map[string]any{"mvp": map[string]any{"name": "x"}},
	}
	body, err := json.Marshal(original)
	require.NoError(t, err)

	wrappers := []struct {
		name   string
		prefix string
		suffix string
	}{
		{"bare", "", ""},
		{"prose around", "Here is the summary you asked for:\n", "\nLet me know if you need more."},
		{"markdown fence", "```json\n", "\n```"},
		{"whitespace", "\n\n   ", "   \n"},
	}

	for _, w := range wrappers {
		t.Run(w.name, func(t *testing.T) {
			parsed, err := JSON(w.prefix + string(body) + w.suffix)
			require.NoError(t, err)
			assert.Equal(t, original, parsed)
		})
	}
}

func TestJSON_NoDelimitersIsEmptyNotError(t *testing.T) {
	for _, raw := range []string{"", "no json here", "only } closing", "} backwards {"} {
		t.Run(raw, func(t *testing.T) {
			parsed, err := JSON(raw)
			require.NoError(t, err)
			assert.NotNil(t, parsed)
			assert.Empty(t, parsed)
		})
	}
}

func TestJSON_MalformedInteriorIsContained(t *testing.T) {
	tests := []string{
		`{"headline": "unterminated}`,
		`Sure! {headline: no quotes}`,
		`{"a": 1,}`,
		`{"a": [1, 2}`,
	}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			var parsed map[string]any
			var err error
			assert.NotPanics(t, func() { parsed, err = JSON(raw) })
			require.Error(t, err)
			assert.Nil(t, parsed)
			assert.True(t, errors.Is(err, ErrMalformed))

			var extractErr *Error
			require.True(t, errors.As(err, &extractErr))
			assert.NotEmpty(t, extractErr.Span)
		})
	}
}

func TestJSON_StrayBraceInProseMisSpans(t *testing.T) {
	// First "{" belongs to the prose, so the span is not valid JSON.
	_, err := JSON(`Use {braces} carefully. {"headline": "x"}`)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestJSON_NullObjectBecomesEmpty(t *testing.T) {
	parsed, err := JSON("{}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, parsed)
}

func TestPlaceholder(t *testing.T) {
	_, err := JSON(`{"a":}`)
	require.Error(t, err)

	placeholder := Placeholder(err)
	assert.Contains(t, placeholder["error"], "malformed JSON")
	assert.Equal(t, map[string]any{"error": "unknown extraction error"}, Placeholder(nil))
}
