// Package extract pulls a JSON object out of free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks output that contained a JSON-looking span which failed to parse.
var ErrMalformed = errors.New("malformed JSON in model output")

// Error carries the parser message for a span that could not be decoded.
type Error struct {
	Span string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformed.Error(), e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// JSON locates the span from the first "{" to the last "}" and decodes it.
//
// Output without such a span yields an empty, non-nil object and no error.
// A span that fails to decode yields an *Error. JSON never panics.
//
// Stray braces in prose before the real object will mis-locate the span.
func JSON(raw string) (parsed map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			parsed = nil
			err = &Error{Err: fmt.Errorf("panic while decoding: %v", r)}
		}
	}()

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return map[string]any{}, nil
	}

	span := raw[start : end+1]
	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err != nil {
		return nil, &Error{Span: span, Err: err}
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

// Placeholder is the value persisted in place of a summary when the model
// output could not be decoded, so the failure stays visible on the record.
func Placeholder(err error) map[string]any {
	msg := "unknown extraction error"
	if err != nil {
		msg = err.Error()
	}
	return map[string]any{"error": msg}
}
