package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

// MatchStore defines the persistence contract for match records.
// Implementations must be safe for concurrent use.
type MatchStore interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// FindNextUnprocessed returns the most recent record whose timeline is
	// non-empty and which lacks the given per-model field, or nil if none.
	FindNextUnprocessed(ctx context.Context, field string) (match.Record, error)

	// Read returns the record for key, or nil if it doesn't exist.
	Read(ctx context.Context, key string) (match.Record, error)

	// ListRecentSummarized returns records carrying a summary, most recent
	// first. A non-positive limit returns all of them.
	ListRecentSummarized(ctx context.Context, limit int) ([]match.Record, error)

	// UpsertMerge shallow-merges fields into the record for key, creating it
	// when absent. Nil values remove keys.
	UpsertMerge(ctx context.Context, key string, fields match.Record) error
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects a write before anything is persisted.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid match %q: %s", e.Key, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError wraps a failure of the underlying storage engine.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Validate checks key and partial fields for UpsertMerge.
func Validate(key string, fields match.Record) error {
	if err := match.ValidateKey(key, fields); err != nil {
		return &ValidationError{Key: key, Reason: err.Error()}
	}
	return nil
}

// SortRecent orders records by time descending, ties by match descending.
func SortRecent(records []match.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Time(), records[j].Time()
		if ti != tj {
			return ti > tj
		}
		return records[i].Match() > records[j].Match()
	})
}

// ClampLimit bounds a listing size to [1, max], using def for non-positive values.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}
