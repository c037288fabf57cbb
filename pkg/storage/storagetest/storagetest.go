// Package storagetest holds the behavioral checks every MatchStore engine must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

// Fields are the per-model fields the suite writes. Engines that track
// completion across models (the file store) should be configured with both.
var Fields = []string{match.FieldName("alpha"), match.FieldName("beta")}

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.MatchStore

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.MatchStore)
	}{
		{"ReadMissing", testReadMissing},
		{"UpsertCreates", testUpsertCreates},
		{"UpsertMergesShallow", testUpsertMergesShallow},
		{"NullClearsField", testNullClearsField},
		{"RejectsInvalidKey", testRejectsInvalidKey},
		{"FindOrdering", testFindOrdering},
		{"FindSkipsIneligible", testFindSkipsIneligible},
		{"FindSkipsNonArrayTimeline", testFindSkipsNonArrayTimeline},
		{"FindEmpty", testFindEmpty},
		{"ResultMakesIneligible", testResultMakesIneligible},
		{"ListRecentSummarized", testListRecentSummarized},
		{"UpsertIdempotent", testUpsertIdempotent},
		{"ConcurrentModelWrites", testConcurrentModelWrites},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func timeline(events ...string) []any {
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = map[string]any{"event": e, "t": float64(i)}
	}
	return out
}

func put(t *testing.T, s storage.MatchStore, key string, fields match.Record) {
	t.Helper()
	require.NoError(t, s.UpsertMerge(context.Background(), key, fields))
}

func testReadMissing(t *testing.T, s storage.MatchStore) {
	r, err := s.Read(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func testUpsertCreates(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "m1", match.Record{"timeline": timeline("kickoff")})

	r, err := s.Read(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "m1", r.Match())
	assert.Len(t, r.Timeline(), 1)
	assert.Positive(t, r.Time(), "time is set on creation")
}

func testUpsertMergesShallow(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "m1", match.Record{"timeline": timeline("a"), "time": int64(100), "venue": "arena"})
	put(t, s, "m1", match.Record{Fields[0]: map[string]any{"headline": "x", "model": "alpha"}})
	put(t, s, "m1", match.Record{"venue": "stadium"})

	r, err := s.Read(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "stadium", r["venue"])
	assert.Equal(t, int64(100), r.Time(), "time is not overwritten by later merges")
	assert.Len(t, r.Timeline(), 1)
	require.True(t, r.Has(Fields[0]))
	result, ok := r[Fields[0]].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", result["headline"])
}

func testNullClearsField(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "m1", match.Record{"timeline": timeline("a"), Fields[0]: map[string]any{"error": "bad"}})
	put(t, s, "m1", match.Record{Fields[0]: nil})

	r, err := s.Read(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.False(t, r.Has(Fields[0]))
	assert.Equal(t, "m1", r.Match())

	next, err := s.FindNextUnprocessed(ctx, Fields[0])
	require.NoError(t, err)
	require.NotNil(t, next, "cleared field makes the record eligible again")
	assert.Equal(t, "m1", next.Match())
}

func testRejectsInvalidKey(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()

	err := s.UpsertMerge(ctx, "", match.Record{"timeline": timeline("a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrValidation))

	err = s.UpsertMerge(ctx, "m1", match.Record{"match": "m2", "timeline": timeline("a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrValidation))

	for _, key := range []string{"m1", "m2"} {
		r, err := s.Read(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, r, "rejected write must not persist %s", key)
	}
}

func testFindOrdering(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "old", match.Record{"timeline": timeline("a"), "time": int64(1000)})
	put(t, s, "tie-a", match.Record{"timeline": timeline("a"), "time": int64(2000)})
	put(t, s, "tie-b", match.Record{"timeline": timeline("a"), "time": int64(2000)})

	order := []string{"tie-b", "tie-a", "old"}
	for _, want := range order {
		r, err := s.FindNextUnprocessed(ctx, Fields[0])
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, want, r.Match())
		put(t, s, want, match.Record{Fields[0]: map[string]any{"model": "alpha"}})
	}
}

func testFindSkipsIneligible(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "empty", match.Record{"timeline": []any{}, "time": int64(3000)})
	put(t, s, "missing", match.Record{"note": "no timeline", "time": int64(2500)})
	put(t, s, "done", match.Record{"timeline": timeline("a"), "time": int64(2000), Fields[0]: map[string]any{"model": "alpha"}})
	put(t, s, "todo", match.Record{"timeline": timeline("a"), "time": int64(1000)})

	r, err := s.FindNextUnprocessed(ctx, Fields[0])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "todo", r.Match())

	// another model still sees "done"
	r, err = s.FindNextUnprocessed(ctx, Fields[1])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "done", r.Match())
}

func testFindSkipsNonArrayTimeline(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "scalar", match.Record{"timeline": "oops", "time": int64(4000)})
	put(t, s, "object", match.Record{"timeline": map[string]any{"0": "kickoff"}, "time": int64(3500)})
	put(t, s, "number", match.Record{"timeline": float64(7), "time": int64(3000)})
	put(t, s, "todo", match.Record{"timeline": timeline("a"), "time": int64(1000)})

	r, err := s.FindNextUnprocessed(ctx, Fields[0])
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "todo", r.Match())

	put(t, s, "todo", match.Record{Fields[0]: map[string]any{"model": "alpha"}})
	r, err = s.FindNextUnprocessed(ctx, Fields[0])
	require.NoError(t, err)
	assert.Nil(t, r)
}

func testFindEmpty(t *testing.T, s storage.MatchStore) {
	r, err := s.FindNextUnprocessed(context.Background(), Fields[0])
	require.NoError(t, err)
	assert.Nil(t, r)
}

func testResultMakesIneligible(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "m1", match.Record{"timeline": timeline("a")})
	put(t, s, "m1", match.Record{"match": "m1", Fields[0]: map[string]any{"error": "unparseable"}})

	r, err := s.FindNextUnprocessed(ctx, Fields[0])
	require.NoError(t, err)
	assert.Nil(t, r)
}

func testListRecentSummarized(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		put(t, s, fmt.Sprintf("m%d", i), match.Record{
			"timeline": timeline("a"),
			"time":     int64(i * 1000),
			"summary":  map[string]any{"headline": fmt.Sprintf("h%d", i)},
		})
	}
	put(t, s, "unsummarized", match.Record{"timeline": timeline("a"), "time": int64(9000)})

	list, err := s.ListRecentSummarized(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "m4", list[0].Match())
	assert.Equal(t, "m3", list[1].Match())
	assert.Equal(t, "m2", list[2].Match())

	put(t, s, "m4", match.Record{"summary": nil})
	list, err = s.ListRecentSummarized(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "m3", list[0].Match())

	list, err = s.ListRecentSummarized(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3, "a non-positive limit lists everything")
	assert.Equal(t, "m1", list[2].Match())
}

func testUpsertIdempotent(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "m1", match.Record{"timeline": timeline("a"), "time": int64(1000)})
	summary := match.Record{"summary": map[string]any{"headline": "h", "summary": "s"}}

	put(t, s, "m1", summary)
	once, err := s.Read(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, once)

	put(t, s, "m1", summary)
	twice, err := s.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	list, err := s.ListRecentSummarized(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testConcurrentModelWrites(t *testing.T, s storage.MatchStore) {
	ctx := context.Background()
	put(t, s, "m1", match.Record{"timeline": timeline("a")})

	var wg sync.WaitGroup
	for _, field := range Fields {
		wg.Add(1)
		go func(field string) {
			defer wg.Done()
			assert.NoError(t, s.UpsertMerge(ctx, "m1", match.Record{
				"match": "m1",
				field:   map[string]any{"model": field},
			}))
		}(field)
	}
	wg.Wait()

	r, err := s.Read(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, r)
	for _, field := range Fields {
		assert.True(t, r.Has(field), "missing %s", field)
	}
}
