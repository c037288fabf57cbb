package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

// MemoryStore is an in-memory MatchStore backing the "memory" driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]match.Record
	now     func() time.Time

	pingError   error
	findError   error
	readError   error
	listError   error
	upsertError error

	UpsertCalls []UpsertCall
}

var _ MatchStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]match.Record),
		now:     time.Now,
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) FindNextUnprocessed(ctx context.Context, field string) (match.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.findError != nil {
		return nil, &StoreError{Op: "find", Err: m.findError}
	}

	candidates := make([]match.Record, 0)
	for _, r := range m.records {
		if r.EligibleFor(field) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	SortRecent(candidates)
	return candidates[0].Clone(), nil
}

func (m *MemoryStore) Read(ctx context.Context, key string) (match.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readError != nil {
		return nil, &StoreError{Op: "read", Err: m.readError}
	}

	r, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRecentSummarized(ctx context.Context, limit int) ([]match.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listError != nil {
		return nil, &StoreError{Op: "list", Err: m.listError}
	}

	list := make([]match.Record, 0)
	for _, r := range m.records {
		if r.Has(match.FieldSummary) {
			list = append(list, r.Clone())
		}
	}
	SortRecent(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemoryStore) UpsertMerge(ctx context.Context, key string, fields match.Record) error {
	if err := Validate(key, fields); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertCall{Key: key, Fields: fields.Clone()})
	if m.upsertError != nil {
		return &StoreError{Op: "upsert", Err: m.upsertError}
	}

	r, ok := m.records[key]
	if !ok {
		r = match.Record{match.FieldMatch: key}
		if !fields.Has(match.FieldTime) {
			r[match.FieldTime] = m.now().UnixMilli()
		}
	}
	r.Merge(fields.Clone())
	m.records[key] = r.Clone()
	return nil
}

// Len returns the number of stored records
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
