package storage

import (
	"time"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

// MockStorage is the memory store with fault injection, for tests.
type MockStorage = MemoryStore

// UpsertCall records a single UpsertMerge invocation
type UpsertCall struct {
	Key    string
	Fields match.Record
}

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return NewMemoryStore()
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetFindError makes FindNextUnprocessed fail with err
func (m *MemoryStore) SetFindError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findError = err
}

// SetReadError makes Read fail with err
func (m *MemoryStore) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// SetListError makes ListRecentSummarized fail with err
func (m *MemoryStore) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listError = err
}

// SetUpsertError makes UpsertMerge fail with err
func (m *MemoryStore) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertError = err
}

// SetClock replaces the clock used to stamp new records
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
