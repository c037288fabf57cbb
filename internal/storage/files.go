package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

const (
	inboundDir  = "inbound"
	outboundDir = "outbound"
)

// FileStore keeps one JSON file per match under a data directory. Records wait
// in inbound/ until every configured model field is present, then move to
// outbound/.
type FileStore struct {
	dataDir string
	fields  []string
	logger  *slog.Logger
	now     func() time.Time

	locks sync.Map // match key -> *sync.Mutex
}

// Ensure FileStore implements MatchStore interface
var _ storage.MatchStore = (*FileStore)(nil)

// NewFileStore creates the directory pair under dataDir. fields lists the
// per-model fields a record needs before it counts as complete.
func NewFileStore(dataDir string, fields []string, logger *slog.Logger) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	for _, dir := range []string{inboundDir, outboundDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &FileStore{
		dataDir: dataDir,
		fields:  fields,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Health and lifecycle methods

func (f *FileStore) Ping(ctx context.Context) error {
	for _, dir := range []string{inboundDir, outboundDir} {
		info, err := os.Stat(filepath.Join(f.dataDir, dir))
		if err != nil {
			return fmt.Errorf("file store unavailable: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("file store unavailable: %s is not a directory", dir)
		}
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}

// Match operations

func (f *FileStore) UpsertMerge(ctx context.Context, key string, fields match.Record) error {
	if err := storage.Validate(key, fields); err != nil {
		return err
	}

	unlock := f.lock(key)
	defer unlock()

	record, dir, err := f.load(key)
	if err != nil {
		return &storage.StoreError{Op: "upsert", Err: err}
	}
	if record == nil {
		record = match.Record{match.FieldMatch: key}
	}

	partial := make(match.Record, len(fields))
	for k, v := range fields {
		if k == match.FieldTime && v != nil {
			v = match.TimeValue(v)
		}
		partial[k] = v
	}
	record.Merge(partial)
	if !record.Has(match.FieldTime) {
		record[match.FieldTime] = f.now().UnixMilli()
	}

	target := inboundDir
	if f.complete(record) {
		target = outboundDir
	}
	if err := f.write(target, key, record); err != nil {
		return &storage.StoreError{Op: "upsert", Err: err}
	}
	if dir != "" && dir != target {
		if err := os.Remove(f.path(dir, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &storage.StoreError{Op: "upsert", Err: err}
		}
		f.logger.Debug("Moved match record", "match", key, "from", dir, "to", target)
	}
	return nil
}

func (f *FileStore) Read(ctx context.Context, key string) (match.Record, error) {
	record, _, err := f.load(key)
	if err != nil {
		return nil, &storage.StoreError{Op: "read", Err: err}
	}
	return record, nil
}

func (f *FileStore) FindNextUnprocessed(ctx context.Context, field string) (match.Record, error) {
	records, err := f.scan(ctx)
	if err != nil {
		return nil, &storage.StoreError{Op: "find", Err: err}
	}

	var candidates []match.Record
	for _, r := range records {
		if r.EligibleFor(field) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	storage.SortRecent(candidates)
	return candidates[0], nil
}

func (f *FileStore) ListRecentSummarized(ctx context.Context, limit int) ([]match.Record, error) {
	records, err := f.scan(ctx)
	if err != nil {
		return nil, &storage.StoreError{Op: "list", Err: err}
	}

	list := make([]match.Record, 0)
	for _, r := range records {
		if r.Has(match.FieldSummary) {
			list = append(list, r)
		}
	}
	storage.SortRecent(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (f *FileStore) lock(key string) func() {
	mu, _ := f.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (f *FileStore) complete(r match.Record) bool {
	if len(f.fields) == 0 {
		return false
	}
	for _, field := range f.fields {
		if !r.Has(field) {
			return false
		}
	}
	return true
}

func (f *FileStore) path(dir, key string) string {
	return filepath.Join(f.dataDir, dir, url.PathEscape(key)+".json")
}

// load returns the record and the directory it was found in. outbound/ wins
// over inbound/ while a move is in flight.
func (f *FileStore) load(key string) (match.Record, string, error) {
	for _, dir := range []string{outboundDir, inboundDir} {
		record, err := readRecord(f.path(dir, key))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return record, dir, nil
	}
	return nil, "", nil
}

func (f *FileStore) write(dir, key string, record match.Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal match %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Join(f.dataDir, dir), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write match %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write match %s: %w", key, err)
	}
	return os.Rename(tmp.Name(), f.path(dir, key))
}

func (f *FileStore) scan(ctx context.Context) ([]match.Record, error) {
	seen := make(map[string]bool)
	var records []match.Record

	for _, dir := range []string{outboundDir, inboundDir} {
		entries, err := os.ReadDir(filepath.Join(f.dataDir, dir))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			record, err := readRecord(filepath.Join(f.dataDir, dir, entry.Name()))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				f.logger.Warn("Skipping unreadable match file", "file", entry.Name(), "error", err)
				continue
			}
			key := record.Match()
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			records = append(records, record)
		}
	}
	return records, nil
}

func readRecord(path string) (match.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record match.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return record, nil
}
