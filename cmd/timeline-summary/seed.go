package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

// parseSeed accepts a single record object or an array of records
func parseSeed(data []byte) ([]match.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []match.Record
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var record match.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return []match.Record{record}, nil
}

// seedFile merge-upserts every record in path and returns how many were written
func seedFile(ctx context.Context, store storage.MatchStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	records, err := parseSeed(data)
	if err != nil {
		return 0, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, record := range records {
		if record == nil || record.Match() == "" {
			return i, fmt.Errorf("%s: record %d has no match", path, i)
		}
		if err := store.UpsertMerge(ctx, record.Match(), record); err != nil {
			return i, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
	}
	return len(records), nil
}
