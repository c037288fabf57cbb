package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

const (
	// PollInterval is how often to check a match for updates
	PollInterval = 1 * time.Second
	// SummaryTimeout is max time to wait for a worker to summarize a match
	SummaryTimeout = 5 * time.Minute
)

// APIResponse is a raw response from the API
type APIResponse struct {
	Status int
	Body   []byte
}

func do(ctx context.Context, client *http.Client, method, target string, body any) (*APIResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &APIResponse{Status: resp.StatusCode, Body: data}, nil
}

// PostMatch merge-upserts fields into the match
func PostMatch(ctx context.Context, client *http.Client, baseURL, key string, fields map[string]any) (*APIResponse, error) {
	return do(ctx, client, http.MethodPost, fmt.Sprintf("%s/timeline-summary/%s", baseURL, url.PathEscape(key)), fields)
}

// SubmitMatch posts fields to the queueing endpoint
func SubmitMatch(ctx context.Context, client *http.Client, baseURL string, fields map[string]any, sync bool) (*APIResponse, error) {
	target := baseURL + "/timeline-summary"
	if sync {
		target += "?sync=true"
	}
	return do(ctx, client, http.MethodPost, target, fields)
}

// GetMatch retrieves a match. A nil record means the API reported it missing.
func GetMatch(ctx context.Context, client *http.Client, baseURL, key string) (match.Record, *APIResponse, error) {
	resp, err := do(ctx, client, http.MethodGet, fmt.Sprintf("%s/timeline-summary/%s", baseURL, url.PathEscape(key)), nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, resp, fmt.Errorf("match endpoint returned %d: %s", resp.Status, string(resp.Body))
	}

	var record match.Record
	if err := json.Unmarshal(resp.Body, &record); err != nil {
		return nil, resp, fmt.Errorf("failed to decode match: %w", err)
	}
	if record.Match() == "" {
		return nil, resp, nil
	}
	return record, resp, nil
}

// GetRecent lists recent summarized matches
func GetRecent(ctx context.Context, client *http.Client, baseURL string, limit int) ([]match.Record, *APIResponse, error) {
	resp, err := do(ctx, client, http.MethodGet, fmt.Sprintf("%s/timeline-summary/recent?limit=%d", baseURL, limit), nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, resp, fmt.Errorf("recent endpoint returned %d: %s", resp.Status, string(resp.Body))
	}

	var list []match.Record
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, resp, fmt.Errorf("failed to decode recent list: %w", err)
	}
	return list, resp, nil
}

// PollForSummary polls the match until field is present
func PollForSummary(ctx context.Context, client *http.Client, baseURL, key, field string, interval, timeout time.Duration) (match.Record, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for %s on %s (waited %v)", field, key, timeout)
		case <-ticker.C:
			record, _, err := GetMatch(ctx, client, baseURL, key)
			if err != nil || record == nil {
				// Keep polling
				continue
			}
			if record.Has(field) {
				return record, nil
			}
		}
	}
}
