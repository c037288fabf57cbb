package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/timeline-summary/pkg/match"
	"github.com/jwebster45206/timeline-summary/pkg/storage"
)

const (
	redisRecordPrefix  = "match:"
	redisByTimeKey     = "matches:by-time"
	redisSummarizedKey = "matches:summarized"
	redisFindPageSize  = 100
)

// upsertScript merges one record hash and refreshes both recency indexes in
// a single step.
// KEYS: record hash, by-time zset, summarized zset
// ARGV: id, json(id), now millis, n, then n field/value pairs, then fields to delete
var upsertScript = redis.NewScript(`
local key = KEYS[1]
redis.call('HSETNX', key, 'match', ARGV[2])
local n = tonumber(ARGV[4])
local idx = 5
for i = 1, n do
  redis.call('HSET', key, ARGV[idx], ARGV[idx + 1])
  idx = idx + 2
end
for i = idx, #ARGV do
  redis.call('HDEL', key, ARGV[i])
end
redis.call('HSETNX', key, 'time', ARGV[3])
local t = tonumber(redis.call('HGET', key, 'time')) or 0
redis.call('ZADD', KEYS[2], t, ARGV[1])
if redis.call('HEXISTS', key, 'summary') == 1 then
  redis.call('ZADD', KEYS[3], t, ARGV[1])
else
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return t
`)

// RedisStore keeps each match as a hash of JSON-encoded top-level fields, so a
// merge is a field-wise HSET and never rewrites fields owned by other writers.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// Ensure RedisStore implements MatchStore interface
var _ storage.MatchStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. redisURL may be a bare
// host:port or a redis:// URL.
func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = parsed
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Health and lifecycle methods

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStore) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Match operations

func (r *RedisStore) UpsertMerge(ctx context.Context, key string, fields match.Record) error {
	if err := storage.Validate(key, fields); err != nil {
		return err
	}

	idJSON, _ := json.Marshal(key)
	args := []any{key, string(idJSON), r.now().UnixMilli()}

	var pairs []any
	var deletes []any
	for field, value := range fields {
		if field == match.FieldMatch {
			continue
		}
		if value == nil {
			deletes = append(deletes, field)
			continue
		}
		if field == match.FieldTime {
			value = match.TimeValue(value)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return &storage.ValidationError{Key: key, Reason: fmt.Sprintf("field %s is not serializable: %v", field, err)}
		}
		pairs = append(pairs, field, string(data))
	}
	args = append(args, len(pairs)/2)
	args = append(args, pairs...)
	args = append(args, deletes...)

	keys := []string{redisRecordPrefix + key, redisByTimeKey, redisSummarizedKey}
	if err := upsertScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		r.logger.Error("Failed to upsert match", "match", key, "error", err)
		return &storage.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func (r *RedisStore) Read(ctx context.Context, key string) (match.Record, error) {
	values, err := r.client.HGetAll(ctx, redisRecordPrefix+key).Result()
	if err != nil {
		return nil, &storage.StoreError{Op: "read", Err: err}
	}
	if len(values) == 0 {
		return nil, nil
	}
	return decodeHash(values), nil
}

// FindNextUnprocessed walks matches:by-time newest first, a page at a time,
// with one pipelined HMGET per page. Processed records stay in the index, so
// an idle poll costs O(N) in the number of stored matches.
func (r *RedisStore) FindNextUnprocessed(ctx context.Context, field string) (match.Record, error) {
	for start := int64(0); ; start += redisFindPageSize {
		ids, err := r.client.ZRevRange(ctx, redisByTimeKey, start, start+redisFindPageSize-1).Result()
		if err != nil {
			return nil, &storage.StoreError{Op: "find", Err: err}
		}
		if len(ids) == 0 {
			return nil, nil
		}

		cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.HMGet(ctx, redisRecordPrefix+id, match.FieldTimeline, field)
			}
			return nil
		})
		if err != nil && err != redis.Nil {
			return nil, &storage.StoreError{Op: "find", Err: err}
		}

		for i, cmd := range cmds {
			vals, err := cmd.(*redis.SliceCmd).Result()
			if err != nil || len(vals) != 2 {
				continue
			}
			if vals[1] != nil || !nonEmptyArray(vals[0]) {
				continue
			}
			return r.Read(ctx, ids[i])
		}
	}
}

func (r *RedisStore) ListRecentSummarized(ctx context.Context, limit int) ([]match.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, redisSummarizedKey, 0, stop).Result()
	if err != nil {
		return nil, &storage.StoreError{Op: "list", Err: err}
	}

	cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.HGetAll(ctx, redisRecordPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, &storage.StoreError{Op: "list", Err: err}
	}

	records := make([]match.Record, 0, len(cmds))
	for _, cmd := range cmds {
		values := cmd.(*redis.MapStringStringCmd).Val()
		if len(values) == 0 {
			continue
		}
		records = append(records, decodeHash(values))
	}
	return records, nil
}

func decodeHash(values map[string]string) match.Record {
	record := make(match.Record, len(values))
	for field, raw := range values {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		record[field] = v
	}
	return record
}

func nonEmptyArray(v any) bool {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return false
	}
	var events []json.RawMessage
	if err := json.Unmarshal([]byte(s), &events); err != nil {
		return false
	}
	return len(events) > 0
}
