package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixelaug:progress"

// recordScript bumps the counters of an existing hash atomically and returns
// {total, processed, failed}, or {-1} when the job was never started.
var recordScript = redis.NewScript(`
local key = KEYS[1]
local failed_inc = tonumber(ARGV[1])
local ttl_ms = tonumber(ARGV[2])

if redis.call("EXISTS", key) == 0 then
  return {-1}
end

local processed = redis.call("HINCRBY", key, "processed", 1)
local failed = redis.call("HINCRBY", key, "failed", failed_inc)
local total = redis.call("HGET", key, "total")
redis.call("PEXPIRE", key, ttl_ms)

return {tonumber(total), processed, failed}
`)

// RedisTracker shares progress between the worker and API processes.
type RedisTracker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

func NewRedisTracker(client redis.UniversalClient, ttl time.Duration, keyPrefix string) (*RedisTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisTracker{client: client, ttl: ttl, keyPrefix: keyPrefix}, nil
}

func (t *RedisTracker) key(jobID string) string {
	return fmt.Sprintf("%s:%s", t.keyPrefix, jobID)
}

func (t *RedisTracker) Start(ctx context.Context, jobID string, total int) error {
	key := t.key(jobID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "total", total, "processed", 0, "failed", 0)
		pipe.PExpire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start progress %s: %w", jobID, err)
	}
	return nil
}

func (t *RedisTracker) Record(ctx context.Context, jobID string, success bool) (Snapshot, error) {
	failedInc := 1
	if success {
		failedInc = 0
	}

	raw, err := recordScript.Run(ctx, t.client, []string{t.key(jobID)}, failedInc, t.ttl.Milliseconds()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("run progress script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) == 0 {
		return Snapshot{}, fmt.Errorf("invalid progress response")
	}
	if len(values) == 1 {
		return Snapshot{}, ErrUnknownJob
	}
	if len(values) != 3 {
		return Snapshot{}, fmt.Errorf("invalid progress response")
	}

	counts := make([]int, 3)
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse progress value %d: %w", i, err)
		}
		counts[i] = int(n)
	}
	return NewSnapshot(counts[0], counts[1], counts[2]), nil
}

func (t *RedisTracker) Snapshot(ctx context.Context, jobID string) (Snapshot, bool, error) {
	values, err := t.client.HMGet(ctx, t.key(jobID), "total", "processed", "failed").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read progress %s: %w", jobID, err)
	}
	if len(values) != 3 || values[0] == nil {
		return Snapshot{}, false, nil
	}

	counts := make([]int, 3)
	for i, v := range values {
		if v == nil {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return Snapshot{}, false, fmt.Errorf("parse progress value %d: %w", i, err)
		}
		counts[i] = int(n)
	}
	return NewSnapshot(counts[0], counts[1], counts[2]), true, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
