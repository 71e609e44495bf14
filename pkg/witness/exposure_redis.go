package witness

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// exposureRecordScript registers one committed session atomically.
// KEYS[1]    = participant session set (ZSET of session ids by unix time)
// KEYS[2..n] = witnessed sets for each observing witness
// ARGV[1] = session id
// ARGV[2] = commit time (unix seconds)
// ARGV[3] = window start (unix seconds); older members are pruned
// ARGV[4] = key TTL in seconds
var exposureRecordScript = redis.NewScript(`
local session = ARGV[1]
local now = ARGV[2]
local start = ARGV[3]
local ttl = tonumber(ARGV[4])

for i = 1, #KEYS do
    redis.call("ZADD", KEYS[i], now, session)
    redis.call("ZREMRANGEBYSCORE", KEYS[i], "-inf", "(" .. start)
    redis.call("EXPIRE", KEYS[i], ttl)
end

return redis.status_reply("OK")
`)

// exposureFractionScript prunes both windows and returns counts.
// KEYS[1] = participant session set
// KEYS[2] = witnessed set for the candidate under evaluation
// ARGV[1] = window start (unix seconds)
var exposureFractionScript = redis.NewScript(`
local start = ARGV[1]

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. start)
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", "(" .. start)

local total = redis.call("ZCARD", KEYS[1])
local witnessed = redis.call("ZCARD", KEYS[2])

return {total, witnessed}
`)

// RedisExposure tracks witness exposure in Redis so every node in a
// deployment gates against the same sliding window.
type RedisExposure struct {
	client *redis.Client
	window time.Duration
	clock  func() time.Time
}

// NewRedisExposure creates a tracker backed by Redis.
func NewRedisExposure(addr, password string, db int, window time.Duration) *RedisExposure {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisExposureFromClient(rdb, window)
}

// NewRedisExposureFromClient wraps an existing client.
func NewRedisExposureFromClient(client *redis.Client, window time.Duration) *RedisExposure {
	if window <= 0 {
		window = DefaultExposureWindow
	}
	return &RedisExposure{client: client, window: window, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (r *RedisExposure) WithClock(clock func() time.Time) *RedisExposure {
	r.clock = clock
	return r
}

func participantKey(did string) string {
	return fmt.Sprintf("keel:exposure:sessions:%s", did)
}

func witnessedKey(witnessID, did string) string {
	return fmt.Sprintf("keel:exposure:witnessed:%s:%s", witnessID, did)
}

// RecordSession implements ExposureRecorder. One script run per
// participant keeps the participant's window and all its witnessed
// windows in step.
func (r *RedisExposure) RecordSession(ctx context.Context, sessionID string, participants, witnessIDs []string, at time.Time) error {
	start := at.Add(-r.window).Unix()
	ttl := int64(r.window/time.Second) * 2

	for _, participant := range participants {
		keys := make([]string, 0, 1+len(witnessIDs))
		keys = append(keys, participantKey(participant))
		for _, w := range witnessIDs {
			keys = append(keys, witnessedKey(w, participant))
		}
		if err := exposureRecordScript.Run(ctx, r.client, keys, sessionID, at.Unix(), start, ttl).Err(); err != nil {
			return fmt.Errorf("redis exposure record for %s: %w", participant, err)
		}
	}
	return nil
}

// Fraction implements ExposureSource against the shared window.
func (r *RedisExposure) Fraction(ctx context.Context, witnessID, participantDID string) (float64, error) {
	start := r.clock().Add(-r.window).Unix()
	keys := []string{participantKey(participantDID), witnessedKey(witnessID, participantDID)}

	res, err := exposureFractionScript.Run(ctx, r.client, keys, start).Result()
	if err != nil {
		return 0, fmt.Errorf("redis exposure lookup: %w", err)
	}

	counts, ok := res.([]interface{})
	if !ok || len(counts) != 2 {
		return 0, fmt.Errorf("invalid response from exposure script")
	}
	total, _ := counts[0].(int64)
	witnessed, _ := counts[1].(int64)

	if total == 0 {
		return 0, nil
	}
	return float64(witnessed) / float64(total), nil
}
