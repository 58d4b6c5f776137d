package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal/sweep"
	"github.com/redis/go-redis/v9"
)

// KEYS: record
// ARGV: now ms, threshold, duration ms, retention ms (0 = none)
const recordFailureScript = `
local now = tonumber(ARGV[1])
local count = redis.call("HINCRBY", KEYS[1], "count", 1)
redis.call("HSET", KEYS[1], "last", ARGV[1])
local locked_until = tonumber(redis.call("HGET", KEYS[1], "until") or "0")
if count >= tonumber(ARGV[2]) and locked_until <= now then
  locked_until = now + tonumber(ARGV[3])
  redis.call("HSET", KEYS[1], "until", string.format("%d", locked_until))
end
local retention = tonumber(ARGV[4])
if retention > 0 then
  local ttl = retention
  if locked_until > now and locked_until - now > ttl then
    ttl = locked_until - now
  end
  redis.call("PEXPIRE", KEYS[1], string.format("%d", ttl))
end
return {count, string.format("%d", locked_until)}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// KEYS: record
// ARGV: now ms
const sweepRecordScript = `
local locked_until = tonumber(redis.call("HGET", KEYS[1], "until") or "0")
if locked_until > 0 and locked_until <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

var sweepRecordLua = redis.NewScript(sweepRecordScript)

// RedisTracker stores one hash per identifier {count, last, until} with
// millisecond timestamps, so every process sharing the Redis sees the same
// lockout state. Failures are applied by a Lua script.
type RedisTracker struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config

	sweeper *sweep.Sweeper
}

// NewRedisTracker validates cfg and returns a tracker under prefix ("alo" if empty).
func NewRedisTracker(client redis.UniversalClient, prefix string, cfg Config) (*RedisTracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "alo"
	}
	t := &RedisTracker{redis: client, prefix: prefix, cfg: cfg.withDefaults()}
	t.sweeper = sweep.New(t.cfg.CleanupInterval, t.sweep)
	return t, nil
}

func (t *RedisTracker) key(identifier string) string {
	return t.prefix + ":" + identifier
}

func (t *RedisTracker) RecordFailedAttempt(ctx context.Context, identifier string) (Info, error) {
	now := t.cfg.Now()
	res, err := recordFailureLua.Run(ctx, t.redis, []string{t.key(identifier)},
		now.UnixMilli(),
		t.cfg.MaxFailedAttempts,
		t.cfg.Duration.Milliseconds(),
		t.cfg.Retention.Milliseconds(),
	).Slice()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if len(res) != 2 {
		return Info{}, fmt.Errorf("%w: invalid lockout script response", ErrLockoutUnavailable)
	}

	count, ok := res[0].(int64)
	if !ok {
		return Info{}, fmt.Errorf("%w: invalid lockout count", ErrLockoutUnavailable)
	}
	untilRaw, _ := res[1].(string)
	until, err := strconv.ParseInt(untilRaw, 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("%w: invalid lockout expiry: %v", ErrLockoutUnavailable, err)
	}

	info := Info{FailedCount: int(count), LastFailed: time.UnixMilli(now.UnixMilli())}
	if until > 0 {
		info.LockedUntil = time.UnixMilli(until)
	}
	return info, nil
}

// Get returns the stored record. A missing record yields the zero Info.
func (t *RedisTracker) Get(ctx context.Context, identifier string) (Info, error) {
	fields, err := t.redis.HGetAll(ctx, t.key(identifier)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Info{}, nil
		}
		return Info{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return parseInfo(fields)
}

func parseInfo(fields map[string]string) (Info, error) {
	var info Info
	if v, ok := fields["count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Info{}, fmt.Errorf("%w: invalid count: %v", ErrLockoutUnavailable, err)
		}
		info.FailedCount = n
	}
	for name, dst := range map[string]*time.Time{"last": &info.LastFailed, "until": &info.LockedUntil} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Info{}, fmt.Errorf("%w: invalid %s: %v", ErrLockoutUnavailable, name, err)
		}
		if ms > 0 {
			*dst = time.UnixMilli(ms)
		}
	}
	return info, nil
}

func (t *RedisTracker) IsLockedOut(ctx context.Context, identifier string) (bool, error) {
	info, err := t.Get(ctx, identifier)
	if err != nil {
		return false, err
	}
	return info.Locked(t.cfg.Now()), nil
}

func (t *RedisTracker) ClearLockout(ctx context.Context, identifier string) error {
	if err := t.redis.Del(ctx, t.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func (t *RedisTracker) RemainingLockoutTime(ctx context.Context, identifier string) (time.Duration, error) {
	info, err := t.Get(ctx, identifier)
	if err != nil {
		return 0, err
	}
	return info.Remaining(t.cfg.Now()), nil
}

// Cleanup scans the tracker's keyspace and drops expired lockouts.
// Records below the threshold are left to Retention expiry.
func (t *RedisTracker) Cleanup(ctx context.Context) (int, error) {
	nowMS := t.cfg.Now().UnixMilli()
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := t.redis.Scan(ctx, cursor, t.prefix+":*", 1000).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		for _, key := range keys {
			n, err := sweepRecordLua.Run(ctx, t.redis, []string{key}, nowMS).Int()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (t *RedisTracker) Start() { t.sweeper.Start() }

func (t *RedisTracker) Close() error {
	t.sweeper.Stop()
	return nil
}

func (t *RedisTracker) sweep(ctx context.Context) {
	removed, err := t.Cleanup(ctx)
	if err != nil {
		t.cfg.Logger.Warn("lockout cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		t.cfg.Logger.Debug("lockout cleanup", "removed", removed)
	}
}
