package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/sweep"
	"github.com/redis/go-redis/v9"
)

const minRecordTTL = time.Second

const (
	saveStatusVersionConflict int64 = -1
	saveStatusNotFound        int64 = -2
)

// KEYS: session, meta, new refresh index, user set, active set
// ARGV: blob, sid, refresh index prefix, ttl ms, active flag, expected version
// (-1 = unconditional), new refresh hash, add-to-user-index flag
const saveSessionScript = `
local expected = tonumber(ARGV[6])
local version = tonumber(redis.call("HGET", KEYS[2], "v") or "0")
if expected >= 0 then
  if redis.call("EXISTS", KEYS[1]) == 0 then
    return -2
  end
  if version ~= expected then
    return -1
  end
end

local current = redis.call("HGET", KEYS[2], "rt")
if current and current ~= "" and current ~= ARGV[7] then
  local old_key = ARGV[3] .. current
  if redis.call("GET", old_key) == ARGV[2] then
    redis.call("DEL", old_key)
  end
end

local ttl = ARGV[4]
version = version + 1
redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
redis.call("HSET", KEYS[2], "rt", ARGV[7], "v", tostring(version))
redis.call("PEXPIRE", KEYS[2], ttl)
if ARGV[7] ~= "" then
  redis.call("SET", KEYS[3], ARGV[2], "PX", ttl)
end
if ARGV[8] == "1" then
  redis.call("SADD", KEYS[4], ARGV[2])
end
if ARGV[5] == "1" then
  redis.call("SADD", KEYS[5], ARGV[2])
else
  redis.call("SREM", KEYS[5], ARGV[2])
end
return version
`

var saveSessionLua = redis.NewScript(saveSessionScript)

// KEYS: session, meta, user set, active set
// ARGV: refresh index prefix, sid
const deleteSessionScript = `
local current = redis.call("HGET", KEYS[2], "rt")
if current and current ~= "" then
  local rt_key = ARGV[1] .. current
  if redis.call("GET", rt_key) == ARGV[2] then
    redis.call("DEL", rt_key)
  end
end
local existed = redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
redis.call("SREM", KEYS[3], ARGV[2])
redis.call("SREM", KEYS[4], ARGV[2])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// KEYS: active set
// ARGV: session key prefix
const countActiveScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, sid in ipairs(members) do
  if redis.call("EXISTS", ARGV[1] .. sid) == 1 then
    n = n + 1
  else
    redis.call("SREM", KEYS[1], sid)
  end
end
return n
`

var countActiveLua = redis.NewScript(countActiveScript)

// RedisStore is a Store shared across processes. Each session occupies a
// binary blob, a meta hash holding {rt: refresh hash, v: version}, one refresh
// index key and membership in the user's all/active sets. Every multi-key
// mutation runs as a single Lua script.
//
// Keys expire with the session (ExpiresAt, floored at one second).
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	opts   StoreOptions

	sweeper *sweep.Sweeper
}

// NewRedisStore creates a store under the given key prefix ("acs" if empty).
func NewRedisStore(client redis.UniversalClient, prefix string, opts StoreOptions) *RedisStore {
	if prefix == "" {
		prefix = "acs"
	}
	s := &RedisStore{redis: client, prefix: prefix, opts: opts.withDefaults()}
	s.sweeper = sweep.New(s.opts.CleanupInterval, s.sweep)
	return s
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + ":s:" + id }
func (s *RedisStore) metaKey(id string) string { return s.prefix + ":m:" + id }
func (s *RedisStore) refreshPrefix() string { return s.prefix + ":rt:" }
func (s *RedisStore) userKey(userID string) string { return s.prefix + ":u:" + userID }
func (s *RedisStore) activeKey(userID string) string { return s.prefix + ":ua:" + userID }

func refreshHash(token string) string {
	if token == "" {
		return ""
	}
	return internal.HashToken(token)
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	return s.write(ctx, sess, -1, true)
}

func (s *RedisStore) Replace(ctx context.Context, sess *Session) error {
	return s.write(ctx, sess, int64(sess.Version), true)
}

func (s *RedisStore) write(ctx context.Context, sess *Session, expected int64, index bool) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	ttl := sess.ExpiresAt.Sub(s.opts.Now())
	if ttl < minRecordTTL {
		ttl = minRecordTTL
	}

	hash := refreshHash(sess.RefreshToken)
	keys := []string{
		s.sessionKey(sess.ID),
		s.metaKey(sess.ID),
		s.refreshPrefix() + hash,
		s.userKey(sess.UserID),
		s.activeKey(sess.UserID),
	}
	res, err := saveSessionLua.Run(ctx, s.redis, keys,
		data,
		sess.ID,
		s.refreshPrefix(),
		ttl.Milliseconds(),
		flag(sess.IsActive),
		expected,
		hash,
		flag(index),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch res {
	case saveStatusVersionConflict:
		return ErrVersionConflict
	case saveStatusNotFound:
		return ErrSessionNotFound
	}
	sess.Version = uint64(res)
	return nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// load reads the blob and its version in one MULTI/EXEC so the pair is consistent.
func (s *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	var (
		blobCmd    *redis.StringCmd
		versionCmd *redis.StringCmd
	)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		blobCmd = pipe.Get(ctx, s.sessionKey(id))
		versionCmd = pipe.HGet(ctx, s.metaKey(id), "v")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	data, err := blobCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, errors.Join(ErrSessionCorrupt, err)
	}
	sess.ID = id

	version, err := versionCmd.Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess.Version = version
	return sess, nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, id)
}

func (s *RedisStore) FindByRefreshToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	id, err := s.redis.Get(ctx, s.refreshPrefix()+refreshHash(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.RefreshToken != token {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *RedisStore) FindByUserID(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil && !errors.Is(err, ErrSessionCorrupt) {
		return err
	}

	var userID string
	if sess != nil {
		userID = sess.UserID
	}
	return s.deleteKeys(ctx, id, userID)
}

func (s *RedisStore) deleteKeys(ctx context.Context, id, userID string) error {
	keys := []string{s.sessionKey(id), s.metaKey(id), s.userKey(userID), s.activeKey(userID)}
	if err := deleteSessionLua.Run(ctx, s.redis, keys, s.refreshPrefix(), id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) UserSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := countActiveLua.Run(ctx, s.redis, []string{s.activeKey(userID)}, s.prefix+":s:").Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// InvalidateAllByUserID flips each indexed session inactive through the CAS
// write path, then drops both user sets.
//
// ATOMICITY NOTE: the sweep over the user's sessions is not one transaction.
// A session created concurrently may survive; each individual flip is atomic.
func (s *RedisStore) InvalidateAllByUserID(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	flipped := 0
	for _, id := range ids {
		changed, err := s.deactivate(ctx, id)
		if err != nil {
			return flipped, err
		}
		if changed {
			flipped++
		}
	}

	if err := s.redis.Del(ctx, s.userKey(userID), s.activeKey(userID)).Err(); err != nil {
		return flipped, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return flipped, nil
}

func (s *RedisStore) deactivate(ctx context.Context, id string) (bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		sess, err := s.load(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		wasActive := sess.IsActive
		sess.IsActive = false

		err = s.write(ctx, sess, int64(sess.Version), false)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return wasActive, err
	}
	return false, ErrVersionConflict
}

func (s *RedisStore) CleanupExpired(ctx context.Context) (int, error) {
	now := s.opts.Now()
	removed := 0
	err := s.scanSessions(ctx, func(sess *Session) error {
		if !sess.Expired(now) && sess.IsActive {
			return nil
		}
		if err := s.deleteKeys(ctx, sess.ID, sess.UserID); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// Stats scans every session key. This is an admin-only O(n) operation.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	acc := newStatsAccumulator(s.opts.Now())
	err := s.scanSessions(ctx, func(sess *Session) error {
		acc.add(sess)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return acc.result(), nil
}

func (s *RedisStore) scanSessions(ctx context.Context, fn func(*Session) error) error {
	prefix := s.prefix + ":s:"
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, key := range keys {
			sess, err := s.load(ctx, key[len(prefix):])
			if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionCorrupt) {
				continue
			}
			if err != nil {
				return err
			}
			if err := fn(sess); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping reports Redis availability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) Start() { s.sweeper.Start() }

func (s *RedisStore) Close() error {
	s.sweeper.Stop()
	return nil
}

func (s *RedisStore) sweep(ctx context.Context) {
	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		s.opts.Logger.Warn("session cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.opts.Logger.Debug("session cleanup", "removed", removed)
	}
}
