package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config bounds each key to Limit hits per Window.
type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// incrScript returns {count, pttl} after counting the hit.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func New(client redis.UniversalClient, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("rate: nil redis client")
	}
	if cfg.Limit <= 0 {
		return nil, errors.New("rate: Limit must be > 0")
	}
	if cfg.Window < time.Millisecond {
		return nil, errors.New("rate: Window must be >= 1ms")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl:"
	}
	return &Limiter{redis: client, config: cfg}, nil
}

// Allow counts one hit against key. Once the window is over budget,
// RetryAfter reports the time left until the key expires.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := incrScript.Run(ctx, l.redis, []string{l.config.Prefix + key}, l.config.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	d := Decision{Count: res[0], Allowed: res[0] <= int64(l.config.Limit)}
	if !d.Allowed {
		d.RetryAfter = l.config.Window
		if res[1] > 0 {
			d.RetryAfter = time.Duration(res[1]) * time.Millisecond
		}
	}
	return d, nil
}

// Reset forgets every hit recorded for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.config.Prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Count returns the hits in the current window. Missing keys count zero.
func (l *Limiter) Count(ctx context.Context, key string) (int64, error) {
	n, err := l.redis.Get(ctx, l.config.Prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}
