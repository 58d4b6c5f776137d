package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/authcore"
	redisrate "github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/sweep"
)

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// KeyFunc picks the bucket a request counts against. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// KeyByIP buckets by the client IP recorded by ClientInfo, falling back to
// the connection address.
func KeyByIP(r *http.Request) string {
	if ip := authcore.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return ClientIP(r, false)
}

// RateLimit answers 429 with Retry-After once key is over budget. A failing
// limiter backend answers 503; the request is not let through.
func RateLimit(l Limiter, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = KeyByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if l == nil || k == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, retry, err := l.Allow(r.Context(), k)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			if !ok {
				secs := int(math.Ceil(retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token bucket per key.
type LocalLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	sweeper  *sweep.Sweeper
}

// LocalOptions tunes a LocalLimiter. Zero values pick a 10 minute idle TTL
// swept every minute.
type LocalOptions struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// NewLocalLimiter allows rps requests per second per key with the given
// burst. Call Close to stop the idle sweep.
func NewLocalLimiter(rps float64, burst int, opts LocalOptions) *LocalLimiter {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if burst < 1 {
		burst = 1
	}
	l := &LocalLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  opts.IdleTTL,
		now:      opts.Now,
		visitors: make(map[string]*visitor),
	}
	l.sweeper = sweep.New(opts.SweepInterval, func(context.Context) { l.Prune() })
	l.sweeper.Start()
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	res := v.limiter.ReserveN(now, 1)
	l.mu.Unlock()

	if !res.OK() {
		return false, time.Second, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// Prune drops keys idle longer than the idle TTL and returns how many.
func (l *LocalLimiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *LocalLimiter) Close() error {
	l.sweeper.Stop()
	return nil
}

// RedisLimiter shares a fixed-window budget across processes.
type RedisLimiter struct {
	inner *redisrate.Limiter
}

// NewRedisLimiter allows limit requests per window per key.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) (*RedisLimiter, error) {
	inner, err := redisrate.New(client, redisrate.Config{Limit: limit, Window: window, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return &RedisLimiter{inner: inner}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	d, err := l.inner.Allow(ctx, key)
	if err != nil {
		return false, 0, err
	}
	return d.Allowed, d.RetryAfter, nil
}

// Reset clears key, for example after a successful login.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.inner.Reset(ctx, key)
}
