package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rate limit classes, each with its own budget per window.
const (
	LimitGlobal    = "global"
	LimitLogin     = "login"
	LimitSensitive = "sensitive"
	LimitPost      = "post"
	LimitAdmin     = "admin"
)

const rateLimitMessage = "Too many requests, please try again later."

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key against a budget of max per window.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// ---------------------------------------------------------------------------
// In-memory token buckets
// ---------------------------------------------------------------------------

// tokenBucket refills continuously at max/window tokens per second.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) take(now time.Time) (bool, int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	if b.refillRate <= 0 {
		return false, 0, time.Second
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	return false, 0, wait
}

// idle reports whether the bucket has refilled to capacity by now, which
// makes it indistinguishable from a fresh one.
func (b *tokenBucket) idle(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return false
	}
	return b.tokens+now.Sub(b.lastRefill).Seconds()*b.refillRate >= b.maxTokens
}

// MemoryLimiter keeps token buckets in process memory. Counts are per
// instance. Buckets that have refilled completely are swept periodically so
// one-off client keys do not accumulate.
type MemoryLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	done    chan struct{}
	now     func() time.Time
}

const limiterSweepInterval = time.Minute

func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go m.sweepLoop()
	return m
}

// Close stops the sweeper. Safe to call more than once.
func (m *MemoryLimiter) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := m.now()
	ok, remaining, wait := m.take(key, max, window, now)
	return Decision{Allowed: ok, Limit: max, Remaining: remaining, RetryAfter: wait}, nil
}

// take draws from the key's bucket while holding the map lock, so a
// concurrent sweep never drops a bucket mid-request.
func (m *MemoryLimiter) take(key string, max int, window time.Duration, now time.Time) (bool, int, time.Duration) {
	m.mu.RLock()
	if b, ok := m.buckets[key]; ok {
		defer m.mu.RUnlock()
		return b.take(now)
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = newTokenBucket(float64(max)/window.Seconds(), max, now)
		m.buckets[key] = b
	}
	return b.take(now)
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops full buckets and returns how many were removed.
func (m *MemoryLimiter) sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, b := range m.buckets {
		if b.idle(now) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// ---------------------------------------------------------------------------
// Redis fixed window
// ---------------------------------------------------------------------------

// RedisLimiter counts hits in fixed windows shared by every instance.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	k := r.prefix + key
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: incr: %v", ErrLimiterUnavailable, err)
	}
	// the first hit opens the window
	if count == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: expire: %v", ErrLimiterUnavailable, err)
		}
	}

	d := Decision{Allowed: count <= int64(max), Limit: max, Remaining: max - int(count)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		ttl, err := r.client.TTL(ctx, k).Result()
		if err != nil || ttl <= 0 {
			ttl = window
		}
		d.RetryAfter = ttl
	}
	return d, nil
}

// FallbackLimiter uses primary and switches to fallback for any check where
// primary fails, so an unavailable Redis never blocks traffic.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   zerolog.Logger
}

func NewFallbackLimiter(primary, fallback Limiter, logger zerolog.Logger) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	d, err := f.primary.Allow(ctx, key, max, window)
	if err == nil {
		return d, nil
	}
	f.logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, using in-memory fallback")
	return f.fallback.Allow(ctx, key, max, window)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitRule is the budget for one class of routes.
type RateLimitRule struct {
	Class   string
	Max     int
	Window  time.Duration
	Message string
}

// RateLimit enforces rule per client IP. Limiter errors let the request
// through.
func RateLimit(limiter Limiter, rule RateLimitRule, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rule.Class + ":" + c.RealIP()
			d, err := limiter.Allow(c.Request().Context(), key, rule.Max, rule.Window)
			if err != nil {
				logger.Error().Err(err).Str("class", rule.Class).Msg("rate limit check failed")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				msg := rule.Message
				if msg == "" {
					msg = rateLimitMessage
				}
				return echo.NewHTTPError(http.StatusTooManyRequests, msg)
			}
			return next(c)
		}
	}
}

// ErrLimiterUnavailable is returned by limiters that cannot reach their store.
var ErrLimiterUnavailable = errors.New("rate limiter unavailable")
