package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Store, when set, enforces the limit across instances (Redis). The
	// in-process limiter is used when it is nil or unreachable.
	Store  LimitStore
	Logger zerolog.Logger
}

// LimitStore is a shared counter keyed per client.
type LimitStore interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localLimiter holds one token bucket per client key.
type localLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
}

func newLocalLimiter(rps float64, burst int) *localLimiter {
	return &localLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  3 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (l *localLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastGC) > l.idleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// allow consumes a token and reports how long to wait when none is left.
func (l *localLimiter) allow(key string) (bool, time.Duration) {
	lim := l.get(key)
	r := lim.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

// RateLimit limits requests per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	local := newLocalLimiter(cfg.RequestsPerSecond, cfg.BurstSize)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			var (
				allowed bool
				wait    time.Duration
				err     error
			)
			if cfg.Store != nil {
				allowed, wait, err = cfg.Store.Allow(c.Request().Context(), key)
				if err != nil {
					cfg.Logger.Warn().Err(err).Msg("shared rate limiter unavailable, using local limiter")
					allowed, wait = local.allow(key)
				}
			} else {
				allowed, wait = local.allow(key)
			}

			if !allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}
