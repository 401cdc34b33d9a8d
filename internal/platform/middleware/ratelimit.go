package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	limiterIdleEvict  = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

// RateLimitConfig tunes the per-IP request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns limits suitable for a single clinic site.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

type clientLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one rate.Limiter per client key. Limiters idle for
// longer than limiterIdleEvict are dropped during periodic sweeps so the map
// does not grow with every IP ever seen.
type limiterPool struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	cfg       RateLimitConfig
	nextSweep time.Time
}

func newLimiterPool(cfg RateLimitConfig) *limiterPool {
	return &limiterPool{
		limiters:  make(map[string]*clientLimiter),
		cfg:       cfg,
		nextSweep: time.Now().Add(limiterSweepEvery),
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.After(p.nextSweep) {
		for k, cl := range p.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleEvict {
				delete(p.limiters, k)
			}
		}
		p.nextSweep = now.Add(limiterSweepEvery)
	}

	cl, ok := p.limiters[key]
	if !ok {
		cl = &clientLimiter{
			Limiter: rate.NewLimiter(rate.Limit(p.cfg.RequestsPerSecond), p.cfg.BurstSize),
		}
		p.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.Limiter
}

// RateLimit throttles requests per client IP with a token bucket. Rejected
// requests receive 429 with a Retry-After hint derived from the bucket's
// refill rate.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	pool := newLimiterPool(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)

			res := pool.get(c.RealIP()).Reserve()
			if !res.OK() {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}
