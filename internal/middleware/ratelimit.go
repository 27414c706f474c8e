// Package middleware holds echo middleware shared by the HTTP server.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests per client IP with a token bucket.
//
// It keys on c.RealIP(). Behind a proxy, configure echo's IPExtractor or
// clients can rotate X-Forwarded-For to bypass the limit:
//
//	e.IPExtractor = echo.ExtractIPFromXFFHeader(echo.TrustPrivateNet(true))
type RateLimiter struct {
	limiters sync.Map // IP address -> *limiterEntry
	logger   *slog.Logger
	config   RateLimitConfig
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// limiterEntry wraps a limiter with its last access time, stored as a Unix
// timestamp for atomic access.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

// RateLimitConfig holds the bucket of one limiter.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second.
	Rate float64

	// Burst is the bucket size.
	Burst int

	// CleanupInterval is how often idle limiters are dropped.
	CleanupInterval time.Duration

	// IdleTimeout is how long a limiter may go unused before it is dropped.
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig returns the limits for general API traffic:
// 100 req/sec with a burst of 200.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            100,
		Burst:           200,
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Hour,
	}
}

// UploadRateLimitConfig returns the limits for image uploads, which decode
// and re-encode every image: 30 req/min with a burst of 10.
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            30.0 / 60.0,
		Burst:           10,
		CleanupInterval: time.Hour,
		IdleTimeout:     time.Hour,
	}
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine.
// Call Shutdown to stop it.
func NewRateLimiter(logger *slog.Logger, cfg RateLimitConfig) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())

	rl := &RateLimiter{
		logger: logger,
		config: cfg,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	if rl.config.CleanupInterval <= 0 {
		rl.config.CleanupInterval = time.Hour
	}
	if rl.config.IdleTimeout <= 0 {
		rl.config.IdleTimeout = time.Hour
	}

	go rl.cleanupLoop()

	return rl
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			limiter := rl.GetLimiter(ip)

			limit := rl.limitHeader()
			if !limiter.Allow() {
				rl.logger.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", c.Path()),
					slog.String("method", c.Request().Method))

				c.Response().Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
				c.Response().Header().Set("X-RateLimit-Limit", limit)
				c.Response().Header().Set("X-RateLimit-Remaining", "0")

				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			c.Response().Header().Set("X-RateLimit-Limit", limit)
			return next(c)
		}
	}
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	if entry, exists := rl.limiters.Load(ip); exists {
		limEntry := entry.(*limiterEntry)
		limEntry.lastAccess.Store(rl.now().Unix())
		return limEntry.limiter
	}

	entry := &limiterEntry{
		limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
	}
	entry.lastAccess.Store(rl.now().Unix())
	actual, _ := rl.limiters.LoadOrStore(ip, entry)
	return actual.(*limiterEntry).limiter
}

// Cleanup drops limiters idle for longer than IdleTimeout and returns how
// many were removed.
func (rl *RateLimiter) Cleanup() int {
	var removed int
	cutoff := rl.now().Add(-rl.config.IdleTimeout).Unix()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastAccess.Load() < cutoff {
			rl.limiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := rl.Cleanup(); removed > 0 {
				rl.logger.Info("cleaned up old rate limiters", slog.Int("removed", removed))
			}
		case <-rl.ctx.Done():
			rl.logger.Debug("rate limiter cleanup goroutine stopping")
			return
		}
	}
}

// Shutdown stops the cleanup goroutine.
func (rl *RateLimiter) Shutdown() {
	if rl.cancel != nil {
		rl.cancel()
	}
}

// limitHeader reports the limit per second, or per minute for slow buckets.
func (rl *RateLimiter) limitHeader() string {
	if rl.config.Rate < 1 {
		return fmt.Sprintf("%.0f/min", rl.config.Rate*60)
	}
	return fmt.Sprintf("%.0f", rl.config.Rate)
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.config.Rate <= 0 {
		return 60
	}
	secs := int(math.Round(1 / rl.config.Rate))
	if secs < 1 {
		return 1
	}
	return secs
}
