package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Uploader state older than this is dropped by the pruner.
const uploaderStaleAfter = 10 * time.Minute

// uploader tracks the token-bucket state for one uploading IP.
type uploader struct {
	tokens   float64
	lastSeen time.Time
}

// uploadLimiter applies a per-IP token bucket to the upload route. Reads
// (metadata, downloads, analytics) are not limited.
type uploadLimiter struct {
	mu        sync.Mutex
	uploaders map[string]*uploader
	rate      float64 // tokens per second
	burst     int     // max tokens
}

// newUploadLimiter creates a limiter allowing rps sustained uploads per IP
// with the given burst.
func newUploadLimiter(rps float64, burst int) *uploadLimiter {
	ul := &uploadLimiter{
		uploaders: make(map[string]*uploader),
		rate:      rps,
		burst:     burst,
	}

	// Prune IPs that stopped uploading so the map stays bounded.
	go func() {
		for {
			time.Sleep(uploaderStaleAfter / 2)
			ul.prune()
		}
	}()

	return ul
}

// Middleware returns an echo middleware function that enforces the limit.
func (ul *uploadLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !ul.allow(ip) {
				slog.Warn("upload rate limit exceeded", "ip", ip)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

func (ul *uploadLimiter) allow(ip string) bool {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	u, exists := ul.uploaders[ip]
	now := time.Now()

	if !exists {
		ul.uploaders[ip] = &uploader{
			tokens:   float64(ul.burst) - 1,
			lastSeen: now,
		}
		return true
	}

	// Refill tokens for the time elapsed since the last upload attempt
	elapsed := now.Sub(u.lastSeen).Seconds()
	u.tokens += elapsed * ul.rate
	if u.tokens > float64(ul.burst) {
		u.tokens = float64(ul.burst)
	}
	u.lastSeen = now

	if u.tokens < 1 {
		return false
	}

	u.tokens--
	return true
}

func (ul *uploadLimiter) prune() {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	cutoff := time.Now().Add(-uploaderStaleAfter)
	for ip, u := range ul.uploaders {
		if u.lastSeen.Before(cutoff) {
			delete(ul.uploaders, ip)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
// The referer is included because share links travel by referral.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"referer", req.Referer(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
