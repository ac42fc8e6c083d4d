package devserver

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration. A zero RPS disables it.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

// staleAfter is how long an idle client bucket is kept.
const staleAfter = 10 * time.Minute

type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*tokenBucket
	rps       int
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.RPS
	}
	return &rateLimiter{
		clients:   make(map[string]*tokenBucket),
		rps:       cfg.RPS,
		burst:     burst,
		now:       now,
		lastPrune: now(),
	}
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > staleAfter {
		for k, b := range rl.clients {
			if now.Sub(b.lastRefill) > staleAfter {
				delete(rl.clients, k)
			}
		}
		rl.lastPrune = now
	}

	bucket, ok := rl.clients[client]
	if !ok {
		bucket = newTokenBucket(rl.rps, rl.burst, now)
		rl.clients[client] = bucket
	}
	return bucket.allow(now)
}

// rateLimit returns a per-client token-bucket limiter for the sign-in
// endpoints, or a pass-through handler when disabled.
func (s *Server) rateLimit() fiber.Handler {
	if s.cfg.RateLimit.RPS <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	rl := newRateLimiter(s.cfg.RateLimit, s.cfg.Now)
	return func(c *fiber.Ctx) error {
		if !rl.allow(c.IP()) {
			s.logger.Warn().Str("ip", c.IP()).Str("path", c.Path()).Msg("rate limit exceeded")
			return fail(c, fiber.StatusTooManyRequests, "rate limit exceeded, try again later")
		}
		return c.Next()
	}
}
