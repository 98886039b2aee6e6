// internal/common/middleware/ratelimit.go
// Fixed-window request rate ceilings for the REST surface.
// Counters live in Redis when configured so limits hold across processes;
// otherwise an in-process map is used.

package middleware

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hearsayhq/hearsay-backend/internal/common/utils"
)

// RateLimiter enforces a maximum request count per key per window
type RateLimiter struct {
	name    string
	max     int
	window  time.Duration
	redis   *redis.Client
	message string

	mu     sync.Mutex
	counts map[string]*windowCount
	now    func() time.Time
}

type windowCount struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a rate limiter. redisClient may be nil, in which
// case counters are process-local.
func NewRateLimiter(name string, max int, window time.Duration, redisClient *redis.Client, message string) *RateLimiter {
	return &RateLimiter{
		name:    name,
		max:     max,
		window:  window,
		redis:   redisClient,
		message: message,
		counts:  make(map[string]*windowCount),
		now:     time.Now,
	}
}

// Allow reports whether another request under key fits in the current window
func (rl *RateLimiter) Allow(r *http.Request, key string) bool {
	if rl.redis != nil {
		return rl.allowRedis(r, key)
	}
	return rl.allowMemory(key)
}

func (rl *RateLimiter) allowRedis(r *http.Request, key string) bool {
	ctx := r.Context()
	redisKey := fmt.Sprintf("ratelimit:%s:%s", rl.name, key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		// Fail open: a limiter outage must not take the API down
		log.Printf("Rate limiter %s: redis error: %v", rl.name, err)
		return true
	}
	if count == 1 {
		rl.redis.Expire(ctx, redisKey, rl.window)
	}
	return count <= int64(rl.max)
}

func (rl *RateLimiter) allowMemory(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	wc, ok := rl.counts[key]
	if !ok || now.After(wc.resetAt) {
		rl.counts[key] = &windowCount{count: 1, resetAt: now.Add(rl.window)}
		rl.pruneLocked(now)
		return true
	}

	wc.count++
	return wc.count <= rl.max
}

// pruneLocked drops expired windows so the map does not grow unbounded
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if len(rl.counts) < 4096 {
		return
	}
	for key, wc := range rl.counts {
		if now.After(wc.resetAt) {
			delete(rl.counts, key)
		}
	}
}

// Middleware wraps handlers with the rate ceiling. Authenticated requests
// are keyed by user id, everything else by remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.Allow(r, key) {
			utils.ErrorResponse(w, rl.message, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if userID, ok := r.Context().Value("userID").(string); ok && userID != "" {
		return userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
