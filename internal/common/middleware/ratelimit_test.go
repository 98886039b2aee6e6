// internal/common/middleware/ratelimit_test.go

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterMemory(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newLimiter := func(max int) *RateLimiter {
		rl := NewRateLimiter("test", max, time.Minute, nil, "Too many requests")
		rl.now = func() time.Time { return now }
		return rl
	}

	t.Run("allows up to max then rejects", func(t *testing.T) {
		rl := newLimiter(3)
		handler := rl.Middleware(okHandler())

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "Too many requests")
	})

	t.Run("window resets", func(t *testing.T) {
		rl := newLimiter(1)
		handler := rl.Middleware(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		now = now.Add(61 * time.Second)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("authenticated requests are keyed per user", func(t *testing.T) {
		rl := newLimiter(1)
		handler := rl.Middleware(okHandler())

		asUser := func(userID string) *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			return req.WithContext(context.WithValue(req.Context(), "userID", userID))
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser("alice"))
		assert.Equal(t, http.StatusOK, rec.Code)

		// Alice is out of budget, Bob is not, even from the same address
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser("alice"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, asUser("bob"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
