package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestLogger logs every request at debug level, and server errors at
// error level
func RequestLogger(sugar *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if ww.Status() >= http.StatusInternalServerError {
				sugar.Errorw("request failed", fields...)
				return
			}
			sugar.Debugw("request", fields...)
		})
	}
}

// TokenValidator resolves a bearer token to the acting account
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// Websocket clients that cannot set headers may pass ?token= instead.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the token subject in the request context
func AuthMiddleware(auth TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			account, err := auth.ValidateToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithAccount(r.Context(), account)))
		})
	}
}

// OptionalAuth stores the token subject when a valid token is present and
// lets anonymous requests through
func OptionalAuth(auth TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if account, err := auth.ValidateToken(token); err == nil {
					r = r.WithContext(NewContextWithAccount(r.Context(), account))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter limits requests per caller
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	sugar    *zap.SugaredLogger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond, burst int, sugar *zap.SugaredLogger) *RateLimiter {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		sugar:    sugar,
	}
}

// getLimiter returns the limiter for a caller key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}

	return limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// authenticated callers are limited per account, others per address
		key, ok := AccountFromContext(r.Context())
		if !ok {
			key = clientIP(r)
		}

		if !rl.getLimiter(key).Allow() {
			rl.sugar.Warnf("rate limit exceeded for %s on %s %s", key, r.Method, r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops every limiter once the table grows past max entries
func (rl *RateLimiter) Cleanup(max int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > max {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup periodically bounds the limiter table until stop is closed
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup(10000)
			case <-stop:
				return
			}
		}
	}()
}

func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}
