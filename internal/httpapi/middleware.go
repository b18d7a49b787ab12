package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/auth"
	"github.com/snapback-dev/snapback-go/internal/config"
)

// securityHeaders applies the standard hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// writeJSONError emits the non-2xx body shape.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// rateLimiter is a fixed-window per-client-ip limiter. Counters reset when
// their window expires; stale entries for clients that never return are
// swept at most once per window so the map cannot grow without bound.
type rateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*ipWindow
	window    time.Duration
	cap       int
	now       func() time.Time
	lastSweep time.Time
}

type ipWindow struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(window time.Duration, capacity int) *rateLimiter {
	return &rateLimiter{
		windows: make(map[string]*ipWindow),
		window:  window,
		cap:     capacity,
		now:     time.Now,
	}
}

// allow reports whether one more request from ip fits in the current window.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.window {
		for stale, w := range rl.windows {
			if now.After(w.resetAt) {
				delete(rl.windows, stale)
			}
		}
		rl.lastSweep = now
	}

	win, ok := rl.windows[ip]
	if !ok || now.After(win.resetAt) {
		rl.windows[ip] = &ipWindow{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if win.count >= rl.cap {
		return false
	}
	win.count++
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bodyLimits enforces the body size cap and the JSON content type on
// request-bearing methods.
func bodyLimits(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				ct := r.Header.Get("Content-Type")
				if ct != "" && !strings.HasPrefix(ct, "application/json") {
					writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "content type must be application/json")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractCredential pulls the caller key from Authorization: Bearer or
// X-API-Key.
func extractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if key, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// authenticate attaches the caller credential to the request context. In
// production a missing credential on protected paths is a 401; health and
// version probes stay open.
func authenticate(cfg *config.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/version" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			key := extractCredential(r)
			if key == "" && !cfg.IsDevelopment() {
				logger.Debug("request without credential rejected",
					zap.String("path", r.URL.Path))
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithKey(r.Context(), key)))
		})
	}
}
