package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onyxcharts/export-service/internal/config"
)

// RateLimit enforces a per-IP token window: cfg.MaxRequests per
// cfg.Window, per client IP, with requests presenting a matching
// skipKey/skipToken query parameter bypassing the limiter entirely.
// trustProxy controls whether the client IP is read from
// X-Forwarded-For/X-Real-IP or from the raw connection.
func RateLimit(cfg config.RateLimitingConfig) Middleware {
	limiters := &perIPLimiters{
		store:  make(map[string]*rate.Limiter),
		limit:  rate.Limit(float64(cfg.MaxRequests) / cfg.Window.Seconds()),
		burst:  cfg.MaxRequests,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skips(r, cfg) {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r, cfg.TrustProxy)
			if cfg.Delay > 0 {
				time.Sleep(cfg.Delay)
			}

			if !limiters.allow(ip) {
				writeTooManyRequests(w, r, cfg.MaxRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func skips(r *http.Request, cfg config.RateLimitingConfig) bool {
	q := r.URL.Query()
	if cfg.SkipKey != "" && q.Get("key") == cfg.SkipKey {
		return true
	}
	if cfg.SkipToken != "" && q.Get("access_token") == cfg.SkipToken {
		return true
	}
	return false
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type perIPLimiters struct {
	mu    sync.Mutex
	store map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func (p *perIPLimiters) allow(ip string) bool {
	p.mu.Lock()
	l, ok := p.store[ip]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.store[ip] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

func writeTooManyRequests(w http.ResponseWriter, r *http.Request, limit int) {
	accept := r.Header.Get("Accept")
	w.Header().Set("X-Request-ID", GetRequestID(r.Context()))
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)

	if strings.Contains(accept, "application/json") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "error",
			"message":    "Too many requests, please try again later.",
			"limit":      limit,
			"request_id": GetRequestID(r.Context()),
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Too many requests, please try again later."))
}
