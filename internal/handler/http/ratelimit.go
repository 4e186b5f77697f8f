package http

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"gamidash/internal/handler/http/respond"
	"gamidash/internal/security"
)

// RateLimitDeniedResponse is the 429 body. retryAfterSeconds mirrors the
// Retry-After header so browser clients can read it without header access.
type RateLimitDeniedResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// RateLimit returns middleware that enforces the guard's per-client policy.
// Clients are keyed by IP; every request also feeds the suspicious activity
// detector with the client's user agent. Denied requests get a 429 with a
// Retry-After header and a JSON body carrying the same hint.
func RateLimit(guard *security.Guard, maxRequests int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)

			if guard.DetectSuspicious(ip, r.Header.Get("User-Agent")) {
				logger.Warn("suspicious client blocked",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("user_agent", r.Header.Get("User-Agent")))
			}

			decision := guard.Allow(ip, maxRequests, window)
			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds())
				logger.Warn("request denied",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("reason", decision.Reason))

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respond.JSON(w, http.StatusTooManyRequests, RateLimitDeniedResponse{
					Error:             decision.Reason,
					RetryAfterSeconds: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP extracts the client IP from the request, checking
// X-Forwarded-For and X-Real-IP before falling back to RemoteAddr.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := parseFirstIP(xff); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseFirstIP parses the first IP address from a comma-separated list.
func parseFirstIP(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			if ip := net.ParseIP(s[:i]); ip != nil {
				return ip.String()
			}
			return ""
		}
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip.String()
	}
	return ""
}
