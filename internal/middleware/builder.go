// Package middleware provides HTTP middleware for the Webhook Manager's
// embedded server.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/apifabric/pkg/logger"
	"github.com/vitaliisemenov/apifabric/pkg/metrics"
)

// MiddlewareConfig holds configuration for building middleware stacks.
type MiddlewareConfig struct {
	Logger            *slog.Logger
	Metrics           *metrics.WebhookMetrics
	Registration      string
	RateLimiter       *RateLimitConfig
	AuthConfig        *AuthConfig
	CORSConfig        *CORSConfig
	MaxRequestSize    int
	RequestTimeout    time.Duration
	EnableCompression bool
}

// RateLimitConfig holds rate limiting configuration for inbound HTTP
// requests, keyed by remote IP. This is independent of the per-plugin
// internal/ratelimit limiter that governs Gateway invocation.
type RateLimitConfig struct {
	Enabled    bool
	PerIPLimit float64
	Burst      int
	Logger     *slog.Logger
}

// perIPLimiter hands out a rate.Limiter per remote address.
type perIPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerIPLimiter(rps float64, burst int) *perIPLimiter {
	return &perIPLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *perIPLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled   bool
	Type      string // "api_key" or "jwt"
	APIKey    string
	JWTSecret string
	Logger    *slog.Logger
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// BuildWebhookMiddlewareStack builds a complete middleware stack for webhook endpoints.
// The middleware is applied in the following order (outermost to innermost):
// 1. Security Headers - Add security-related HTTP headers
// 2. Recovery - Recover from panics
// 3. Request ID - Generate unique request IDs
// 4. Logging - Log all requests
// 5. Metrics - Record Prometheus metrics
// 6. Rate Limiting - Apply rate limits
// 7. Authentication - Validate credentials
// 8. Compression - not applied; EnableCompression is ignored
// 9. CORS - Handle cross-origin requests
// 10. Size Limit - Enforce max request size
// 11. Timeout - Enforce request timeouts
func BuildWebhookMiddlewareStack(config *MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		// 11. Timeout (innermost - applied last)
		if config.RequestTimeout > 0 {
			handler = http.TimeoutHandler(handler, config.RequestTimeout, "Request timeout")
		}

		// 10. Size Limit
		if config.MaxRequestSize > 0 {
			inner := handler
			handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.ContentLength > int64(config.MaxRequestSize) {
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				inner.ServeHTTP(w, r)
			})
		}

		// 9. CORS
		if config.CORSConfig != nil && config.CORSConfig.Enabled {
			handler = applyCORS(handler, config.CORSConfig)
		}

		// 8. Compression is intentionally not wired: webhook payloads are
		// small JSON bodies and providers rarely send Accept-Encoding.

		// 7. Authentication
		if config.AuthConfig != nil && config.AuthConfig.Enabled {
			handler = applyAuth(handler, config.AuthConfig)
		}

		// 6. Rate Limiting
		if config.RateLimiter != nil && config.RateLimiter.Enabled {
			handler = applyRateLimit(handler, config.RateLimiter)
		}

		// 5. Metrics
		if config.Metrics != nil {
			handler = applyMetrics(handler, config.Metrics, config.Registration)
		}

		// 4. Logging
		if config.Logger != nil {
			handler = applyLogging(handler, config.Logger)
		}

		// 3. Request ID
		handler = applyRequestID(handler)

		// 2. Recovery (panic recovery)
		handler = applyRecovery(handler, config.Logger)

		// 1. Security Headers (outermost - applied first)
		securityHeaders := NewSecurityHeadersMiddleware(nil)
		handler = securityHeaders.Handler(handler)

		return handler
	}
}

// applyCORS applies CORS middleware.
func applyCORS(next http.Handler, config *CORSConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(config.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			for _, allowed := range config.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if len(config.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", joinStrings(config.AllowedMethods, ", "))
		}

		if len(config.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", joinStrings(config.AllowedHeaders, ", "))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// applyAuth validates a static API key or bearer token against the
// configured registration secret. Webhook registrations that rely solely on
// signature verification (internal/webhook/signature.go) should leave
// AuthConfig disabled and depend on that instead.
func applyAuth(next http.Handler, config *AuthConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var provided string
		switch config.Type {
		case "api_key":
			provided = r.Header.Get("X-Api-Key")
		default:
			provided = r.Header.Get("Authorization")
		}
		if provided == "" || (config.APIKey != "" && provided != config.APIKey) {
			if config.Logger != nil {
				config.Logger.Warn("webhook auth rejected", "type", config.Type, "remote_addr", r.RemoteAddr)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyRateLimit enforces a per-remote-IP token bucket using
// golang.org/x/time/rate, mirroring the per-plugin limiter in
// internal/ratelimit but scoped to inbound HTTP rather than Gateway calls.
func applyRateLimit(next http.Handler, config *RateLimitConfig) http.Handler {
	limiter := newPerIPLimiter(config.PerIPLimit, config.Burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if !limiter.allow(ip) {
			if config.Logger != nil {
				config.Logger.Warn("webhook rate limit exceeded", "remote_addr", ip)
			}
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyMetrics records request counts labeled by registration and outcome.
func applyMetrics(next http.Handler, m *metrics.WebhookMetrics, registration string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		status := statusBucket(wrapped.statusCode)
		m.RequestsReceived.WithLabelValues(registration, status).Inc()
	})
}

func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	case code >= 200:
		return "ok"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// applyLogging applies logging middleware.
func applyLogging(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start),
			"request_id", logger.GetRequestID(r.Context()),
		)
	})
}

// applyRequestID assigns a request ID (from X-Request-ID if present,
// otherwise freshly generated), stores it in the request context and
// reflects it back on the response.
func applyRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))
		next.ServeHTTP(w, r)
	})
}

// applyRecovery applies panic recovery middleware.
func applyRecovery(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if log != nil {
					log.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// joinStrings joins strings with a separator.
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for i := 1; i < len(strs); i++ {
		result += sep + strs[i]
	}
	return result
}
