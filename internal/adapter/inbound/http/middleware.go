package http

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/policyshield/policyshield/internal/ctxkey"
	"github.com/policyshield/policyshield/internal/domain/auth"
	"github.com/policyshield/policyshield/internal/domain/rule"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
var LoggerKey = ctxkey.LoggerKey{}

// ipContextKey is the context key for the extracted client IP.
type ipContextKey struct{}

// IPAddressKey is the context key for the client's real IP address.
var IPAddressKey = ipContextKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the
// logger stored under LoggerKey with a request_id field.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context, falling
// back to slog.Default() if none was stored.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RequestIDFromContext returns the request ID stored by RequestIDMiddleware,
// or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// CORSMiddleware validates the Origin header against an allowlist
// (POLICYSHIELD_CORS_ORIGINS) and sets the matching CORS response headers.
// An empty allowlist disables CORS: requests without an Origin header pass
// through untouched, and any Origin header present is rejected.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				writeError(w, http.StatusForbidden, "forbidden_origin", "origin not allowed", nil)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RealIPMiddleware extracts the client's real IP and stores it under
// IPAddressKey, for the admin lockout tracker and any future rate limiting.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), IPAddressKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP checks X-Forwarded-For and X-Real-IP before falling back to
// RemoteAddr. Only the first X-Forwarded-For entry is trusted.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(IPAddressKey).(string); ok {
		return ip
	}
	return ""
}

// bearerToken extracts the raw token from an Authorization: Bearer header,
// returning "" if the header is missing or malformed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// RequireAPIToken rejects requests that don't carry a valid API bearer
// token. Must run after RequestIDMiddleware so error responses can log a
// request ID.
func RequireAPIToken(authn *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if err := authn.Verify(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdminToken rejects requests that don't carry a valid admin bearer
// token, and enforces AdminLockout's per-IP exponential backoff on repeated
// failures (spec.md §5).
func RequireAdminToken(authn *auth.Authenticator, lockout *auth.AdminLockout) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ipFromContext(r.Context())
			if ip == "" {
				ip = extractRealIP(r)
			}

			if !lockout.Allowed(ip) {
				writeError(w, http.StatusForbidden, "locked_out", "too many failed admin auth attempts, try again later", nil)
				return
			}

			token := bearerToken(r)
			if err := authn.VerifyAdmin(token); err != nil {
				lockout.RecordFailure(ip)
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid admin bearer token", nil)
				return
			}

			lockout.RecordSuccess(ip)
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySizeMiddleware caps request bodies at maxBytes
// (POLICYSHIELD_MAX_REQUEST_SIZE), rejecting oversized ones with 413.
func MaxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds the configured limit", nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ConcurrencyLimitMiddleware bounds the number of in-flight requests via a
// semaphore (POLICYSHIELD_MAX_CONCURRENT_CHECKS), returning 503 with an
// explicit BLOCK verdict body once full (spec §4.10.5) — this is an
// overload-policy decision, not the engine's configured fail mode, so the
// verdict is always BLOCK regardless of fail_mode.
func ConcurrencyLimitMiddleware(limit int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				writeErrorWithVerdict(w, http.StatusServiceUnavailable, "overloaded", "too many concurrent requests", string(rule.Block))
			}
		})
	}
}

// TimeoutMiddleware bounds the whole request lifecycle
// (POLICYSHIELD_REQUEST_TIMEOUT), returning 504 with a BLOCK verdict body
// (spec §4.10.6) if the handler doesn't finish in time. Unlike stdlib
// http.TimeoutHandler, which always answers 503 with a text/plain body,
// this writes the shared JSON error envelope so callers get a verdict
// field to act on.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			r = r.WithContext(ctx)

			tw := &timeoutWriter{h: make(http.Header)}
			done := make(chan struct{})
			panicChan := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- p
					}
				}()
				next.ServeHTTP(tw, r)
				close(done)
			}()

			select {
			case p := <-panicChan:
				panic(p)
			case <-done:
				tw.mu.Lock()
				defer tw.mu.Unlock()
				dst := w.Header()
				for k, vv := range tw.h {
					dst[k] = vv
				}
				if !tw.wroteHeader {
					tw.code = http.StatusOK
				}
				w.WriteHeader(tw.code)
				w.Write(tw.buf.Bytes())
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true
				writeErrorWithVerdict(w, http.StatusGatewayTimeout, "timeout", "request exceeded the configured timeout", string(rule.Block))
			}
		})
	}
}

// timeoutWriter buffers a handler's response until TimeoutMiddleware
// decides whether it finished in time, so a late write from an abandoned
// handler goroutine never races with the timeout response already sent to
// the real ResponseWriter.
type timeoutWriter struct {
	h   http.Header
	buf bytes.Buffer

	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
	code        int
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.code = http.StatusOK
	}
	return tw.buf.Write(p)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.code = code
}
