// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/metrics"
	"github.com/a2aregistry/registry/internal/ratelimit"
	"github.com/a2aregistry/registry/types"
)

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in order, so the first one listed runs
// outermost — Chain(h, Recovery, RequestID) recovers panics that occur
// even inside RequestID's own logic.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery turns a panicking handler into a 500 instead of crashing the
// process.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, r, types.NewError(types.ErrInternal, "internal server error"), logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID assigns a request id (preserving an inbound X-Request-ID)
// and injects it into the context so handlers and error responses can
// correlate with logs.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := types.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// SecurityHeaders adds the standard defensive response headers.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request with method, path, status, and
// duration.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Metrics records one HTTP request observation per call into collector.
// A nil collector (metrics disabled) makes this a no-op, so callers
// never need a conditional Chain.
func Metrics(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		if collector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			collector.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start), r.ContentLength, 0)
		})
	}
}

// principalKey is a private context key so AuthN's result cannot be
// forged by a handler reading a well-known key elsewhere.
type principalKey struct{}

// AuthN resolves the Authorization: Bearer header into a Principal via
// the AuthZ Gate for the named operation, storing the result (possibly
// the zero Principal, for public operations called unauthenticated) in
// context for downstream handlers to read with principalFrom.
func AuthN(gate *authz.Gate, operation string, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			principal, err := gate.Authenticate(r.Context(), operation, token)
			if err != nil {
				writeError(w, r, err, logger)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			if token != "" {
				ctx = types.WithPrincipal(ctx, principal)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func principalFrom(r *http.Request) (authz.Principal, bool) {
	p, ok := r.Context().Value(principalKey{}).(authz.Principal)
	if !ok || p.ID == "" {
		return authz.Principal{}, false
	}
	return p, true
}

// RateLimit enforces class's budget against the caller's principal id
// (falling back to remote address for unauthenticated public-read
// traffic).
func RateLimit(limiter ratelimit.Limiter, class ratelimit.Class, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := r.RemoteAddr
			if p, ok := principalFrom(r); ok {
				subject = p.TenantID + ":" + p.ID
			}
			allowed, retryAfter, err := limiter.Allow(r.Context(), subject, class)
			if err != nil {
				writeError(w, r, err, logger)
				return
			}
			if !allowed {
				writeError(w, r, ratelimit.ErrExceeded(retryAfter), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
