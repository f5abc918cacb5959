package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

type contextKey string

const userIDKey contextKey = "userID"

// userIDHeader names the caller identity supplied by the trusted frontend
// proxy. Session issuance itself lives outside this service.
const userIDHeader = "X-User-ID"

func userIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// loggingWriter wraps http.ResponseWriter to capture status and size.
type loggingWriter struct {
	w      http.ResponseWriter
	status int
	bytes  int
}

func (lw *loggingWriter) Header() http.Header {
	return lw.w.Header()
}

func (lw *loggingWriter) WriteHeader(code int) {
	if lw.status == 0 {
		lw.status = code
	}
	lw.w.WriteHeader(code)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.w.Write(b)
	lw.bytes += n
	return n, err
}

// Flush forwards to the underlying writer so SSE streaming keeps working
// through the middleware stack.
func (lw *loggingWriter) Flush() {
	if f, ok := lw.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.w
}

// recoveryMiddleware turns handler panics into 500s instead of crashing the
// server.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &loggingWriter{w: w}
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					if wrapper.status == 0 {
						writeError(wrapper, http.StatusInternalServerError, "INTERNAL", "internal server error")
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper, ok := w.(*loggingWriter)
			if !ok {
				wrapper = &loggingWriter{w: w}
			}
			start := time.Now()
			next.ServeHTTP(wrapper, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapper.status,
				"bytes", wrapper.bytes,
				"duration", time.Since(start))
		})
	}
}

// authMiddleware enforces the shared-secret bearer token and resolves the
// caller identity from the proxy-supplied header. An empty secret disables
// token checking for local development; the identity header is still
// required.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing token")
					return
				}
			}

			userID := r.Header.Get(userIDHeader)
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity header required")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
