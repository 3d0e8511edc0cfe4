package httpx

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/hoaht-8203/courtops/libs/apperr"
)

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that Chain(h, a, b) runs a, then b, then h.
func Chain(h http.Handler, m ...Middleware) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func passThrough(next http.Handler) http.Handler { return next }

// WithBodyLimit caps request bodies at limitBytes. Zero or less disables it.
func WithBodyLimit(limitBytes int64) Middleware {
	if limitBytes <= 0 {
		return passThrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limitBytes {
				WriteError(w, r, apperr.New(http.StatusRequestEntityTooLarge, "too_large", "request body too large"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			next.ServeHTTP(w, r)
		})
	}
}

const timeoutBody = `{"error":{"code":"timeout","message":"request timed out"}}`

// WithTimeout answers 503 with a JSON error once d has elapsed. Zero or less
// disables it.
func WithTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return passThrough
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, timeoutBody)
	}
}

// WithRecover turns handler panics into 500s instead of dropping the connection.
func WithRecover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic in handler",
					"request_id", RequestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				WriteError(w, r, apperr.New(http.StatusInternalServerError, "internal", "internal error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
