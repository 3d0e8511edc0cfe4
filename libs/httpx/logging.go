package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// loggedResponse remembers what a handler wrote for the access log.
type loggedResponse struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *loggedResponse) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggedResponse) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Flush keeps server-sent event streams working behind the access log.
func (w *loggedResponse) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggedResponse) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func accessLevel(r *http.Request, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case r.URL.Path == "/healthz" || r.URL.Path == "/readyz":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WithAccessLog logs one line per request. Probe traffic is logged at debug.
func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggedResponse{ResponseWriter: w}
			next.ServeHTTP(lw, r)

			status := lw.status
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", lw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if r.Pattern != "" {
				attrs = append(attrs, "route", r.Pattern)
			}
			if uid := r.Header.Get(HeaderUserID); uid != "" {
				attrs = append(attrs, "user_id", uid)
			}
			logger.Log(r.Context(), accessLevel(r, status), "http request", attrs...)
		})
	}
}
