package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/kit"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// TraceID tags each request with a random trace ID (context, X-Trace-ID
// header and a per-request logger) and logs the completed request.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 8)
			rand.Read(id)
			traceID := hex.EncodeToString(id)

			ctx := kit.WithTraceID(kit.WithTransport(r.Context(), "http"), traceID)
			reqLogger := logger.With("trace_id", traceID, "method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			w.Header().Set("X-Trace-ID", traceID)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))
			reqLogger.Info("http: request", "status", sw.status, "duration", time.Since(start))
		})
	}
}
