package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestInfo collects facts inner middleware learn about the request so
// the completion line can carry them.
type requestInfo struct {
	userID string
}

type requestInfoKey struct{}

func noteUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.userID = userID
	}
}

func skipLogging(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/api/health" || path == "/metrics"
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipLogging(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		logger := slog.Default().With("request_id", TraceIDFromContext(r.Context()))
		info := &requestInfo{}
		ctx := context.WithValue(logging.WithLogger(r.Context(), logger), requestInfoKey{}, info)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"route", r.Pattern,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if info.userID != "" {
			attrs = append(attrs, "user_id", info.userID)
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.Error("request completed", attrs...)
		case rec.status >= http.StatusBadRequest:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	})
}
