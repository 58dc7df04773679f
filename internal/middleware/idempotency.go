package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/sep-payments/internal/auth"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/repository"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "X-Idempotent-Replayed"
)

type idempotencyRepository interface {
	Get(ctx context.Context, key string, userID uuid.UUID) (*repository.IdempotencyCacheEntry, error)
	Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error
}

// Idempotency replays the stored response when an authenticated user repeats
// a write with the same Idempotency-Key. A different body under a reused key
// is rejected. Requests without a key pass through untouched. Only 2xx and
// 4xx responses are stored, so a failed upstream call can be retried with the
// same key.
func Idempotency(repo idempotencyRepository, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(idempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			log := logging.FromContext(r.Context()).With("idempotency_key", key)

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := requestHash(r.Method, r.URL.Path, body)

			cached, err := repo.Get(r.Context(), key, userID)
			switch {
			case err == nil:
				if cached.RequestHash != reqHash {
					handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(replayedHeader, "true")
				w.WriteHeader(cached.StatusCode)
				if _, err := w.Write(cached.ResponseBody); err != nil {
					log.Error("failed to write idempotent replay", "error", err)
				}
				return
			case !errors.Is(err, domain.ErrNotFound):
				log.Error("idempotency cache lookup failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError {
				return
			}

			now := time.Now().UTC()
			entry := &repository.IdempotencyCacheEntry{
				Key:          key,
				UserID:       userID,
				RequestHash:  reqHash,
				StatusCode:   rec.statusCode,
				ResponseBody: rec.body.Bytes(),
				CreatedAt:    now,
				ExpiresAt:    now.Add(ttl),
			}
			if err := repo.Set(r.Context(), entry); err != nil {
				log.Error("idempotency cache store failed", "error", err)
			}
		})
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
