package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/sep-payments/internal/auth"
	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/repository"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*repository.IdempotencyCacheEntry
}

func (c *memoryCache) Get(_ context.Context, key string, userID uuid.UUID) (*repository.IdempotencyCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key+userID.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (c *memoryCache) Set(_ context.Context, e *repository.IdempotencyCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key+e.UserID.String()] = e
	return nil
}

func TestIdempotency(t *testing.T) {
	cache := &memoryCache{entries: map[string]*repository.IdempotencyCacheEntry{}}
	calls := 0
	status := http.StatusCreated
	h := Idempotency(cache, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
		w.Write([]byte(`{"success":true}`))
	}))
	userID := uuid.New()

	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		req = req.WithContext(auth.ContextWithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("k1", `{"vehicle_id":"a"}`)
	assert.Equal(t, http.StatusCreated, first.Code)

	replay := send("k1", `{"vehicle_id":"a"}`)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, 1, calls)

	conflict := send("k1", `{"vehicle_id":"b"}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)

	unkeyed := send("", `{}`)
	assert.Equal(t, http.StatusCreated, unkeyed.Code)
	assert.Empty(t, unkeyed.Header().Get("X-Idempotent-Replayed"))

	status = http.StatusBadGateway
	send("k2", `{}`)
	send("k2", `{}`)
	assert.Equal(t, 4, calls, "server errors are not cached")
}

func TestAuth(t *testing.T) {
	const secret = "jwt-secret"
	userID := uuid.New()
	token, err := auth.GenerateToken(&domain.User{ID: userID, Email: "marko@example.com", FirstName: "Marko", LastName: "Marković"}, secret, time.Hour)
	require.NoError(t, err)

	var seen uuid.UUID
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/orders/my", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
	assert.Equal(t, userID, seen)
}

func TestTracing(t *testing.T) {
	var got string
	h := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", got)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	m := metrics.New("test")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Metrics(m)(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/123", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count, err := testutil.GatherAndCount(m.Registry(), "http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, out.Body.String(), `route="GET /api/orders/{id}"`)
}

func TestRecovery(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Tracing, Logging, Recovery)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/my", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestLogging_CompletionLineCarriesUserAndRoute(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	const secret = "jwt-secret"
	userID := uuid.New()
	token, err := auth.GenerateToken(&domain.User{ID: userID, Email: "ana@example.com"}, secret, time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /api/orders/{id}", Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})))
	h := Chain(mux, Tracing, Logging)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, userID.String(), line["user_id"])
	assert.Equal(t, "GET /api/orders/{id}", line["route"])
	assert.EqualValues(t, http.StatusNotFound, line["status"])

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Empty(t, buf.String())
}
