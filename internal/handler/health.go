package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db      pinger
	service string
}

func NewHealthHandler(db pinger, service string) *HealthHandler {
	return &HealthHandler{db: db, service: service}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   h.service,
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	httpStatus := http.StatusOK

	if err := h.db.PingContext(r.Context()); err != nil {
		slog.Warn("readiness check failed: database unreachable", "service", h.service, "error", err)
		dbStatus = "down"
		httpStatus = http.StatusServiceUnavailable
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"service":   h.service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": map[string]string{
			"database": dbStatus,
		},
	})
}
