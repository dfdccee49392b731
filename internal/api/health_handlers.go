package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/waveline/internal/health"
)

// readinessTimeout bounds the dependency probes behind /ready.
const readinessTimeout = 5 * time.Second

// HealthHandlers provides health and readiness check endpoints for
// Kubernetes probes.
type HealthHandlers struct {
	checkers []health.Checker
}

// NewHealthHandlers creates a new health check handler over the given
// dependency checkers. Checkers may be empty when running fully in-memory.
func NewHealthHandlers(checkers ...health.Checker) *HealthHandlers {
	return &HealthHandlers{checkers: checkers}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 if the process is alive; no dependencies are probed.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe).
// Probes every registered dependency and returns 503 if any is unavailable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks, healthy := health.Check(ctx, h.checkers...)

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	WriteJSON(w, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
