package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/recon/pkg/metrics"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Count(ctx context.Context) (int, error)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler. A nil checker always
// reports healthy.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

type healthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
}

// HandleHealth handles GET /healthz requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if h.checker == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	n, err := h.checker.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Records: n})
}

// MetricsHandler serves the custom Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
