package handlers

import (
	"net/http"
	"time"

	domain "github.com/freshmarket/api/internal/domain"
	"github.com/freshmarket/api/internal/platform/httpx"
	"github.com/freshmarket/api/internal/services"
)

var startTime = time.Now()

// HealthHandlers answers liveness and readiness probes. Liveness never touches
// dependencies; readiness consults the system service when one is configured.
type HealthHandlers struct {
	system services.SystemService
}

// NewHealthHandlers constructs a HealthHandlers instance.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{system: system}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether downstream dependencies are reachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h == nil || h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	report, err := h.system.Health(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("readiness_failed", "failed to collect dependency health", http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = map[string]any{
			"status":     string(check.Status),
			"detail":     check.Detail,
			"latency_ms": check.Latency.Milliseconds(),
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, status, map[string]any{
		"status": string(report.Status),
		"checks": checks,
	})
}
