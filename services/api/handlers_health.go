package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	components := make(map[string]ComponentHealth, len(a.checks))
	overall := "ok"

	for name, check := range a.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		start := time.Now()
		err := check(ctx)
		cancel()

		component := ComponentHealth{
			Status:       "ok",
			ResponseTime: time.Since(start).String(),
			LastChecked:  time.Now().UTC(),
		}
		if err != nil {
			component.Status = "unavailable"
			component.Message = err.Error()
			overall = "degraded"
		}
		components[name] = component
	}

	status := http.StatusOK
	if overall != "ok" {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, HealthResponse{
		Status:      overall,
		Components:  components,
		Uptime:      now.Sub(a.started).String(),
		Version:     a.config.Version,
		Environment: a.config.Environment,
		Timestamp:   now,
	})
}
