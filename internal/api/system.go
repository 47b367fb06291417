package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// healthCheckTimeout bounds the component probes inside the health handler.
const healthCheckTimeout = 2 * time.Second

// handleHealth returns the server health status including component probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]string{}
	healthy := true

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			components["database"] = err.Error()
			healthy = false
		} else {
			components["database"] = "ok"
		}
	}

	components["websocket_clients"] = strconv.Itoa(s.hub.ClientCount())

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
