package handlers

import (
	"net/http"

	"github.com/lanchat/lanchat/pkg/runtime"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the server ready to accept chat clients?
type HealthHandler struct {
	rt *runtime.Runtime
}

// NewHealthHandler creates a new health handler.
//
// The runtime parameter may be nil, in which case the readiness check
// returns unhealthy.
func NewHealthHandler(rt *runtime.Runtime) *HealthHandler {
	return &HealthHandler{rt: rt}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "lanchat",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK once the runtime (stores and session registry) is wired up,
// 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.rt == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("runtime not initialized"))
		return
	}

	groups, err := h.rt.Groups.List()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("group store unavailable: "+err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"active_sessions": h.rt.Sessions.Count(),
		"groups":          len(groups),
		"data_dir":        h.rt.DataDir(),
	}))
}
