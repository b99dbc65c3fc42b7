package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/lanchat/lanchat/pkg/runtime"
)

// SessionsHandler serves the active session listing.
type SessionsHandler struct {
	rt *runtime.Runtime
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(rt *runtime.Runtime) *SessionsHandler {
	return &SessionsHandler{rt: rt}
}

// SessionInfo is the JSON shape of one active session.
type SessionInfo struct {
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	RemoteAddr  string    `json:"remote_addr"`
	LoggedInAt  time.Time `json:"logged_in_at"`
}

// List handles GET /v1/sessions - the active session listing.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.rt == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("runtime not initialized"))
		return
	}

	snapshot := h.rt.Sessions.Snapshot()
	sessions := make([]SessionInfo, 0, len(snapshot))
	for _, s := range snapshot {
		sessions = append(sessions, SessionInfo{
			Login:       s.Login,
			DisplayName: s.DisplayName,
			RemoteAddr:  s.RemoteAddr,
			LoggedInAt:  s.LoggedInAt,
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Login < sessions[j].Login })

	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	}))
}
