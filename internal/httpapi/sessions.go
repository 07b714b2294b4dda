package httpapi

import (
	"net/http"

	"arcadepos/backend/internal/domain"
	"arcadepos/backend/internal/store"
)

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		sessions, err := a.service.ListSessions(r.Context(), store.SessionFilter{
			Status: query.Get("status"),
			PCID:   query.Get("pc_id"),
			SaleID: query.Get("sale_id"),
			Limit:  parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	case http.MethodPost:
		var req domain.StartSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		session, err := a.service.StartSession(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": session})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	sessions, err := a.service.ListActiveSessions(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleSessionActions serves /api/v1/sessions/{id} and its end, cancel and
// cost sub-resources.
func (a *API) handleSessionActions(w http.ResponseWriter, r *http.Request) {
	sessionID, action := pathTail(r.URL.Path, "/api/v1/sessions/")
	if sessionID == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		session, err := a.service.GetSession(r.Context(), sessionID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": session})
	case action == "cost" && r.Method == http.MethodGet:
		cost, err := a.service.ProjectSessionCost(r.Context(), sessionID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cost)
	case action == "end" && r.Method == http.MethodPost:
		var req domain.EndSessionRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		session, err := a.service.EndSession(r.Context(), sessionID, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": session})
	case action == "cancel" && r.Method == http.MethodPost:
		if err := a.service.CancelSession(r.Context(), sessionID); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "session_id": sessionID})
	case action == "" || action == "cost" || action == "end" || action == "cancel":
		writeMethodNotAllowed(w)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown session action"})
	}
}
