package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/service"
)

// Threads handles /v1/threads/{id} and /v1/threads/{id}/events.
func (api *API) Threads(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/threads/")
	threadID, suffix, _ := strings.Cut(rest, "/")
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "thread_id is required")
		return
	}

	switch {
	case r.Method == http.MethodGet && suffix == "events":
		api.listThreadEvents(w, r, threadID)
	case r.Method == http.MethodDelete && suffix == "":
		api.deleteThread(w, r, threadID)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) listThreadEvents(w http.ResponseWriter, r *http.Request, threadID string) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseOptionalDateTime(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "since must be an RFC3339 timestamp")
			return
		}
		since = *parsed
	}

	thread, events, err := api.chatService.ListThreadEvents(r.Context(), threadID, since)
	if err != nil {
		if errors.Is(err, service.ErrThreadNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list thread events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":   thread.ID,
		"project_id":  thread.ProjectID,
		"thread_name": thread.DisplayName,
		"events":      eventViews(events),
	})
}

func (api *API) deleteThread(w http.ResponseWriter, r *http.Request, threadID string) {
	if err := api.chatService.DeleteThread(r.Context(), threadID); err != nil {
		if errors.Is(err, service.ErrThreadNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to delete thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "thread_id": threadID})
}
