package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/policy"
	"github.com/calebm/estimate-assistant-back/internal/service"
)

func (api *API) Messages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request postMessageRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if request.ThreadID == "" {
		if err := validateID(request.ProjectID, 128); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "project_id is required for a new thread")
			return
		}
	}

	result, err := api.chatService.PostMessage(r.Context(), service.PostMessageInput{
		ThreadID:  request.ThreadID,
		ProjectID: request.ProjectID,
		Message:   request.Message,
	})
	switch {
	case errors.Is(err, policy.ErrMessageRejected):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, policy.ErrThreadBusy):
		writeError(w, r, http.StatusConflict, "thread_busy", "an estimate request is still in flight on this thread")
		return
	case errors.Is(err, service.ErrThreadNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "thread not found")
		return
	case err != nil:
		// The user event may already be committed; report what landed.
		response := map[string]any{
			"error_detail": err.Error(),
		}
		if result != nil {
			response["thread_id"] = result.Thread.ID
			response["events"] = eventViews(result.Events)
		}
		writeJSON(w, http.StatusBadGateway, response)
		return
	}

	response := map[string]any{
		"thread_id":   result.Thread.ID,
		"thread_name": result.Thread.DisplayName,
		"events":      eventViews(result.Events),
	}
	if result.Job != nil {
		response["job"] = jobView(result.Job)
	}
	writeJSON(w, http.StatusOK, response)
}

type eventView struct {
	ID        string              `json:"id"`
	ThreadID  string              `json:"thread_id"`
	Type      domain.EventType    `json:"type"`
	Payload   domain.EventPayload `json:"payload"`
	CreatedAt string              `json:"created_at"`
}

func eventViews(events []domain.ChatEvent) []eventView {
	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, eventView{
			ID:        event.ID,
			ThreadID:  event.ThreadID,
			Type:      event.Type,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return views
}

func jobView(job *domain.Job) map[string]any {
	view := map[string]any{
		"job_id":     job.ID,
		"project_id": job.ProjectID,
		"job_type":   job.Type,
		"status":     job.Status,
		"updated_at": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.ErrorMessage != "" {
		view["error"] = map[string]any{
			"code":    "processing_error",
			"message": job.ErrorMessage,
		}
	}
	return view
}
