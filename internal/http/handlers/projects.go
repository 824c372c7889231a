package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/repository"
	"github.com/calebm/estimate-assistant-back/internal/service"
)

// Projects handles the project-scoped routes:
//
//	GET  /v1/projects/{id}/estimate
//	POST /v1/projects/{id}/estimate/generate
//	POST /v1/projects/{id}/videos/{fileID}/process
//	GET  /v1/projects/{id}/jobs/{type}
func (api *API) Projects(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/projects/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) < 2 || strings.TrimSpace(segments[0]) == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	projectID := segments[0]

	switch {
	case r.Method == http.MethodGet && len(segments) == 2 && segments[1] == "estimate":
		api.getEstimate(w, r, projectID)
	case r.Method == http.MethodPost && len(segments) == 3 && segments[1] == "estimate" && segments[2] == "generate":
		api.generateEstimate(w, r, projectID)
	case r.Method == http.MethodPost && len(segments) == 4 && segments[1] == "videos" && segments[3] == "process":
		api.processVideo(w, r, projectID, segments[2])
	case r.Method == http.MethodGet && len(segments) == 3 && segments[1] == "jobs":
		api.jobStatus(w, r, projectID, segments[2])
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (api *API) getEstimate(w http.ResponseWriter, r *http.Request, projectID string) {
	document, version, err := api.estimates.GetEstimate(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no estimate exists for this project")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load estimate")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"version":    version,
		"estimate":   document,
	})
}

func (api *API) generateEstimate(w http.ResponseWriter, r *http.Request, projectID string) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) < 16 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key header is required")
		return
	}

	var request generateEstimateRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if len(request.FileIDs) == 0 && strings.TrimSpace(request.ChangesToMake) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file_ids or changes_to_make is required")
		return
	}

	payloadHash := hashPayload(request)
	if entry, exists := api.idempotency.Get(idempotencyKey); exists {
		if entry.PayloadHash != payloadHash {
			writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedJobResponse(projectID, entry.JobID, domain.JobTypeEstimateGeneration, entry.CreatedAt))
		return
	}

	job, err := api.jobsService.StartEstimateGeneration(r.Context(), service.StartEstimateInput{
		ProjectID:     projectID,
		FileIDs:       request.FileIDs,
		ChangesToMake: request.ChangesToMake,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "one or more files do not exist")
			return
		}
		writeError(w, r, http.StatusBadGateway, "upstream_error", "failed to start estimate generation")
		return
	}

	api.idempotency.Put(idempotencyKey, payloadHash, job.ID)
	writeJSON(w, http.StatusAccepted, acceptedJobResponse(projectID, job.ID, job.Type, job.CreatedAt))
}

func (api *API) processVideo(w http.ResponseWriter, r *http.Request, projectID string, fileID string) {
	if err := validateID(fileID, 128); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "file_id is required")
		return
	}

	job, err := api.jobsService.StartVideoProcessing(r.Context(), projectID, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "video file not found")
			return
		}
		writeError(w, r, http.StatusBadGateway, "upstream_error", "failed to start video processing")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedJobResponse(projectID, job.ID, job.Type, job.CreatedAt))
}

func (api *API) jobStatus(w http.ResponseWriter, r *http.Request, projectID string, jobTypeRaw string) {
	jobType := domain.JobType(jobTypeRaw)
	if jobType != domain.JobTypeEstimateGeneration && jobType != domain.JobTypeVideoProcess {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown job type")
		return
	}

	job, err := api.jobsService.GetLatestJob(r.Context(), projectID, jobType)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"project_id": projectID,
				"job_type":   jobType,
				"status":     domain.JobStatusNotStarted,
			})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	// One on-demand poll per read keeps job state fresh without a
	// background poller. Terminal jobs are returned as stored.
	if !job.Status.IsTerminal() {
		refreshed, checkErr := api.jobsService.CheckJob(r.Context(), job.ID)
		if checkErr == nil {
			job = refreshed
		}
	}

	writeJSON(w, http.StatusOK, jobView(job))
}

func acceptedJobResponse(projectID, jobID string, jobType domain.JobType, createdAt time.Time) map[string]any {
	return map[string]any{
		"job_id":      jobID,
		"project_id":  projectID,
		"job_type":    jobType,
		"status":      domain.JobStatusPending,
		"status_url":  "/v1/projects/" + projectID + "/jobs/" + string(jobType),
		"accepted_at": createdAt.Format(time.RFC3339Nano),
	}
}
