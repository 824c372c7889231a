package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/quality"
	"github.com/calebm/estimate-assistant-back/internal/repository"
)

const putEstimateRetries = 3

type ReconcilerDependencies struct {
	Events    repository.EventsRepository
	Estimates repository.EstimatesRepository
	Files     repository.FilesRepository
	Logger    *log.Logger
}

// Reconciler folds the results of finished external runs back into the
// system of record: estimate documents, derived file rows and outcome
// events on the originating chat thread.
type Reconciler struct {
	events    repository.EventsRepository
	estimates repository.EstimatesRepository
	files     repository.FilesRepository
	logger    *log.Logger
}

func NewReconciler(deps ReconcilerDependencies) *Reconciler {
	return &Reconciler{
		events:    deps.Events,
		estimates: deps.Estimates,
		files:     deps.Files,
		logger:    deps.Logger,
	}
}

// Apply dispatches on the job type. A returned error means the result
// could not be folded in and the job must be marked failed.
func (r *Reconciler) Apply(ctx context.Context, job *domain.Job, state json.RawMessage) error {
	switch job.Type {
	case domain.JobTypeEstimateGeneration:
		return r.applyEstimateResult(ctx, job, state)
	case domain.JobTypeVideoProcess:
		return r.applyVideoResult(ctx, job, state)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (r *Reconciler) applyEstimateResult(
	ctx context.Context,
	job *domain.Job,
	state json.RawMessage,
) error {
	var result struct {
		AIEstimate *domain.EstimateDocument `json:"ai_estimate"`
	}
	if err := json.Unmarshal(state, &result); err != nil {
		return r.failEstimate(ctx, job, fmt.Errorf("decode run state: %w", err))
	}
	if result.AIEstimate == nil {
		return r.failEstimate(ctx, job, errors.New("run state has no ai_estimate"))
	}

	document := result.AIEstimate
	assignMissingUIDs(document)
	if err := quality.ValidateEstimateDocument(document); err != nil {
		return r.failEstimate(ctx, job, err)
	}

	if err := r.replaceDocument(ctx, job.ProjectID, document); err != nil {
		return r.failEstimate(ctx, job, err)
	}

	if job.OriginatingChatThreadID != "" {
		_, err := r.events.AppendEvent(ctx, job.OriginatingChatThreadID, domain.UpdateEstimateResponsePayload{
			Success: true,
		})
		if err != nil {
			// The document is already stored; losing the chat event is
			// not worth failing the job over.
			r.logf("append update response for job %s failed: %v", job.ID, err)
		}
	}
	return nil
}

// replaceDocument overwrites the stored estimate wholesale. Concurrent
// patch writers bump the version, so retry on conflict with the fresh
// version until the replacement lands.
func (r *Reconciler) replaceDocument(
	ctx context.Context,
	projectID string,
	document *domain.EstimateDocument,
) error {
	for attempt := 0; attempt < putEstimateRetries; attempt++ {
		_, version, err := r.estimates.GetEstimate(ctx, projectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				version = 0
			} else {
				return fmt.Errorf("load estimate version: %w", err)
			}
		}

		_, err = r.estimates.PutEstimate(ctx, projectID, document, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return fmt.Errorf("store estimate: %w", err)
		}
	}
	return fmt.Errorf("store estimate: %w", repository.ErrVersionConflict)
}

func (r *Reconciler) failEstimate(ctx context.Context, job *domain.Job, cause error) error {
	r.NotifyFailure(ctx, job, cause.Error())
	return cause
}

// NotifyFailure appends a failure response on the job's originating
// thread so the conversation is not left waiting on a dead job. Jobs
// without an originating thread are a no-op.
func (r *Reconciler) NotifyFailure(ctx context.Context, job *domain.Job, message string) {
	if job.OriginatingChatThreadID == "" {
		return
	}
	_, err := r.events.AppendEvent(ctx, job.OriginatingChatThreadID, domain.UpdateEstimateResponsePayload{
		Success:      false,
		ErrorMessage: message,
	})
	if err != nil {
		r.logf("append failure response for job %s failed: %v", job.ID, err)
	}
}

func (r *Reconciler) applyVideoResult(
	ctx context.Context,
	job *domain.Job,
	state json.RawMessage,
) error {
	var result struct {
		ExtractedFrames []struct {
			Name        string `json:"name"`
			Type        string `json:"type"`
			Description string `json:"description"`
			StoragePath string `json:"storage_path"`
		} `json:"extracted_frames"`
		VideoDescription string `json:"video_description"`
	}
	if err := json.Unmarshal(state, &result); err != nil {
		return fmt.Errorf("decode run state: %w", err)
	}
	if len(result.ExtractedFrames) == 0 {
		return errors.New("run state has no extracted_frames")
	}

	now := time.Now().UTC()
	for _, frame := range result.ExtractedFrames {
		file := &domain.ProjectFile{
			ID:           uuid.NewString(),
			ProjectID:    job.ProjectID,
			Name:         frame.Name,
			MimeType:     frame.Type,
			StoragePath:  frame.StoragePath,
			Description:  frame.Description,
			ParentFileID: job.AssociatedFileID,
			CreatedAt:    now,
		}
		if err := r.files.CreateFile(ctx, file); err != nil {
			return fmt.Errorf("record extracted frame %s: %w", frame.Name, err)
		}
	}
	r.logf("recorded %d extracted frames for job %s", len(result.ExtractedFrames), job.ID)
	return nil
}

func assignMissingUIDs(document *domain.EstimateDocument) {
	for index := range document.EstimateItems {
		if document.EstimateItems[index].UID == "" {
			document.EstimateItems[index].UID = uuid.NewString()
		}
	}
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
