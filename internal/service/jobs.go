package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/calebm/estimate-assistant-back/internal/cache"
	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/langgraph"
	"github.com/calebm/estimate-assistant-back/internal/queue"
	"github.com/calebm/estimate-assistant-back/internal/repository"
	"github.com/calebm/estimate-assistant-back/internal/storage"
)

var ErrJobNotFound = errors.New("job not found")

type JobsServiceConfig struct {
	EstimateGraph string
	VideoGraph    string
	StorageBucket string
	SignedURLTTL  time.Duration
}

type JobsServiceDependencies struct {
	Jobs      repository.JobsRepository
	Files     repository.FilesRepository
	Estimates repository.EstimatesRepository
	Compute   langgraph.Client
	Signer    storage.Signer
	URLCache  *cache.SignedURLCache
	Producer  queue.Producer
	Reconcile *Reconciler
	Logger    *log.Logger
	Config    JobsServiceConfig
}

// JobsService owns the lifecycle of external compute jobs: starting
// runs on the compute side, superseding stale ones and folding results
// back in when polls observe completion.
type JobsService struct {
	jobs      repository.JobsRepository
	files     repository.FilesRepository
	estimates repository.EstimatesRepository
	compute   langgraph.Client
	signer    storage.Signer
	urlCache  *cache.SignedURLCache
	producer  queue.Producer
	reconcile *Reconciler
	logger    *log.Logger
	config    JobsServiceConfig
}

func NewJobsService(deps JobsServiceDependencies) *JobsService {
	if deps.Config.EstimateGraph == "" {
		deps.Config.EstimateGraph = "estimate_graph"
	}
	if deps.Config.VideoGraph == "" {
		deps.Config.VideoGraph = "video_graph"
	}
	if deps.Config.SignedURLTTL <= 0 {
		deps.Config.SignedURLTTL = time.Hour
	}
	return &JobsService{
		jobs:      deps.Jobs,
		files:     deps.Files,
		estimates: deps.Estimates,
		compute:   deps.Compute,
		signer:    deps.Signer,
		urlCache:  deps.URLCache,
		producer:  deps.Producer,
		reconcile: deps.Reconcile,
		logger:    deps.Logger,
		config:    deps.Config,
	}
}

type StartEstimateInput struct {
	ProjectID string
	FileIDs   []string
	// ChangesToMake is free text describing the revision; empty means a
	// fresh estimate from the files alone.
	ChangesToMake string
	// OriginatingChatThreadID routes the outcome event back into a chat
	// thread. Empty for jobs started directly through the API.
	OriginatingChatThreadID string
}

// StartEstimateGeneration supersedes any active estimate job for the
// project and starts a new run on the estimate graph.
func (s *JobsService) StartEstimateGeneration(
	ctx context.Context,
	input StartEstimateInput,
) (*domain.Job, error) {
	if err := s.supersedeActive(ctx, input.ProjectID, domain.JobTypeEstimateGeneration); err != nil {
		return nil, err
	}

	inputFiles, err := s.buildInputFiles(ctx, input.ProjectID, input.FileIDs)
	if err != nil {
		return nil, err
	}

	runInput := map[string]any{
		"files": inputFiles,
	}
	if input.ChangesToMake != "" {
		runInput["changes_to_make"] = input.ChangesToMake
	}
	if current, _, getErr := s.estimates.GetEstimate(ctx, input.ProjectID); getErr == nil {
		runInput["current_estimate"] = current
	} else if !errors.Is(getErr, repository.ErrNotFound) {
		return nil, fmt.Errorf("load current estimate: %w", getErr)
	}

	job := &domain.Job{
		ID:                      uuid.NewString(),
		ProjectID:               input.ProjectID,
		Type:                    domain.JobTypeEstimateGeneration,
		Status:                  domain.JobStatusPending,
		OriginatingChatThreadID: input.OriginatingChatThreadID,
	}
	return s.startRun(ctx, job, s.config.EstimateGraph, runInput)
}

// StartVideoProcessing starts a run on the video graph for one uploaded
// video file. Extracted frames come back as derived project files.
func (s *JobsService) StartVideoProcessing(
	ctx context.Context,
	projectID string,
	fileID string,
) (*domain.Job, error) {
	file, err := s.files.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("video file %s: %w", fileID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load video file: %w", err)
	}
	if file.ProjectID != projectID {
		return nil, fmt.Errorf("video file %s: %w", fileID, repository.ErrNotFound)
	}

	if err := s.supersedeActive(ctx, projectID, domain.JobTypeVideoProcess); err != nil {
		return nil, err
	}

	downloadURL, err := s.signFileURL(ctx, file)
	if err != nil {
		return nil, err
	}

	runInput := map[string]any{
		"video": domain.JobInputFile{
			Name:        file.Name,
			Type:        file.MimeType,
			Description: file.Description,
			DownloadURL: downloadURL,
		},
		"project_id": projectID,
	}

	job := &domain.Job{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Type:             domain.JobTypeVideoProcess,
		Status:           domain.JobStatusPending,
		AssociatedFileID: fileID,
	}
	return s.startRun(ctx, job, s.config.VideoGraph, runInput)
}

// GetLatestJob reports the newest job for the project and type.
// ErrJobNotFound means no job was ever started: status not_started.
func (s *JobsService) GetLatestJob(
	ctx context.Context,
	projectID string,
	jobType domain.JobType,
) (*domain.Job, error) {
	job, err := s.jobs.GetLatestJob(ctx, projectID, jobType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// CheckJob performs one status poll against the external system and
// persists any transition it observes. Terminal jobs are returned as
// stored without touching the external system; transient poll errors
// leave the job untouched.
func (s *JobsService) CheckJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	status, err := s.compute.GetRunStatus(ctx, job.ExternalThreadID, job.ExternalRunID)
	if err != nil {
		if errors.Is(err, langgraph.ErrRunNotFound) {
			return s.failAndNotify(ctx, job, "external run no longer exists")
		}
		return nil, fmt.Errorf("poll run status: %w", err)
	}

	switch status {
	case langgraph.RunStatusPending:
		return s.transition(ctx, job, domain.JobStatusPending)
	case langgraph.RunStatusRunning:
		return s.transition(ctx, job, domain.JobStatusProcessing)
	case langgraph.RunStatusSuccess:
		return s.completeJob(ctx, job)
	case langgraph.RunStatusError, langgraph.RunStatusTimeout, langgraph.RunStatusInterrupted:
		return s.failAndNotify(ctx, job, fmt.Sprintf("external run finished with status %s", status))
	default:
		return nil, fmt.Errorf("unexpected run status %q", status)
	}
}

func (s *JobsService) completeJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	state, err := s.compute.JoinRun(ctx, job.ExternalThreadID, job.ExternalRunID)
	if err != nil {
		return nil, fmt.Errorf("collect run result: %w", err)
	}

	if err := s.reconcile.Apply(ctx, job, state); err != nil {
		return s.markFailed(ctx, job, err.Error())
	}
	return s.transition(ctx, job, domain.JobStatusCompleted)
}

func (s *JobsService) startRun(
	ctx context.Context,
	job *domain.Job,
	graph string,
	runInput map[string]any,
) (*domain.Job, error) {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	externalThreadID, err := s.compute.CreateThread(ctx)
	if err != nil {
		_, _ = s.markFailed(ctx, job, fmt.Sprintf("create external thread: %v", err))
		return nil, fmt.Errorf("create external thread: %w", err)
	}
	runID, err := s.compute.CreateRun(ctx, externalThreadID, graph, runInput)
	if err != nil {
		_, _ = s.markFailed(ctx, job, fmt.Sprintf("create external run: %v", err))
		return nil, fmt.Errorf("create external run: %w", err)
	}

	job.ExternalThreadID = externalThreadID
	job.ExternalRunID = runID
	job.Status = domain.JobStatusPending
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record external run: %w", err)
	}

	if s.producer != nil {
		message := domain.PollMessage{
			JobID:       job.ID,
			ProjectID:   job.ProjectID,
			JobType:     job.Type,
			RequestedAt: time.Now().UTC(),
		}
		if err := s.producer.Enqueue(ctx, message); err != nil {
			// On-demand polling through the API still advances the job.
			s.logf("enqueue poll for job %s failed: %v", job.ID, err)
		}
	}
	return job, nil
}

func (s *JobsService) supersedeActive(
	ctx context.Context,
	projectID string,
	jobType domain.JobType,
) error {
	active, err := s.jobs.GetActiveJob(ctx, projectID, jobType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("look up active job: %w", err)
	}

	active.Status = domain.JobStatusFailed
	active.ErrorMessage = "superseded by a newer request"
	active.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, active); err != nil {
		return fmt.Errorf("supersede job %s: %w", active.ID, err)
	}
	// The old job's thread would otherwise wait on a response forever.
	s.reconcile.NotifyFailure(ctx, active, active.ErrorMessage)
	s.logf("superseded job %s (%s) for project %s", active.ID, jobType, projectID)
	return nil
}

func (s *JobsService) buildInputFiles(
	ctx context.Context,
	projectID string,
	fileIDs []string,
) ([]domain.JobInputFile, error) {
	inputFiles := make([]domain.JobInputFile, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		file, err := s.files.GetFile(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("load file %s: %w", fileID, err)
		}
		if file.ProjectID != projectID {
			return nil, fmt.Errorf("file %s: %w", fileID, repository.ErrNotFound)
		}

		downloadURL, err := s.signFileURL(ctx, file)
		if err != nil {
			return nil, err
		}
		inputFiles = append(inputFiles, domain.JobInputFile{
			Name:        file.Name,
			Type:        file.MimeType,
			Description: file.Description,
			DownloadURL: downloadURL,
		})
	}
	return inputFiles, nil
}

func (s *JobsService) signFileURL(ctx context.Context, file *domain.ProjectFile) (string, error) {
	key := cache.Key(s.config.StorageBucket, file.StoragePath)
	if s.urlCache != nil {
		if url, ok := s.urlCache.Get(key); ok {
			return url, nil
		}
	}

	url, err := s.signer.SignURL(ctx, s.config.StorageBucket, file.StoragePath, s.config.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("sign url for file %s: %w", file.ID, err)
	}
	if s.urlCache != nil {
		s.urlCache.Set(key, url)
	}
	return url, nil
}

func (s *JobsService) transition(
	ctx context.Context,
	job *domain.Job,
	status domain.JobStatus,
) (*domain.Job, error) {
	if job.Status == status {
		return job, nil
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return job, nil
}

// failAndNotify is for failures detected at poll time, where no caller
// is positioned to resolve the originating thread. Result rejections
// go through the reconciler instead, which notifies before returning.
func (s *JobsService) failAndNotify(
	ctx context.Context,
	job *domain.Job,
	message string,
) (*domain.Job, error) {
	failed, err := s.markFailed(ctx, job, message)
	if err != nil {
		return nil, err
	}
	s.reconcile.NotifyFailure(ctx, failed, message)
	return failed, nil
}

func (s *JobsService) markFailed(
	ctx context.Context,
	job *domain.Job,
	message string,
) (*domain.Job, error) {
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = message
	job.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return job, nil
}

func (s *JobsService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
