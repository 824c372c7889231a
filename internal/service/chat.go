package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebm/estimate-assistant-back/internal/ai"
	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/estimate"
	"github.com/calebm/estimate-assistant-back/internal/policy"
	"github.com/calebm/estimate-assistant-back/internal/repository"
)

var ErrThreadNotFound = errors.New("thread not found")

// DecisionGateway is the slice of the reasoning gateway the chat flow
// needs; tests substitute a scripted fake.
type DecisionGateway interface {
	Decide(ctx context.Context, input ai.DecisionInput) (domain.EventPayload, error)
	ThreadTitle(ctx context.Context, firstMessage string) string
}

type ChatServiceDependencies struct {
	Events    repository.EventsRepository
	Estimates repository.EstimatesRepository
	Files     repository.FilesRepository
	Gateway   DecisionGateway
	Jobs      *JobsService
	Logger    *log.Logger
}

// ChatService drives the conversation loop: validate input, append it,
// ask the reasoning gateway for the single response event and carry out
// whatever that event demands.
type ChatService struct {
	events    repository.EventsRepository
	estimates repository.EstimatesRepository
	files     repository.FilesRepository
	gateway   DecisionGateway
	jobs      *JobsService
	logger    *log.Logger

	// projectMu serializes patch application per project so concurrent
	// patch sets do not interleave between read and write.
	mu        sync.Mutex
	projectMu map[string]*sync.Mutex
}

func NewChatService(deps ChatServiceDependencies) *ChatService {
	return &ChatService{
		events:    deps.Events,
		estimates: deps.Estimates,
		files:     deps.Files,
		gateway:   deps.Gateway,
		jobs:      deps.Jobs,
		logger:    deps.Logger,
		projectMu: make(map[string]*sync.Mutex),
	}
}

type PostMessageInput struct {
	// ThreadID is empty for the first message: a new thread is created.
	ThreadID  string
	ProjectID string
	Message   string
}

type PostMessageResult struct {
	Thread *domain.ChatThread
	// Events holds the events this call appended, in order. The user
	// input event is always first.
	Events []domain.ChatEvent
	// Job is set when the response event started external compute.
	Job *domain.Job
}

func (s *ChatService) PostMessage(
	ctx context.Context,
	input PostMessageInput,
) (*PostMessageResult, error) {
	if err := policy.ValidateUserMessage(input.Message); err != nil {
		return nil, err
	}

	thread, history, err := s.loadOrCreateThread(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := policy.EnsureThreadIdle(history); err != nil {
		return nil, err
	}

	// User input is committed before the gateway is consulted: a failed
	// decision must not lose what the user said.
	userEvent, err := s.events.AppendEvent(ctx, thread.ID, domain.UserInputPayload{Message: input.Message})
	if err != nil {
		return nil, fmt.Errorf("append user input: %w", err)
	}
	result := &PostMessageResult{
		Thread: thread,
		Events: []domain.ChatEvent{*userEvent},
	}

	currentEstimate, _, err := s.estimates.GetEstimate(ctx, thread.ProjectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return result, fmt.Errorf("load estimate: %w", err)
	}

	decision, err := s.gateway.Decide(ctx, ai.DecisionInput{
		Events:   append(history, *userEvent),
		Estimate: currentEstimate,
	})
	if err != nil {
		return result, fmt.Errorf("decide response: %w", err)
	}

	decisionEvent, err := s.events.AppendEvent(ctx, thread.ID, decision)
	if err != nil {
		return result, fmt.Errorf("append decision event: %w", err)
	}
	result.Events = append(result.Events, *decisionEvent)

	switch payload := decision.(type) {
	case domain.AssistantMessagePayload:
		return result, nil
	case domain.UpdateEstimateRequestPayload:
		return s.startEstimateUpdate(ctx, thread, payload, result)
	case domain.PatchEstimateRequestPayload:
		return s.applyPatchRequest(ctx, thread, payload, result)
	default:
		return result, fmt.Errorf("unexpected decision event %s", decision.EventType())
	}
}

func (s *ChatService) loadOrCreateThread(
	ctx context.Context,
	input PostMessageInput,
) (*domain.ChatThread, []domain.ChatEvent, error) {
	if input.ThreadID != "" {
		thread, err := s.events.GetThread(ctx, input.ThreadID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil, ErrThreadNotFound
			}
			return nil, nil, fmt.Errorf("load thread: %w", err)
		}
		history, err := s.events.ListEvents(ctx, thread.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load thread events: %w", err)
		}
		return thread, history, nil
	}

	thread := &domain.ChatThread{
		ID:          uuid.NewString(),
		ProjectID:   input.ProjectID,
		DisplayName: s.gateway.ThreadTitle(ctx, input.Message),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.events.CreateThread(ctx, thread); err != nil {
		return nil, nil, fmt.Errorf("create thread: %w", err)
	}
	return thread, nil, nil
}

func (s *ChatService) startEstimateUpdate(
	ctx context.Context,
	thread *domain.ChatThread,
	payload domain.UpdateEstimateRequestPayload,
	result *PostMessageResult,
) (*PostMessageResult, error) {
	fileIDs, err := s.projectFileIDs(ctx, thread.ProjectID)
	if err != nil {
		return result, err
	}

	job, err := s.jobs.StartEstimateGeneration(ctx, StartEstimateInput{
		ProjectID:               thread.ProjectID,
		FileIDs:                 fileIDs,
		ChangesToMake:           payload.ChangesToMake,
		OriginatingChatThreadID: thread.ID,
	})
	if err != nil {
		// The request event stays pending; record the failure so the
		// thread is not stuck busy forever.
		responseEvent, appendErr := s.events.AppendEvent(ctx, thread.ID, domain.UpdateEstimateResponsePayload{
			Success:      false,
			ErrorMessage: err.Error(),
		})
		if appendErr != nil {
			s.logf("append failure response on thread %s failed: %v", thread.ID, appendErr)
		} else {
			result.Events = append(result.Events, *responseEvent)
		}
		return result, fmt.Errorf("start estimate generation: %w", err)
	}

	result.Job = job
	return result, nil
}

func (s *ChatService) applyPatchRequest(
	ctx context.Context,
	thread *domain.ChatThread,
	payload domain.PatchEstimateRequestPayload,
	result *PostMessageResult,
) (*PostMessageResult, error) {
	patchResults, err := s.ApplyPatchSet(ctx, thread.ProjectID, payload.Patches)
	if err != nil {
		return result, err
	}

	responseEvent, err := s.events.AppendEvent(ctx, thread.ID, domain.PatchEstimateResponsePayload{
		PatchResults: patchResults,
	})
	if err != nil {
		return result, fmt.Errorf("append patch response: %w", err)
	}
	result.Events = append(result.Events, *responseEvent)

	if anyPatchFailed(patchResults) {
		// Partial application leaves the document inconsistent with the
		// model's intent; a full regeneration reconciles it off-thread.
		fileIDs, listErr := s.projectFileIDs(ctx, thread.ProjectID)
		if listErr != nil {
			s.logf("fallback regeneration for project %s skipped: %v", thread.ProjectID, listErr)
			return result, nil
		}
		job, jobErr := s.jobs.StartEstimateGeneration(ctx, StartEstimateInput{
			ProjectID:               thread.ProjectID,
			FileIDs:                 fileIDs,
			ChangesToMake:           describeFailedPatches(payload.Patches, patchResults),
			OriginatingChatThreadID: thread.ID,
		})
		if jobErr != nil {
			s.logf("fallback regeneration for project %s failed: %v", thread.ProjectID, jobErr)
			return result, nil
		}
		result.Job = job
	}
	return result, nil
}

// ApplyPatchSet applies a patch list against the stored document under
// the project lock and stores the outcome. Results map 1:1 onto the
// submitted patches; a failed patch never blocks the ones after it.
func (s *ChatService) ApplyPatchSet(
	ctx context.Context,
	projectID string,
	patches []domain.Patch,
) ([]domain.PatchResult, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < putEstimateRetries; attempt++ {
		document, version, err := s.estimates.GetEstimate(ctx, projectID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				document = &domain.EstimateDocument{}
				version = 0
			} else {
				return nil, fmt.Errorf("load estimate: %w", err)
			}
		}

		working := document.Clone()
		results := estimate.ApplyPatches(working, patches)

		_, err = s.estimates.PutEstimate(ctx, projectID, working, version)
		if err == nil {
			return results, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("store patched estimate: %w", err)
		}
	}
	return nil, fmt.Errorf("store patched estimate: %w", repository.ErrVersionConflict)
}

// ListThreadEvents returns the ordered event log, optionally only the
// events strictly after the given timestamp.
func (s *ChatService) ListThreadEvents(
	ctx context.Context,
	threadID string,
	since time.Time,
) (*domain.ChatThread, []domain.ChatEvent, error) {
	thread, err := s.events.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrThreadNotFound
		}
		return nil, nil, fmt.Errorf("load thread: %w", err)
	}

	var events []domain.ChatEvent
	if since.IsZero() {
		events, err = s.events.ListEvents(ctx, threadID)
	} else {
		events, err = s.events.ListEventsSince(ctx, threadID, since)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list thread events: %w", err)
	}
	return thread, events, nil
}

func (s *ChatService) DeleteThread(ctx context.Context, threadID string) error {
	err := s.events.DeleteThread(ctx, threadID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrThreadNotFound
	}
	return err
}

func (s *ChatService) projectFileIDs(ctx context.Context, projectID string) ([]string, error) {
	files, err := s.files.ListProjectFiles(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	fileIDs := make([]string, 0, len(files))
	for _, file := range files {
		// Derived frames ride along with their source; the graph wants
		// originals plus frames, which is the whole list.
		fileIDs = append(fileIDs, file.ID)
	}
	return fileIDs, nil
}

func (s *ChatService) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.projectMu[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.projectMu[projectID] = lock
	}
	return lock
}

func anyPatchFailed(results []domain.PatchResult) bool {
	for _, result := range results {
		if !result.Success {
			return true
		}
	}
	return false
}

func describeFailedPatches(patches []domain.Patch, results []domain.PatchResult) string {
	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	return fmt.Sprintf(
		"Re-generate the estimate: %d of %d requested field edits could not be applied cleanly.",
		failed, len(patches),
	)
}

func (s *ChatService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
