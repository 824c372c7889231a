package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/ai"
	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/langgraph"
	"github.com/calebm/estimate-assistant-back/internal/repository"
	"github.com/calebm/estimate-assistant-back/internal/storage"
)

// fakeGateway replays scripted decisions in order.
type fakeGateway struct {
	mu        sync.Mutex
	decisions []domain.EventPayload
	err       error
	calls     int
}

func (g *fakeGateway) Decide(_ context.Context, _ ai.DecisionInput) (domain.EventPayload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if len(g.decisions) == 0 {
		return domain.AssistantMessagePayload{Message: "ok"}, nil
	}
	decision := g.decisions[0]
	g.decisions = g.decisions[1:]
	return decision, nil
}

func (g *fakeGateway) ThreadTitle(_ context.Context, message string) string {
	if len(message) > 20 {
		message = message[:20]
	}
	return "Thread: " + message
}

// fakeCompute is a scriptable langgraph.Client. Runs advance through
// the status sequence one GetRunStatus call at a time.
type fakeCompute struct {
	mu          sync.Mutex
	statuses    []langgraph.RunStatus
	joinState   json.RawMessage
	statusErr   error
	createErr   error
	threadSeq   int
	runSeq      int
	statusCalls int
	joinCalls   int
	lastGraph   string
	lastInput   any
}

func (c *fakeCompute) CreateThread(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	c.threadSeq++
	return fmt.Sprintf("ext-thr-%d", c.threadSeq), nil
}

func (c *fakeCompute) CreateRun(_ context.Context, _ string, graph string, input any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	c.runSeq++
	c.lastGraph = graph
	c.lastInput = input
	return fmt.Sprintf("ext-run-%d", c.runSeq), nil
}

func (c *fakeCompute) GetRunStatus(_ context.Context, _ string, _ string) (langgraph.RunStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCalls++
	if c.statusErr != nil {
		return "", c.statusErr
	}
	if len(c.statuses) == 0 {
		return langgraph.RunStatusSuccess, nil
	}
	status := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	return status, nil
}

func (c *fakeCompute) JoinRun(_ context.Context, _ string, _ string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinCalls++
	if c.joinState == nil {
		return json.RawMessage(`{}`), nil
	}
	return c.joinState, nil
}

type fixture struct {
	events    *repository.MemoryEventsRepository
	estimates *repository.MemoryEstimatesRepository
	jobs      *repository.MemoryJobsRepository
	files     *repository.MemoryFilesRepository
	compute   *fakeCompute
	gateway   *fakeGateway
	jobsSvc   *JobsService
	chatSvc   *ChatService
}

func newFixture() *fixture {
	f := &fixture{
		events:    repository.NewMemoryEventsRepository(),
		estimates: repository.NewMemoryEstimatesRepository(),
		jobs:      repository.NewMemoryJobsRepository(),
		files:     repository.NewMemoryFilesRepository(),
		compute:   &fakeCompute{},
		gateway:   &fakeGateway{},
	}
	reconciler := NewReconciler(ReconcilerDependencies{
		Events:    f.events,
		Estimates: f.estimates,
		Files:     f.files,
	})
	f.jobsSvc = NewJobsService(JobsServiceDependencies{
		Jobs:      f.jobs,
		Files:     f.files,
		Estimates: f.estimates,
		Compute:   f.compute,
		Signer:    storage.NewMemorySigner(),
		Reconcile: reconciler,
	})
	f.chatSvc = NewChatService(ChatServiceDependencies{
		Events:    f.events,
		Estimates: f.estimates,
		Files:     f.files,
		Gateway:   f.gateway,
		Jobs:      f.jobsSvc,
	})
	return f
}

func (f *fixture) addFile(projectID, fileID string) {
	_ = f.files.CreateFile(context.Background(), &domain.ProjectFile{
		ID:          fileID,
		ProjectID:   projectID,
		Name:        fileID + ".jpg",
		MimeType:    "image/jpeg",
		StoragePath: projectID + "/" + fileID + ".jpg",
		CreatedAt:   time.Now().UTC(),
	})
}

func (f *fixture) seedEstimate(projectID string) {
	doc := &domain.EstimateDocument{
		ProjectDescription: "Garage conversion",
		EstimatedTotalMin:  20000,
		EstimatedTotalMax:  30000,
		ConfidenceLevel:    "medium",
		EstimateItems: []domain.EstimateItem{
			{UID: "frame-1", Description: "Framing", Category: "carpentry", CostRangeMin: 5000, CostRangeMax: 8000},
		},
	}
	if _, err := f.estimates.PutEstimate(context.Background(), projectID, doc, 0); err != nil {
		panic(err)
	}
}

var errScripted = errors.New("scripted failure")
