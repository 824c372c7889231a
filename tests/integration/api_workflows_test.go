package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/ai"
	"github.com/calebm/estimate-assistant-back/internal/domain"
	httpserver "github.com/calebm/estimate-assistant-back/internal/http"
	"github.com/calebm/estimate-assistant-back/internal/http/handlers"
	"github.com/calebm/estimate-assistant-back/internal/langgraph"
	"github.com/calebm/estimate-assistant-back/internal/queue"
	"github.com/calebm/estimate-assistant-back/internal/repository"
	"github.com/calebm/estimate-assistant-back/internal/service"
	"github.com/calebm/estimate-assistant-back/internal/storage"
	"github.com/calebm/estimate-assistant-back/internal/worker"
)

// scriptedGateway drives conversations deterministically: each call pops
// the next decision so tests control exactly which event the assistant
// produces.
type scriptedGateway struct {
	mu        sync.Mutex
	decisions []domain.EventPayload
}

func (g *scriptedGateway) push(decisions ...domain.EventPayload) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decisions = append(g.decisions, decisions...)
}

func (g *scriptedGateway) Decide(_ context.Context, _ ai.DecisionInput) (domain.EventPayload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.decisions) == 0 {
		return domain.AssistantMessagePayload{Message: "Could you tell me more?"}, nil
	}
	decision := g.decisions[0]
	g.decisions = g.decisions[1:]
	return decision, nil
}

func (g *scriptedGateway) ThreadTitle(_ context.Context, firstMessage string) string {
	if len(firstMessage) > 30 {
		firstMessage = firstMessage[:30]
	}
	return firstMessage
}

// stubCompute accepts every run and reports success with a fixed
// estimate document result. While hold is set, runs report running
// instead, so tests can observe the in-flight state deterministically.
type stubCompute struct {
	runSeq atomic.Int64
	hold   atomic.Bool
}

func (c *stubCompute) CreateThread(_ context.Context) (string, error) {
	return fmt.Sprintf("ext-thr-%d", c.runSeq.Add(1)), nil
}

func (c *stubCompute) CreateRun(_ context.Context, _ string, _ string, _ any) (string, error) {
	return fmt.Sprintf("ext-run-%d", c.runSeq.Add(1)), nil
}

func (c *stubCompute) GetRunStatus(_ context.Context, _ string, _ string) (langgraph.RunStatus, error) {
	if c.hold.Load() {
		return langgraph.RunStatusRunning, nil
	}
	return langgraph.RunStatusSuccess, nil
}

func (c *stubCompute) JoinRun(_ context.Context, _ string, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{
		"ai_estimate": {
			"project_description": "Garage conversion into a home office",
			"estimated_total_min": 18000,
			"estimated_total_max": 27000,
			"confidence_level": "medium",
			"estimate_items": [
				{"uid": "frame-1", "description": "Framing and drywall", "category": "carpentry", "cost_range_min": 6000, "cost_range_max": 9000},
				{"uid": "elec-1", "description": "Electrical rough-in", "category": "electrical", "cost_range_min": 3000, "cost_range_max": 5000}
			]
		}
	}`), nil
}

type integrationRuntime struct {
	server  *httptest.Server
	gateway *scriptedGateway
	compute *stubCompute
	files   *repository.MemoryFilesRepository
	cancel  context.CancelFunc
}

func startIntegrationRuntime(t *testing.T) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	events := repository.NewMemoryEventsRepository()
	estimates := repository.NewMemoryEstimatesRepository()
	jobs := repository.NewMemoryJobsRepository()
	files := repository.NewMemoryFilesRepository()
	localQueue := queue.NewLocalQueue(2048, 3, logger)
	gateway := &scriptedGateway{}
	compute := &stubCompute{}

	reconciler := service.NewReconciler(service.ReconcilerDependencies{
		Events:    events,
		Estimates: estimates,
		Files:     files,
		Logger:    logger,
	})
	jobsService := service.NewJobsService(service.JobsServiceDependencies{
		Jobs:      jobs,
		Files:     files,
		Estimates: estimates,
		Compute:   compute,
		Signer:    storage.NewMemorySigner(),
		Producer:  localQueue,
		Reconcile: reconciler,
		Logger:    logger,
	})
	chatService := service.NewChatService(service.ChatServiceDependencies{
		Events:    events,
		Estimates: estimates,
		Files:     files,
		Gateway:   gateway,
		Jobs:      jobsService,
		Logger:    logger,
	})

	api := handlers.NewAPI(chatService, jobsService, estimates)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	poller := worker.NewPoller(localQueue, localQueue, jobsService, logger, worker.PollerConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  50,
	})
	go poller.Start(ctx)

	server := httptest.NewServer(router)
	return integrationRuntime{
		server:  server,
		gateway: gateway,
		compute: compute,
		files:   files,
		cancel: func() {
			cancel()
			server.Close()
		},
	}
}

func postJSON(
	t *testing.T,
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
) (int, map[string]any) {
	t.Helper()

	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build get request: %v", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute get request: %v", err)
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	if len(raw) == 0 {
		return response.StatusCode, map[string]any{}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode get response body (%d): %s", response.StatusCode, string(raw))
	}

	return response.StatusCode, decoded
}

func waitForJobCompleted(
	t *testing.T,
	client *http.Client,
	baseURL string,
	projectID string,
	jobType string,
	timeout time.Duration,
) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, body := getJSON(t, client, fmt.Sprintf("%s/v1/projects/%s/jobs/%s", baseURL, projectID, jobType))
		if status != http.StatusOK {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		jobStatus, _ := body["status"].(string)
		if jobStatus == "completed" {
			return body
		}
		if jobStatus == "failed" {
			t.Fatalf("job for project %s failed: %+v", projectID, body)
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timeout waiting for %s job on project %s", jobType, projectID)
	return nil
}

func TestConversationDrivesEstimateGeneration(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	// First turn: plain conversation.
	runtime.gateway.push(domain.AssistantMessagePayload{Message: "What is the garage footprint?"})
	status, body := postJSON(t, client, baseURL+"/v1/messages", map[string]any{
		"project_id": "proj-e2e-1",
		"message":    "I want to convert my garage into an office",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from messages, got %d body=%+v", status, body)
	}
	threadID, _ := body["thread_id"].(string)
	if strings.TrimSpace(threadID) == "" {
		t.Fatalf("expected thread_id, got %+v", body)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("expected user and assistant events, got %+v", body["events"])
	}

	// Second turn: the assistant decides to regenerate the estimate.
	// Hold the external run so the in-flight state is observable.
	runtime.compute.hold.Store(true)
	runtime.gateway.push(domain.UpdateEstimateRequestPayload{ChangesToMake: "full estimate for a garage office conversion"})
	status, body = postJSON(t, client, baseURL+"/v1/messages", map[string]any{
		"thread_id":  threadID,
		"project_id": "proj-e2e-1",
		"message":    "It is about 20 square meters, please estimate it",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from messages, got %d body=%+v", status, body)
	}
	job, ok := body["job"].(map[string]any)
	if !ok {
		t.Fatalf("expected a job in the response, got %+v", body)
	}
	if jobType, _ := job["job_type"].(string); jobType != "estimate_generation" {
		t.Fatalf("job_type = %v", job["job_type"])
	}

	// The thread rejects new messages while the request is unresolved.
	busyStatus, busyBody := postJSON(t, client, baseURL+"/v1/messages", map[string]any{
		"thread_id":  threadID,
		"project_id": "proj-e2e-1",
		"message":    "done yet?",
	}, nil)
	if busyStatus != http.StatusConflict {
		t.Fatalf("expected 409 while the job runs, got %d body=%+v", busyStatus, busyBody)
	}

	runtime.compute.hold.Store(false)
	waitForJobCompleted(t, client, baseURL, "proj-e2e-1", "estimate_generation", 4*time.Second)

	// The reconciled estimate is readable.
	status, body = getJSON(t, client, baseURL+"/v1/projects/proj-e2e-1/estimate")
	if status != http.StatusOK {
		t.Fatalf("expected 200 from estimate read, got %d body=%+v", status, body)
	}
	if version, _ := body["version"].(float64); version < 1 {
		t.Fatalf("expected a stored version, got %+v", body["version"])
	}
	estimate, ok := body["estimate"].(map[string]any)
	if !ok {
		t.Fatalf("expected estimate document, got %+v", body)
	}
	items, ok := estimate["estimate_items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected two estimate items, got %+v", estimate["estimate_items"])
	}

	// The update_estimate_response landed on the thread, freeing it.
	status, body = getJSON(t, client, baseURL+"/v1/threads/"+threadID+"/events")
	if status != http.StatusOK {
		t.Fatalf("expected 200 from thread events, got %d body=%+v", status, body)
	}
	threadEvents, ok := body["events"].([]any)
	if !ok || len(threadEvents) < 5 {
		t.Fatalf("expected at least 5 events, got %+v", body["events"])
	}
	lastEvent, _ := threadEvents[len(threadEvents)-1].(map[string]any)
	if eventType, _ := lastEvent["type"].(string); eventType != "update_estimate_response" {
		t.Fatalf("last event = %+v, want update_estimate_response", lastEvent)
	}

	runtime.gateway.push(domain.AssistantMessagePayload{Message: "The estimate is ready."})
	status, body = postJSON(t, client, baseURL+"/v1/messages", map[string]any{
		"thread_id":  threadID,
		"project_id": "proj-e2e-1",
		"message":    "thanks, looks done now",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 after the job settled, got %d body=%+v", status, body)
	}
}

func TestDirectGenerationWithIdempotencyKey(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	payload := map[string]any{"changes_to_make": "estimate the kitchen remodel"}

	// No key: rejected.
	status, body := postJSON(t, client, baseURL+"/v1/projects/proj-e2e-2/estimate/generate", payload, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d body=%+v", status, body)
	}

	headers := map[string]string{"Idempotency-Key": "generate-e2e-flow-0001"}
	status, body = postJSON(t, client, baseURL+"/v1/projects/proj-e2e-2/estimate/generate", payload, headers)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%+v", status, body)
	}
	jobID, _ := body["job_id"].(string)
	if strings.TrimSpace(jobID) == "" {
		t.Fatalf("expected job_id, got %+v", body)
	}

	// Same key, same payload: replayed, not restarted.
	status, body = postJSON(t, client, baseURL+"/v1/projects/proj-e2e-2/estimate/generate", payload, headers)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 on replay, got %d body=%+v", status, body)
	}
	if replayed, _ := body["job_id"].(string); replayed != jobID {
		t.Fatalf("replay returned job %q, want %q", replayed, jobID)
	}

	// Same key, different payload: conflict.
	status, body = postJSON(t, client, baseURL+"/v1/projects/proj-e2e-2/estimate/generate", map[string]any{
		"changes_to_make": "a different request entirely",
	}, headers)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on payload mismatch, got %d body=%+v", status, body)
	}

	waitForJobCompleted(t, client, baseURL, "proj-e2e-2", "estimate_generation", 4*time.Second)
}

func TestVideoProcessingCreatesDerivedFrames(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	if err := runtime.files.CreateFile(context.Background(), &domain.ProjectFile{
		ID:          "video-e2e-1",
		ProjectID:   "proj-e2e-3",
		Name:        "walkthrough.mp4",
		MimeType:    "video/mp4",
		StoragePath: "proj-e2e-3/walkthrough.mp4",
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed video file: %v", err)
	}

	status, body := postJSON(
		t, client,
		baseURL+"/v1/projects/proj-e2e-3/videos/video-e2e-1/process",
		map[string]any{},
		map[string]string{"Idempotency-Key": "video-e2e-flow-0001"},
	)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%+v", status, body)
	}

	// The stub compute reports an estimate-shaped result, which the video
	// reconciler rejects, so the job fails. That failure path is exactly
	// what the status endpoint must surface.
	deadline := time.Now().Add(4 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for video job to settle")
		}
		status, body = getJSON(t, client, baseURL+"/v1/projects/proj-e2e-3/jobs/video_process")
		if status == http.StatusOK {
			if jobStatus, _ := body["status"].(string); jobStatus == "failed" {
				break
			}
			if jobStatus, _ := body["status"].(string); jobStatus == "completed" {
				t.Fatalf("video job completed on an estimate result: %+v", body)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	errorEnvelope, ok := body["error"].(map[string]any)
	if !ok || fmt.Sprintf("%v", errorEnvelope["code"]) != "processing_error" {
		t.Fatalf("expected processing_error envelope, got %+v", body)
	}
}

func TestThreadLifecycle(t *testing.T) {
	runtime := startIntegrationRuntime(t)
	defer runtime.cancel()

	client := runtime.server.Client()
	baseURL := runtime.server.URL

	status, body := postJSON(t, client, baseURL+"/v1/messages", map[string]any{
		"project_id": "proj-e2e-4",
		"message":    "hello there",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%+v", status, body)
	}
	threadID, _ := body["thread_id"].(string)

	request, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/threads/"+threadID, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	response, err := client.Do(request)
	if err != nil {
		t.Fatalf("execute delete request: %v", err)
	}
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d", response.StatusCode)
	}

	status, body = getJSON(t, client, baseURL+"/v1/threads/"+threadID+"/events")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%+v", status, body)
	}

	status, body = postJSON(t, client, baseURL+"/v1/messages", map[string]any{
		"project_id": "proj-e2e-4",
		"message":    "",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty message, got %d body=%+v", status, body)
	}
}
