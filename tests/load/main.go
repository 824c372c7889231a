// Command load runs a local benchmark against an in-process API server
// backed by memory repositories and stubbed external systems. It
// measures the orchestration overhead in isolation: no model calls, no
// network, no database.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
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
	"github.com/calebm/estimate-assistant-back/internal/transcript"
	"github.com/calebm/estimate-assistant-back/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type trimResult struct {
	FullTokens    int     `json:"full_tokens"`
	TrimmedTokens int     `json:"trimmed_tokens"`
	ReductionPct  float64 `json:"reduction_pct"`
}

type runResult struct {
	GeneratedAtUTC    string           `json:"generated_at_utc"`
	Environment       string           `json:"environment"`
	Results           []scenarioResult `json:"results"`
	TranscriptTrim    trimResult       `json:"transcript_trim"`
	LatencyEvaluation map[string]bool  `json:"latency_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

// benchGateway answers every decision with a plain assistant message so
// the conversation path is exercised without model latency.
type benchGateway struct{}

func (benchGateway) Decide(_ context.Context, _ ai.DecisionInput) (domain.EventPayload, error) {
	return domain.AssistantMessagePayload{Message: "Noted, tell me more about the project."}, nil
}

func (benchGateway) ThreadTitle(_ context.Context, firstMessage string) string {
	if len(firstMessage) > 40 {
		firstMessage = firstMessage[:40]
	}
	return firstMessage
}

// benchCompute finishes every run immediately with a small estimate.
type benchCompute struct {
	seq atomic.Int64
}

func (c *benchCompute) CreateThread(_ context.Context) (string, error) {
	return fmt.Sprintf("bench-thr-%d", c.seq.Add(1)), nil
}

func (c *benchCompute) CreateRun(_ context.Context, _ string, _ string, _ any) (string, error) {
	return fmt.Sprintf("bench-run-%d", c.seq.Add(1)), nil
}

func (c *benchCompute) GetRunStatus(_ context.Context, _ string, _ string) (langgraph.RunStatus, error) {
	return langgraph.RunStatusSuccess, nil
}

func (c *benchCompute) JoinRun(_ context.Context, _ string, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{
		"ai_estimate": {
			"project_description": "Benchmark project",
			"estimated_total_min": 1000,
			"estimated_total_max": 2000,
			"confidence_level": "low",
			"estimate_items": [
				{"uid": "bench-1", "description": "Benchmark line", "category": "misc", "cost_range_min": 100, "cost_range_max": 200}
			]
		}
	}`), nil
}

func main() {
	messagesTotal := flag.Int("messages-total", 260, "total chat message requests")
	messagesConcurrency := flag.Int("messages-concurrency", 24, "concurrency for chat message requests")
	generateTotal := flag.Int("generate-total", 180, "total estimate generation requests")
	generateConcurrency := flag.Int("generate-concurrency", 28, "concurrency for generation requests")
	statusTotal := flag.Int("status-total", 200, "total job status reads")
	statusConcurrency := flag.Int("status-concurrency", 20, "concurrency for job status reads")
	estimateTotal := flag.Int("estimate-total", 160, "total estimate reads")
	estimateConcurrency := flag.Int("estimate-concurrency", 20, "concurrency for estimate reads")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	var idCounter int64

	messagesScenario := runScenario("messages_conversation", *messagesTotal, *messagesConcurrency, func(index int) error {
		payload := map[string]any{
			"project_id": fmt.Sprintf("bench-proj-%d", index%32),
			"message":    fmt.Sprintf("benchmark turn %d: what would re-tiling the bathroom cost?", index),
		}
		return postJSON(client, env.server.URL+"/v1/messages", payload, nil, http.StatusOK)
	})

	generateScenario := runScenario("estimate_generate_enqueue", *generateTotal, *generateConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"changes_to_make": fmt.Sprintf("benchmark revision %d", index),
		}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("bench-generate-%d-%d", requestID, time.Now().UnixNano()),
		}
		url := fmt.Sprintf("%s/v1/projects/bench-proj-%d/estimate/generate", env.server.URL, index%40)
		return postJSON(client, url, payload, headers, http.StatusAccepted)
	})

	statusScenario := runScenario("job_status_read", *statusTotal, *statusConcurrency, func(index int) error {
		url := fmt.Sprintf("%s/v1/projects/bench-proj-%d/jobs/estimate_generation", env.server.URL, index%40)
		return getJSON(client, url, http.StatusOK)
	})

	estimateScenario := runScenario("estimate_read", *estimateTotal, *estimateConcurrency, func(index int) error {
		url := fmt.Sprintf("%s/v1/projects/seeded-proj-%d/estimate", env.server.URL, index%8)
		return getJSON(client, url, http.StatusOK)
	})

	results := []scenarioResult{
		messagesScenario,
		generateScenario,
		statusScenario,
		estimateScenario,
	}

	latency := map[string]bool{
		"messages_p95_le_2000ms":   messagesScenario.P95MS <= 2000,
		"generate_p95_le_5000ms":   generateScenario.P95MS <= 5000,
		"status_read_p95_le_500ms": statusScenario.P95MS <= 500,
	}

	report := runResult{
		GeneratedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		Environment:       "local-httptest",
		Results:           results,
		TranscriptTrim:    runTranscriptTrimScenario(),
		LatencyEvaluation: latency,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	events := repository.NewMemoryEventsRepository()
	estimates := repository.NewMemoryEstimatesRepository()
	jobs := repository.NewMemoryJobsRepository()
	files := repository.NewMemoryFilesRepository()
	localQueue := queue.NewLocalQueue(4096, 3, logger)
	compute := &benchCompute{}

	for i := 0; i < 8; i++ {
		_, err := estimates.PutEstimate(ctx, fmt.Sprintf("seeded-proj-%d", i), &domain.EstimateDocument{
			ProjectDescription: "Seeded benchmark estimate",
			EstimatedTotalMin:  5000,
			EstimatedTotalMax:  9000,
			ConfidenceLevel:    "medium",
			EstimateItems: []domain.EstimateItem{
				{UID: "seed-1", Description: "Seed line", Category: "misc", CostRangeMin: 500, CostRangeMax: 900},
			},
		}, 0)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("seed estimate: %w", err)
		}
	}

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
		Gateway:   benchGateway{},
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
		PollInterval: 20 * time.Millisecond,
		MaxAttempts:  100,
	})
	go poller.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		cancel: cancel,
	}, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

// runTranscriptTrimScenario compares the rendered token cost of a long
// thread against the budget-trimmed rendering the decision gateway
// actually sends.
func runTranscriptTrimScenario() trimResult {
	builder := transcript.NewBuilder()

	events := make([]domain.ChatEvent, 0, 120)
	for i := 0; i < 120; i++ {
		events = append(events, domain.ChatEvent{
			Type: domain.EventUserInput,
			Payload: domain.UserInputPayload{
				Message: fmt.Sprintf("turn %d: the client asked about scheduling, materials and whether the quote covers disposal fees", i),
			},
		})
	}

	full := builder.Build(transcript.BuildInput{Events: events, MaxInputTokens: 1 << 20})
	trimmed := builder.Build(transcript.BuildInput{Events: events, MaxInputTokens: 800})

	reduction := 0.0
	if full.TokenCount > 0 {
		reduction = (float64(full.TokenCount-trimmed.TokenCount) / float64(full.TokenCount)) * 100
	}
	return trimResult{
		FullTokens:    full.TokenCount,
		TrimmedTokens: trimmed.TokenCount,
		ReductionPct:  round2(reduction),
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
