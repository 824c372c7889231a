package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/ai"
	"github.com/calebm/estimate-assistant-back/internal/cache"
	"github.com/calebm/estimate-assistant-back/internal/config"
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

func main() {
	logger := log.New(os.Stdout, "[estimate-back] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, repoCloser := setupRepositories(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	modelRouter := ai.NewModelRouter(ai.ModelRouterConfig{
		DecisionPrimary:  cfg.ModelDecisionPrimary,
		DecisionFallback: cfg.ModelDecisionFallback,
		TitlePrimary:     cfg.ModelThreadTitlePrimary,
		TitleFallback:    cfg.ModelThreadTitleFallback,
	})
	aiClient := ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
		APIKey:     cfg.OpenRouterAPIKey,
		BaseURL:    cfg.OpenRouterBaseURL,
		Timeout:    time.Duration(cfg.OpenRouterTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.OpenRouterMaxRetries,
	})
	gateway := ai.NewGateway(ai.GatewayDependencies{
		Router:         modelRouter,
		Client:         aiClient,
		Builder:        transcript.NewBuilder(),
		MaxInputTokens: cfg.DecisionMaxInputTokens,
		Logger:         logger,
	})

	computeClient := langgraph.NewHTTPClient(langgraph.HTTPClientConfig{
		BaseURL: cfg.LangGraphBaseURL,
		APIKey:  cfg.LangGraphAPIKey,
		Timeout: time.Duration(cfg.LangGraphTimeoutMS) * time.Millisecond,
	})
	signer := storage.NewSupabaseSigner(storage.SupabaseSignerConfig{
		BaseURL:    cfg.SupabaseURL,
		ServiceKey: cfg.SupabaseServiceKey,
	})
	urlCache := cache.NewSignedURLCache(cache.Config{
		TTL:        time.Duration(cfg.URLCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.URLCacheMaxEntries,
	})

	reconciler := service.NewReconciler(service.ReconcilerDependencies{
		Events:    repos.events,
		Estimates: repos.estimates,
		Files:     repos.files,
		Logger:    logger,
	})
	jobsService := service.NewJobsService(service.JobsServiceDependencies{
		Jobs:      repos.jobs,
		Files:     repos.files,
		Estimates: repos.estimates,
		Compute:   computeClient,
		Signer:    signer,
		URLCache:  urlCache,
		Producer:  producer,
		Reconcile: reconciler,
		Logger:    logger,
		Config: service.JobsServiceConfig{
			EstimateGraph: cfg.EstimateGraphName,
			VideoGraph:    cfg.VideoGraphName,
			StorageBucket: cfg.StorageBucket,
			SignedURLTTL:  time.Duration(cfg.SignedURLTTLSeconds) * time.Second,
		},
	})
	chatService := service.NewChatService(service.ChatServiceDependencies{
		Events:    repos.events,
		Estimates: repos.estimates,
		Files:     repos.files,
		Gateway:   gateway,
		Jobs:      jobsService,
		Logger:    logger,
	})
	api := handlers.NewAPI(chatService, jobsService, repos.estimates)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.PollerEnabled {
		poller := worker.NewPoller(consumer, producer, jobsService, logger, worker.PollerConfig{
			PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			MaxAttempts:  cfg.PollMaxAttempts,
		})
		go poller.Start(ctx)
		logger.Printf("job poller enabled and started")
	} else {
		logger.Printf("job poller disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

type repositories struct {
	events    repository.EventsRepository
	estimates repository.EstimatesRepository
	jobs      repository.JobsRepository
	files     repository.FilesRepository
}

func setupRepositories(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repositories, func()) {
	memory := repositories{
		events:    repository.NewMemoryEventsRepository(),
		estimates: repository.NewMemoryEstimatesRepository(),
		jobs:      repository.NewMemoryJobsRepository(),
		files:     repository.NewMemoryFilesRepository(),
	}
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return memory, func() {}
	}

	pool, err := repository.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres, fallback to memory: %v", err)
		return memory, func() {}
	}
	logger.Printf("postgres repositories initialized")
	return repositories{
		events:    repository.NewPostgresEventsRepository(pool),
		estimates: repository.NewPostgresEstimatesRepository(pool),
		jobs:      repository.NewPostgresJobsRepository(pool),
		files:     repository.NewPostgresFilesRepository(pool),
	}, pool.Close
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: 3,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}
