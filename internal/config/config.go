package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the API and the job poller.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	OpenRouterAPIKey         string
	OpenRouterBaseURL        string
	OpenRouterTimeoutMS      int
	OpenRouterMaxRetries     int
	ModelDecisionPrimary     string
	ModelDecisionFallback    string
	ModelThreadTitlePrimary  string
	ModelThreadTitleFallback string
	DecisionMaxInputTokens   int

	LangGraphBaseURL   string
	LangGraphAPIKey    string
	LangGraphTimeoutMS int
	EstimateGraphName  string
	VideoGraphName     string

	SupabaseURL         string
	SupabaseServiceKey  string
	StorageBucket       string
	SignedURLTTLSeconds int

	URLCacheTTLSeconds int
	URLCacheMaxEntries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	CORSAllowedOrigins []string

	RateLimitRPS   float64
	RateLimitBurst int

	PollerEnabled   bool
	PollIntervalMS  int
	PollMaxAttempts int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenRouterAPIKey:         getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:        getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterTimeoutMS:      getEnvInt("OPENROUTER_TIMEOUT_MS", 30000),
		OpenRouterMaxRetries:     getEnvInt("OPENROUTER_MAX_RETRIES", 2),
		ModelDecisionPrimary:     getEnv("MODEL_DECISION_PRIMARY", "anthropic/claude-sonnet-4"),
		ModelDecisionFallback:    getEnv("MODEL_DECISION_FALLBACK", "openai/gpt-4.1"),
		ModelThreadTitlePrimary:  getEnv("MODEL_THREAD_TITLE_PRIMARY", "openai/gpt-4.1-mini"),
		ModelThreadTitleFallback: getEnv("MODEL_THREAD_TITLE_FALLBACK", "openai/gpt-4.1-nano"),
		DecisionMaxInputTokens:   getEnvInt("DECISION_MAX_INPUT_TOKENS", 24000),

		LangGraphBaseURL:   getEnv("LANGGRAPH_BASE_URL", ""),
		LangGraphAPIKey:    getEnv("LANGGRAPH_API_KEY", ""),
		LangGraphTimeoutMS: getEnvInt("LANGGRAPH_TIMEOUT_MS", 30000),
		EstimateGraphName:  getEnv("LANGGRAPH_ESTIMATE_GRAPH", "estimate_graph"),
		VideoGraphName:     getEnv("LANGGRAPH_VIDEO_GRAPH", "video_graph"),

		SupabaseURL:         getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:  getEnv("SUPABASE_SERVICE_KEY", ""),
		StorageBucket:       getEnv("STORAGE_BUCKET", "project-files"),
		SignedURLTTLSeconds: getEnvInt("SIGNED_URL_TTL_SECONDS", 3600),

		URLCacheTTLSeconds: getEnvInt("URL_CACHE_TTL_SECONDS", 1800),
		URLCacheMaxEntries: getEnvInt("URL_CACHE_MAX_ENTRIES", 2000),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "estimate_polls"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "estimate_polls_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "estimate_pollers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		PollerEnabled:   getEnvBool("POLLER_ENABLED", true),
		PollIntervalMS:  getEnvInt("POLL_INTERVAL_MS", 2000),
		PollMaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 150),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
