package ai

import "strings"

type TaskKind string

const (
	// TaskDecision is the main conversational turn: pick the next event.
	TaskDecision TaskKind = "decision"
	// TaskThreadTitle names a freshly created thread from its first message.
	TaskThreadTitle TaskKind = "thread_title"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	DecisionPrimary  string
	DecisionFallback string

	TitlePrimary  string
	TitleFallback string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.DecisionPrimary) == "" {
		config.DecisionPrimary = "anthropic/claude-sonnet-4"
	}
	if strings.TrimSpace(config.DecisionFallback) == "" {
		config.DecisionFallback = "openai/gpt-4.1"
	}
	if strings.TrimSpace(config.TitlePrimary) == "" {
		config.TitlePrimary = "openai/gpt-4.1-mini"
	}
	if strings.TrimSpace(config.TitleFallback) == "" {
		config.TitleFallback = "openai/gpt-4.1-nano"
	}

	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskThreadTitle:
		return ModelProfile{
			PrimaryModel:    r.config.TitlePrimary,
			FallbackModel:   r.config.TitleFallback,
			Temperature:     0.3,
			MaxOutputTokens: 60,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.DecisionPrimary,
			FallbackModel:   r.config.DecisionFallback,
			Temperature:     0.2,
			MaxOutputTokens: 2000,
		}
	}
}
