package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/quality"
	"github.com/calebm/estimate-assistant-back/internal/transcript"
)

// DecisionInput is the full thread snapshot handed to the reasoning
// capability. The capability is stateless: every call carries the whole
// ordered event list, not just the latest message.
type DecisionInput struct {
	Events   []domain.ChatEvent
	Estimate *domain.EstimateDocument
}

// Decider turns a thread snapshot into exactly one response event:
// AssistantMessage, UpdateEstimateRequest or PatchEstimateRequest.
// Failures are reported as errors, never as events.
type Decider interface {
	Decide(ctx context.Context, input DecisionInput) (domain.EventPayload, error)
}

const decisionInstructions = `You are the decision engine of a construction cost estimate assistant.
Given the conversation transcript and the current estimate document, reply with exactly one JSON object and nothing else. Pick one of three shapes:
{"type":"assistant_message","message":"<reply to the user>"}
{"type":"update_estimate_request","changes_to_make":"<free-text description of the full-document revision>"}
{"type":"patch_estimate_request","patches":[{"json_path":"<dot path>","operation":"add|remove|replace","new_value":<json>}]}
Use patch_estimate_request for small targeted edits, update_estimate_request when the whole document must be regenerated, and assistant_message otherwise. Line items are addressed as estimate_items.<uid>; never invent a uid that changes an existing item.`

const titleInstructions = `Name this conversation. Reply with a short title, at most six words, no quotes, no trailing punctuation.`

type GatewayDependencies struct {
	Router *ModelRouter
	Client TextGenerator
	// Builder renders the event log into model input; nil gets a default.
	Builder *transcript.Builder
	// MaxInputTokens bounds the rendered transcript; older events are
	// trimmed first. Zero uses the builder default.
	MaxInputTokens int
	Logger         *log.Logger
}

// Gateway adapts the external reasoning capability: it serializes the
// thread state, invokes the model and deserializes the single typed
// response event.
type Gateway struct {
	router         *ModelRouter
	client         TextGenerator
	builder        *transcript.Builder
	maxInputTokens int
	logger         *log.Logger
}

func NewGateway(deps GatewayDependencies) *Gateway {
	if deps.Router == nil {
		deps.Router = NewModelRouter(ModelRouterConfig{})
	}
	if deps.Builder == nil {
		deps.Builder = transcript.NewBuilder()
	}
	return &Gateway{
		router:         deps.Router,
		client:         deps.Client,
		builder:        deps.Builder,
		maxInputTokens: deps.MaxInputTokens,
		logger:         deps.Logger,
	}
}

func (g *Gateway) Decide(ctx context.Context, input DecisionInput) (domain.EventPayload, error) {
	if g.client == nil || !g.client.Available() {
		return nil, ErrModelUnavailable
	}

	rendered := g.builder.Build(transcript.BuildInput{
		Events:         input.Events,
		Estimate:       input.Estimate,
		MaxInputTokens: g.maxInputTokens,
	})
	prompt := fmt.Sprintf(
		"Current estimate document:\n%s\n\nConversation so far:\n%s",
		rendered.EstimateText,
		rendered.TranscriptText,
	)

	text, modelID, err := g.generate(ctx, TaskDecision, decisionInstructions, prompt)
	if err != nil {
		return nil, fmt.Errorf("decision call: %w", err)
	}

	payload, err := parseDecision(text)
	if err != nil {
		return nil, fmt.Errorf("decision output from %s: %w", modelID, err)
	}
	if err := quality.ValidateDecisionPayload(payload); err != nil {
		return nil, fmt.Errorf("decision output from %s: %w", modelID, err)
	}
	return payload, nil
}

// ThreadTitle names a new thread from its first user message. It never
// fails: on any model problem it falls back to a truncated message.
func (g *Gateway) ThreadTitle(ctx context.Context, firstMessage string) string {
	fallback := fallbackTitle(firstMessage)
	if g.client == nil || !g.client.Available() {
		return fallback
	}

	text, _, err := g.generate(ctx, TaskThreadTitle, titleInstructions, firstMessage)
	if err != nil {
		g.logf("thread title generation failed, using fallback: %v", err)
		return fallback
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"'`))
	if title == "" || len(title) > 80 {
		return fallback
	}
	return title
}

func (g *Gateway) generate(
	ctx context.Context,
	task TaskKind,
	instructions string,
	input string,
) (string, string, error) {
	profile := g.router.Select(task)

	primary, err := g.client.Generate(ctx, GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    instructions,
		Input:           input,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	if err == nil {
		return primary.Text, firstNonEmpty(primary.ModelID, profile.PrimaryModel), nil
	}

	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel {
		return "", "", err
	}

	fallback, fallbackErr := g.client.Generate(ctx, GenerateRequest{
		Model:           profile.FallbackModel,
		Instructions:    instructions,
		Input:           input,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	if fallbackErr != nil {
		return "", "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	return fallback.Text, firstNonEmpty(fallback.ModelID, profile.FallbackModel), nil
}

type decisionEnvelope struct {
	Type          string         `json:"type"`
	Message       string         `json:"message,omitempty"`
	ChangesToMake string         `json:"changes_to_make,omitempty"`
	Patches       []domain.Patch `json:"patches,omitempty"`
}

func parseDecision(text string) (domain.EventPayload, error) {
	rawJSON, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(rawJSON))
	decoder.DisallowUnknownFields()
	var envelope decisionEnvelope
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode decision envelope: %w", err)
	}

	switch domain.EventType(envelope.Type) {
	case domain.EventAssistantMessage:
		return domain.AssistantMessagePayload{Message: strings.TrimSpace(envelope.Message)}, nil
	case domain.EventUpdateEstimateRequest:
		return domain.UpdateEstimateRequestPayload{ChangesToMake: strings.TrimSpace(envelope.ChangesToMake)}, nil
	case domain.EventPatchEstimateRequest:
		return domain.PatchEstimateRequestPayload{Patches: envelope.Patches}, nil
	default:
		return nil, fmt.Errorf("decision type %q is not a valid response event", envelope.Type)
	}
}

func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not valid JSON")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func fallbackTitle(message string) string {
	collapsed := strings.Join(strings.Fields(message), " ")
	if collapsed == "" {
		return "New conversation"
	}
	if len(collapsed) > 48 {
		collapsed = strings.TrimSpace(collapsed[:48])
	}
	return collapsed
}

func (g *Gateway) logf(format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Printf(format, args...)
}
