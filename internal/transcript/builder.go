// Package transcript renders a thread snapshot into the textual input
// the decision capability consumes. The capability is stateless per
// call, so every render carries the full ordered event list.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

type BuildInput struct {
	Events         []domain.ChatEvent
	Estimate       *domain.EstimateDocument
	MaxInputTokens int
}

type BuildOutput struct {
	TranscriptText string
	EstimateText   string
	TokenCount     int
}

type Builder struct {
	defaultMaxTokens int
}

func NewBuilder() *Builder {
	return &Builder{defaultMaxTokens: 6000}
}

// Build renders every event in order, then trims the oldest turns when
// the token budget would be exceeded. The newest events always survive:
// the capability needs the latest user input more than ancient history.
func (b *Builder) Build(input BuildInput) BuildOutput {
	maxTokens := input.MaxInputTokens
	if maxTokens <= 0 {
		maxTokens = b.defaultMaxTokens
	}

	estimateText := renderEstimate(input.Estimate)
	budget := maxTokens - estimateTokens(estimateText)

	lines := make([]string, 0, len(input.Events))
	for _, event := range input.Events {
		lines = append(lines, renderEvent(event))
	}

	total := 0
	start := len(lines)
	for index := len(lines) - 1; index >= 0; index-- {
		cost := estimateTokens(lines[index])
		if total+cost > budget && start < len(lines) {
			break
		}
		total += cost
		start = index
	}

	kept := lines[start:]
	if start > 0 {
		kept = append([]string{fmt.Sprintf("[... %d earlier events omitted ...]", start)}, kept...)
	}

	return BuildOutput{
		TranscriptText: strings.Join(kept, "\n"),
		EstimateText:   estimateText,
		TokenCount:     total + estimateTokens(estimateText),
	}
}

func renderEvent(event domain.ChatEvent) string {
	switch payload := event.Payload.(type) {
	case domain.UserInputPayload:
		return "[user] " + singleLine(payload.Message)
	case domain.AssistantMessagePayload:
		return "[assistant] " + singleLine(payload.Message)
	case domain.UpdateEstimateRequestPayload:
		return "[update_estimate_request] " + singleLine(payload.ChangesToMake)
	case domain.UpdateEstimateResponsePayload:
		if payload.Success {
			return "[update_estimate_response] success"
		}
		return "[update_estimate_response] failed: " + singleLine(payload.ErrorMessage)
	case domain.PatchEstimateRequestPayload:
		parts := make([]string, 0, len(payload.Patches))
		for _, patch := range payload.Patches {
			parts = append(parts, fmt.Sprintf("%s %s", patch.Op, patch.JSONPath))
		}
		return fmt.Sprintf("[patch_estimate_request] %d patches: %s", len(payload.Patches), strings.Join(parts, "; "))
	case domain.PatchEstimateResponsePayload:
		failed := 0
		for _, result := range payload.PatchResults {
			if !result.Success {
				failed++
			}
		}
		return fmt.Sprintf("[patch_estimate_response] %d results, %d failed", len(payload.PatchResults), failed)
	default:
		return "[" + string(event.Type) + "]"
	}
}

func renderEstimate(document *domain.EstimateDocument) string {
	if document == nil {
		return "No estimate exists for this project yet."
	}
	encoded, err := json.Marshal(document)
	if err != nil {
		return "No estimate exists for this project yet."
	}
	return string(encoded)
}

func singleLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// estimateTokens mirrors the rough chars/4 heuristic used for budgeting
// model input; exactness does not matter, stability does.
func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return (len(trimmed) + 3) / 4
}
