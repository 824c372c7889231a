package transcript

import (
	"fmt"
	"strings"
	"testing"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

func TestBuildRendersEventKinds(t *testing.T) {
	events := []domain.ChatEvent{
		{Type: domain.EventUserInput, Payload: domain.UserInputPayload{Message: "re-roof the\ngarage"}},
		{Type: domain.EventAssistantMessage, Payload: domain.AssistantMessagePayload{Message: "How big is it?"}},
		{Type: domain.EventUpdateEstimateRequest, Payload: domain.UpdateEstimateRequestPayload{ChangesToMake: "add demolition"}},
		{Type: domain.EventUpdateEstimateResponse, Payload: domain.UpdateEstimateResponsePayload{Success: false, ErrorMessage: "run timed out"}},
		{Type: domain.EventPatchEstimateRequest, Payload: domain.PatchEstimateRequestPayload{Patches: []domain.Patch{
			{JSONPath: "estimated_total_max", Op: domain.PatchOpReplace},
		}}},
		{Type: domain.EventPatchEstimateResponse, Payload: domain.PatchEstimateResponsePayload{PatchResults: []domain.PatchResult{
			{Success: true}, {Success: false, ErrorMessage: "no such item"},
		}}},
	}

	output := NewBuilder().Build(BuildInput{Events: events})
	lines := strings.Split(output.TranscriptText, "\n")
	if len(lines) != len(events) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(events), output.TranscriptText)
	}

	wants := []string{
		"[user] re-roof the garage",
		"[assistant] How big is it?",
		"[update_estimate_request] add demolition",
		"[update_estimate_response] failed: run timed out",
		"[patch_estimate_request] 1 patches: replace estimated_total_max",
		"[patch_estimate_response] 2 results, 1 failed",
	}
	for i, want := range wants {
		if lines[i] != want {
			t.Errorf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestBuildEstimateText(t *testing.T) {
	builder := NewBuilder()

	output := builder.Build(BuildInput{})
	if output.EstimateText != "No estimate exists for this project yet." {
		t.Errorf("EstimateText = %q", output.EstimateText)
	}

	output = builder.Build(BuildInput{Estimate: &domain.EstimateDocument{
		ProjectDescription: "Garage conversion",
	}})
	if !strings.Contains(output.EstimateText, `"project_description":"Garage conversion"`) {
		t.Errorf("EstimateText = %q, want encoded document", output.EstimateText)
	}
}

func TestBuildTrimsOldestEvents(t *testing.T) {
	events := make([]domain.ChatEvent, 0, 40)
	for i := 0; i < 40; i++ {
		events = append(events, domain.ChatEvent{
			Type: domain.EventUserInput,
			Payload: domain.UserInputPayload{
				Message: fmt.Sprintf("message %02d with enough words to cost a handful of tokens", i),
			},
		})
	}

	output := NewBuilder().Build(BuildInput{Events: events, MaxInputTokens: 200})
	lines := strings.Split(output.TranscriptText, "\n")

	if !strings.HasPrefix(lines[0], "[... ") || !strings.HasSuffix(lines[0], " earlier events omitted ...]") {
		t.Fatalf("first line = %q, want the omission marker", lines[0])
	}
	if len(lines) >= len(events) {
		t.Errorf("nothing was trimmed: %d lines", len(lines))
	}
	last := lines[len(lines)-1]
	if !strings.Contains(last, "message 39") {
		t.Errorf("last line = %q, want the newest event kept", last)
	}
	if output.TokenCount > 200 {
		t.Errorf("TokenCount = %d, want within the 200 budget", output.TokenCount)
	}
}

func TestBuildKeepsEverythingUnderBudget(t *testing.T) {
	events := []domain.ChatEvent{
		{Type: domain.EventUserInput, Payload: domain.UserInputPayload{Message: "hello"}},
		{Type: domain.EventAssistantMessage, Payload: domain.AssistantMessagePayload{Message: "hi"}},
	}

	output := NewBuilder().Build(BuildInput{Events: events})
	if strings.Contains(output.TranscriptText, "omitted") {
		t.Errorf("transcript trimmed under budget:\n%s", output.TranscriptText)
	}
	if got := len(strings.Split(output.TranscriptText, "\n")); got != 2 {
		t.Errorf("got %d lines, want 2", got)
	}
}
