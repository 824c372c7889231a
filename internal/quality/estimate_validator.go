package quality

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

var ErrQualityRejected = errors.New("output failed quality checks")

const (
	maxEstimateItems    = 200
	maxItemDescription  = 600
	maxProjectDesc      = 4000
	maxPatchesPerEvent  = 50
	maxAssistantMessage = 8000
)

// ValidateEstimateDocument checks a document produced by external
// compute before it replaces the stored estimate. A rejected document
// is never persisted.
func ValidateEstimateDocument(doc *domain.EstimateDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: estimate document is nil", ErrQualityRejected)
	}
	if strings.TrimSpace(doc.ProjectDescription) == "" {
		return fmt.Errorf("%w: project_description is empty", ErrQualityRejected)
	}
	if len(doc.ProjectDescription) > maxProjectDesc {
		return fmt.Errorf("%w: project_description exceeds %d characters", ErrQualityRejected, maxProjectDesc)
	}
	if doc.EstimatedTotalMin < 0 || doc.EstimatedTotalMax < 0 {
		return fmt.Errorf("%w: estimated totals must be non-negative", ErrQualityRejected)
	}
	if doc.EstimatedTotalMin > doc.EstimatedTotalMax {
		return fmt.Errorf(
			"%w: estimated_total_min %.2f exceeds estimated_total_max %.2f",
			ErrQualityRejected, doc.EstimatedTotalMin, doc.EstimatedTotalMax,
		)
	}
	if doc.EstimatedTimelineDays != nil && *doc.EstimatedTimelineDays < 0 {
		return fmt.Errorf("%w: estimated_timeline_days is negative", ErrQualityRejected)
	}
	if len(doc.EstimateItems) > maxEstimateItems {
		return fmt.Errorf("%w: more than %d estimate items", ErrQualityRejected, maxEstimateItems)
	}

	seen := make(map[string]struct{}, len(doc.EstimateItems))
	for i, item := range doc.EstimateItems {
		if err := validateEstimateItem(i, item); err != nil {
			return err
		}
		if _, exists := seen[item.UID]; exists {
			return fmt.Errorf("%w: duplicate item uid %q", ErrQualityRejected, item.UID)
		}
		seen[item.UID] = struct{}{}
	}
	return nil
}

func validateEstimateItem(index int, item domain.EstimateItem) error {
	if strings.TrimSpace(item.UID) == "" {
		return fmt.Errorf("%w: item %d has no uid", ErrQualityRejected, index)
	}
	if strings.TrimSpace(item.Description) == "" {
		return fmt.Errorf("%w: item %q has no description", ErrQualityRejected, item.UID)
	}
	if len(item.Description) > maxItemDescription {
		return fmt.Errorf("%w: item %q description exceeds %d characters", ErrQualityRejected, item.UID, maxItemDescription)
	}
	if item.CostRangeMin < 0 || item.CostRangeMax < 0 {
		return fmt.Errorf("%w: item %q has a negative cost bound", ErrQualityRejected, item.UID)
	}
	if item.CostRangeMin > item.CostRangeMax {
		return fmt.Errorf(
			"%w: item %q cost_range_min %.2f exceeds cost_range_max %.2f",
			ErrQualityRejected, item.UID, item.CostRangeMin, item.CostRangeMax,
		)
	}
	if item.Quantity != nil && *item.Quantity < 0 {
		return fmt.Errorf("%w: item %q has a negative quantity", ErrQualityRejected, item.UID)
	}
	if item.ConfidenceScore != nil && (*item.ConfidenceScore < 0 || *item.ConfidenceScore > 1) {
		return fmt.Errorf("%w: item %q confidence score outside [0,1]", ErrQualityRejected, item.UID)
	}
	return nil
}

// ValidateDecisionPayload checks the single event the reasoning
// capability produced before it is appended to the thread.
func ValidateDecisionPayload(payload domain.EventPayload) error {
	switch p := payload.(type) {
	case domain.AssistantMessagePayload:
		if strings.TrimSpace(p.Message) == "" {
			return fmt.Errorf("%w: assistant message is empty", ErrQualityRejected)
		}
		if len(p.Message) > maxAssistantMessage {
			return fmt.Errorf("%w: assistant message exceeds %d characters", ErrQualityRejected, maxAssistantMessage)
		}
		return nil
	case domain.UpdateEstimateRequestPayload:
		if strings.TrimSpace(p.ChangesToMake) == "" {
			return fmt.Errorf("%w: update request has no changes_to_make", ErrQualityRejected)
		}
		return nil
	case domain.PatchEstimateRequestPayload:
		if len(p.Patches) == 0 {
			return fmt.Errorf("%w: patch request has no patches", ErrQualityRejected)
		}
		if len(p.Patches) > maxPatchesPerEvent {
			return fmt.Errorf("%w: patch request has more than %d patches", ErrQualityRejected, maxPatchesPerEvent)
		}
		for i, patch := range p.Patches {
			if strings.TrimSpace(patch.JSONPath) == "" {
				return fmt.Errorf("%w: patch %d has an empty json_path", ErrQualityRejected, i)
			}
			switch patch.Op {
			case domain.PatchOpAdd, domain.PatchOpRemove, domain.PatchOpReplace:
			default:
				return fmt.Errorf("%w: patch %d has unknown operation %q", ErrQualityRejected, i, patch.Op)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is not a valid decision event", ErrQualityRejected, payload.EventType())
	}
}
