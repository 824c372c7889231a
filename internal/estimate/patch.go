// Package estimate applies field-level patches to the canonical estimate
// document. Patches address nodes with dot paths; line items are
// addressed by their immutable uid, never by position.
package estimate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

// ApplyPatches applies each patch in order, best-effort and
// independently: one failure never prevents attempting the rest. The
// document is mutated in place (callers pass a clone); the result list is
// 1:1 with the patch list, preserving order.
func ApplyPatches(document *domain.EstimateDocument, patches []domain.Patch) []domain.PatchResult {
	results := make([]domain.PatchResult, 0, len(patches))
	for _, patch := range patches {
		if err := applyPatch(document, patch); err != nil {
			results = append(results, domain.PatchResult{
				Success:      false,
				ErrorMessage: fmt.Sprintf("%s %s: %v", patch.Op, patch.JSONPath, err),
			})
			continue
		}
		results = append(results, domain.PatchResult{Success: true})
	}
	return results
}

func applyPatch(document *domain.EstimateDocument, patch domain.Patch) error {
	switch patch.Op {
	case domain.PatchOpAdd, domain.PatchOpReplace:
		if len(patch.NewValue) == 0 {
			return errors.New("new_value is required")
		}
	case domain.PatchOpRemove:
		if len(patch.NewValue) != 0 {
			return errors.New("new_value must be absent for remove")
		}
	default:
		return fmt.Errorf("unknown operation %q", patch.Op)
	}

	segments := strings.Split(strings.TrimSpace(patch.JSONPath), ".")
	if len(segments) == 0 || segments[0] == "" {
		return errors.New("empty json_path")
	}

	field, rest := segments[0], segments[1:]
	switch field {
	case "project_description":
		return applyRequiredString(&document.ProjectDescription, rest, patch)
	case "confidence_level":
		return applyRequiredString(&document.ConfidenceLevel, rest, patch)
	case "estimated_total_min":
		return applyRequiredFloat(&document.EstimatedTotalMin, rest, patch)
	case "estimated_total_max":
		return applyRequiredFloat(&document.EstimatedTotalMax, rest, patch)
	case "estimated_timeline_days":
		return applyOptionalInt(&document.EstimatedTimelineDays, rest, patch)
	case "key_considerations":
		return applyStringList(&document.KeyConsiderations, rest, patch)
	case "next_steps":
		return applyStringList(&document.NextSteps, rest, patch)
	case "missing_information":
		return applyStringList(&document.MissingInformation, rest, patch)
	case "key_risks":
		return applyStringList(&document.KeyRisks, rest, patch)
	case "estimate_items":
		return applyItems(document, rest, patch)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
}

func applyRequiredString(target *string, rest []string, patch domain.Patch) error {
	if len(rest) != 0 {
		return errors.New("path goes past a scalar field")
	}
	if patch.Op == domain.PatchOpRemove {
		return errors.New("cannot remove a required field")
	}
	return decodeStrict(patch.NewValue, target)
}

func applyRequiredFloat(target *float64, rest []string, patch domain.Patch) error {
	if len(rest) != 0 {
		return errors.New("path goes past a scalar field")
	}
	if patch.Op == domain.PatchOpRemove {
		return errors.New("cannot remove a required field")
	}
	return decodeStrict(patch.NewValue, target)
}

func applyOptionalInt(target **int, rest []string, patch domain.Patch) error {
	if len(rest) != 0 {
		return errors.New("path goes past a scalar field")
	}
	if patch.Op == domain.PatchOpRemove {
		*target = nil
		return nil
	}
	var value int
	if err := decodeStrict(patch.NewValue, &value); err != nil {
		return err
	}
	*target = &value
	return nil
}

func applyStringList(list *[]string, rest []string, patch domain.Patch) error {
	if len(rest) == 0 {
		switch patch.Op {
		case domain.PatchOpAdd:
			var value string
			if err := decodeStrict(patch.NewValue, &value); err != nil {
				return err
			}
			*list = append(*list, value)
			return nil
		case domain.PatchOpReplace:
			var values []string
			if err := decodeStrict(patch.NewValue, &values); err != nil {
				return err
			}
			*list = values
			return nil
		case domain.PatchOpRemove:
			*list = nil
			return nil
		}
	}
	if len(rest) != 1 {
		return errors.New("path goes past a list element")
	}

	index, err := strconv.Atoi(rest[0])
	if err != nil || index < 0 {
		return fmt.Errorf("invalid list index %q", rest[0])
	}

	switch patch.Op {
	case domain.PatchOpAdd:
		if index > len(*list) {
			return fmt.Errorf("index %d out of range for insert", index)
		}
		var value string
		if err := decodeStrict(patch.NewValue, &value); err != nil {
			return err
		}
		*list = append(*list, "")
		copy((*list)[index+1:], (*list)[index:])
		(*list)[index] = value
		return nil
	case domain.PatchOpReplace:
		if index >= len(*list) {
			return fmt.Errorf("index %d out of range", index)
		}
		return decodeStrict(patch.NewValue, &(*list)[index])
	case domain.PatchOpRemove:
		if index >= len(*list) {
			return fmt.Errorf("index %d out of range", index)
		}
		*list = append((*list)[:index], (*list)[index+1:]...)
		return nil
	}
	return fmt.Errorf("unknown operation %q", patch.Op)
}

func applyItems(document *domain.EstimateDocument, rest []string, patch domain.Patch) error {
	if len(rest) == 0 {
		switch patch.Op {
		case domain.PatchOpAdd:
			item, err := decodeItemValue(patch.NewValue, "")
			if err != nil {
				return err
			}
			if document.ItemIndex(item.UID) >= 0 {
				return fmt.Errorf("uid %q already exists", item.UID)
			}
			document.EstimateItems = append(document.EstimateItems, item)
			return nil
		case domain.PatchOpReplace:
			var items []domain.EstimateItem
			if err := decodeStrict(patch.NewValue, &items); err != nil {
				return err
			}
			seen := make(map[string]struct{}, len(items))
			for _, item := range items {
				if strings.TrimSpace(item.UID) == "" {
					return errors.New("every line item needs a uid")
				}
				if _, dup := seen[item.UID]; dup {
					return fmt.Errorf("duplicate uid %q", item.UID)
				}
				seen[item.UID] = struct{}{}
			}
			document.EstimateItems = items
			return nil
		case domain.PatchOpRemove:
			document.EstimateItems = nil
			return nil
		}
	}

	uid := rest[0]
	index := document.ItemIndex(uid)

	if len(rest) == 1 {
		switch patch.Op {
		case domain.PatchOpAdd:
			if index >= 0 {
				return fmt.Errorf("uid %q already exists", uid)
			}
			item, err := decodeItemValue(patch.NewValue, uid)
			if err != nil {
				return err
			}
			document.EstimateItems = append(document.EstimateItems, item)
			return nil
		case domain.PatchOpReplace:
			if index < 0 {
				return fmt.Errorf("no line item with uid %q", uid)
			}
			item, err := decodeItemValue(patch.NewValue, uid)
			if err != nil {
				return err
			}
			document.EstimateItems[index] = item
			return nil
		case domain.PatchOpRemove:
			if index < 0 {
				return fmt.Errorf("no line item with uid %q", uid)
			}
			document.EstimateItems = append(
				document.EstimateItems[:index],
				document.EstimateItems[index+1:]...,
			)
			return nil
		}
	}

	if index < 0 {
		return fmt.Errorf("no line item with uid %q", uid)
	}
	return applyItemField(&document.EstimateItems[index], rest[1], rest[2:], patch)
}

func applyItemField(item *domain.EstimateItem, field string, rest []string, patch domain.Patch) error {
	switch field {
	case "uid":
		return errors.New("uid is immutable")
	case "description":
		return applyRequiredString(&item.Description, rest, patch)
	case "category":
		return applyRequiredString(&item.Category, rest, patch)
	case "subcategory":
		return applyOptionalString(&item.Subcategory, rest, patch)
	case "unit":
		return applyOptionalString(&item.Unit, rest, patch)
	case "notes":
		return applyOptionalString(&item.Notes, rest, patch)
	case "cost_range_min":
		return applyRequiredFloat(&item.CostRangeMin, rest, patch)
	case "cost_range_max":
		return applyRequiredFloat(&item.CostRangeMax, rest, patch)
	case "quantity":
		return applyOptionalFloat(&item.Quantity, rest, patch)
	case "confidence_score":
		return applyOptionalFloat(&item.ConfidenceScore, rest, patch)
	case "assumptions":
		return applyStringList(&item.Assumptions, rest, patch)
	default:
		return fmt.Errorf("unknown line item field %q", field)
	}
}

func applyOptionalString(target *string, rest []string, patch domain.Patch) error {
	if len(rest) != 0 {
		return errors.New("path goes past a scalar field")
	}
	if patch.Op == domain.PatchOpRemove {
		*target = ""
		return nil
	}
	return decodeStrict(patch.NewValue, target)
}

func applyOptionalFloat(target **float64, rest []string, patch domain.Patch) error {
	if len(rest) != 0 {
		return errors.New("path goes past a scalar field")
	}
	if patch.Op == domain.PatchOpRemove {
		*target = nil
		return nil
	}
	var value float64
	if err := decodeStrict(patch.NewValue, &value); err != nil {
		return err
	}
	*target = &value
	return nil
}

func decodeItemValue(raw json.RawMessage, pathUID string) (domain.EstimateItem, error) {
	var item domain.EstimateItem
	if err := decodeStrict(raw, &item); err != nil {
		return domain.EstimateItem{}, err
	}
	switch {
	case strings.TrimSpace(item.UID) == "" && strings.TrimSpace(pathUID) == "":
		return domain.EstimateItem{}, errors.New("line item needs a uid")
	case strings.TrimSpace(item.UID) == "":
		item.UID = pathUID
	case pathUID != "" && item.UID != pathUID:
		return domain.EstimateItem{}, fmt.Errorf("uid %q in value conflicts with path uid %q", item.UID, pathUID)
	}
	return item, nil
}

func decodeStrict(raw json.RawMessage, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode new_value: %w", err)
	}
	return nil
}
