package domain

import "encoding/json"

type PatchOp string

const (
	PatchOpAdd     PatchOp = "add"
	PatchOpRemove  PatchOp = "remove"
	PatchOpReplace PatchOp = "replace"
)

// Patch is a single addressed mutation against the estimate document.
// JSONPath uses dot segments with array indexes, and addresses line items
// by their immutable uid, e.g. "estimate_items.<uid>.cost_range_min".
type Patch struct {
	JSONPath string          `json:"json_path"`
	Op       PatchOp         `json:"operation"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

// PatchResult reports the outcome of one Patch. Results are produced 1:1
// with the submitted patch list, preserving order, even on partial failure.
type PatchResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// EstimateItem is one line of the estimate. UID is the only stable
// identity for the item: generated once, never reassigned, never reused.
type EstimateItem struct {
	UID             string   `json:"uid"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	Subcategory     string   `json:"subcategory,omitempty"`
	CostRangeMin    float64  `json:"cost_range_min"`
	CostRangeMax    float64  `json:"cost_range_max"`
	Quantity        *float64 `json:"quantity,omitempty"`
	Unit            string   `json:"unit,omitempty"`
	Assumptions     []string `json:"assumptions,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// EstimateDocument is the canonical structured cost estimate for a
// project. At most one live version exists per project; whole-document
// replacement and field-level patches are the only writes.
type EstimateDocument struct {
	ProjectDescription    string         `json:"project_description"`
	EstimatedTotalMin     float64        `json:"estimated_total_min"`
	EstimatedTotalMax     float64        `json:"estimated_total_max"`
	EstimatedTimelineDays *int           `json:"estimated_timeline_days,omitempty"`
	KeyConsiderations     []string       `json:"key_considerations"`
	ConfidenceLevel       string         `json:"confidence_level"`
	EstimateItems         []EstimateItem `json:"estimate_items"`
	NextSteps             []string       `json:"next_steps"`
	MissingInformation    []string       `json:"missing_information"`
	KeyRisks              []string       `json:"key_risks"`
}

// ItemIndex returns the position of the line item with the given uid, or
// -1 when absent.
func (d *EstimateDocument) ItemIndex(uid string) int {
	for index, item := range d.EstimateItems {
		if item.UID == uid {
			return index
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored document.
func (d *EstimateDocument) Clone() *EstimateDocument {
	if d == nil {
		return nil
	}
	clone := *d
	clone.KeyConsiderations = append([]string(nil), d.KeyConsiderations...)
	clone.NextSteps = append([]string(nil), d.NextSteps...)
	clone.MissingInformation = append([]string(nil), d.MissingInformation...)
	clone.KeyRisks = append([]string(nil), d.KeyRisks...)
	if d.EstimatedTimelineDays != nil {
		days := *d.EstimatedTimelineDays
		clone.EstimatedTimelineDays = &days
	}
	clone.EstimateItems = make([]EstimateItem, len(d.EstimateItems))
	for index, item := range d.EstimateItems {
		clone.EstimateItems[index] = cloneItem(item)
	}
	return &clone
}

func cloneItem(item EstimateItem) EstimateItem {
	clone := item
	clone.Assumptions = append([]string(nil), item.Assumptions...)
	if item.Quantity != nil {
		quantity := *item.Quantity
		clone.Quantity = &quantity
	}
	if item.ConfidenceScore != nil {
		score := *item.ConfidenceScore
		clone.ConfidenceScore = &score
	}
	return clone
}
