package estimate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

func baseDocument() *domain.EstimateDocument {
	return &domain.EstimateDocument{
		ProjectDescription: "Bathroom renovation",
		EstimatedTotalMin:  8000,
		EstimatedTotalMax:  12000,
		ConfidenceLevel:    "medium",
		KeyConsiderations:  []string{"permits required"},
		EstimateItems: []domain.EstimateItem{
			{
				UID:          "tile-1",
				Description:  "Floor tiling",
				Category:     "finishes",
				CostRangeMin: 1500,
				CostRangeMax: 2500,
			},
			{
				UID:          "plumb-1",
				Description:  "Relocate plumbing",
				Category:     "plumbing",
				CostRangeMin: 2000,
				CostRangeMax: 3500,
			},
		},
	}
}

func patch(path string, op domain.PatchOp, value string) domain.Patch {
	p := domain.Patch{JSONPath: path, Op: op}
	if value != "" {
		p.NewValue = json.RawMessage(value)
	}
	return p
}

func TestApplyPatchesTopLevelFields(t *testing.T) {
	doc := baseDocument()
	results := ApplyPatches(doc, []domain.Patch{
		patch("estimated_total_max", domain.PatchOpReplace, `15000`),
		patch("project_description", domain.PatchOpReplace, `"Bathroom and laundry renovation"`),
		patch("estimated_timeline_days", domain.PatchOpAdd, `45`),
		patch("key_considerations", domain.PatchOpAdd, `"water damage risk behind shower wall"`),
	})

	for i, result := range results {
		if !result.Success {
			t.Fatalf("patch %d failed: %s", i, result.ErrorMessage)
		}
	}
	if doc.EstimatedTotalMax != 15000 {
		t.Fatalf("estimated_total_max = %v", doc.EstimatedTotalMax)
	}
	if doc.ProjectDescription != "Bathroom and laundry renovation" {
		t.Fatalf("project_description = %q", doc.ProjectDescription)
	}
	if doc.EstimatedTimelineDays == nil || *doc.EstimatedTimelineDays != 45 {
		t.Fatalf("estimated_timeline_days = %v", doc.EstimatedTimelineDays)
	}
	if len(doc.KeyConsiderations) != 2 {
		t.Fatalf("key_considerations = %v", doc.KeyConsiderations)
	}
}

func TestApplyPatchesItemByUID(t *testing.T) {
	doc := baseDocument()
	results := ApplyPatches(doc, []domain.Patch{
		patch("estimate_items.tile-1.cost_range_max", domain.PatchOpReplace, `3000`),
		patch("estimate_items.plumb-1", domain.PatchOpRemove, ""),
		patch("estimate_items", domain.PatchOpAdd, `{"uid":"vent-1","description":"Install exhaust fan","category":"hvac","cost_range_min":300,"cost_range_max":600}`),
	})

	for i, result := range results {
		if !result.Success {
			t.Fatalf("patch %d failed: %s", i, result.ErrorMessage)
		}
	}
	if doc.EstimateItems[0].CostRangeMax != 3000 {
		t.Fatalf("tile-1 cost_range_max = %v", doc.EstimateItems[0].CostRangeMax)
	}
	if doc.ItemIndex("plumb-1") != -1 {
		t.Fatal("plumb-1 should have been removed")
	}
	if doc.ItemIndex("vent-1") == -1 {
		t.Fatal("vent-1 should have been added")
	}
}

func TestApplyPatchesPartialFailureKeepsOrder(t *testing.T) {
	doc := baseDocument()
	patches := []domain.Patch{
		patch("estimated_total_min", domain.PatchOpReplace, `9000`),
		patch("estimate_items.ghost-9.description", domain.PatchOpReplace, `"no such item"`),
		patch("confidence_level", domain.PatchOpReplace, `"high"`),
	}
	results := ApplyPatches(doc, patches)

	if len(results) != len(patches) {
		t.Fatalf("expected %d results, got %d", len(patches), len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("unexpected success pattern: %+v", results)
	}
	if !strings.Contains(results[1].ErrorMessage, "ghost-9") {
		t.Fatalf("failure message should name the missing uid: %q", results[1].ErrorMessage)
	}
	// The failed middle patch must not block the later one.
	if doc.EstimatedTotalMin != 9000 || doc.ConfidenceLevel != "high" {
		t.Fatalf("surviving patches not applied: min=%v level=%q", doc.EstimatedTotalMin, doc.ConfidenceLevel)
	}
}

func TestApplyPatchesRejections(t *testing.T) {
	cases := []struct {
		name  string
		patch domain.Patch
	}{
		{"uid is immutable", patch("estimate_items.tile-1.uid", domain.PatchOpReplace, `"tile-2"`)},
		{"unknown field", patch("grand_total", domain.PatchOpReplace, `1`)},
		{"unknown op", patch("confidence_level", domain.PatchOp("move"), `"low"`)},
		{"remove required field", patch("project_description", domain.PatchOpRemove, "")},
		{"missing new_value", patch("confidence_level", domain.PatchOpReplace, "")},
		{"remove with new_value", domain.Patch{JSONPath: "notes", Op: domain.PatchOpRemove, NewValue: json.RawMessage(`"x"`)}},
		{"duplicate uid on add", patch("estimate_items", domain.PatchOpAdd, `{"uid":"tile-1","description":"dup","category":"x","cost_range_min":1,"cost_range_max":2}`)},
		{"conflicting uids", patch("estimate_items.tile-1", domain.PatchOpReplace, `{"uid":"other","description":"x","category":"x","cost_range_min":1,"cost_range_max":2}`)},
		{"wrong value type", patch("estimated_total_min", domain.PatchOpReplace, `"cheap"`)},
		{"list index out of range", patch("key_considerations.7", domain.PatchOpReplace, `"x"`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := baseDocument()
			results := ApplyPatches(doc, []domain.Patch{tc.patch})
			if results[0].Success {
				t.Fatalf("expected failure, got success")
			}
			if results[0].ErrorMessage == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestApplyPatchesStringListByIndex(t *testing.T) {
	doc := baseDocument()
	doc.NextSteps = []string{"site visit", "order materials"}

	results := ApplyPatches(doc, []domain.Patch{
		patch("next_steps.1", domain.PatchOpReplace, `"confirm material lead times"`),
		patch("next_steps.0", domain.PatchOpRemove, ""),
		patch("next_steps.1", domain.PatchOpAdd, `"book inspection"`),
	})
	for i, result := range results {
		if !result.Success {
			t.Fatalf("patch %d failed: %s", i, result.ErrorMessage)
		}
	}

	want := []string{"confirm material lead times", "book inspection"}
	if len(doc.NextSteps) != len(want) {
		t.Fatalf("next_steps = %v", doc.NextSteps)
	}
	for i := range want {
		if doc.NextSteps[i] != want[i] {
			t.Fatalf("next_steps[%d] = %q, want %q", i, doc.NextSteps[i], want[i])
		}
	}
}
