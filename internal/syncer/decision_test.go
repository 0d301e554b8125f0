package syncer

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
)

func TestDecisionRecord(t *testing.T) {
	d := Decision{
		ID:         "CP_METHODOLOGY-001",
		Checkpoint: "CP_METHODOLOGY",
		Stage:      "design",
		Rationale:  "Both depth and breadth are needed",
		Decision: DecisionChoice{
			Selected: "Mixed methods",
			Alternatives: []Alternative{
				{Option: "Pure qualitative", Reason: "Too narrow"},
				{Option: "Survey only"},
			},
		},
		Context:  DecisionContext{ResearchQuestion: "How do teachers manage workload?"},
		Metadata: DecisionMetadata{SessionID: "s-42"},
	}

	got := DecisionRecord("thesis", d)
	want := memorystore.Record{
		ExternalID: "CP_METHODOLOGY-001",
		Type:       memorystore.TypeDecision,
		Namespace:  "decisions.CP_METHODOLOGY",
		Title:      "CP_METHODOLOGY",
		Content: `Checkpoint: CP_METHODOLOGY
Stage: design
Selected: Mixed methods
Rationale: Both depth and breadth are needed
Alternatives considered:
  - Pure qualitative: Too narrow
  - Survey only
Research Question: How do teachers manage workload?`,
		Summary:     "Mixed methods",
		Tags:        []string{"decision", "CP_METHODOLOGY", "design"},
		Priority:    DecisionPriority,
		ProjectName: "thesis",
		SessionID:   "s-42",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecisionRecord() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestDecisionRecordWithoutCheckpoint(t *testing.T) {
	got := DecisionRecord("", Decision{ID: "x"})

	if got.Namespace != "decisions.unknown" || got.Title != "Unknown Checkpoint" {
		t.Errorf("namespace/title = %q/%q", got.Namespace, got.Title)
	}
	if !reflect.DeepEqual(got.Tags, []string{"decision"}) {
		t.Errorf("Tags = %v, want [decision]", got.Tags)
	}
}

func TestDecisionLogEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision-log.yaml")
	writeFile(t, path, `project: thesis
decisions:
  - id: d1
    checkpoint: CP_A
    decision:
      selected: A
      alternatives:
        - B
        - option: C
          rejection_reason: too costly
        - option: D
          reason: out of scope
  - id: ""
    checkpoint: CP_EMPTY_ID
  - id: d3
    decision: "not a mapping"
`)

	entries, err := NewDecisionLog(path).Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	key, err := entries[0].Key()
	if err != nil || key != "d1" {
		t.Errorf("entries[0].Key() = %q, %v", key, err)
	}
	rec, err := entries[0].ToRecord()
	if err != nil {
		t.Fatalf("ToRecord() error = %v", err)
	}
	wantAlts := "Alternatives considered:\n  - B\n  - C: too costly\n  - D: out of scope"
	if !strings.Contains(rec.Content, wantAlts) {
		t.Errorf("Content = %q, want it to contain %q", rec.Content, wantAlts)
	}
	if rec.ProjectName != "thesis" {
		t.Errorf("ProjectName = %q, want thesis", rec.ProjectName)
	}

	if _, err := entries[1].Key(); !errortypes.IsMalformedEntry(err) {
		t.Errorf("entries[1].Key() error = %v, want malformed entry", err)
	}

	// A badly shaped field keeps the key but fails the mapping.
	key, err = entries[2].Key()
	if err != nil || key != "d3" {
		t.Errorf("entries[2].Key() = %q, %v; want d3", key, err)
	}
	if _, err := entries[2].ToRecord(); !errortypes.IsMalformedEntry(err) {
		t.Errorf("entries[2].ToRecord() error = %v, want malformed entry", err)
	}
	if entries[1].Fingerprint() == entries[2].Fingerprint() {
		t.Error("different entries share a fingerprint")
	}
}

func TestDecisionLogMissing(t *testing.T) {
	_, err := NewDecisionLog(filepath.Join(t.TempDir(), "nope.yaml")).Entries(context.Background())
	if !errortypes.IsNotFound(err) {
		t.Errorf("Entries() error = %v, want not found", err)
	}
}
