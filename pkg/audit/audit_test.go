package audit

import (
	"encoding/json"
	"testing"
	"time"

	"reservoir/pkg/config"
)

// TestNewEntry verifies that the Builder fills every field.
func TestNewEntry(t *testing.T) {
	entry := NewEntry(ActionSubmit).
		Service("simctl").
		Job("job-1", "opm").
		Duration(1500*time.Millisecond).
		Meta("cells", 300).
		Build()

	if entry.ID == "" {
		t.Error("expected generated ID")
	}
	if entry.Service != "simctl" {
		t.Errorf("expected service 'simctl', got %s", entry.Service)
	}
	if entry.Action != ActionSubmit {
		t.Errorf("expected action SUBMIT, got %s", entry.Action)
	}
	if entry.Outcome != OutcomeSuccess {
		t.Errorf("expected outcome SUCCESS, got %s", entry.Outcome)
	}
	if entry.Resource != ResourceJob || entry.ResourceID != "job-1" {
		t.Errorf("unexpected resource %s/%s", entry.Resource, entry.ResourceID)
	}
	if entry.Backend != "opm" {
		t.Errorf("expected backend 'opm', got %s", entry.Backend)
	}
	if entry.DurationMs != 1500 {
		t.Errorf("expected durationMs 1500, got %d", entry.DurationMs)
	}
	if entry.Metadata["cells"] != 300 {
		t.Errorf("expected metadata cells=300, got %v", entry.Metadata["cells"])
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestBuilder_ErrorMarksFailure(t *testing.T) {
	entry := NewEntry(ActionFail).Error("EXECUTION_FAILED", "flow exited with 1").Build()
	if entry.Outcome != OutcomeFailure {
		t.Errorf("expected FAILURE, got %s", entry.Outcome)
	}

	// явный исход не перетирается
	entry = NewEntry(ActionSubmit).Outcome(OutcomeRejected).Error("CAPACITY_EXCEEDED", "full").Build()
	if entry.Outcome != OutcomeRejected {
		t.Errorf("expected REJECTED, got %s", entry.Outcome)
	}
}

func TestBuilder_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := NewEntry(ActionParse).Build().ID
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestEntry_JSON(t *testing.T) {
	entry := NewEntry(ActionCompare).
		Resource(ResourceComparison, "opm-vs-mrst").
		Meta("quality", "good").
		Build()

	data, err := entry.JSON()
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded["action"] != "COMPARE" {
		t.Errorf("expected action COMPARE, got %v", decoded["action"])
	}
	if _, ok := decoded["backend"]; ok {
		t.Error("empty backend must be omitted")
	}
}

func TestEntry_EmptyMetadataOmitted(t *testing.T) {
	entry := NewEntry(ActionGenerate).Build()
	if entry.Metadata != nil {
		t.Errorf("expected nil metadata, got %v", entry.Metadata)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.AuditConfig{Enabled: true, Backend: "file", FilePath: "/tmp/a.log"}, "batch")
	if !cfg.Enabled || cfg.Backend != "file" || cfg.FilePath != "/tmp/a.log" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Service != "batch" {
		t.Errorf("expected service 'batch', got %s", cfg.Service)
	}
	if cfg.BufferSize != 1000 {
		t.Errorf("expected default buffer size, got %d", cfg.BufferSize)
	}

	cfg = FromConfig(config.AuditConfig{}, "")
	if cfg.Backend != "stdout" || cfg.Service != "simctl" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}
