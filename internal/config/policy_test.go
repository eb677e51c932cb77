package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if errs := p.Validate(); len(errs) != 0 {
		t.Fatalf("embedded default policy must validate, got %v", errs)
	}
	if p.Version != 1 {
		t.Errorf("expected version 1, got %d", p.Version)
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Transitions) == 0 {
		t.Error("expected default transitions")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/policy.yaml"); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
version: 2
transitions:
  INITIAL: [TRIAGE, ERROR]
  TRIAGE: [COLLECTING_INFO, HANDOFF_HUMAN]
  COLLECTING_INFO: [GENERATING_RESPONSE, HANDOFF_HUMAN]
  GENERATING_RESPONSE: [SELF_SERVE_INFO, HANDOFF_HUMAN]
weights:
  intent: 0.5
  generation: 0.5
thresholds:
  low: 0.4
  accept: 0.75
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if errs := p.Validate(); len(errs) != 0 {
		t.Fatalf("expected valid policy, got %v", errs)
	}
	if p.Version != 2 {
		t.Errorf("expected version 2, got %d", p.Version)
	}
}

func TestValidateCatchesBadWeights(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	p.Weights = map[string]float64{"intent": 0.5, "generation": 0.4}
	errs := p.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Error(), "sum to 1.0") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected weight-sum error, got %v", errs)
	}
}

func TestValidateCatchesBadThresholds(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	p.Thresholds.Low = 0.9
	p.Thresholds.Accept = 0.8
	if errs := p.Validate(); len(errs) == 0 {
		t.Fatal("expected threshold ordering error")
	}
}

func TestValidateCatchesOverlappingOverrides(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	p.Overrides.ForceEscalate = append(p.Overrides.ForceEscalate, p.Overrides.ForceClose[0])
	errs := p.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e.Error(), "both force_close and force_escalate") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected overlap error, got %v", errs)
	}
}

func TestValidateCatchesBadTransitions(t *testing.T) {
	p, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	p.Transitions["HANDOFF_HUMAN"] = []string{"INITIAL"}
	if errs := p.Validate(); len(errs) == 0 {
		t.Fatal("expected terminal-state transition error")
	}
}
