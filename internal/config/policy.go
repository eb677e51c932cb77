// Package config loads and validates the versioned governance policy:
// the transition map, consolidation weights, confidence thresholds, and
// deterministic override keyword sets. A validation failure is fatal and must
// abort startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/convogate/convogate/internal/fsm"
	"github.com/convogate/convogate/internal/models"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// weightSumTolerance absorbs float representation noise when checking that
// the configured weights sum to 1.0.
const weightSumTolerance = 1e-9

// Thresholds holds the confidence gating boundaries.
type Thresholds struct {
	Low    float64 `yaml:"low" json:"low"`
	Accept float64 `yaml:"accept" json:"accept"`
}

// Overrides holds the disjoint deterministic keyword sets.
type Overrides struct {
	ForceClose    []string `yaml:"force_close" json:"force_close"`
	ForceEscalate []string `yaml:"force_escalate" json:"force_escalate"`
}

// Policy is the versioned external policy data consumed by the governance
// pipeline. It is immutable after Validate succeeds.
type Policy struct {
	Version     int                 `yaml:"version" json:"version"`
	Transitions map[string][]string `yaml:"transitions" json:"transitions"`
	Weights     map[string]float64  `yaml:"weights" json:"weights"`
	Thresholds  Thresholds          `yaml:"thresholds" json:"thresholds"`
	Overrides   Overrides           `yaml:"overrides" json:"overrides"`
}

// Default returns the embedded built-in policy.
func Default() (*Policy, error) {
	return parse(defaultPolicyYAML)
}

// Load reads a policy file from disk. An empty path falls back to the
// embedded default.
func Load(path string) (*Policy, error) {
	if path == "" {
		slog.Debug("Policy path not set, using embedded default policy")
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	slog.Info("Loaded policy file", "path", path)
	return parse(data)
}

func parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	return &p, nil
}

// TransitionMap converts the raw policy transitions to the typed map. State
// names are canonicalized; unknown names surface through Validate.
func (p *Policy) TransitionMap() fsm.TransitionMap {
	tm := make(fsm.TransitionMap, len(p.Transitions))
	for from, targets := range p.Transitions {
		source := canonicalize(from)
		states := make([]models.SessionState, 0, len(targets))
		for _, target := range targets {
			states = append(states, canonicalize(target))
		}
		tm[source] = states
	}
	return tm
}

// canonicalize maps a raw policy state name to its canonical form, passing
// unknown names through unchanged so validation can report them.
func canonicalize(raw string) models.SessionState {
	if state, err := models.ParseState(raw); err == nil {
		return state
	}
	return models.SessionState(raw)
}

// Validate checks every structural invariant of the policy and returns all
// violations found. Boot must abort when the list is non-empty.
func (p *Policy) Validate() []error {
	var errs []error

	if p.Version <= 0 {
		errs = append(errs, errors.New("policy version must be a positive integer"))
	}

	errs = append(errs, p.TransitionMap().Validate()...)

	if len(p.Weights) == 0 {
		errs = append(errs, errors.New("policy must declare at least one consolidation weight"))
	} else {
		sum := 0.0
		for agent, weight := range p.Weights {
			if weight < 0 || weight > 1 {
				errs = append(errs, fmt.Errorf("weight for agent %q must be in [0,1], got %v", agent, weight))
			}
			sum += weight
		}
		if math.Abs(sum-1.0) > weightSumTolerance {
			errs = append(errs, fmt.Errorf("consolidation weights must sum to 1.0, got %v", sum))
		}
	}

	if p.Thresholds.Low <= 0 || p.Thresholds.Accept > 1 || p.Thresholds.Low >= p.Thresholds.Accept {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < low < accept <= 1, got low=%v accept=%v",
			p.Thresholds.Low, p.Thresholds.Accept))
	}

	closeSet := make(map[string]bool, len(p.Overrides.ForceClose))
	for _, phrase := range p.Overrides.ForceClose {
		closeSet[phrase] = true
	}
	for _, phrase := range p.Overrides.ForceEscalate {
		if closeSet[phrase] {
			errs = append(errs, fmt.Errorf("override phrase %q appears in both force_close and force_escalate", phrase))
		}
	}

	for _, err := range errs {
		slog.Error("Policy validation failure", "error", err)
	}
	return errs
}
