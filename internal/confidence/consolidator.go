// Package confidence implements fixed-weight fusion of per-agent confidence
// scores and the deterministic keyword overrides that short-circuit the
// probabilistic path.
package confidence

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// weightSumTolerance absorbs float representation noise when checking that
// weights sum to 1.0.
const weightSumTolerance = 1e-9

// Component pairs one upstream confidence score with its fusion weight.
type Component struct {
	Confidence float64
	Weight     float64
}

// OverrideResult reports the outcome of the deterministic keyword rules.
// A fired rule is maximally certain by construction, so Confidence is 1.0
// whenever either flag is set.
type OverrideResult struct {
	Confidence      float64
	ForceClose      bool
	ForceEscalation bool
}

// Consolidator fuses per-agent confidences using deployment-fixed weights and
// applies the keyword override sets. It is immutable after construction.
type Consolidator struct {
	weights       map[string]float64
	forceClose    []string
	forceEscalate []string
}

// NewConsolidator validates the configuration at startup: weights must sum to
// 1.0 and the override sets must be disjoint. A failure here is a
// configuration error and must abort boot.
func NewConsolidator(weights map[string]float64, forceClose, forceEscalate []string) (*Consolidator, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("consolidation weights not set")
	}
	sum := 0.0
	for agent, weight := range weights {
		if weight < 0 || weight > 1 {
			return nil, fmt.Errorf("weight for agent %q out of range: %v", agent, weight)
		}
		sum += weight
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return nil, fmt.Errorf("consolidation weights must sum to 1.0, got %v", sum)
	}

	closeSet := make(map[string]bool, len(forceClose))
	lowerClose := make([]string, 0, len(forceClose))
	for _, phrase := range forceClose {
		lower := strings.ToLower(phrase)
		closeSet[lower] = true
		lowerClose = append(lowerClose, lower)
	}
	lowerEscalate := make([]string, 0, len(forceEscalate))
	for _, phrase := range forceEscalate {
		lower := strings.ToLower(phrase)
		if closeSet[lower] {
			return nil, fmt.Errorf("override phrase %q appears in both keyword sets", phrase)
		}
		lowerEscalate = append(lowerEscalate, lower)
	}

	return &Consolidator{
		weights:       weights,
		forceClose:    lowerClose,
		forceEscalate: lowerEscalate,
	}, nil
}

// Consolidate fuses explicit (confidence, weight) components into a single
// scalar: the weighted sum of the confidences.
func Consolidate(components []Component) float64 {
	overall := 0.0
	for _, c := range components {
		overall += c.Confidence * c.Weight
	}
	return overall
}

// ConsolidateAgents fuses the named per-agent scores using the configured
// weights. Agents missing from the input contribute zero; scores for agents
// without a configured weight are ignored.
func (c *Consolidator) ConsolidateAgents(scores map[string]float64) float64 {
	overall := 0.0
	for agent, weight := range c.weights {
		score, ok := scores[agent]
		if !ok {
			slog.Debug("Consolidator missing agent score", "agent", agent)
			continue
		}
		overall += score * weight
	}
	return overall
}

// ApplyOverrides tests the user text against the force-close and
// force-escalate keyword sets. A match in either returns confidence 1.0
// regardless of the raw score: a fired deterministic rule must not be
// second-guessed by a probabilistic one.
func (c *Consolidator) ApplyOverrides(raw float64, userText string) OverrideResult {
	lowered := strings.ToLower(userText)
	for _, phrase := range c.forceClose {
		if strings.Contains(lowered, phrase) {
			slog.Info("Consolidator force-close override fired", "phrase", phrase)
			return OverrideResult{Confidence: 1.0, ForceClose: true}
		}
	}
	for _, phrase := range c.forceEscalate {
		if strings.Contains(lowered, phrase) {
			slog.Info("Consolidator force-escalate override fired", "phrase", phrase)
			return OverrideResult{Confidence: 1.0, ForceEscalation: true}
		}
	}
	return OverrideResult{Confidence: raw}
}

// Weights exposes the configured weight for an agent, for audit emission.
func (c *Consolidator) Weights() map[string]float64 {
	return c.weights
}
