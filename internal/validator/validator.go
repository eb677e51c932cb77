package validator

import (
	"context"
	"log/slog"
	"time"

	"github.com/convogate/convogate/internal/decision"
	"github.com/convogate/convogate/internal/fsm"
	"github.com/convogate/convogate/internal/models"
)

// Escalation reasons recorded in ValidationResult.EscalationReason. The first
// gate to escalate owns the reason; later gates tighten but never overwrite.
const (
	ReasonInvalidTransition   = "invalid_transition"
	ReasonPIIDetected         = "pii_detected"
	ReasonLowConfidence       = "low_confidence"
	ReasonReviewerUnavailable = "reviewer_unavailable"
	ReasonEscalationThreshold = "escalation_threshold_reached"
)

// DefaultEscalationThreshold is the consecutive-low-confidence count at which
// escalation becomes mandatory.
const DefaultEscalationThreshold = 3

// DefaultReviewTimeout bounds the optional reviewer call.
const DefaultReviewTimeout = 8 * time.Second

// Input carries everything one validation pass needs. EscalationCount is the
// session's consecutive-low-confidence counter already updated for this turn
// by the governor, which is the counter's only writer.
type Input struct {
	Decision        models.RawDecision
	Session         *models.Session
	Consolidated    float64
	OriginalText    string
	EscalationCount int
}

// Validator runs the four safety gates in order. Later gates may only
// tighten, never loosen, an earlier gate's correction: once human_required is
// set, no later gate downgrades it.
type Validator struct {
	transitions         fsm.TransitionMap
	scanner             *PIIScanner
	reviewer            decision.Reviewer
	lowThreshold        float64
	acceptThreshold     float64
	reviewTimeout       time.Duration
	escalationThreshold int
}

// New creates a validator. The reviewer may be nil, in which case gray-zone
// decisions fail safe to human-required.
func New(transitions fsm.TransitionMap, scanner *PIIScanner, reviewer decision.Reviewer, lowThreshold, acceptThreshold float64) *Validator {
	return &Validator{
		transitions:         transitions,
		scanner:             scanner,
		reviewer:            reviewer,
		lowThreshold:        lowThreshold,
		acceptThreshold:     acceptThreshold,
		reviewTimeout:       DefaultReviewTimeout,
		escalationThreshold: DefaultEscalationThreshold,
	}
}

// WithReviewTimeout overrides the reviewer call bound.
func (v *Validator) WithReviewTimeout(timeout time.Duration) *Validator {
	v.reviewTimeout = timeout
	return v
}

// WithEscalationThreshold overrides the mandatory-escalation count.
func (v *Validator) WithEscalationThreshold(threshold int) *Validator {
	v.escalationThreshold = threshold
	return v
}

// Validate runs gates A through D and returns the possibly rewritten decision
// together with what was done to it.
func (v *Validator) Validate(ctx context.Context, in Input) (models.RawDecision, models.ValidationResult) {
	decided := in.Decision
	result := models.ValidationResult{
		Approved:       true,
		ValidationType: models.ValidationApproved,
		Corrections:    map[string]string{},
	}

	v.gateTransitionValidity(&decided, &result, in.Session)
	v.gateLeakGuard(&decided, &result)
	v.gateConfidence(ctx, &decided, &result, in)
	v.gateEscalationCounter(&decided, &result, in)

	if len(result.Corrections) == 0 {
		result.Corrections = nil
	}
	slog.Debug("Validator finished",
		"sessionID", in.Session.ID,
		"validation_type", result.ValidationType,
		"approved", result.Approved,
		"escalation_reason", result.EscalationReason,
		"reviewer_used", result.ReviewerUsed)
	return decided, result
}

// escalate marks the decision human-required, recording reason only if no
// earlier gate claimed it.
func escalate(decided *models.RawDecision, result *models.ValidationResult, reason string) {
	decided.RequiresHuman = true
	result.Approved = false
	result.ValidationType = models.ValidationHumanRequired
	if result.EscalationReason == "" {
		result.EscalationReason = reason
	}
}

// gateTransitionValidity (Gate A) rewrites an undeclared transition to the
// human-handoff terminal when it is reachable; when no safe redirect exists
// the state is left alone but the decision still requires a human.
func (v *Validator) gateTransitionValidity(decided *models.RawDecision, result *models.ValidationResult, session *models.Session) {
	proposed, err := models.ParseState(decided.NextState)
	if err == nil && v.transitions.Allows(session.CurrentState, proposed) {
		decided.NextState = string(proposed)
		return
	}

	slog.Warn("Validator gate A: undeclared transition proposed",
		"sessionID", session.ID, "from", session.CurrentState, "proposed", decided.NextState)

	if v.transitions.Allows(session.CurrentState, models.StateHandoffHuman) {
		result.Corrections["next_state"] = string(models.StateHandoffHuman)
		decided.NextState = string(models.StateHandoffHuman)
	}
	escalate(decided, result, ReasonInvalidTransition)
}

// gateLeakGuard (Gate B) forces human handling when the outbound text carries
// personally-identifiable content, independent of confidence.
func (v *Validator) gateLeakGuard(decided *models.RawDecision, result *models.ValidationResult) {
	kinds := v.scanner.Scan(decided.ResponseText)
	if len(kinds) == 0 {
		return
	}
	slog.Warn("Validator gate B: PII detected in response text", "kinds", kinds)
	escalate(decided, result, ReasonPIIDetected)
}

// gateConfidence (Gate C) applies the threshold bands to the consolidated
// confidence. The gray zone consults the optional reviewer; absence or a
// decline fails safe to human-required. The gate never runs the approval path
// once an earlier gate required a human.
func (v *Validator) gateConfidence(ctx context.Context, decided *models.RawDecision, result *models.ValidationResult, in Input) {
	if result.ValidationType == models.ValidationHumanRequired {
		return
	}
	c := in.Consolidated

	switch {
	case c < v.lowThreshold:
		escalate(decided, result, ReasonLowConfidence)

	case c < v.acceptThreshold:
		v.consultReviewer(ctx, decided, result, in)

	default:
		result.Approved = true
		result.ValidationType = models.ValidationApproved
	}
}

// consultReviewer runs the bounded second-pass review for gray-zone
// decisions.
func (v *Validator) consultReviewer(ctx context.Context, decided *models.RawDecision, result *models.ValidationResult, in Input) {
	if v.reviewer == nil {
		escalate(decided, result, ReasonReviewerUnavailable)
		return
	}

	reviewCtx, cancel := context.WithTimeout(ctx, v.reviewTimeout)
	defer cancel()

	req := decision.Request{
		SessionID:    in.Session.ID,
		Text:         in.OriginalText,
		CurrentState: in.Session.CurrentState,
		TurnCount:    in.Session.TurnCount,
	}
	revised, err := v.reviewer.Review(reviewCtx, *decided, req)
	if err != nil {
		slog.Warn("Validator gate C: reviewer failed", "error", err, "sessionID", in.Session.ID)
		escalate(decided, result, ReasonReviewerUnavailable)
		return
	}
	if revised == nil {
		escalate(decided, result, ReasonLowConfidence)
		return
	}

	revised.Normalize()
	result.ReviewerUsed = true
	result.Corrections["reviewed"] = "true"
	*decided = *revised

	// The revision is as untrusted as the original draft: its response text
	// must pass the leak guard before it can be approved.
	if kinds := v.scanner.Scan(decided.ResponseText); len(kinds) > 0 {
		slog.Warn("Validator gate C: PII detected in reviewed response text", "kinds", kinds)
		escalate(decided, result, ReasonPIIDetected)
		return
	}

	if revised.Confidence >= v.acceptThreshold {
		result.Approved = true
		result.ValidationType = models.ValidationApproved
	} else {
		result.Approved = false
		result.ValidationType = models.ValidationReviewPending
	}
}

// gateEscalationCounter (Gate D) forces escalation once the session's
// consecutive-low-confidence counter reaches the threshold, regardless of the
// earlier gates, rewriting toward human handoff when reachable.
func (v *Validator) gateEscalationCounter(decided *models.RawDecision, result *models.ValidationResult, in Input) {
	if in.EscalationCount < v.escalationThreshold {
		return
	}
	slog.Warn("Validator gate D: escalation threshold reached",
		"sessionID", in.Session.ID, "count", in.EscalationCount)

	if v.transitions.Allows(in.Session.CurrentState, models.StateHandoffHuman) &&
		decided.NextState != string(models.StateHandoffHuman) {
		result.Corrections["next_state"] = string(models.StateHandoffHuman)
		decided.NextState = string(models.StateHandoffHuman)
	}
	escalate(decided, result, ReasonEscalationThreshold)
}
