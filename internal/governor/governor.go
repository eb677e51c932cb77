// Package governor wires the governance pipeline around one inbound message:
// dedupe check, bounded decision call, confidence consolidation, validation,
// guarded state transition, audit emission, and dedupe finalization.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/convogate/convogate/internal/audit"
	"github.com/convogate/convogate/internal/confidence"
	"github.com/convogate/convogate/internal/decision"
	"github.com/convogate/convogate/internal/dedupe"
	"github.com/convogate/convogate/internal/fsm"
	"github.com/convogate/convogate/internal/models"
	"github.com/convogate/convogate/internal/store"
	"github.com/convogate/convogate/internal/validator"
)

// Defaults for the pipeline configuration.
const (
	DefaultMaxConcurrent   = 100
	DefaultDecisionTimeout = 15 * time.Second
)

// Config holds the governor's tunable parameters.
type Config struct {
	// MaxConcurrent caps in-flight pipelines; arrivals beyond the cap queue.
	MaxConcurrent int
	// DecisionTimeout bounds the external decision call; expiry is treated
	// as "no decision" and routed to human-required.
	DecisionTimeout time.Duration
	// LockTTL covers concurrent duplicate deliveries during execution.
	LockTTL time.Duration
	// ProcessedTTL suppresses replays after success.
	ProcessedTTL time.Duration
	// FallbackState is the safe terminal substituted when the validated
	// transition is denied by the machine.
	FallbackState models.SessionState
	// AcceptThreshold mirrors the validator's acceptance band; consolidated
	// confidence below it counts as a low-confidence outcome for the
	// escalation counter.
	AcceptThreshold float64
	// EscalationThreshold is the counter value forcing mandatory escalation.
	EscalationThreshold int
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = DefaultDecisionTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = dedupe.DefaultLockTTL
	}
	if c.ProcessedTTL <= 0 {
		c.ProcessedTTL = dedupe.DefaultProcessedTTL
	}
	if c.FallbackState == "" {
		c.FallbackState = models.StateHandoffHuman
	}
	if c.AcceptThreshold <= 0 {
		c.AcceptThreshold = 0.8
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = validator.DefaultEscalationThreshold
	}
	return c
}

// Governor is the orchestration entrypoint. It is the only component that
// mutates both dedupe state and FSM state within one logical operation.
//
// Two different messages for the same session may still race the state
// machine; the dedupe lock only excludes duplicate deliveries of the same
// message. Callers needing per-session serialization must add it at the
// session-store layer.
type Governor struct {
	cfg          Config
	machine      *fsm.Machine
	sessions     store.Store
	guard        dedupe.Guard
	source       decision.Source
	validator    *validator.Validator
	consolidator *confidence.Consolidator
	sink         audit.Sink

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a governor with explicitly injected collaborators. No hidden
// global state: each test constructs a fresh governor.
func New(cfg Config, machine *fsm.Machine, sessions store.Store, guard dedupe.Guard, source decision.Source, v *validator.Validator, consolidator *confidence.Consolidator, sink audit.Sink) *Governor {
	cfg = cfg.withDefaults()
	return &Governor{
		cfg:          cfg,
		machine:      machine,
		sessions:     sessions,
		guard:        guard,
		source:       source,
		validator:    v,
		consolidator: consolidator,
		sink:         sink,
		sem:          make(chan struct{}, cfg.MaxConcurrent),
	}
}

// HandleMessage runs the full governance pipeline for one inbound message.
// Infrastructure failures that compromise idempotency are returned as errors;
// everything else resolves to a safe Outcome.
func (g *Governor) HandleMessage(ctx context.Context, msg models.InboundMessage) (*models.Outcome, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	// Admission gate: queue rather than reject beyond capacity.
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.wg.Add(1)
	defer func() {
		<-g.sem
		g.wg.Done()
	}()

	dup, err := g.guard.IsDuplicate(ctx, msg.MessageID)
	if err != nil {
		return nil, fmt.Errorf("dedupe check failed: %w", err)
	}
	if dup {
		slog.Info("Governor suppressed duplicate message", "sessionID", msg.SessionID, "messageID", msg.MessageID)
		return g.duplicateOutcome(ctx, msg), nil
	}

	acquired, err := g.guard.MarkProcessing(ctx, msg.MessageID, g.cfg.LockTTL)
	if err != nil {
		// Without the lock idempotency cannot be guaranteed; fatal to this run.
		return nil, fmt.Errorf("mark processing failed: %w", err)
	}
	if !acquired {
		slog.Info("Governor lost processing lock race", "sessionID", msg.SessionID, "messageID", msg.MessageID)
		return g.duplicateOutcome(ctx, msg), nil
	}

	outcome, err := g.runPipeline(ctx, msg)
	if err != nil {
		// Any failure or cancellation before mark-processed releases the
		// lock so a legitimate retry is not permanently blocked.
		if unmarkErr := g.guard.UnmarkProcessing(context.WithoutCancel(ctx), msg.MessageID); unmarkErr != nil {
			slog.Error("Governor failed to release dedupe lock", "error", unmarkErr, "messageID", msg.MessageID)
		}
		return nil, err
	}

	if err := g.guard.MarkProcessed(context.WithoutCancel(ctx), msg.MessageID, g.cfg.ProcessedTTL); err != nil {
		// The lock's TTL still covers the replay window; log and continue.
		slog.Error("Governor failed to mark message processed", "error", err, "messageID", msg.MessageID)
	}
	return outcome, nil
}

// runPipeline executes the sequential stages between lock acquisition and
// finalization.
func (g *Governor) runPipeline(ctx context.Context, msg models.InboundMessage) (*models.Outcome, error) {
	session, err := g.sessions.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		session = models.NewSession(msg.SessionID)
		slog.Debug("Governor created session", "sessionID", msg.SessionID)
	}
	session.TurnCount++

	raw := g.decide(ctx, msg, session)
	raw.Normalize()

	consolidated := raw.Confidence
	if len(msg.AgentConfidences) > 0 {
		consolidated = g.consolidator.ConsolidateAgents(msg.AgentConfidences)
	}
	override := g.consolidator.ApplyOverrides(consolidated, msg.Text)
	consolidated = override.Confidence
	if override.ForceEscalation {
		raw.RequiresHuman = true
		if g.machine.Transitions().Allows(session.CurrentState, models.StateHandoffHuman) {
			raw.NextState = string(models.StateHandoffHuman)
		}
	}

	// The governor is the escalation counter's only writer: a consolidated
	// confidence below the acceptance threshold counts against the session,
	// a confident turn resets it.
	if consolidated < g.cfg.AcceptThreshold {
		session.EscalationCount++
	} else {
		session.EscalationCount = 0
	}

	validated, vres := g.validator.Validate(ctx, validator.Input{
		Decision:        raw,
		Session:         session,
		Consolidated:    consolidated,
		OriginalText:    msg.Text,
		EscalationCount: session.EscalationCount,
	})

	fsmSuccess := g.applyTransition(session, &validated, &vres, msg, consolidated)

	if err := g.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	g.emitAudit(ctx, msg, session, validated, override, fsmSuccess)

	return &models.Outcome{
		SessionID:      session.ID,
		MessageID:      msg.MessageID,
		State:          session.CurrentState,
		ResponseText:   validated.ResponseText,
		MessageType:    validated.MessageType,
		RequiresHuman:  validated.RequiresHuman,
		ValidationType: vres.ValidationType,
		ShouldEscalate: validated.RequiresHuman,
	}, nil
}

// decide calls the external decision collaborator under the configured
// timeout. Absence, failure, or expiry all normalize to a human-required
// decision with minimal confidence.
func (g *Governor) decide(ctx context.Context, msg models.InboundMessage, session *models.Session) models.RawDecision {
	decideCtx, cancel := context.WithTimeout(ctx, g.cfg.DecisionTimeout)
	defer cancel()

	targets := g.machine.Transitions().ValidTargets(session.CurrentState)
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, string(t))
	}

	raw, err := g.source.Decide(decideCtx, decision.Request{
		SessionID:    session.ID,
		Text:         msg.Text,
		CurrentState: session.CurrentState,
		ValidTargets: names,
		TurnCount:    session.TurnCount,
	})
	if err != nil || raw == nil {
		slog.Warn("Governor decision unavailable, routing to human", "error", err, "sessionID", session.ID, "messageID", msg.MessageID)
		return models.RawDecision{
			NextState:     string(models.StateHandoffHuman),
			MessageType:   "handoff",
			Confidence:    0,
			RequiresHuman: true,
		}
	}
	return *raw
}

// applyTransition attempts the validated transition and, when the machine
// denies it, substitutes the configured fallback terminal state. Returns
// whether any transition was applied.
func (g *Governor) applyTransition(session *models.Session, validated *models.RawDecision, vres *models.ValidationResult, msg models.InboundMessage, consolidated float64) bool {
	trigger := validated.MessageType
	if trigger == "" {
		trigger = "inbound_message"
	}
	metadata := map[string]string{
		"message_id": msg.MessageID,
		"validation": string(vres.ValidationType),
	}

	target, err := models.ParseState(validated.NextState)
	if err == nil {
		result, terr := g.machine.Transition(session, target, trigger, metadata, consolidated)
		if terr != nil {
			slog.Error("Governor transition construction rejected", "error", terr, "sessionID", session.ID)
		} else if result.Success {
			return true
		} else {
			slog.Warn("Governor transition denied", "sessionID", session.ID, "from", session.CurrentState, "to", target, "reason", result.ErrorReason)
		}
	} else {
		slog.Warn("Governor validated decision carries unknown state", "sessionID", session.ID, "state", validated.NextState)
	}

	// Safe fallback per policy.
	fallback, ferr := g.machine.Transition(session, g.cfg.FallbackState, "governance_fallback", metadata, consolidated)
	if ferr != nil || !fallback.Success {
		slog.Error("Governor fallback transition failed", "sessionID", session.ID, "from", session.CurrentState, "fallback", g.cfg.FallbackState)
		validated.RequiresHuman = true
		if vres.ValidationType == models.ValidationApproved {
			vres.ValidationType = models.ValidationHumanRequired
		}
		return false
	}

	validated.NextState = string(g.cfg.FallbackState)
	if g.cfg.FallbackState == models.StateHandoffHuman {
		validated.RequiresHuman = true
	}
	if vres.ValidationType == models.ValidationApproved {
		vres.ValidationType = models.ValidationAutoCorrected
	}
	if vres.Corrections == nil {
		vres.Corrections = map[string]string{}
	}
	vres.Corrections["next_state"] = string(g.cfg.FallbackState)
	return true
}

// emitAudit builds and emits the per-turn audit record. Sink failures are
// logged and swallowed; they must not block the user-facing response.
func (g *Governor) emitAudit(ctx context.Context, msg models.InboundMessage, session *models.Session, validated models.RawDecision, override confidence.OverrideResult, fsmSuccess bool) {
	record := models.AuditRecord{
		Timestamp:        time.Now(),
		SessionID:        session.ID,
		TurnCount:        session.TurnCount,
		AgentConfidences: msg.AgentConfidences,
		FinalState:       session.CurrentState,
		FinalMessageType: validated.MessageType,
		Flags: models.AuditFlags{
			ForceClose:      override.ForceClose,
			ForceEscalation: override.ForceEscalation,
			FSMSuccess:      fsmSuccess,
		},
		ShouldEscalate: validated.RequiresHuman,
	}
	if err := g.sink.Emit(ctx, record); err != nil {
		slog.Error("Governor audit emission failed", "error", err, "sessionID", session.ID)
	}
}

// duplicateOutcome reports a suppressed duplicate with the session's current
// state when it can be loaded.
func (g *Governor) duplicateOutcome(ctx context.Context, msg models.InboundMessage) *models.Outcome {
	outcome := &models.Outcome{
		SessionID: msg.SessionID,
		MessageID: msg.MessageID,
		Duplicate: true,
	}
	if session, err := g.sessions.GetSession(ctx, msg.SessionID); err == nil && session != nil {
		outcome.State = session.CurrentState
	}
	return outcome
}

// Shutdown waits for in-flight pipelines to finish, bounded by the context.
// A pipeline cancelled before mark-processed releases its dedupe lock through
// the failure path or natural TTL expiry.
func (g *Governor) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Governor drained in-flight pipelines")
		return nil
	case <-ctx.Done():
		slog.Warn("Governor shutdown grace period expired")
		return ctx.Err()
	}
}
