// Package models defines the core data structures for ConvoGate.
//
// It includes session states, decision and validation types, and the audit
// record shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionState identifies one of the closed set of governance states.
// States are transmitted and persisted as canonical uppercase names.
type SessionState string

// Non-terminal states.
const (
	StateInitial            SessionState = "INITIAL"
	StateTriage             SessionState = "TRIAGE"
	StateCollectingInfo     SessionState = "COLLECTING_INFO"
	StateGeneratingResponse SessionState = "GENERATING_RESPONSE"
)

// Terminal states. A terminal state has no outgoing transitions and ends the
// session's active lifecycle.
const (
	StateHandoffHuman      SessionState = "HANDOFF_HUMAN"
	StateSelfServeInfo     SessionState = "SELF_SERVE_INFO"
	StateRouteExternal     SessionState = "ROUTE_EXTERNAL"
	StateScheduledFollowup SessionState = "SCHEDULED_FOLLOWUP"
	StateTimeout           SessionState = "TIMEOUT"
	StateError             SessionState = "ERROR"
)

// Error variables for better error handling and testability
var (
	ErrConfidenceOutOfRange = errors.New("confidence must be between 0 and 1")
	ErrEmptyTrigger         = errors.New("trigger cannot be empty")
	ErrUnknownState         = errors.New("unknown session state")
	ErrEmptySessionID       = errors.New("session ID cannot be empty")
	ErrEmptyMessageID       = errors.New("message ID cannot be empty")
)

// legacyNumericStates maps the numeric codes used by an earlier persistence
// format to canonical state names. Numeric codes are accepted on ingest only.
var legacyNumericStates = map[string]SessionState{
	"0": StateInitial,
	"1": StateTriage,
	"2": StateCollectingInfo,
	"3": StateGeneratingResponse,
	"4": StateHandoffHuman,
	"5": StateSelfServeInfo,
	"6": StateRouteExternal,
	"7": StateScheduledFollowup,
	"8": StateTimeout,
	"9": StateError,
}

// allStates is the closed state catalog.
var allStates = map[SessionState]bool{
	StateInitial:            true,
	StateTriage:             true,
	StateCollectingInfo:     true,
	StateGeneratingResponse: true,
	StateHandoffHuman:       true,
	StateSelfServeInfo:      true,
	StateRouteExternal:      true,
	StateScheduledFollowup:  true,
	StateTimeout:            true,
	StateError:              true,
}

// terminalStates is the terminal partition of the catalog.
var terminalStates = map[SessionState]bool{
	StateHandoffHuman:      true,
	StateSelfServeInfo:     true,
	StateRouteExternal:     true,
	StateScheduledFollowup: true,
	StateTimeout:           true,
	StateError:             true,
}

// IsValidState checks whether the given state is a member of the catalog.
func IsValidState(s SessionState) bool {
	return allStates[s]
}

// IsTerminalState reports whether the state belongs to the terminal partition.
func IsTerminalState(s SessionState) bool {
	return terminalStates[s]
}

// NonTerminalStates returns the set of catalog states with outgoing
// transitions. The returned map must not be mutated.
func NonTerminalStates() map[SessionState]bool {
	nonTerminal := make(map[SessionState]bool, len(allStates)-len(terminalStates))
	for s := range allStates {
		if !terminalStates[s] {
			nonTerminal[s] = true
		}
	}
	return nonTerminal
}

// ParseState maps a raw string to a canonical SessionState. It accepts
// canonical uppercase names (case-insensitively) and legacy numeric codes.
// Returns ErrUnknownState for anything else.
func ParseState(raw string) (SessionState, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty state name", ErrUnknownState)
	}
	if mapped, ok := legacyNumericStates[trimmed]; ok {
		return mapped, nil
	}
	candidate := SessionState(strings.ToUpper(trimmed))
	if !IsValidState(candidate) {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, raw)
	}
	return candidate, nil
}

// Session represents the governed state of one conversational session.
type Session struct {
	ID              string       `json:"id"`
	CurrentState    SessionState `json:"current_state"`
	TurnCount       int          `json:"turn_count"`
	EscalationCount int          `json:"escalation_count"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewSession creates a session in the default initial state.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CurrentState: StateInitial,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// GuardResult is the outcome of a single guard predicate.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// StateTransition is the immutable audit record of one applied transition.
// Metadata must never carry personal data.
type StateTransition struct {
	FromState  SessionState      `json:"from_state"`
	ToState    SessionState      `json:"to_state"`
	Trigger    string            `json:"trigger"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Confidence float64           `json:"confidence"`
}

// NewStateTransition constructs a transition record, enforcing construction
// invariants: confidence must lie in [0,1] and the trigger must be non-empty.
// Violations are rejected, never clamped.
func NewStateTransition(from, to SessionState, trigger string, metadata map[string]string, confidence float64) (*StateTransition, error) {
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: %v", ErrConfidenceOutOfRange, confidence)
	}
	if strings.TrimSpace(trigger) == "" {
		return nil, ErrEmptyTrigger
	}
	return &StateTransition{
		FromState:  from,
		ToState:    to,
		Trigger:    trigger,
		Metadata:   metadata,
		Timestamp:  time.Now(),
		Confidence: confidence,
	}, nil
}

// TransitionResult reports the outcome of a transition attempt. Exactly one of
// Transition or ErrorReason is set. Guard denials are ordinary results, not
// errors.
type TransitionResult struct {
	Success     bool             `json:"success"`
	Transition  *StateTransition `json:"transition,omitempty"`
	ErrorReason string           `json:"error_reason,omitempty"`
}

// RawDecision is the unvalidated suggestion produced by the external decision
// collaborator. Its confidence is clamped on ingest rather than rejected,
// since upstream anomalies are recoverable data, not programming errors.
type RawDecision struct {
	NextState      string  `json:"next_state"`
	ResponseText   string  `json:"response_text"`
	MessageType    string  `json:"message_type"`
	Confidence     float64 `json:"confidence"`
	RequiresHuman  bool    `json:"requires_human"`
	ReasoningDebug string  `json:"reasoning_debug,omitempty"`
}

// Normalize clamps the confidence into [0,1] and canonicalizes the next-state
// name in place. An unrecognized state name is left as-is for the validator's
// transition gate to handle.
func (d *RawDecision) Normalize() {
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}
	if state, err := ParseState(d.NextState); err == nil {
		d.NextState = string(state)
	}
}

// ValidationType classifies the outcome of the decision validator.
type ValidationType string

const (
	// ValidationApproved means the decision passed all gates unchanged.
	ValidationApproved ValidationType = "approved"
	// ValidationAutoCorrected means the decision was rewritten to a safe
	// equivalent without requiring a human.
	ValidationAutoCorrected ValidationType = "auto_corrected"
	// ValidationHumanRequired means the decision must be handled by a human.
	ValidationHumanRequired ValidationType = "human_required"
	// ValidationReviewPending means a reviewer revised the decision but its
	// confidence still falls short of the acceptance threshold.
	ValidationReviewPending ValidationType = "review_pending"
)

// ValidationResult describes what the validator did to a proposed decision.
type ValidationResult struct {
	Approved         bool              `json:"approved"`
	ValidationType   ValidationType    `json:"validation_type"`
	Corrections      map[string]string `json:"corrections,omitempty"`
	EscalationReason string            `json:"escalation_reason,omitempty"`
	ReviewerUsed     bool              `json:"reviewer_used"`
}

// InboundMessage is a channel-normalized message entering the governance
// pipeline. Channel adapters are responsible for parsing; this core only sees
// the normalized form.
type InboundMessage struct {
	MessageID        string             `json:"message_id"`
	SessionID        string             `json:"session_id"`
	Text             string             `json:"text"`
	AgentConfidences map[string]float64 `json:"agent_confidences,omitempty"`
	ReceivedAt       time.Time          `json:"received_at"`
}

// Validate checks the identity fields required for idempotent processing.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.SessionID) == "" {
		return ErrEmptySessionID
	}
	if strings.TrimSpace(m.MessageID) == "" {
		return ErrEmptyMessageID
	}
	return nil
}

// AuditFlags captures the boolean outcomes recorded per governed turn.
type AuditFlags struct {
	ForceClose      bool `json:"force_close"`
	ForceEscalation bool `json:"force_escalation"`
	FSMSuccess      bool `json:"fsm_success"`
}

// AuditRecord is the flat per-turn record appended to the audit sink.
type AuditRecord struct {
	Timestamp        time.Time          `json:"timestamp"`
	SessionID        string             `json:"session_id"`
	TurnCount        int                `json:"turn_count"`
	AgentConfidences map[string]float64 `json:"agent_confidences,omitempty"`
	FinalState       SessionState       `json:"final_state"`
	FinalMessageType string             `json:"final_message_type"`
	Flags            AuditFlags         `json:"flags"`
	ShouldEscalate   bool               `json:"should_escalate"`
}

// Outcome is the governed result returned to the caller for one inbound
// message.
type Outcome struct {
	SessionID      string         `json:"session_id"`
	MessageID      string         `json:"message_id"`
	State          SessionState   `json:"state"`
	ResponseText   string         `json:"response_text"`
	MessageType    string         `json:"message_type"`
	RequiresHuman  bool           `json:"requires_human"`
	ValidationType ValidationType `json:"validation_type"`
	ShouldEscalate bool           `json:"should_escalate"`
	Duplicate      bool           `json:"duplicate"`
}

// ErrorResponse is the standard JSON error envelope returned by the API.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Error builds an ErrorResponse with the given message.
func Error(msg string) ErrorResponse {
	return ErrorResponse{Status: "error", Error: msg}
}
