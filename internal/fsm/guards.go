package fsm

import (
	"log/slog"

	"github.com/convogate/convogate/internal/models"
)

// Guard denial reasons returned in TransitionResult.ErrorReason.
const (
	ReasonInvalidState       = "invalid_state"
	ReasonTerminalState      = "terminal_state_no_transitions"
	ReasonInvalidTransition  = "invalid_transition"
	ReasonSelfTransition     = "self_transition"
	ReasonSessionNotFound    = "session_not_found"
	ReasonTransitionRejected = "transition_record_rejected"
)

// Guard is a predicate evaluated before a state transition is applied.
// Denial prevents any mutation.
type Guard func(from, to models.SessionState) models.GuardResult

// GuardChain evaluates a fixed, ordered list of guards and short-circuits on
// the first denial. It is immutable after construction.
type GuardChain struct {
	transitions TransitionMap
	guards      []Guard
}

// NewGuardChain builds the standard guard ordering over the given validated
// transition map: catalog membership, terminal-source denial, target-set
// membership, then the same-state policy.
func NewGuardChain(transitions TransitionMap) *GuardChain {
	gc := &GuardChain{transitions: transitions}
	gc.guards = []Guard{
		gc.catalogMembership,
		gc.terminalSource,
		gc.targetAllowed,
		gc.sameStatePolicy,
	}
	return gc
}

// Evaluate runs the chain in order and returns the first denial, or an
// allowing result when every guard passes.
func (gc *GuardChain) Evaluate(from, to models.SessionState) models.GuardResult {
	for _, guard := range gc.guards {
		if result := guard(from, to); !result.Allowed {
			slog.Debug("GuardChain denied transition", "from", from, "to", to, "reason", result.Reason)
			return result
		}
	}
	return models.GuardResult{Allowed: true}
}

func (gc *GuardChain) catalogMembership(from, to models.SessionState) models.GuardResult {
	if !IsValid(from) || !IsValid(to) {
		return models.GuardResult{Allowed: false, Reason: ReasonInvalidState}
	}
	return models.GuardResult{Allowed: true}
}

func (gc *GuardChain) terminalSource(from, to models.SessionState) models.GuardResult {
	if IsTerminal(from) {
		return models.GuardResult{Allowed: false, Reason: ReasonTerminalState}
	}
	return models.GuardResult{Allowed: true}
}

func (gc *GuardChain) targetAllowed(from, to models.SessionState) models.GuardResult {
	if from == to {
		// Deferred to sameStatePolicy so self-loops carry a distinct reason.
		return models.GuardResult{Allowed: true}
	}
	if !gc.transitions.Allows(from, to) {
		return models.GuardResult{Allowed: false, Reason: ReasonInvalidTransition}
	}
	return models.GuardResult{Allowed: true}
}

// sameStatePolicy denies re-entering the current state unless the policy map
// explicitly lists the state in its own target set. A silent no-op success
// would emit a transition record for a turn that made no progress.
func (gc *GuardChain) sameStatePolicy(from, to models.SessionState) models.GuardResult {
	if from == to && !gc.transitions.Allows(from, to) {
		return models.GuardResult{Allowed: false, Reason: ReasonSelfTransition}
	}
	return models.GuardResult{Allowed: true}
}
