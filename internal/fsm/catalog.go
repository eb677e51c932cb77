// Package fsm implements the session governance state machine: the state
// catalog, the configured transition map, the guard chain evaluated before any
// mutation, and the machine that applies guarded transitions.
package fsm

import (
	"fmt"

	"github.com/convogate/convogate/internal/models"
)

// IsTerminal reports whether the state ends the session's active lifecycle.
func IsTerminal(s models.SessionState) bool {
	return models.IsTerminalState(s)
}

// IsValid reports whether the state is a member of the closed catalog.
func IsValid(s models.SessionState) bool {
	return models.IsValidState(s)
}

// TransitionMap holds the allowed next states per source state. It is
// immutable after startup validation.
type TransitionMap map[models.SessionState][]models.SessionState

// ValidTargets returns the allowed next states for the given state. Terminal
// states always yield an empty set.
func (tm TransitionMap) ValidTargets(s models.SessionState) []models.SessionState {
	if IsTerminal(s) {
		return nil
	}
	return tm[s]
}

// Allows reports whether the transition from -> to is declared in the map.
func (tm TransitionMap) Allows(from, to models.SessionState) bool {
	for _, target := range tm.ValidTargets(from) {
		if target == to {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of the map and returns every
// violation found. The process must refuse to start when the list is
// non-empty:
//   - every referenced state (source and target) is a catalog member
//   - terminal states declare no targets
//   - the map is total over non-terminal states
//   - every non-terminal state is reachable from the initial state
func (tm TransitionMap) Validate() []error {
	var errs []error

	for from, targets := range tm {
		if !IsValid(from) {
			errs = append(errs, fmt.Errorf("transition map references unknown source state %q", from))
			continue
		}
		if IsTerminal(from) && len(targets) > 0 {
			errs = append(errs, fmt.Errorf("terminal state %q must not declare outgoing transitions", from))
		}
		for _, to := range targets {
			if !IsValid(to) {
				errs = append(errs, fmt.Errorf("transition map references unknown target state %q (from %q)", to, from))
			}
		}
	}

	for state := range models.NonTerminalStates() {
		if _, ok := tm[state]; !ok {
			errs = append(errs, fmt.Errorf("transition map missing entry for non-terminal state %q", state))
		}
	}

	if len(errs) > 0 {
		// Reachability is only meaningful on a structurally sound map.
		return errs
	}

	reachable := tm.reachableFrom(models.StateInitial)
	for state := range models.NonTerminalStates() {
		if state != models.StateInitial && !reachable[state] {
			errs = append(errs, fmt.Errorf("non-terminal state %q is unreachable from %q", state, models.StateInitial))
		}
	}
	return errs
}

// reachableFrom walks the map breadth-first from the given state.
func (tm TransitionMap) reachableFrom(start models.SessionState) map[models.SessionState]bool {
	reachable := map[models.SessionState]bool{start: true}
	queue := []models.SessionState{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range tm.ValidTargets(current) {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}
