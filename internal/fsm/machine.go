package fsm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/convogate/convogate/internal/models"
)

// Machine applies guarded transitions to sessions. The guard chain runs
// before any mutation; a denial leaves the session untouched and is returned
// as an ordinary result, never an error. The machine mutates the session in
// memory only; the caller owns persistence, so a later storage failure cannot
// leave a half-applied turn on disk.
type Machine struct {
	transitions TransitionMap
	guards      *GuardChain
}

// NewMachine creates a machine over a validated transition map.
func NewMachine(transitions TransitionMap) *Machine {
	return &Machine{
		transitions: transitions,
		guards:      NewGuardChain(transitions),
	}
}

// Transitions exposes the machine's immutable transition map.
func (m *Machine) Transitions() TransitionMap {
	return m.transitions
}

// Guards exposes the machine's guard chain for pre-flight checks.
func (m *Machine) Guards() *GuardChain {
	return m.guards
}

// Transition attempts to move the session to the target state. Guard denials
// come back as TransitionResult.Success=false with the denial reason; the
// error return is reserved for programming errors such as an invalid
// transition-record construction.
func (m *Machine) Transition(session *models.Session, target models.SessionState, trigger string, metadata map[string]string, confidence float64) (models.TransitionResult, error) {
	if session == nil {
		return models.TransitionResult{Success: false, ErrorReason: ReasonSessionNotFound}, nil
	}

	from := session.CurrentState
	slog.Debug("Machine evaluating transition", "sessionID", session.ID, "from", from, "to", target, "trigger", trigger)

	if result := m.guards.Evaluate(from, target); !result.Allowed {
		return models.TransitionResult{Success: false, ErrorReason: result.Reason}, nil
	}

	transition, err := models.NewStateTransition(from, target, trigger, metadata, confidence)
	if err != nil {
		// Construction invariants are programming errors, never coerced.
		return models.TransitionResult{}, fmt.Errorf("transition record rejected: %w", err)
	}

	session.CurrentState = target
	session.UpdatedAt = time.Now()

	slog.Info("Machine transition applied", "sessionID", session.ID, "from", from, "to", target, "trigger", trigger, "confidence", confidence)
	return models.TransitionResult{Success: true, Transition: transition}, nil
}
