// Package decision defines the external decision and reviewer collaborators
// consumed by the governance pipeline, with OpenAI-backed implementations and
// a static source for tests and offline runs.
package decision

import (
	"context"

	"github.com/convogate/convogate/internal/models"
)

// Request carries the session context handed to the collaborators.
type Request struct {
	SessionID    string              `json:"session_id"`
	Text         string              `json:"text"`
	CurrentState models.SessionState `json:"current_state"`
	ValidTargets []string            `json:"valid_targets"`
	TurnCount    int                 `json:"turn_count"`
}

// Source produces a raw, unvalidated decision for one inbound message. An
// error or a nil decision is treated by the governor as "no decision" and
// routed to human-required; it never propagates to the caller.
type Source interface {
	Decide(ctx context.Context, req Request) (*models.RawDecision, error)
}

// Reviewer optionally re-examines a gray-zone decision together with the
// original request. Returning (nil, nil) means the reviewer declined to
// revise.
type Reviewer interface {
	Review(ctx context.Context, proposed models.RawDecision, req Request) (*models.RawDecision, error)
}
