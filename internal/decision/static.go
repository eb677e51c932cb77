package decision

import (
	"context"

	"github.com/convogate/convogate/internal/models"
)

// Compile-time checks for the static collaborators.
var (
	_ Source   = (*StaticSource)(nil)
	_ Reviewer = (*StaticReviewer)(nil)
)

// StaticSource returns a fixed decision or error. Used by tests and offline
// runs.
type StaticSource struct {
	Decision *models.RawDecision
	Err      error
	// DecideFunc takes precedence over Decision/Err when non-nil.
	DecideFunc func(ctx context.Context, req Request) (*models.RawDecision, error)
}

// Decide returns the canned decision, or delegates to DecideFunc.
func (s *StaticSource) Decide(ctx context.Context, req Request) (*models.RawDecision, error) {
	if s.DecideFunc != nil {
		return s.DecideFunc(ctx, req)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Decision == nil {
		return nil, nil
	}
	clone := *s.Decision
	return &clone, nil
}

// StaticReviewer returns a fixed revision or declines.
type StaticReviewer struct {
	Revised    *models.RawDecision
	Err        error
	ReviewFunc func(ctx context.Context, proposed models.RawDecision, req Request) (*models.RawDecision, error)
}

// Review returns the canned revision, or delegates to ReviewFunc.
func (r *StaticReviewer) Review(ctx context.Context, proposed models.RawDecision, req Request) (*models.RawDecision, error) {
	if r.ReviewFunc != nil {
		return r.ReviewFunc(ctx, proposed, req)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Revised == nil {
		return nil, nil
	}
	clone := *r.Revised
	return &clone, nil
}
