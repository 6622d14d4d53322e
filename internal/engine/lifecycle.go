package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taxline/internal/domain"
	"taxline/internal/repo"
)

const ReasonChecklistCompleted = "Checklist completed"

// TransitionOptions are parameters for a lifecycle transition.
type TransitionOptions struct {
	EngagementID      string
	Target            string
	Actor             domain.Actor
	Reason            string
	AllowSoftWarnings bool
}

type TransitionResult struct {
	Success    bool                  `json:"success"`
	Warning    string                `json:"warning,omitempty"`
	Engagement domain.EngagementYear `json:"engagement"`
}

// Transition moves an engagement to opts.Target. The adjacency table never
// refuses a move; only the readiness gates can, and only when soft warnings
// are not allowed.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (TransitionResult, error) {
	target, err := domain.ParseStatus(strings.TrimSpace(opts.Target))
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if opts.Actor.Kind == "" {
		opts.Actor.Kind = domain.ActorHuman
	}
	if opts.Actor.Kind == domain.ActorHuman && strings.TrimSpace(opts.Actor.ID) == "" {
		return TransitionResult{}, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	var res TransitionResult
	_, err = e.mutate(ctx, opts.EngagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		res, err = e.transitionWith(ctx, r, eng, target, opts)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

func (e Engine) transitionWith(ctx context.Context, r repo.Repo, eng *domain.EngagementYear, to domain.Status, opts TransitionOptions) (TransitionResult, error) {
	from := eng.Status
	if from == to {
		return TransitionResult{Success: true, Engagement: *eng}, nil
	}
	var warnings []string
	standard := e.IsStandard(from, to)
	if !standard {
		e.logf("engagement %s: non-standard transition %s -> %s by %s", eng.ID, from, to, opts.Actor)
		warnings = append(warnings, fmt.Sprintf("Non-standard transition %s -> %s", from, to))
	}
	soft := false
	if gated(from, to) {
		rd, _, err := e.refreshWith(ctx, r, eng, false)
		if err != nil {
			return TransitionResult{}, err
		}
		if !rd.Ready {
			if !opts.AllowSoftWarnings {
				return TransitionResult{}, &BlockedTransitionError{From: from, To: to, Reasons: rd.Reasons}
			}
			soft = true
			warnings = append(warnings, "Readiness not met: "+strings.Join(rd.Reasons, "; "))
		}
	}
	warning := strings.Join(warnings, ". ")

	eng.Status = to
	eng.UpdatedAt = e.now()
	if err := r.UpdateEngagement(ctx, eng); err != nil {
		return TransitionResult{}, err
	}
	reason := opts.Reason
	if reason == "" {
		reason = warning
	}
	if _, err := e.audit().Append(ctx, r.DB, eng.ID, from, to, opts.Actor, reason); err != nil {
		return TransitionResult{}, err
	}
	switch {
	case to == domain.StatusCollectingDocs:
		if err := e.Scheduler().EnsureAllWith(ctx, r, *eng); err != nil {
			return TransitionResult{}, err
		}
	case to.Terminal():
		for _, stream := range domain.Streams {
			err := e.Scheduler().RetireWith(ctx, r, eng.ID, stream)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return TransitionResult{}, err
			}
		}
	}
	e.Metrics.Transition(ctx, string(to), standard, soft)
	return TransitionResult{Success: true, Warning: warning, Engagement: *eng}, nil
}

// autoTransitionWith fires a system transition inside the caller's
// transaction. Gate refusals are logged and dropped; storage errors are not.
func (e Engine) autoTransitionWith(ctx context.Context, r repo.Repo, eng *domain.EngagementYear, to domain.Status, reason string) error {
	_, err := e.transitionWith(ctx, r, eng, to, TransitionOptions{
		EngagementID: eng.ID,
		Target:       string(to),
		Actor:        domain.SystemActor,
		Reason:       reason,
	})
	if blocked, ok := IsBlocked(err); ok {
		e.logf("engagement %s: auto-transition to %s skipped: %v", eng.ID, to, blocked)
		return nil
	}
	return err
}

// IsStandard reports whether from -> to is listed in the configured adjacency table.
func (e Engine) IsStandard(from, to domain.Status) bool {
	for _, next := range e.Config.Transitions()[from] {
		if next == to {
			return true
		}
	}
	return false
}

// gated reports whether entering to from from requires readiness.
func gated(from, to domain.Status) bool {
	switch to {
	case domain.StatusReadyForPrep:
		return true
	case domain.StatusInPrep, domain.StatusAwaitingEfileAuth:
		return from != domain.StatusReadyForPrep
	}
	return false
}

// GetStatusHistory returns applied transitions, newest first. limit <= 0 means all.
func (e Engine) GetStatusHistory(ctx context.Context, engagementID string, limit int) ([]domain.StatusAuditEntry, error) {
	if _, err := e.GetEngagement(ctx, engagementID); err != nil {
		return nil, err
	}
	entries, err := e.Repo.ListStatusAudit(ctx, engagementID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.StatusAuditEntry{}
	}
	return entries, nil
}
