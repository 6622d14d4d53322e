package engine

import (
	"context"

	"taxline/internal/checklist"
	"taxline/internal/domain"
	"taxline/internal/readiness"
	"taxline/internal/repo"
)

// refreshWith evaluates readiness from the live checklist and writes the
// engagement back when dirty or when the cached ready_for_prep changed.
func (e Engine) refreshWith(ctx context.Context, r repo.Repo, eng *domain.EngagementYear, dirty bool) (readiness.Result, domain.ChecklistCompletion, error) {
	items, err := r.ListChecklistItems(ctx, eng.ID)
	if err != nil {
		return readiness.Result{}, domain.ChecklistCompletion{}, err
	}
	completion := checklist.Summarize(items)
	res := readiness.Evaluate(*eng, completion, e.now())
	if eng.ReadyForPrep != res.Ready {
		eng.ReadyForPrep = res.Ready
		dirty = true
	}
	if dirty {
		eng.UpdatedAt = e.now()
		if err := r.UpdateEngagement(ctx, eng); err != nil {
			return res, completion, err
		}
	}
	return res, completion, nil
}

// Readiness recomputes every gate and caches the verdict on the engagement.
func (e Engine) Readiness(ctx context.Context, engagementID string) (readiness.Result, error) {
	var res readiness.Result
	_, err := e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		var err error
		res, _, err = e.refreshWith(ctx, r, eng, false)
		return err
	})
	return res, err
}

func (e Engine) ComputeReadyForPrep(ctx context.Context, engagementID string) (bool, error) {
	res, err := e.Readiness(ctx, engagementID)
	return res.Ready, err
}

// GetBlockingReasons lists unmet gates in fixed order; empty when ready.
func (e Engine) GetBlockingReasons(ctx context.Context, engagementID string) ([]string, error) {
	res, err := e.Readiness(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	return res.Reasons, nil
}
