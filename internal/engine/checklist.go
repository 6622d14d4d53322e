package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taxline/internal/checklist"
	"taxline/internal/domain"
	"taxline/internal/repo"
)

// syncChecklistWith recomputes completion, records the complete/incomplete
// edge on the engagement and reacts to it. Recomputing an unchanged
// checklist writes nothing and fires nothing.
func (e Engine) syncChecklistWith(ctx context.Context, r repo.Repo, eng *domain.EngagementYear) (domain.ChecklistCompletion, error) {
	items, err := r.ListChecklistItems(ctx, eng.ID)
	if err != nil {
		return domain.ChecklistCompletion{}, err
	}
	completion := checklist.Summarize(items)
	edge := checklist.EdgeOf(eng.ChecklistCompleteAt != nil, completion.Complete)
	switch edge {
	case checklist.BecameComplete:
		now := e.now()
		eng.ChecklistCompleteAt = &now
	case checklist.BecameIncomplete:
		eng.ChecklistCompleteAt = nil
	}
	if _, _, err := e.refreshWith(ctx, r, eng, edge != checklist.Unchanged); err != nil {
		return completion, err
	}
	switch edge {
	case checklist.BecameComplete:
		if eng.Status == domain.StatusCollectingDocs {
			if err := e.autoTransitionWith(ctx, r, eng, domain.StatusAwaitingConfirmation, ReasonChecklistCompleted); err != nil {
				return completion, err
			}
		}
	case checklist.BecameIncomplete:
		if _, err := e.Scheduler().RescheduleWith(ctx, r, *eng, domain.StreamDocuments); err != nil {
			return completion, err
		}
	}
	return completion, nil
}

// ComputeChecklistCompletion summarizes the required items and persists the
// completion edge.
func (e Engine) ComputeChecklistCompletion(ctx context.Context, engagementID string) (domain.ChecklistCompletion, error) {
	var c domain.ChecklistCompletion
	_, err := e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		var err error
		c, err = e.syncChecklistWith(ctx, r, eng)
		return err
	})
	return c, err
}

type ChecklistItemInput struct {
	EngagementID string
	Key          string
	Label        string
	Required     bool
	Status       string
}

// ChecklistUpdate is the outcome of a checklist mutation.
type ChecklistUpdate struct {
	Item       domain.ChecklistItem       `json:"item"`
	Completion domain.ChecklistCompletion `json:"completion"`
	Engagement domain.EngagementYear      `json:"engagement"`
}

func (e Engine) AddChecklistItem(ctx context.Context, in ChecklistItemInput) (ChecklistUpdate, error) {
	in.Key = strings.TrimSpace(in.Key)
	if in.Key == "" {
		return ChecklistUpdate{}, fmt.Errorf("%w: checklist key is required", ErrInvalidInput)
	}
	if in.Label == "" {
		in.Label = in.Key
	}
	status := domain.ChecklistPending
	if in.Status != "" {
		s, err := domain.ParseChecklistStatus(in.Status)
		if err != nil {
			return ChecklistUpdate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		status = s
	}
	var out ChecklistUpdate
	eng, err := e.mutate(ctx, in.EngagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		if _, err := r.FindChecklistItem(ctx, eng.ID, in.Key); err == nil {
			return fmt.Errorf("%w: checklist item %q already exists", ErrInvalidInput, in.Key)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		now := e.now()
		out.Item = domain.ChecklistItem{
			ID:           uuid.NewString(),
			EngagementID: eng.ID,
			Key:          in.Key,
			Label:        in.Label,
			Required:     in.Required,
			Status:       status,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.InsertChecklistItem(ctx, out.Item); err != nil {
			return fmt.Errorf("insert checklist item: %w", err)
		}
		var err error
		out.Completion, err = e.syncChecklistWith(ctx, r, eng)
		return err
	})
	if err != nil {
		return ChecklistUpdate{}, err
	}
	out.Engagement = eng
	return out, nil
}

// SetChecklistItemStatus marks one item and recomputes completion in the same
// transaction, firing the checklist auto-transition on the completing edge.
func (e Engine) SetChecklistItemStatus(ctx context.Context, itemID, status string) (ChecklistUpdate, error) {
	st, err := domain.ParseChecklistStatus(strings.TrimSpace(status))
	if err != nil {
		return ChecklistUpdate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var out ChecklistUpdate
	err = e.inTx(ctx, func(r repo.Repo) error {
		it, err := r.GetChecklistItem(ctx, itemID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrChecklistItemMissing, itemID)
		}
		if err != nil {
			return err
		}
		eng, err := loadWith(ctx, r, it.EngagementID)
		if err != nil {
			return err
		}
		if it.Status != st {
			it.Status = st
			it.UpdatedAt = e.now()
			if err := r.UpdateChecklistItem(ctx, it); err != nil {
				return err
			}
		}
		c, err := e.syncChecklistWith(ctx, r, &eng)
		if err != nil {
			return err
		}
		out = ChecklistUpdate{Item: it, Completion: c, Engagement: eng}
		return nil
	})
	if err != nil {
		return ChecklistUpdate{}, err
	}
	return out, nil
}

func (e Engine) ListChecklistItems(ctx context.Context, engagementID string) ([]domain.ChecklistItem, error) {
	if _, err := e.GetEngagement(ctx, engagementID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListChecklistItems(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.ChecklistItem{}
	}
	return items, nil
}
