// Package reminder computes and stores per-stream reminder schedules. It
// decides when a reminder is owed; delivery belongs to internal/notify.
package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taxline/internal/calendar"
	"taxline/internal/checklist"
	"taxline/internal/domain"
	"taxline/internal/repo"
)

// PausedExtension is recorded on streams paused by an extension request.
const PausedExtension = "Extension requested"

// Scheduler owns the ReminderState rows. Methods without a repo argument run
// in their own transaction; the ...With variants join the caller's.
type Scheduler struct {
	DB      *sql.DB
	Repo    repo.Repo
	Cadence Cadence
	Now     func() time.Time
}

func NewScheduler(db *sql.DB, cadence Cadence) Scheduler {
	return Scheduler{DB: db, Repo: repo.Repo{DB: db}, Cadence: cadence, Now: time.Now}
}

func (s Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s Scheduler) inTx(ctx context.Context, fn func(repo.Repo) error) error {
	return repo.RunInTx(ctx, s.DB, fn)
}

// GetOrCreate returns the stream's state, creating it on first use.
func (s Scheduler) GetOrCreate(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error) {
	var rs domain.ReminderState
	err := s.inTx(ctx, func(r repo.Repo) error {
		e, err := r.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		rs, err = s.GetOrCreateWith(ctx, r, e, stream)
		return err
	})
	return rs, err
}

// GetOrCreateWith is GetOrCreate inside the caller's transaction. A stream
// created while an extension is requested but not filed starts paused.
func (s Scheduler) GetOrCreateWith(ctx context.Context, r repo.Repo, e domain.EngagementYear, stream domain.Stream) (domain.ReminderState, error) {
	rs, err := r.GetReminderState(ctx, e.ID, stream)
	if err == nil {
		return rs, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return rs, err
	}
	now := s.now()
	rs = domain.ReminderState{
		ID:           uuid.NewString(),
		EngagementID: e.ID,
		Stream:       stream,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if e.ExtensionLimbo() {
		rs.Paused = true
		rs.PausedReason = PausedExtension
	} else {
		rs.NextDueAt = s.Cadence.Next(e, stream, nil, now)
	}
	if err := r.InsertReminderState(ctx, rs); err != nil {
		return rs, fmt.Errorf("create %s reminder: %w", stream, err)
	}
	return rs, nil
}

// EnsureAllWith creates every stream of e that does not exist yet.
func (s Scheduler) EnsureAllWith(ctx context.Context, r repo.Repo, e domain.EngagementYear) error {
	for _, stream := range domain.Streams {
		if _, err := s.GetOrCreateWith(ctx, r, e, stream); err != nil {
			return err
		}
	}
	return nil
}

// MarkSent records a delivered reminder and schedules the next one against
// the engagement's current due date.
func (s Scheduler) MarkSent(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error) {
	var rs domain.ReminderState
	err := s.inTx(ctx, func(r repo.Repo) error {
		e, err := r.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		rs, err = s.GetOrCreateWith(ctx, r, e, stream)
		if err != nil {
			return err
		}
		now := s.now()
		rs.LastSentAt = &now
		rs.SentCount++
		if !rs.Paused {
			rs.NextDueAt = s.Cadence.Next(e, stream, &now, now)
		}
		rs.UpdatedAt = now
		return r.UpdateReminderState(ctx, rs)
	})
	return rs, err
}

// PauseAll suspends every running stream of the engagement.
func (s Scheduler) PauseAll(ctx context.Context, engagementID, reason string) error {
	return s.inTx(ctx, func(r repo.Repo) error {
		if _, err := r.GetEngagement(ctx, engagementID); err != nil {
			return err
		}
		return s.PauseAllWith(ctx, r, engagementID, reason)
	})
}

func (s Scheduler) PauseAllWith(ctx context.Context, r repo.Repo, engagementID, reason string) error {
	states, err := r.ListReminderStates(ctx, engagementID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, rs := range states {
		if rs.Paused {
			continue
		}
		rs.Paused = true
		rs.PausedReason = reason
		rs.NextDueAt = nil
		rs.UpdatedAt = now
		if err := r.UpdateReminderState(ctx, rs); err != nil {
			return err
		}
	}
	return nil
}

// ResumeAll unpauses every stream and reschedules it from its last send.
func (s Scheduler) ResumeAll(ctx context.Context, engagementID string) error {
	return s.inTx(ctx, func(r repo.Repo) error {
		e, err := r.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		return s.ResumeAllWith(ctx, r, e)
	})
}

// ResumeAllWith reads the due date from e, so callers pass the engagement as
// already updated by the extension filing.
func (s Scheduler) ResumeAllWith(ctx context.Context, r repo.Repo, e domain.EngagementYear) error {
	states, err := r.ListReminderStates(ctx, e.ID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, rs := range states {
		rs.Paused = false
		rs.PausedReason = ""
		rs.NextDueAt = s.Cadence.Next(e, rs.Stream, rs.LastSentAt, now)
		rs.UpdatedAt = now
		if err := r.UpdateReminderState(ctx, rs); err != nil {
			return err
		}
	}
	return nil
}

// Reschedule gives a stream a new due time after its condition reappeared.
func (s Scheduler) Reschedule(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error) {
	var rs domain.ReminderState
	err := s.inTx(ctx, func(r repo.Repo) error {
		e, err := r.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		rs, err = s.RescheduleWith(ctx, r, e, stream)
		return err
	})
	return rs, err
}

// RescheduleWith only touches a stream that exists, is not paused and has no
// pending due time; a missing stream is left for its lifecycle hook to create.
func (s Scheduler) RescheduleWith(ctx context.Context, r repo.Repo, e domain.EngagementYear, stream domain.Stream) (domain.ReminderState, error) {
	rs, err := r.GetReminderState(ctx, e.ID, stream)
	if errors.Is(err, repo.ErrNotFound) {
		return rs, nil
	}
	if err != nil || rs.Paused || rs.NextDueAt != nil {
		return rs, err
	}
	now := s.now()
	next := s.Cadence.Next(e, stream, rs.LastSentAt, now)
	if next == nil {
		return rs, nil
	}
	rs.NextDueAt = next
	rs.UpdatedAt = now
	return rs, r.UpdateReminderState(ctx, rs)
}

// Retire clears the stream's due time once its condition no longer holds.
func (s Scheduler) Retire(ctx context.Context, engagementID string, stream domain.Stream) error {
	return s.inTx(ctx, func(r repo.Repo) error {
		return s.RetireWith(ctx, r, engagementID, stream)
	})
}

// RetireWith is Retire inside the caller's transaction.
func (s Scheduler) RetireWith(ctx context.Context, r repo.Repo, engagementID string, stream domain.Stream) error {
	rs, err := r.GetReminderState(ctx, engagementID, stream)
	if err != nil {
		return err
	}
	if rs.NextDueAt == nil {
		return nil
	}
	rs.NextDueAt = nil
	rs.UpdatedAt = s.now()
	return r.UpdateReminderState(ctx, rs)
}

// Defer moves a due stream whose condition does not hold right now to its
// next check, leaving the sent bookkeeping alone. The condition can come back
// without any event (an ID expiring), so the stream keeps being checked until
// its due date passes. Filed engagements retire the stream instead.
func (s Scheduler) Defer(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error) {
	var rs domain.ReminderState
	err := s.inTx(ctx, func(r repo.Repo) error {
		e, err := r.GetEngagement(ctx, engagementID)
		if err != nil {
			return err
		}
		rs, err = r.GetReminderState(ctx, engagementID, stream)
		if err != nil || rs.Paused {
			return err
		}
		now := s.now()
		rs.NextDueAt = nil
		if !e.Status.Terminal() {
			rs.NextDueAt = s.nextCheck(e, stream, now)
		}
		rs.UpdatedAt = now
		return r.UpdateReminderState(ctx, rs)
	})
	return rs, err
}

// nextCheck steps the cadence from now. A valid ID is re-checked no later
// than its expiry.
func (s Scheduler) nextCheck(e domain.EngagementYear, stream domain.Stream, now time.Time) *time.Time {
	next := s.Cadence.Next(e, stream, &now, now)
	if stream != domain.StreamID || e.IDExpiresAt == nil {
		return next
	}
	exp := e.IDExpiresAt.UTC()
	if !exp.After(now) || calendar.AfterDay(exp, s.Cadence.DueDate(e, stream)) {
		return next
	}
	if next == nil || exp.Before(*next) {
		return &exp
	}
	return next
}

// DueNow lists unpaused streams across all engagements whose due time has
// passed. An empty stream matches every stream.
func (s Scheduler) DueNow(ctx context.Context, stream domain.Stream) ([]domain.ReminderState, error) {
	return s.Repo.DueReminderStates(ctx, s.now(), stream)
}

// ShouldSend re-checks, at send time, that the condition behind the stream
// still holds and that nothing suppresses it.
func (s Scheduler) ShouldSend(ctx context.Context, engagementID string, stream domain.Stream) (bool, error) {
	rs, err := s.Repo.GetReminderState(ctx, engagementID, stream)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return false, err
	case rs.Paused:
		return false, nil
	}
	e, err := s.Repo.GetEngagement(ctx, engagementID)
	if err != nil {
		return false, err
	}
	items, err := s.Repo.ListChecklistItems(ctx, engagementID)
	if err != nil {
		return false, err
	}
	return Wanted(e, checklist.Summarize(items), stream, s.now()), nil
}

func (s Scheduler) List(ctx context.Context, engagementID string) ([]domain.ReminderState, error) {
	return s.Repo.ListReminderStates(ctx, engagementID)
}

func (s Scheduler) GetEngagement(ctx context.Context, id string) (domain.EngagementYear, error) {
	return s.Repo.GetEngagement(ctx, id)
}
