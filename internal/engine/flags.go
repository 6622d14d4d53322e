package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taxline/internal/calendar"
	"taxline/internal/domain"
	"taxline/internal/engine/reminder"
	"taxline/internal/repo"
)

// Flag names accepted by SetFlag.
const (
	FlagEngagementSigned       = "engagement_signed"
	FlagDocConfirmationSigned  = "doc_confirmation_signed"
	FlagQuestionnaireCompleted = "questionnaire_completed"
	FlagIDValid                = "id_valid"
)

var Flags = []string{FlagEngagementSigned, FlagDocConfirmationSigned, FlagQuestionnaireCompleted, FlagIDValid}

// SetFlag dispatches to the setter owning name. expiresAt only applies to id_valid.
func (e Engine) SetFlag(ctx context.Context, engagementID, name string, value bool, expiresAt *time.Time) (domain.EngagementYear, error) {
	switch strings.TrimSpace(name) {
	case FlagEngagementSigned:
		return e.SetEngagementSigned(ctx, engagementID, value)
	case FlagDocConfirmationSigned:
		return e.SetDocConfirmationSigned(ctx, engagementID, value)
	case FlagQuestionnaireCompleted:
		return e.SetQuestionnaireCompleted(ctx, engagementID, value)
	case FlagIDValid:
		return e.SetIDStatus(ctx, engagementID, value, expiresAt)
	}
	return domain.EngagementYear{}, fmt.Errorf("%w: unknown flag %q (want one of %s)", ErrInvalidInput, name, strings.Join(Flags, ", "))
}

func (e Engine) SetEngagementSigned(ctx context.Context, engagementID string, signed bool) (domain.EngagementYear, error) {
	return e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		changed := eng.EngagementSigned != signed
		eng.EngagementSigned = signed
		_, _, err := e.refreshWith(ctx, r, eng, changed)
		return err
	})
}

// SetDocConfirmationSigned records the client's receipt confirmation. Signing
// while awaiting confirmation with every gate met moves the engagement to
// READY_FOR_PREP as the system actor.
func (e Engine) SetDocConfirmationSigned(ctx context.Context, engagementID string, signed bool) (domain.EngagementYear, error) {
	return e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		changed := eng.DocConfirmationSigned != signed
		eng.DocConfirmationSigned = signed
		res, _, err := e.refreshWith(ctx, r, eng, changed)
		if err != nil {
			return err
		}
		if signed && res.Ready && eng.Status == domain.StatusAwaitingConfirmation {
			return e.autoTransitionWith(ctx, r, eng, domain.StatusReadyForPrep, "")
		}
		return nil
	})
}

func (e Engine) SetQuestionnaireCompleted(ctx context.Context, engagementID string, completed bool) (domain.EngagementYear, error) {
	return e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		reopened := eng.QuestionnaireCompleted && !completed
		changed := eng.QuestionnaireCompleted != completed
		eng.QuestionnaireCompleted = completed
		if _, _, err := e.refreshWith(ctx, r, eng, changed); err != nil {
			return err
		}
		if reopened {
			_, err := e.Scheduler().RescheduleWith(ctx, r, *eng, domain.StreamQuestionnaire)
			return err
		}
		return nil
	})
}

// SetIDStatus records the identity document state. A nil expiresAt means the
// document does not expire.
func (e Engine) SetIDStatus(ctx context.Context, engagementID string, valid bool, expiresAt *time.Time) (domain.EngagementYear, error) {
	return e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		now := e.now()
		wasValid := eng.IDCurrentlyValid(now)
		eng.IDValid = valid
		if expiresAt != nil {
			exp := expiresAt.UTC()
			eng.IDExpiresAt = &exp
		} else {
			eng.IDExpiresAt = nil
		}
		if _, _, err := e.refreshWith(ctx, r, eng, true); err != nil {
			return err
		}
		if wasValid && !eng.IDCurrentlyValid(now) {
			_, err := e.Scheduler().RescheduleWith(ctx, r, *eng, domain.StreamID)
			return err
		}
		return nil
	})
}

// RequestExtension flags a client's extension request and pauses every
// reminder stream until the extension is filed. Repeating it is a no-op.
func (e Engine) RequestExtension(ctx context.Context, engagementID, reason string) (domain.EngagementYear, error) {
	if strings.TrimSpace(reason) == "" {
		reason = reminder.PausedExtension
	}
	return e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		if eng.ExtensionFiled {
			return fmt.Errorf("%w: extension already filed", ErrInvalidInput)
		}
		if eng.ExtensionRequested {
			return nil
		}
		eng.ExtensionRequested = true
		if _, _, err := e.refreshWith(ctx, r, eng, true); err != nil {
			return err
		}
		return e.Scheduler().PauseAllWith(ctx, r, eng.ID, reason)
	})
}

// FileExtension records the filed extension and its new due date, then
// resumes every stream against that date.
func (e Engine) FileExtension(ctx context.Context, engagementID string, extendedDueDate time.Time) (domain.EngagementYear, error) {
	if extendedDueDate.IsZero() {
		return domain.EngagementYear{}, fmt.Errorf("%w: extended due date is required", ErrInvalidInput)
	}
	due := calendar.DayOf(extendedDueDate)
	return e.mutate(ctx, engagementID, func(r repo.Repo, eng *domain.EngagementYear) error {
		statutory := e.Cadence.DefaultDue[domain.StreamDocuments].In(eng.TaxYear)
		if due.Before(statutory) {
			return fmt.Errorf("%w: extended due date %s is before the statutory due date %s",
				ErrInvalidInput, due.Format(time.DateOnly), statutory.Format(time.DateOnly))
		}
		eng.ExtensionRequested = true
		eng.ExtensionFiled = true
		eng.ExtendedDueDate = &due
		if _, _, err := e.refreshWith(ctx, r, eng, true); err != nil {
			return err
		}
		return e.Scheduler().ResumeAllWith(ctx, r, *eng)
	})
}
