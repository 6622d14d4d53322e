// Package notify drains due reminders and hands them to a dispatcher. The
// engine only decides that a reminder is owed; a Dispatcher delivers it.
package notify

import (
	"context"
	"log"
	"time"

	"taxline/internal/domain"
	"taxline/internal/telemetry"
)

// Notice is one owed reminder as handed to a dispatcher.
type Notice struct {
	ReminderID   string        `json:"reminder_id"`
	EngagementID string        `json:"engagement_id"`
	ClientID     string        `json:"client_id"`
	EntityID     string        `json:"entity_id"`
	TaxYear      int           `json:"tax_year"`
	Status       domain.Status `json:"status"`
	Stream       domain.Stream `json:"stream"`
	DueAt        time.Time     `json:"due_at" format:"date-time"`
	Sequence     int           `json:"sequence"`
}

// Dispatcher delivers notices. A nil error means the dispatcher accepted
// responsibility for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notice) error
}

// Scheduler is the part of the reminder scheduler a sweep needs.
type Scheduler interface {
	DueNow(ctx context.Context, stream domain.Stream) ([]domain.ReminderState, error)
	ShouldSend(ctx context.Context, engagementID string, stream domain.Stream) (bool, error)
	MarkSent(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error)
	Defer(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error)
	GetEngagement(ctx context.Context, id string) (domain.EngagementYear, error)
}

// Failure records one reminder the sweep could not complete.
type Failure struct {
	EngagementID string        `json:"engagement_id"`
	Stream       domain.Stream `json:"stream"`
	Stage        string        `json:"stage" enum:"check,dispatch,mark_sent,defer"`
	Error        string        `json:"error"`
}

type Report struct {
	Due      int       `json:"due"`
	Sent     []Notice  `json:"sent"`
	Skipped  []Notice  `json:"skipped"`
	Failures []Failure `json:"failures"`
}

type Sweeper struct {
	Scheduler  Scheduler
	Dispatcher Dispatcher
	Metrics    *telemetry.Metrics
	Logger     *log.Logger
}

func (s Sweeper) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Sweep walks every due stream once. A failure on one reminder is recorded
// and the sweep moves on; a reminder is marked sent only after the
// dispatcher accepted it. The error is non-nil only when the due list itself
// could not be read.
func (s Sweeper) Sweep(ctx context.Context, stream domain.Stream) (Report, error) {
	report := Report{Sent: []Notice{}, Skipped: []Notice{}, Failures: []Failure{}}
	due, err := s.Scheduler.DueNow(ctx, stream)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	for _, rs := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fail := func(stage string, err error) {
			s.logf("reminder %s/%s: %s failed: %v", rs.EngagementID, rs.Stream, stage, err)
			s.Metrics.ReminderFailed(ctx, string(rs.Stream))
			report.Failures = append(report.Failures, Failure{
				EngagementID: rs.EngagementID, Stream: rs.Stream, Stage: stage, Error: err.Error(),
			})
		}
		eng, err := s.Scheduler.GetEngagement(ctx, rs.EngagementID)
		if err != nil {
			fail("check", err)
			continue
		}
		n := noticeFor(eng, rs)
		ok, err := s.Scheduler.ShouldSend(ctx, rs.EngagementID, rs.Stream)
		if err != nil {
			fail("check", err)
			continue
		}
		if !ok {
			if _, err := s.Scheduler.Defer(ctx, rs.EngagementID, rs.Stream); err != nil {
				fail("defer", err)
				continue
			}
			s.Metrics.ReminderSkipped(ctx, string(rs.Stream))
			report.Skipped = append(report.Skipped, n)
			continue
		}
		if err := s.Dispatcher.Dispatch(ctx, n); err != nil {
			fail("dispatch", err)
			continue
		}
		if _, err := s.Scheduler.MarkSent(ctx, rs.EngagementID, rs.Stream); err != nil {
			fail("mark_sent", err)
			continue
		}
		s.Metrics.ReminderSent(ctx, string(rs.Stream))
		report.Sent = append(report.Sent, n)
	}
	return report, nil
}

// Sweep runs one pass with a default Sweeper.
func Sweep(ctx context.Context, s Scheduler, d Dispatcher, stream domain.Stream) (Report, error) {
	return Sweeper{Scheduler: s, Dispatcher: d}.Sweep(ctx, stream)
}

func noticeFor(e domain.EngagementYear, rs domain.ReminderState) Notice {
	n := Notice{
		ReminderID:   rs.ID,
		EngagementID: e.ID,
		ClientID:     e.ClientID,
		EntityID:     e.EntityID,
		TaxYear:      e.TaxYear,
		Status:       e.Status,
		Stream:       rs.Stream,
		Sequence:     rs.SentCount + 1,
	}
	if rs.NextDueAt != nil {
		n.DueAt = *rs.NextDueAt
	}
	return n
}
