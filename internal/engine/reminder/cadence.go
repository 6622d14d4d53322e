package reminder

import (
	"time"

	"taxline/internal/calendar"
	"taxline/internal/config"
	"taxline/internal/domain"
)

// Cadence holds the calendar milestones that drive every stream.
type Cadence struct {
	DocumentsFirst  calendar.MonthDay
	IDWeeklyCutover calendar.MonthDay
	DefaultDue      map[domain.Stream]calendar.MonthDay
}

// CadenceFromConfig extracts the reminder milestones from a validated rule set.
func CadenceFromConfig(cfg *config.Config) Cadence {
	c := Cadence{
		DocumentsFirst:  cfg.DocumentsFirst(),
		IDWeeklyCutover: cfg.IDWeeklyCutover(),
		DefaultDue:      make(map[domain.Stream]calendar.MonthDay, len(domain.Streams)),
	}
	for _, s := range domain.Streams {
		c.DefaultDue[s] = cfg.DefaultDue(s)
	}
	return c
}

// DefaultCadence is the built-in rule set's cadence.
func DefaultCadence() Cadence {
	return CadenceFromConfig(config.Default())
}

// DueDate is the extended due date once an extension is filed, otherwise the
// stream's statutory default for the engagement's tax year.
func (c Cadence) DueDate(e domain.EngagementYear, s domain.Stream) time.Time {
	if e.ExtensionFiled && e.ExtendedDueDate != nil {
		return calendar.DayOf(*e.ExtendedDueDate)
	}
	return c.DefaultDue[s].In(e.TaxYear)
}

// Next computes when the stream should fire after last (nil when nothing has
// been sent yet). A nil result means the stream is exhausted: the next date
// would fall after the effective due date.
func (c Cadence) Next(e domain.EngagementYear, s domain.Stream, last *time.Time, now time.Time) *time.Time {
	var next time.Time
	switch s {
	case domain.StreamDocuments:
		next = c.nextDocuments(e.TaxYear, last, now)
	case domain.StreamQuestionnaire:
		next = calendar.AddMonths(base(last, now), 1)
	case domain.StreamID:
		next = c.nextID(e.TaxYear, base(last, now))
	default:
		return nil
	}
	if calendar.AfterDay(next, c.DueDate(e, s)) {
		return nil
	}
	next = next.UTC()
	return &next
}

// documents: Feb 15, then the second Monday of March once, then weekly.
func (c Cadence) nextDocuments(taxYear int, last *time.Time, now time.Time) time.Time {
	first := c.DocumentsFirst.In(taxYear)
	cutover := calendar.SecondMondayOfMarch(first.Year())
	if last == nil {
		switch {
		case !calendar.AfterDay(now, first):
			return first
		case !calendar.AfterDay(now, cutover):
			return cutover
		default:
			return now
		}
	}
	switch {
	case calendar.DayOf(*last).Before(first):
		return first
	case calendar.DayOf(*last).Before(cutover):
		return cutover
	default:
		return calendar.AddWeeks(*last, 1)
	}
}

// id: monthly until the cutover, never stepping past it, then weekly.
func (c Cadence) nextID(taxYear int, from time.Time) time.Time {
	cutover := c.IDWeeklyCutover.In(taxYear)
	if calendar.DayOf(from).Before(cutover) {
		next := calendar.AddMonths(from, 1)
		if calendar.AfterDay(next, cutover) {
			return cutover
		}
		return next
	}
	return calendar.AddWeeks(from, 1)
}

func base(last *time.Time, now time.Time) time.Time {
	if last != nil {
		return *last
	}
	return now
}

// Wanted reports whether the condition motivating a stream still holds.
// Filed engagements and engagements in extension limbo want nothing.
func Wanted(e domain.EngagementYear, c domain.ChecklistCompletion, s domain.Stream, now time.Time) bool {
	if e.ExtensionLimbo() || e.Status.Terminal() {
		return false
	}
	switch s {
	case domain.StreamDocuments:
		return !c.Complete
	case domain.StreamQuestionnaire:
		return !e.QuestionnaireCompleted
	case domain.StreamID:
		return !e.IDCurrentlyValid(now)
	}
	return false
}
