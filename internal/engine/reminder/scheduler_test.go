package reminder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxline/internal/calendar"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/engine/reminder"
	"taxline/internal/migrate"
	"taxline/internal/repo"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setup(t *testing.T, now time.Time) (reminder.Scheduler, *clock, domain.EngagementYear) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	clk := &clock{t: now}
	s := reminder.NewScheduler(conn, reminder.DefaultCadence())
	s.Now = clk.Now

	e := domain.EngagementYear{
		ID:        "eng-1",
		ClientID:  "client-1",
		EntityID:  "entity-1",
		TaxYear:   2024,
		Status:    domain.StatusCollectingDocs,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Repo.InsertEngagement(context.Background(), e))
	return s, clk, e
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, e := setup(t, calendar.Date(2024, time.January, 10))

	first, err := s.GetOrCreate(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)
	require.NotNil(t, first.NextDueAt)
	assert.Equal(t, calendar.Date(2024, time.February, 15), *first.NextDueAt)

	again, err := s.GetOrCreate(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	states, err := s.List(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, states, 1)
}

func TestGetOrCreateUnknownEngagement(t *testing.T) {
	s, _, _ := setup(t, calendar.Date(2024, time.January, 10))
	_, err := s.GetOrCreate(context.Background(), "missing", domain.StreamID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMarkSentAdvancesCadence(t *testing.T) {
	ctx := context.Background()
	s, clk, e := setup(t, calendar.Date(2024, time.January, 10))
	_, err := s.GetOrCreate(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)

	clk.t = calendar.Date(2024, time.February, 15)
	rs, err := s.MarkSent(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.SentCount)
	require.NotNil(t, rs.LastSentAt)
	require.NotNil(t, rs.NextDueAt)
	assert.Equal(t, calendar.Date(2024, time.March, 11), *rs.NextDueAt)

	clk.t = calendar.Date(2024, time.March, 11)
	rs, err = s.MarkSent(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)
	assert.Equal(t, 2, rs.SentCount)
	assert.Equal(t, calendar.Date(2024, time.March, 18), *rs.NextDueAt)
}

func TestPauseResumeUsesCurrentDueDate(t *testing.T) {
	ctx := context.Background()
	s, clk, e := setup(t, calendar.Date(2025, time.March, 1))
	_, err := s.GetOrCreate(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)

	clk.t = calendar.Date(2025, time.April, 1)
	_, err = s.MarkSent(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	rs, err := s.Repo.GetReminderState(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.Nil(t, rs.NextDueAt, "May 1 is past the statutory Apr 15 due date")

	require.NoError(t, s.PauseAll(ctx, e.ID, reminder.PausedExtension))
	rs, err = s.Repo.GetReminderState(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.True(t, rs.Paused)
	assert.Nil(t, rs.NextDueAt)
	assert.Equal(t, reminder.PausedExtension, rs.PausedReason)

	due, err := s.DueNow(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, due)

	extended := calendar.Date(2025, time.October, 15)
	e, err = s.Repo.GetEngagement(ctx, e.ID)
	require.NoError(t, err)
	e.ExtensionRequested = true
	e.ExtensionFiled = true
	e.ExtendedDueDate = &extended
	require.NoError(t, s.Repo.UpdateEngagement(ctx, &e))

	require.NoError(t, s.ResumeAll(ctx, e.ID))
	rs, err = s.Repo.GetReminderState(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.False(t, rs.Paused)
	assert.Empty(t, rs.PausedReason)
	require.NotNil(t, rs.NextDueAt)
	assert.Equal(t, calendar.Date(2025, time.May, 1), *rs.NextDueAt)
}

func TestStreamsCreatedInLimboStartPaused(t *testing.T) {
	ctx := context.Background()
	s, _, e := setup(t, calendar.Date(2025, time.March, 1))
	e.ExtensionRequested = true
	require.NoError(t, s.Repo.UpdateEngagement(ctx, &e))

	rs, err := s.GetOrCreate(ctx, e.ID, domain.StreamID)
	require.NoError(t, err)
	assert.True(t, rs.Paused)
	assert.Nil(t, rs.NextDueAt)
}

func TestDueNowAndShouldSend(t *testing.T) {
	ctx := context.Background()
	s, clk, e := setup(t, calendar.Date(2024, time.January, 10))
	require.NoError(t, s.Repo.InsertChecklistItem(ctx, domain.ChecklistItem{
		ID: "item-1", EngagementID: e.ID, Key: "w2", Label: "W-2", Required: true,
		Status: domain.ChecklistPending, CreatedAt: clk.t, UpdatedAt: clk.t,
	}))
	for _, stream := range domain.Streams {
		_, err := s.GetOrCreate(ctx, e.ID, stream)
		require.NoError(t, err)
	}

	clk.t = calendar.Date(2024, time.February, 15)
	due, err := s.DueNow(ctx, "")
	require.NoError(t, err)
	require.Len(t, due, 3, "documents on Feb 15, questionnaire and ID on Feb 10")

	due, err = s.DueNow(ctx, domain.StreamDocuments)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.StreamDocuments, due[0].Stream)

	ok, err := s.ShouldSend(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)
	assert.True(t, ok)

	item, err := s.Repo.GetChecklistItem(ctx, "item-1")
	require.NoError(t, err)
	item.Status = domain.ChecklistReceived
	require.NoError(t, s.Repo.UpdateChecklistItem(ctx, item))

	ok, err = s.ShouldSend(ctx, e.ID, domain.StreamDocuments)
	require.NoError(t, err)
	assert.False(t, ok, "checklist completed after the reminder became due")

	require.NoError(t, s.Retire(ctx, e.ID, domain.StreamDocuments))
	due, err = s.DueNow(ctx, domain.StreamDocuments)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRescheduleOnlyRevivesIdleStreams(t *testing.T) {
	ctx := context.Background()
	s, clk, e := setup(t, calendar.Date(2024, time.June, 3))

	rs, err := s.Reschedule(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.Empty(t, rs.ID, "missing streams are not created")

	created, err := s.GetOrCreate(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	require.NoError(t, s.Retire(ctx, e.ID, domain.StreamQuestionnaire))

	clk.t = calendar.Date(2024, time.July, 1)
	rs, err = s.Reschedule(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.Equal(t, created.ID, rs.ID)
	require.NotNil(t, rs.NextDueAt)
	assert.Equal(t, calendar.Date(2024, time.August, 1), *rs.NextDueAt)

	again, err := s.Reschedule(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.Equal(t, *rs.NextDueAt, *again.NextDueAt)
}

func TestDeferRechecksValidIDAtExpiry(t *testing.T) {
	ctx := context.Background()
	s, clk, e := setup(t, calendar.Date(2025, time.February, 11))
	expires := calendar.Date(2025, time.March, 1)
	e.IDValid = true
	e.IDExpiresAt = &expires
	require.NoError(t, s.Repo.UpdateEngagement(ctx, &e))
	_, err := s.GetOrCreate(ctx, e.ID, domain.StreamID)
	require.NoError(t, err)

	clk.t = calendar.Date(2025, time.February, 25)
	ok, err := s.ShouldSend(ctx, e.ID, domain.StreamID)
	require.NoError(t, err)
	assert.False(t, ok)

	rs, err := s.Defer(ctx, e.ID, domain.StreamID)
	require.NoError(t, err)
	require.NotNil(t, rs.NextDueAt)
	assert.Equal(t, expires, *rs.NextDueAt, "weekly step would be Mar 4")
	assert.Equal(t, 0, rs.SentCount)
	assert.Nil(t, rs.LastSentAt)

	clk.t = calendar.Date(2025, time.March, 5)
	due, err := s.DueNow(ctx, domain.StreamID)
	require.NoError(t, err)
	require.Len(t, due, 1)
	ok, err = s.ShouldSend(ctx, e.ID, domain.StreamID)
	require.NoError(t, err)
	assert.True(t, ok, "expired ID is owed a reminder again")
}

func TestDeferRetiresFiledEngagements(t *testing.T) {
	ctx := context.Background()
	s, _, e := setup(t, calendar.Date(2025, time.February, 3))
	_, err := s.GetOrCreate(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	e.Status = domain.StatusFiled
	require.NoError(t, s.Repo.UpdateEngagement(ctx, &e))

	rs, err := s.Defer(ctx, e.ID, domain.StreamQuestionnaire)
	require.NoError(t, err)
	assert.Nil(t, rs.NextDueAt)
}
