package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"taxline/internal/audit"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/migrate"
	"taxline/internal/repo"
)

var repoNow = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedEngagement(t *testing.T, r repo.Repo, id string) domain.EngagementYear {
	t.Helper()
	e := domain.EngagementYear{
		ID: id, ClientID: "client-" + id, EntityID: "individual", TaxYear: 2024,
		Status: domain.StatusCollectingDocs, Version: 1, CreatedAt: repoNow, UpdatedAt: repoNow,
	}
	if err := r.InsertEngagement(context.Background(), e); err != nil {
		t.Fatalf("insert engagement: %v", err)
	}
	return e
}

func TestUpdateEngagementVersioning(t *testing.T) {
	ctx := context.Background()
	r := repo.Repo{DB: openDB(t)}
	e := seedEngagement(t, r, "e1")

	stale := e
	e.EngagementSigned = true
	if err := r.UpdateEngagement(ctx, &e); err != nil {
		t.Fatalf("update: %v", err)
	}
	if e.Version != 2 {
		t.Fatalf("expected version 2, got %d", e.Version)
	}
	stale.QuestionnaireCompleted = true
	if err := r.UpdateEngagement(ctx, &stale); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale write, got %v", err)
	}
	got, err := r.GetEngagement(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.EngagementSigned || got.QuestionnaireCompleted {
		t.Fatalf("stale write leaked: %+v", got)
	}

	missing := domain.EngagementYear{ID: "nope", Status: domain.StatusInvited, Version: 1, UpdatedAt: repoNow}
	if err := r.UpdateEngagement(ctx, &missing); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunInTxRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	seedEngagement(t, repo.Repo{DB: conn}, "e1")

	attempts := 0
	err := repo.RunInTx(ctx, conn, func(r repo.Repo) error {
		attempts++
		e, err := r.GetEngagement(ctx, "e1")
		if err != nil {
			return err
		}
		if attempts == 1 {
			e.Version = 99
		}
		e.IDValid = true
		return r.UpdateEngagement(ctx, &e)
	})
	if err != nil {
		t.Fatalf("run in tx: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	got, err := repo.Repo{DB: conn}.GetEngagement(ctx, "e1")
	if err != nil || !got.IDValid || got.Version != 2 {
		t.Fatalf("expected committed retry, got %+v (%v)", got, err)
	}

	boom := errors.New("boom")
	attempts = 0
	err = repo.RunInTx(ctx, conn, func(r repo.Repo) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) || attempts != 1 {
		t.Fatalf("expected permanent error without retry, got %v after %d attempts", err, attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"conflict": {repo.ErrConflict, true},
		"locked":   {errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		"unique":   {errors.New("constraint failed: UNIQUE constraint failed: engagement_years.client_id"), true},
		"notfound": {repo.ErrNotFound, false},
	}
	for name, tc := range cases {
		if got := repo.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, got)
		}
	}
}

func TestStatusAuditIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	r := repo.Repo{DB: conn}
	seedEngagement(t, r, "e1")
	w := audit.Writer{Now: func() time.Time { return repoNow }}
	for i, to := range []domain.Status{domain.StatusAwaitingConfirmation, domain.StatusReadyForPrep} {
		w.Now = func() time.Time { return repoNow.Add(time.Duration(i) * time.Minute) }
		if _, err := w.Append(ctx, conn, "e1", domain.StatusCollectingDocs, to, domain.SystemActor, ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := conn.ExecContext(ctx, `UPDATE status_audit SET reason='edited'`); err == nil {
		t.Fatalf("expected audit rows to reject updates")
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM status_audit WHERE engagement_id='e1'`); err == nil {
		t.Fatalf("expected audit rows to reject deletes")
	}
	if n, err := r.CountStatusAudit(ctx, "e1"); err != nil || n != 2 {
		t.Fatalf("expected 2 audit rows, got %d (%v)", n, err)
	}
	entries, err := r.ListStatusAudit(ctx, "e1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ToStatus != domain.StatusReadyForPrep || entries[0].Actor != domain.SystemActor {
		t.Fatalf("expected newest system entry, got %+v", entries)
	}
}

func TestDueReminderStates(t *testing.T) {
	ctx := context.Background()
	r := repo.Repo{DB: openDB(t)}
	seedEngagement(t, r, "e1")
	seedEngagement(t, r, "e2")
	past := repoNow.Add(-time.Hour)
	future := repoNow.Add(time.Hour)
	states := []domain.ReminderState{
		{ID: "r1", EngagementID: "e1", Stream: domain.StreamDocuments, NextDueAt: &past},
		{ID: "r2", EngagementID: "e1", Stream: domain.StreamQuestionnaire, NextDueAt: &future},
		{ID: "r3", EngagementID: "e2", Stream: domain.StreamDocuments, NextDueAt: &repoNow},
		{ID: "r4", EngagementID: "e2", Stream: domain.StreamID, Paused: true, PausedReason: "Extension requested"},
	}
	for _, rs := range states {
		rs.CreatedAt, rs.UpdatedAt = repoNow, repoNow
		if err := r.InsertReminderState(ctx, rs); err != nil {
			t.Fatalf("insert %s: %v", rs.ID, err)
		}
	}

	due, err := r.DueReminderStates(ctx, repoNow, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due, got %+v", due)
	}
	due, err = r.DueReminderStates(ctx, repoNow, domain.StreamQuestionnaire)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected none due for questionnaire, got %+v (%v)", due, err)
	}

	paused := domain.ReminderState{ID: "r5", EngagementID: "e1", Stream: domain.StreamID, Paused: true, NextDueAt: &past, CreatedAt: repoNow, UpdatedAt: repoNow}
	if err := r.InsertReminderState(ctx, paused); err == nil {
		t.Fatalf("expected paused stream with a due date to be rejected")
	}
}
