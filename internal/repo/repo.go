package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxline/internal/domain"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB DBTX
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an optimistic-concurrency version mismatch.
	ErrConflict = errors.New("concurrent modification")
)

// WithTx returns a Repo whose reads and writes go through tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: tx}
}

// timestamps are fixed-width so string comparison in SQL orders them correctly
const tsLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const engagementColumns = `id,client_id,entity_id,tax_year,status,engagement_signed,doc_confirmation_signed,questionnaire_completed,id_valid,id_expires_at,checklist_complete_at,ready_for_prep,extension_requested,extension_filed,extended_due_date,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngagement(row rowScanner) (domain.EngagementYear, error) {
	var (
		e                                   domain.EngagementYear
		status, createdAt, updatedAt        string
		signed, confirmation, questionnaire int
		idValid, ready, extReq, extFiled    int
		idExpires, completeAt, extendedDue  sql.NullString
	)
	err := row.Scan(&e.ID, &e.ClientID, &e.EntityID, &e.TaxYear, &status, &signed, &confirmation, &questionnaire,
		&idValid, &idExpires, &completeAt, &ready, &extReq, &extFiled, &extendedDue, &e.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Status = domain.Status(status)
	e.EngagementSigned = signed != 0
	e.DocConfirmationSigned = confirmation != 0
	e.QuestionnaireCompleted = questionnaire != 0
	e.IDValid = idValid != 0
	e.ReadyForPrep = ready != 0
	e.ExtensionRequested = extReq != 0
	e.ExtensionFiled = extFiled != 0
	if e.IDExpiresAt, err = parseNullTime(idExpires); err != nil {
		return e, err
	}
	if e.ChecklistCompleteAt, err = parseNullTime(completeAt); err != nil {
		return e, err
	}
	if e.ExtendedDueDate, err = parseNullTime(extendedDue); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, err
	}
	return e, nil
}

func (r Repo) InsertEngagement(ctx context.Context, e domain.EngagementYear) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO engagement_years(`+engagementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ClientID, e.EntityID, e.TaxYear, string(e.Status), boolInt(e.EngagementSigned), boolInt(e.DocConfirmationSigned),
		boolInt(e.QuestionnaireCompleted), boolInt(e.IDValid), formatTimePtr(e.IDExpiresAt), formatTimePtr(e.ChecklistCompleteAt),
		boolInt(e.ReadyForPrep), boolInt(e.ExtensionRequested), boolInt(e.ExtensionFiled), formatTimePtr(e.ExtendedDueDate),
		e.Version, FormatTime(e.CreatedAt), FormatTime(e.UpdatedAt))
	return err
}

func (r Repo) GetEngagement(ctx context.Context, id string) (domain.EngagementYear, error) {
	return scanEngagement(r.DB.QueryRowContext(ctx, `SELECT `+engagementColumns+` FROM engagement_years WHERE id=?`, id))
}

func (r Repo) FindEngagement(ctx context.Context, clientID, entityID string, taxYear int) (domain.EngagementYear, error) {
	return scanEngagement(r.DB.QueryRowContext(ctx, `SELECT `+engagementColumns+` FROM engagement_years WHERE client_id=? AND entity_id=? AND tax_year=?`,
		clientID, entityID, taxYear))
}

// UpdateEngagement writes e if its version still matches the stored row and
// bumps e.Version. A stale version yields ErrConflict.
func (r Repo) UpdateEngagement(ctx context.Context, e *domain.EngagementYear) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE engagement_years SET status=?, engagement_signed=?, doc_confirmation_signed=?, questionnaire_completed=?, id_valid=?, id_expires_at=?, checklist_complete_at=?, ready_for_prep=?, extension_requested=?, extension_filed=?, extended_due_date=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		string(e.Status), boolInt(e.EngagementSigned), boolInt(e.DocConfirmationSigned), boolInt(e.QuestionnaireCompleted),
		boolInt(e.IDValid), formatTimePtr(e.IDExpiresAt), formatTimePtr(e.ChecklistCompleteAt), boolInt(e.ReadyForPrep),
		boolInt(e.ExtensionRequested), boolInt(e.ExtensionFiled), formatTimePtr(e.ExtendedDueDate), FormatTime(e.UpdatedAt),
		e.ID, e.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetEngagement(ctx, e.ID); err != nil {
			return err
		}
		return fmt.Errorf("engagement %s: %w", e.ID, ErrConflict)
	}
	e.Version++
	return nil
}

// EngagementFilter narrows ListEngagements; zero values match everything.
type EngagementFilter struct {
	Status  domain.Status
	TaxYear int
	Client  string
	Limit   int
}

func (r Repo) ListEngagements(ctx context.Context, f EngagementFilter) ([]domain.EngagementYear, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.TaxYear != 0 {
		clauses = append(clauses, "tax_year=?")
		args = append(args, f.TaxYear)
	}
	if f.Client != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.Client)
	}
	query := `SELECT ` + engagementColumns + ` FROM engagement_years`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY tax_year DESC, client_id, entity_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EngagementYear
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const checklistColumns = `id,engagement_id,key,label,required,status,created_at,updated_at`

func scanChecklistItem(row rowScanner) (domain.ChecklistItem, error) {
	var (
		it                           domain.ChecklistItem
		required                     int
		status, createdAt, updatedAt string
	)
	err := row.Scan(&it.ID, &it.EngagementID, &it.Key, &it.Label, &required, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Required = required != 0
	it.Status = domain.ChecklistStatus(status)
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return it, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return it, err
	}
	return it, nil
}

func (r Repo) InsertChecklistItem(ctx context.Context, it domain.ChecklistItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO checklist_items(`+checklistColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.EngagementID, it.Key, it.Label, boolInt(it.Required), string(it.Status), FormatTime(it.CreatedAt), FormatTime(it.UpdatedAt))
	return err
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error) {
	return scanChecklistItem(r.DB.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id=?`, id))
}

func (r Repo) FindChecklistItem(ctx context.Context, engagementID, key string) (domain.ChecklistItem, error) {
	return scanChecklistItem(r.DB.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE engagement_id=? AND key=?`, engagementID, key))
}

func (r Repo) UpdateChecklistItem(ctx context.Context, it domain.ChecklistItem) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE checklist_items SET label=?, required=?, status=?, updated_at=? WHERE id=?`,
		it.Label, boolInt(it.Required), string(it.Status), FormatTime(it.UpdatedAt), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListChecklistItems(ctx context.Context, engagementID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE engagement_id=? ORDER BY created_at, key`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
