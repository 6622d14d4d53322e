package repo

import (
	"context"
	"database/sql"

	"taxline/internal/domain"
)

// ListStatusAudit returns an engagement's transitions, newest first.
func (r Repo) ListStatusAudit(ctx context.Context, engagementID string, limit int) ([]domain.StatusAuditEntry, error) {
	query := `SELECT id,engagement_id,from_status,to_status,actor_kind,actor_id,reason,ts FROM status_audit WHERE engagement_id=? ORDER BY ts DESC, id DESC`
	args := []any{engagementID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusAuditEntry
	for rows.Next() {
		var (
			entry              domain.StatusAuditEntry
			from, to, kind, ts string
			reason             sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.EngagementID, &from, &to, &kind, &entry.Actor.ID, &reason, &ts); err != nil {
			return nil, err
		}
		entry.FromStatus = domain.Status(from)
		entry.ToStatus = domain.Status(to)
		entry.Actor.Kind = domain.ActorKind(kind)
		if reason.Valid {
			entry.Reason = reason.String
		}
		if entry.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, rows.Err()
}

// CountStatusAudit is used by callers that only need to know how many transitions happened.
func (r Repo) CountStatusAudit(ctx context.Context, engagementID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM status_audit WHERE engagement_id=?`, engagementID).Scan(&n)
	return n, err
}
