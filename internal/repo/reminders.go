package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taxline/internal/domain"
)

const reminderColumns = `id,engagement_id,stream,last_sent_at,next_due_at,sent_count,paused,paused_reason,created_at,updated_at`

func scanReminder(row rowScanner) (domain.ReminderState, error) {
	var (
		rs                           domain.ReminderState
		stream, createdAt, updatedAt string
		lastSent, nextDue, reason    sql.NullString
		paused                       int
	)
	err := row.Scan(&rs.ID, &rs.EngagementID, &stream, &lastSent, &nextDue, &rs.SentCount, &paused, &reason, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rs, ErrNotFound
	}
	if err != nil {
		return rs, err
	}
	rs.Stream = domain.Stream(stream)
	rs.Paused = paused != 0
	if reason.Valid {
		rs.PausedReason = reason.String
	}
	if rs.LastSentAt, err = parseNullTime(lastSent); err != nil {
		return rs, err
	}
	if rs.NextDueAt, err = parseNullTime(nextDue); err != nil {
		return rs, err
	}
	if rs.CreatedAt, err = parseTime(createdAt); err != nil {
		return rs, err
	}
	if rs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return rs, err
	}
	return rs, nil
}

func (r Repo) GetReminderState(ctx context.Context, engagementID string, stream domain.Stream) (domain.ReminderState, error) {
	return scanReminder(r.DB.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminder_states WHERE engagement_id=? AND stream=?`, engagementID, string(stream)))
}

func (r Repo) InsertReminderState(ctx context.Context, rs domain.ReminderState) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reminder_states(`+reminderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rs.ID, rs.EngagementID, string(rs.Stream), formatTimePtr(rs.LastSentAt), formatTimePtr(rs.NextDueAt), rs.SentCount,
		boolInt(rs.Paused), nullable(rs.PausedReason), FormatTime(rs.CreatedAt), FormatTime(rs.UpdatedAt))
	return err
}

func (r Repo) UpdateReminderState(ctx context.Context, rs domain.ReminderState) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE reminder_states SET last_sent_at=?, next_due_at=?, sent_count=?, paused=?, paused_reason=?, updated_at=? WHERE id=?`,
		formatTimePtr(rs.LastSentAt), formatTimePtr(rs.NextDueAt), rs.SentCount, boolInt(rs.Paused), nullable(rs.PausedReason),
		FormatTime(rs.UpdatedAt), rs.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListReminderStates(ctx context.Context, engagementID string) ([]domain.ReminderState, error) {
	return r.queryReminders(ctx, `SELECT `+reminderColumns+` FROM reminder_states WHERE engagement_id=? ORDER BY stream`, engagementID)
}

// DueReminderStates returns unpaused streams whose next_due_at is at or before now,
// optionally restricted to one stream, oldest first.
func (r Repo) DueReminderStates(ctx context.Context, now time.Time, stream domain.Stream) ([]domain.ReminderState, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminder_states WHERE paused=0 AND next_due_at IS NOT NULL AND next_due_at <= ?`
	args := []any{FormatTime(now)}
	if stream != "" {
		query += ` AND stream=?`
		args = append(args, string(stream))
	}
	query += ` ORDER BY next_due_at, engagement_id, stream`
	return r.queryReminders(ctx, query, args...)
}

func (r Repo) queryReminders(ctx context.Context, query string, args ...any) ([]domain.ReminderState, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReminderState
	for rows.Next() {
		rs, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rs)
	}
	return res, rows.Err()
}
