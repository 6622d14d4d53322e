// Package audit appends lifecycle transitions to the status_audit table.
// Rows are never updated or deleted; the table enforces this with a trigger.
package audit

import (
	"context"
	"fmt"
	"time"

	"taxline/internal/domain"
	"taxline/internal/repo"
)

type Writer struct {
	Now func() time.Time
}

// Append records one applied transition through q, normally the caller's transaction.
func (w Writer) Append(ctx context.Context, q repo.DBTX, engagementID string, from, to domain.Status, actor domain.Actor, reason string) (domain.StatusAuditEntry, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if actor.Kind == "" {
		actor.Kind = domain.ActorHuman
	}
	entry := domain.StatusAuditEntry{
		EngagementID: engagementID,
		FromStatus:   from,
		ToStatus:     to,
		Actor:        actor,
		Reason:       reason,
		Timestamp:    w.Now().UTC(),
	}
	res, err := q.ExecContext(ctx, `INSERT INTO status_audit(engagement_id,from_status,to_status,actor_kind,actor_id,reason,ts) VALUES (?,?,?,?,?,?,?)`,
		engagementID, string(from), string(to), string(actor.Kind), actor.ID, nullable(reason), repo.FormatTime(entry.Timestamp))
	if err != nil {
		return entry, fmt.Errorf("append status audit: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
