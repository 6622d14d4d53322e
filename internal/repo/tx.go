package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// txRetryMaxElapsed bounds how long a read-modify-write is retried when it loses
// a race for the same engagement row.
const txRetryMaxElapsed = 5 * time.Second

func newTxBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = txRetryMaxElapsed
	return bo
}

// IsRetryable reports whether err came from a lost optimistic race, a
// transient SQLite lock, or a concurrent insert of the same natural key (the
// retried closure then finds the row it lost to).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "unique constraint failed")
}

// RunInTx runs fn inside a transaction and commits it. The whole closure is
// re-executed with exponential backoff when it fails with a retryable error,
// so fn must not keep side effects outside the transaction.
func RunInTx(ctx context.Context, db *sql.DB, fn func(Repo) error) error {
	op := func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		defer tx.Rollback()
		if err := fn(Repo{DB: tx}); err != nil {
			return classify(err)
		}
		return classify(tx.Commit())
	}
	err := backoff.Retry(op, backoff.WithContext(newTxBackoff(), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func classify(err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}
