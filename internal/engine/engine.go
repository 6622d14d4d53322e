package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"taxline/internal/audit"
	"taxline/internal/config"
	"taxline/internal/domain"
	"taxline/internal/engine/reminder"
	"taxline/internal/repo"
	"taxline/internal/telemetry"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Config  *config.Config
	Cadence reminder.Cadence
	Metrics *telemetry.Metrics
	Logger  *log.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Cadence: reminder.CadenceFromConfig(cfg),
		Metrics: telemetry.New(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Scheduler returns the reminder scheduler sharing the engine's store and clock.
func (e Engine) Scheduler() reminder.Scheduler {
	return reminder.Scheduler{DB: e.DB, Repo: e.Repo, Cadence: e.Cadence, Now: e.now}
}

func (e Engine) audit() audit.Writer {
	return audit.Writer{Now: e.now}
}

// inTx runs fn in a transaction, retrying it when it loses a race on the same rows.
func (e Engine) inTx(ctx context.Context, fn func(repo.Repo) error) error {
	return repo.RunInTx(ctx, e.DB, fn)
}

func engagementErr(id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrEngagementNotFound, id)
	}
	return err
}

// loadWith reads the engagement through the caller's transaction.
func loadWith(ctx context.Context, r repo.Repo, id string) (domain.EngagementYear, error) {
	eng, err := r.GetEngagement(ctx, id)
	if err != nil {
		return eng, engagementErr(id, err)
	}
	return eng, nil
}

// EnsureOptions identify an engagement by its natural key.
type EnsureOptions struct {
	ClientID string
	EntityID string
	TaxYear  int
	Actor    domain.Actor
}

// EnsureEngagement returns the engagement for (client, entity, tax year),
// creating it with the baseline checklist on first call. created reports
// whether this call inserted it.
func (e Engine) EnsureEngagement(ctx context.Context, opts EnsureOptions) (eng domain.EngagementYear, created bool, err error) {
	opts.ClientID = strings.TrimSpace(opts.ClientID)
	opts.EntityID = strings.TrimSpace(opts.EntityID)
	if opts.ClientID == "" || opts.EntityID == "" {
		return eng, false, fmt.Errorf("%w: client and entity are required", ErrInvalidInput)
	}
	if opts.TaxYear < 1900 || opts.TaxYear > 9999 {
		return eng, false, fmt.Errorf("%w: tax year %d out of range", ErrInvalidInput, opts.TaxYear)
	}
	err = e.inTx(ctx, func(r repo.Repo) error {
		created = false
		existing, err := r.FindEngagement(ctx, opts.ClientID, opts.EntityID, opts.TaxYear)
		if err == nil {
			eng = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		now := e.now()
		eng = domain.EngagementYear{
			ID:        uuid.NewString(),
			ClientID:  opts.ClientID,
			EntityID:  opts.EntityID,
			TaxYear:   opts.TaxYear,
			Status:    domain.StatusInvited,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertEngagement(ctx, eng); err != nil {
			return fmt.Errorf("insert engagement: %w", err)
		}
		for _, tmpl := range e.Config.Checklist.Baseline {
			it := domain.ChecklistItem{
				ID:           uuid.NewString(),
				EngagementID: eng.ID,
				Key:          tmpl.Key,
				Label:        tmpl.Label,
				Required:     tmpl.Required,
				Status:       domain.ChecklistPending,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := r.InsertChecklistItem(ctx, it); err != nil {
				return fmt.Errorf("seed checklist item %s: %w", tmpl.Key, err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.EngagementYear{}, false, err
	}
	if created {
		e.logf("engagement %s created for %s/%s %d by %s", eng.ID, eng.ClientID, eng.EntityID, eng.TaxYear, opts.Actor)
	}
	return eng, created, nil
}

func (e Engine) GetEngagement(ctx context.Context, id string) (domain.EngagementYear, error) {
	eng, err := e.Repo.GetEngagement(ctx, id)
	if err != nil {
		return eng, engagementErr(id, err)
	}
	return eng, nil
}

func (e Engine) ListEngagements(ctx context.Context, f repo.EngagementFilter) ([]domain.EngagementYear, error) {
	return e.Repo.ListEngagements(ctx, f)
}

// mutate loads the engagement inside a transaction and hands it to fn, which
// is responsible for persisting its changes.
func (e Engine) mutate(ctx context.Context, id string, fn func(r repo.Repo, eng *domain.EngagementYear) error) (domain.EngagementYear, error) {
	var eng domain.EngagementYear
	err := e.inTx(ctx, func(r repo.Repo) error {
		var err error
		eng, err = loadWith(ctx, r, id)
		if err != nil {
			return err
		}
		return fn(r, &eng)
	})
	if err != nil {
		return domain.EngagementYear{}, err
	}
	return eng, nil
}
