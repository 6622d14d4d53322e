package notify

import (
	"context"
	"time"

	"taxline/internal/domain"
)

const DefaultInterval = time.Minute

// Runner sweeps on a fixed interval until its context is canceled.
type Runner struct {
	Sweeper  Sweeper
	Interval time.Duration
	Stream   domain.Stream
	// OnReport, when set, receives every completed pass.
	OnReport func(Report)
}

// Run performs one sweep immediately and then one per tick.
func (r Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := r.Sweeper.Sweep(ctx, r.Stream)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.Sweeper.logf("reminder sweep: %v", err)
		case len(report.Failures) > 0:
			r.Sweeper.logf("reminder sweep: %d sent, %d skipped, %d failed", len(report.Sent), len(report.Skipped), len(report.Failures))
		}
		if r.OnReport != nil && err == nil {
			r.OnReport(report)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
