package worker

import (
	"context"
	"log/slog"
	"time"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/storage"
)

const defaultSweepInterval = 60 * time.Second

// StuckJobReaper periodically terminates generations stuck in an active
// state past stuck_threshold, per spec.md §4.E. Idempotent: re-running it
// on already-terminal requests is a no-op thanks to ledger idempotency.
// There is no per-user lock to release here: the striped admission lock
// is a fixed-size array, not a map keyed by user, so it carries no
// per-user state that could leak across a reaped request.
type StuckJobReaper struct {
	generations    storage.GenerationStore
	ledger         *app.LedgerService
	trials         storage.TrialStore
	sweepInterval  time.Duration
	stuckThreshold time.Duration
}

// NewStuckJobReaper returns a StuckJobReaper.
func NewStuckJobReaper(generations storage.GenerationStore, ledger *app.LedgerService, trials storage.TrialStore, sweepInterval, stuckThreshold time.Duration) *StuckJobReaper {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &StuckJobReaper{
		generations:    generations,
		ledger:         ledger,
		trials:         trials,
		sweepInterval:  sweepInterval,
		stuckThreshold: stuckThreshold,
	}
}

// Name returns the worker identifier.
func (r *StuckJobReaper) Name() string { return "stuck_job_reaper" }

// Run sweeps for stuck jobs on a fixed interval until ctx is cancelled.
func (r *StuckJobReaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *StuckJobReaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.stuckThreshold)
	jobs, err := r.generations.ListStuckJobs(ctx, cutoff)
	if err != nil {
		slog.Error("reaper: list stuck jobs failed", "error", err)
		return
	}

	for _, job := range jobs {
		r.reap(ctx, job)
	}
}

func (r *StuckJobReaper) reap(ctx context.Context, job *core.GenerationJob) {
	now := time.Now()
	job.Status = core.StatusFailed
	job.ErrorMessage = "system cleanup"
	job.CompletedAt = &now
	if err := r.generations.UpdateJob(ctx, job); err != nil {
		slog.Error("reaper: update job failed", "job_id", job.ID, "error", err)
		return
	}

	if job.PriceCredits == 0 {
		_ = r.trials.ClearTrialUsed(ctx, job.UserID)
		return
	}
	if err := r.ledger.Refund(ctx, job.UserID, job.PriceCredits, "refund_"+job.RequestID); err != nil {
		slog.Error("reaper: refund failed", "job_id", job.ID, "error", err)
	}
}
