package worker

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/app"
	"github.com/bananapics/core/internal/provider"
	"github.com/bananapics/core/internal/storage"
	"github.com/bananapics/core/internal/telemetry"
)

const (
	pollChanSize    = 1000
	defaultPollRate = 3 * time.Second
)

// pollTask is one non-terminal generation awaiting a Status Poller.
type pollTask struct {
	job    *core.GenerationJob
	coords app.ChatCoords
}

// GenerationPoller implements spec.md §4.B: one independent polling loop
// per non-terminal generation, run from a shared task channel.
type GenerationPoller struct {
	generations  storage.GenerationStore
	ledger       *app.LedgerService
	trials       storage.TrialStore
	registry     *provider.Registry
	chat         core.Chat
	pollInterval time.Duration
	maxDuration  time.Duration
	metrics      *telemetry.Metrics // nil = no metrics

	ch chan pollTask
}

// NewGenerationPoller returns a GenerationPoller. Satisfies
// app.PollerHandoff. metrics may be nil.
func NewGenerationPoller(
	generations storage.GenerationStore,
	ledger *app.LedgerService,
	trials storage.TrialStore,
	registry *provider.Registry,
	chat core.Chat,
	pollInterval, maxDuration time.Duration,
	metrics *telemetry.Metrics,
) *GenerationPoller {
	if pollInterval <= 0 {
		pollInterval = defaultPollRate
	}
	return &GenerationPoller{
		generations:  generations,
		ledger:       ledger,
		trials:       trials,
		registry:     registry,
		chat:         chat,
		pollInterval: pollInterval,
		maxDuration:  maxDuration,
		metrics:      metrics,
		ch:           make(chan pollTask, pollChanSize),
	}
}

// Name returns the worker identifier.
func (p *GenerationPoller) Name() string { return "generation_poller" }

// Enqueue implements app.PollerHandoff: a job handed off by the
// Submission Gateway is queued for an independent poll goroutine.
func (p *GenerationPoller) Enqueue(job *core.GenerationJob, coords app.ChatCoords) {
	select {
	case p.ch <- pollTask{job: job, coords: coords}:
	default:
		slog.Warn("poller queue full, dropping poll task", "job_id", job.ID)
	}
}

// Run consumes queued tasks and spawns one goroutine per generation,
// until ctx is cancelled.
func (p *GenerationPoller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-p.ch:
			go p.pollOne(ctx, task)
		}
	}
}

// pollOne runs the sleep/poll/map-state loop for a single generation
// until it reaches a terminal state or times out.
func (p *GenerationPoller) pollOne(ctx context.Context, task pollTask) {
	job := task.job
	deadline := job.SubmittedAt.Add(p.maxDuration)
	consecutiveErrors := 0

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			p.failTimeout(ctx, job, task.coords)
			return
		}

		done, err := p.pollStep(ctx, job, task.coords)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors == 3 || consecutiveErrors == 6 || consecutiveErrors == 10 {
				p.notifyRetrying(ctx, job, task.coords, consecutiveErrors)
			}
			continue
		}
		consecutiveErrors = 0
		if done {
			return
		}
	}
}

// pollStep runs one poll-and-transition iteration against the upstream
// provider. Returns done=true once the job has reached a terminal state
// (complete/fail already persisted and notified).
func (p *GenerationPoller) pollStep(ctx context.Context, job *core.GenerationJob, coords app.ChatCoords) (done bool, err error) {
	dispatcher, err := p.registry.Get(job.ProviderName)
	if err != nil {
		return false, err
	}

	status, err := dispatcher.GetPrediction(ctx, job.UpstreamJobID)
	if err != nil {
		if p.metrics != nil {
			p.metrics.GenerationPollErrorsTotal.WithLabelValues(job.ProviderName).Inc()
		}
		return false, err
	}

	switch status.Status {
	case core.StatusCompleted:
		p.complete(ctx, job, coords, status)
		return true, nil
	case core.StatusFailed:
		p.fail(ctx, job, coords, status.ErrorMessage)
		return true, nil
	case core.StatusProcessing:
		if job.Status == core.StatusPending {
			job.Status = core.StatusProcessing
		}
		now := time.Now()
		job.LastPolledAt = &now
		_ = p.generations.UpdateJob(ctx, job)
		return false, nil
	default:
		now := time.Now()
		job.LastPolledAt = &now
		_ = p.generations.UpdateJob(ctx, job)
		return false, nil
	}
}

// RefreshOnce runs a single poll iteration for job synchronously, for the
// Submission API's refresh button (spec.md §6's
// POST /generations/{id}/refresh). Unlike the background loop it does not
// sleep or retry on transient error; the caller surfaces the current,
// possibly-unchanged job state either way.
func (p *GenerationPoller) RefreshOnce(ctx context.Context, job *core.GenerationJob, coords app.ChatCoords) (*core.GenerationJob, error) {
	if job.IsTerminal() {
		return job, nil
	}
	if time.Now().After(job.SubmittedAt.Add(p.maxDuration)) {
		p.failTimeout(ctx, job, coords)
		return job, nil
	}
	if _, err := p.pollStep(ctx, job, coords); err != nil {
		return job, nil
	}
	return job, nil
}

func (p *GenerationPoller) complete(ctx context.Context, job *core.GenerationJob, coords app.ChatCoords, status *core.PredictionStatus) {
	urls := dedupeURLs(status.OutputURLs)
	now := time.Now()

	if len(urls) > 0 {
		if err := p.generations.CreateResult(ctx, &core.GenerationResult{
			ID:           uuid.NewString(),
			GenerationID: job.RequestID,
			OutputURLs:   urls,
			CreatedAt:    now,
		}); err != nil {
			slog.Error("poller: persist result failed", "job_id", job.ID, "error", err)
		}
	}

	job.Status = core.StatusCompleted
	job.CompletedAt = &now
	if err := p.generations.UpdateJob(ctx, job); err != nil {
		slog.Error("poller: update job failed", "job_id", job.ID, "error", err)
	}

	duration := now.Sub(job.SubmittedAt)
	caption := buildResultCaption(job, duration)
	if p.chat != nil && len(urls) > 0 {
		if err := p.chat.SendPhoto(ctx, coords.ChatID, urls[0], caption, "", ""); err != nil {
			slog.Warn("poller: send result failed", "job_id", job.ID, "error", err)
		}
	}
}

func (p *GenerationPoller) fail(ctx context.Context, job *core.GenerationJob, coords app.ChatCoords, errorMessage string) {
	now := time.Now()
	job.Status = core.StatusFailed
	job.ErrorMessage = errorMessage
	job.CompletedAt = &now
	if err := p.generations.UpdateJob(ctx, job); err != nil {
		slog.Error("poller: update job failed", "job_id", job.ID, "error", err)
	}

	refunded := p.compensate(ctx, job)
	if p.chat != nil {
		_ = p.chat.SendMessage(ctx, coords.ChatID, buildFailureNotice(errorMessage, refunded), "", "")
	}
}

func (p *GenerationPoller) failTimeout(ctx context.Context, job *core.GenerationJob, coords app.ChatCoords) {
	p.fail(ctx, job, coords, "polling timeout")
}

// compensate posts the refund and clears the trial use for a failed
// generation, per §4.C, returning the credits refunded (0 if the request
// was a trial use).
func (p *GenerationPoller) compensate(ctx context.Context, job *core.GenerationJob) int64 {
	if job.PriceCredits == 0 {
		_ = p.trials.ClearTrialUsed(ctx, job.UserID)
		return 0
	}
	if err := p.ledger.Refund(ctx, job.UserID, job.PriceCredits, "refund_"+job.RequestID); err != nil {
		slog.Error("poller: refund failed", "job_id", job.ID, "error", err)
		return 0
	}
	return job.PriceCredits
}

func (p *GenerationPoller) notifyRetrying(ctx context.Context, job *core.GenerationJob, coords app.ChatCoords, errorCount int) {
	if p.chat == nil {
		return
	}
	_ = p.chat.EditMessageText(ctx, coords.ChatID, coords.StatusMessageID, "Still working on it...")
	slog.Warn("poller: transient errors", "job_id", job.ID, "count", errorCount)
}

func dedupeURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func buildResultCaption(job *core.GenerationJob, duration time.Duration) string {
	return "#" + job.ModelKey + " | cost: " + formatCredits(job.PriceCredits) + " | " + duration.Round(time.Second).String()
}

func buildFailureNotice(errorMessage string, refunded int64) string {
	if refunded > 0 {
		return "Generation failed: " + errorMessage + ". Refunded " + formatCredits(refunded) + "."
	}
	return "Generation failed: " + errorMessage
}

func formatCredits(c int64) string {
	return strconv.FormatInt(c, 10)
}
