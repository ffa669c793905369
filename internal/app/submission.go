package app

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/lock"
	"github.com/bananapics/core/internal/storage"
)

// ChatCoords locates where a generation's progress and result messages
// should be delivered. It is not persisted: on process restart, the
// Status Poller is re-derived from ListNonTerminalJobs alone and simply
// posts a fresh status message rather than editing the original one.
type ChatCoords struct {
	ChatID          int64
	StatusMessageID int64
	PromptMessageID int64
}

// PollerHandoff enqueues a non-terminal job for the Status Poller.
type PollerHandoff interface {
	Enqueue(job *core.GenerationJob, coords ChatCoords)
}

// SubmitParams is the input to the Submission Gateway's one operation.
type SubmitParams struct {
	TelegramID        int64
	ModelKey          string
	Prompt            string
	Params            map[string]string // size, aspect_ratio, resolution, quality, input_fidelity
	ReferenceURLs     []string
	ReferenceFileIDs  []string
	Coords            ChatCoords
}

// SubmitOutcome is returned on successful admission.
type SubmitOutcome struct {
	Request       *core.GenerationRequest
	Job           *core.GenerationJob
	UpstreamJobID string
	TrialUsed     bool
}

const maxReferences = 10

// ActiveLimitError carries the structured fields the Submission API's 409
// response body surfaces alongside core.ErrActiveGenerationLimit.
type ActiveLimitError struct {
	Active int
	Limit  int
}

func (e *ActiveLimitError) Error() string {
	return fmt.Sprintf("%s: active=%d limit=%d", core.ErrActiveGenerationLimit, e.Active, e.Limit)
}

func (e *ActiveLimitError) Unwrap() error { return core.ErrActiveGenerationLimit }

var sizePattern = regexp.MustCompile(`^(\d+)[x*](\d+)$`)

// SubmissionGateway implements spec.md §4.A: validate, price, admit,
// charge, submit upstream, persist.
type SubmissionGateway struct {
	users        storage.UserStore
	catalog      storage.CatalogStore
	generations  storage.GenerationStore
	trials       storage.TrialStore
	ledger       *LedgerService
	pricing      *PricingService
	gate         *ProviderGate
	locks        *lock.Striped
	maxActive    int
	maxPollWait  time.Duration
}

// NewSubmissionGateway returns a SubmissionGateway.
func NewSubmissionGateway(
	users storage.UserStore,
	catalog storage.CatalogStore,
	generations storage.GenerationStore,
	trials storage.TrialStore,
	ledger *LedgerService,
	pricing *PricingService,
	gate *ProviderGate,
	maxActive int,
	maxPollWait time.Duration,
) *SubmissionGateway {
	return &SubmissionGateway{
		users:       users,
		catalog:     catalog,
		generations: generations,
		trials:      trials,
		ledger:      ledger,
		pricing:     pricing,
		gate:        gate,
		locks:       lock.New(),
		maxActive:   maxActive,
		maxPollWait: maxPollWait,
	}
}

// Submit runs the full ordered admission sequence and, on success,
// dispatches to the upstream provider. handoff may be nil (tests,
// synchronous-only deployments); when non-nil it is invoked exactly
// once, for a non-terminal job only.
func (g *SubmissionGateway) Submit(ctx context.Context, p SubmitParams, handoff PollerHandoff) (*SubmitOutcome, error) {
	model, err := g.catalog.GetModel(ctx, p.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrModelNotFound, p.ModelKey)
	}

	// Step 1: provider-gate check, ahead of the per-user lock since it
	// touches no user state.
	dispatcher, err := g.gate.Check(ctx, model.ProviderName)
	if err != nil {
		return nil, err
	}

	var outcome *SubmitOutcome
	lockErr := g.locks.With(p.TelegramID, func() error {
		var err error
		outcome, err = g.admit(ctx, p, model, dispatcher)
		return err
	})
	if lockErr != nil {
		return nil, lockErr
	}

	if handoff != nil && !outcome.Job.IsTerminal() {
		handoff.Enqueue(outcome.Job, p.Coords)
	}
	return outcome, nil
}

// admit runs steps 2-13 of §4.A under the caller's per-user lock.
func (g *SubmissionGateway) admit(ctx context.Context, p SubmitParams, model *core.ModelCatalog, dispatcher core.Dispatcher) (*SubmitOutcome, error) {
	user, err := g.materializeUser(ctx, p.TelegramID)
	if err != nil {
		return nil, err
	}

	params := normalizeParams(model.Key, p.Params)
	mode := core.ModeT2I
	if len(p.ReferenceURLs) > 0 || len(p.ReferenceFileIDs) > 0 {
		mode = core.ModeI2I
	}

	if err := validateCapabilities(model, params); err != nil {
		return nil, err
	}
	if err := validateReferences(model, mode, len(p.ReferenceURLs)+len(p.ReferenceFileIDs)); err != nil {
		return nil, err
	}

	price, err := g.pricing.PriceFor(ctx, model.Key, params)
	if err != nil {
		return nil, err
	}

	activeCount, err := g.generations.CountActiveJobsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("submission: count active jobs: %w", err)
	}
	if activeCount >= g.maxActive {
		return nil, &ActiveLimitError{Active: activeCount, Limit: g.maxActive}
	}

	req := &core.GenerationRequest{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		ModelKey:     model.Key,
		Mode:         mode,
		Prompt:       p.Prompt,
		Params:       params,
		ReferenceIDs: append(append([]string{}, p.ReferenceURLs...), p.ReferenceFileIDs...),
		Status:       core.StatusPending,
		CreatedAt:    time.Now(),
	}
	if err := g.generations.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("submission: create request: %w", err)
	}
	for _, ref := range req.ReferenceIDs {
		if err := g.generations.CreateReference(ctx, &core.GenerationReference{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			FileID:    ref,
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("submission: create reference: %w", err)
		}
	}

	trialUsed, cost, err := g.chargeOrTrial(ctx, user.ID, req.ID, price)
	if err != nil {
		req.Status = core.StatusFailed
		if uerr := g.generations.UpdateRequest(ctx, req); uerr != nil {
			return nil, fmt.Errorf("submission: mark request failed: %w", uerr)
		}
		return nil, err
	}

	job := &core.GenerationJob{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		UserID:       user.ID,
		ChatID:       p.Coords.ChatID,
		ProviderName: model.ProviderName,
		ModelKey:     model.Key,
		Status:       core.StatusPending,
		PriceCredits: cost,
		SubmittedAt:  time.Now(),
		TimeoutAt:    time.Now().Add(g.maxPollWait),
	}

	result, err := dispatcher.Submit(ctx, req)
	if err != nil {
		g.gate.RecordOutcome(model.ProviderName, err)
		g.compensate(ctx, user.ID, req.ID, cost, trialUsed)
		return nil, fmt.Errorf("%w: %w", core.ErrProviderSubmitFailed, err)
	}
	g.gate.RecordOutcome(model.ProviderName, nil)

	job.UpstreamJobID = result.UpstreamJobID
	if result.Synchronous {
		now := time.Now()
		job.Status = core.StatusCompleted
		job.CompletedAt = &now
		if len(result.OutputURLs) > 0 {
			if err := g.generations.CreateResult(ctx, &core.GenerationResult{
				ID:           uuid.NewString(),
				GenerationID: req.ID,
				OutputURLs:   result.OutputURLs,
				CreatedAt:    now,
			}); err != nil {
				return nil, fmt.Errorf("submission: create result: %w", err)
			}
		}
	}

	if err := g.generations.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("submission: create job: %w", err)
	}

	return &SubmitOutcome{Request: req, Job: job, UpstreamJobID: job.UpstreamJobID, TrialUsed: trialUsed}, nil
}

// materializeUser locates the user by Telegram id, creating one if this
// is their first contact.
func (g *SubmissionGateway) materializeUser(ctx context.Context, telegramID int64) (*core.User, error) {
	user, err := g.users.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		return user, nil
	}
	user = &core.User{
		ID:           uuid.NewString(),
		TelegramID:   telegramID,
		ReferralCode: generateReferralCode(telegramID),
		CreatedAt:    time.Now(),
	}
	if err := g.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("submission: create user: %w", err)
	}
	return user, nil
}

// chargeOrTrial implements §4.A step 10: consume the one-time trial if
// unused, otherwise charge the ledger, failing on insufficient balance.
func (g *SubmissionGateway) chargeOrTrial(ctx context.Context, userID, requestID string, price int64) (trialUsed bool, cost int64, err error) {
	used, err := g.trials.HasUsedTrial(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("submission: check trial: %w", err)
	}
	if !used {
		if err := g.trials.MarkTrialUsed(ctx, &core.TrialUse{
			UserID:              userID,
			UsedAt:              time.Now(),
			GenerationRequestID: requestID,
		}); err != nil {
			return false, 0, fmt.Errorf("submission: mark trial used: %w", err)
		}
		return true, 0, nil
	}

	balance, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		return false, 0, fmt.Errorf("submission: read balance: %w", err)
	}
	if balance < price {
		return false, 0, core.ErrInsufficientBalance
	}
	if err := g.ledger.Charge(ctx, userID, price, requestID); err != nil {
		return false, 0, fmt.Errorf("submission: post charge: %w", err)
	}
	return false, price, nil
}

// compensate reverses the charge (or trial) posted for a request whose
// upstream submission failed, per §4.A step 11 and §4.C.
func (g *SubmissionGateway) compensate(ctx context.Context, userID, requestID string, cost int64, trialUsed bool) {
	if trialUsed {
		_ = g.trials.ClearTrialUsed(ctx, userID)
		return
	}
	if cost > 0 {
		_ = g.ledger.Refund(ctx, userID, cost, "refund_"+requestID)
	}
}

func validateCapabilities(model *core.ModelCatalog, params map[string]string) error {
	supported := make(map[string]bool, len(model.SupportedParams))
	for _, name := range model.SupportedParams {
		supported[name] = true
	}
	for name, value := range params {
		if !supported[name] {
			return fmt.Errorf("%w: %s", core.ErrParameterNotSupported, name)
		}
		if name == "size" {
			if err := validateSize(value); err != nil {
				return err
			}
			continue
		}
		if options, ok := model.OptionSets[name]; ok && !contains(options, value) {
			return fmt.Errorf("%w: %s %q not in %v", core.ErrParameterInvalid, name, value, options)
		}
	}
	return nil
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

// validateSize enforces the WxH / W*H format with both dimensions in
// [1024, 4096], or the literal "auto".
func validateSize(value string) error {
	if value == "auto" {
		return nil
	}
	m := sizePattern.FindStringSubmatch(value)
	if m == nil {
		return fmt.Errorf("%w: size %q", core.ErrParameterInvalid, value)
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w < 1024 || w > 4096 || h < 1024 || h > 4096 {
		return fmt.Errorf("%w: size %q out of range", core.ErrParameterInvalid, value)
	}
	return nil
}

func validateReferences(model *core.ModelCatalog, mode core.GenerationMode, count int) error {
	if count > maxReferences {
		return fmt.Errorf("%w: at most %d references", core.ErrParameterInvalid, maxReferences)
	}
	if mode == core.ModeI2I && !model.SupportsI2I {
		return fmt.Errorf("%w: %s does not support image-to-image", core.ErrReferenceRequired, model.Key)
	}
	if mode == core.ModeT2I && !model.SupportsT2I {
		return fmt.Errorf("%w: %s does not support text-to-image", core.ErrReferenceRequired, model.Key)
	}
	return nil
}

// generateReferralCode derives a short, user-facing referral code. It
// need not be cryptographically unguessable, only practically unique
// and easy to type into a Telegram deep link.
func generateReferralCode(telegramID int64) string {
	id := uuid.New()
	return strings.ToUpper(strconv.FormatInt(telegramID, 36) + id.String()[:4])
}
