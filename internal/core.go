// Package core defines the domain types, sentinel errors, and interfaces for
// the bananapics generation orchestration core. This package has no project
// imports -- it is the dependency root.
package core

import (
	"context"
	"time"
)

// --- User ---

// User is a registered Telegram account.
type User struct {
	ID             string     `json:"id"`
	TelegramID     int64      `json:"telegram_id"`
	Username       string     `json:"username,omitempty"`
	Language       string     `json:"language,omitempty"`
	ReferralCode   string     `json:"referral_code"`
	ReferredBy     string     `json:"referred_by,omitempty"`
	Blocked        bool       `json:"blocked"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
}

// --- Ledger ---

// LedgerEntryType enumerates the kinds of balance-affecting events.
type LedgerEntryType string

const (
	LedgerDeposit       LedgerEntryType = "deposit"
	LedgerCharge        LedgerEntryType = "charge"
	LedgerRefund        LedgerEntryType = "refund"
	LedgerReferralBonus LedgerEntryType = "referral_bonus"
	LedgerAdminAdjust   LedgerEntryType = "admin_adjust"
)

// LedgerEntry is one immutable, append-only balance movement for a user.
// Amount is in credits; positive entries increase balance, negative decrease.
type LedgerEntry struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	EntryType   LedgerEntryType `json:"entry_type"`
	Amount      int64           `json:"amount"` // credits, signed
	ReferenceID string          `json:"reference_id"`
	Metadata    string          `json:"metadata,omitempty"` // free-form JSON
	CreatedAt   time.Time       `json:"created_at"`
}

// --- Model catalog ---

// ModelCatalog describes a configured generation model exposed to users.
type ModelCatalog struct {
	Key             string   `json:"key"` // e.g. "seedream-v4"
	DisplayName     string   `json:"display_name"`
	ProviderName    string   `json:"provider_name"` // dispatcher key, e.g. "wavespeed"
	SupportsT2I     bool     `json:"supports_t2i"`
	SupportsI2I     bool     `json:"supports_i2i"`
	SupportedParams []string `json:"supported_params"` // e.g. "size", "aspect_ratio", "resolution"
	// OptionSets declares the enumerated allowed values for parameters
	// other than "size" (which is range-validated instead), e.g.
	// {"aspect_ratio": ["1:1", "16:9"], "quality": ["standard", "hd"]}.
	// A parameter absent from OptionSets accepts any value.
	OptionSets map[string][]string `json:"option_sets,omitempty"`
	Enabled    bool                `json:"enabled"`
}

// ModelPrice is the pricing entry for a model, optionally varying by
// dynamic parameter combination (size|resolution|quality key).
type ModelPrice struct {
	ModelKey     string `json:"model_key"`
	VariantKey   string `json:"variant_key,omitempty"` // "" for flat pricing
	BasePriceUSD string `json:"base_price_usd"`        // decimal string, exact
	MarkupCredits int64 `json:"markup_credits"`        // additive flat markup in credits
}

// --- Generation ---

// GenerationMode is the synthesis direction.
type GenerationMode string

const (
	ModeT2I GenerationMode = "t2i"
	ModeI2I GenerationMode = "i2i"
)

// GenerationStatus is the lifecycle state of a generation job.
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
	StatusCancelled  GenerationStatus = "cancelled"
)

// GenerationRequest is the user-submitted parameters for one generation.
// Status tracks the request's own lifecycle (set pending on admission,
// terminal on an admission-time rejection such as insufficient balance);
// once a GenerationJob is created, that job's Status is authoritative for
// the in-flight/poll lifecycle.
type GenerationRequest struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	ModelKey   string            `json:"model_key"`
	Mode       GenerationMode    `json:"mode"`
	Prompt     string            `json:"prompt"`
	Params     map[string]string `json:"params,omitempty"`
	ReferenceIDs []string        `json:"reference_ids,omitempty"`
	Status     GenerationStatus  `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
}

// GenerationReference is an uploaded source image used for i2i generation.
type GenerationReference struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	FileID      string    `json:"file_id"`   // chat-platform file identifier
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerationResult holds the terminal output of a completed generation.
type GenerationResult struct {
	ID           string    `json:"id"`
	GenerationID string    `json:"generation_id"`
	OutputURLs   []string  `json:"output_urls"`
	CreatedAt    time.Time `json:"created_at"`
}

// GenerationJob tracks the durable, pollable state of one dispatched
// generation, one row per non-terminal-or-terminal generation.
type GenerationJob struct {
	ID              string           `json:"id"`
	RequestID       string           `json:"request_id"`
	UserID          string           `json:"user_id"`
	ChatID          int64            `json:"chat_id"`
	ProviderName    string           `json:"provider_name"`
	UpstreamJobID   string           `json:"upstream_job_id"`
	ModelKey        string           `json:"model_key"`
	Status          GenerationStatus `json:"status"`
	PriceCredits    int64            `json:"price_credits"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	LastPolledAt    *time.Time       `json:"last_polled_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	TimeoutAt       time.Time        `json:"timeout_at"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *GenerationJob) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// --- Trial use ---

// TrialUse records that a user has consumed their one-time free trial
// generation. One row per user; existence of the row means the trial
// is spent.
type TrialUse struct {
	UserID    string    `json:"user_id"`
	UsedAt    time.Time `json:"used_at"`
	GenerationRequestID string `json:"generation_request_id"`
}

// --- Broadcast ---

// BroadcastStatus is the lifecycle state of a broadcast campaign.
type BroadcastStatus string

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastRunning   BroadcastStatus = "running"
	BroadcastCompleted BroadcastStatus = "completed"
	BroadcastCancelled BroadcastStatus = "cancelled"
)

// BroadcastFilter selects the recipient cohort for a broadcast.
type BroadcastFilter string

const (
	FilterAll         BroadcastFilter = "all"
	FilterActive7d    BroadcastFilter = "active_7d"
	FilterActive30d   BroadcastFilter = "active_30d"
	FilterWithBalance BroadcastFilter = "with_balance"
	FilterPaidUsers   BroadcastFilter = "paid_users"
	FilterNewUsers    BroadcastFilter = "new_users"
	FilterNewUsers7d  BroadcastFilter = "new_users_7d"
)

// BroadcastContentType is the delivery shape of a broadcast's body.
type BroadcastContentType string

const (
	ContentText      BroadcastContentType = "text"
	ContentPhoto     BroadcastContentType = "photo"
	ContentVideo     BroadcastContentType = "video"
	ContentDocument  BroadcastContentType = "document"
	ContentAnimation BroadcastContentType = "animation"
)

// Broadcast is an admin-initiated mass message campaign.
type Broadcast struct {
	ID          string               `json:"id"`
	CreatedBy   string               `json:"created_by"` // admin user id
	ContentType BroadcastContentType `json:"content_type"`
	MessageText string               `json:"message_text"` // text body, or caption when MediaURL is set
	MediaURL    string               `json:"media_url,omitempty"`
	ButtonText  string               `json:"button_text,omitempty"`
	ButtonURL   string               `json:"button_url,omitempty"`
	Filter      BroadcastFilter      `json:"filter"`
	Status      BroadcastStatus      `json:"status"`
	TotalUsers  int                  `json:"total_users"`
	SentCount   int                  `json:"sent_count"`
	FailedCount int                  `json:"failed_count"`
	BlockedCount int                 `json:"blocked_count"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// HasButton reports whether the broadcast carries an inline button.
func (b *Broadcast) HasButton() bool {
	return b.ButtonText != "" && b.ButtonURL != ""
}

// BroadcastRecipientStatus is the per-recipient delivery outcome.
type BroadcastRecipientStatus string

const (
	RecipientPending   BroadcastRecipientStatus = "pending"
	RecipientSent      BroadcastRecipientStatus = "sent"
	RecipientFailed    BroadcastRecipientStatus = "failed"
	RecipientBlocked   BroadcastRecipientStatus = "blocked"
)

// BroadcastRecipient is one user's delivery record within a broadcast.
type BroadcastRecipient struct {
	ID          string                   `json:"id"`
	BroadcastID string                   `json:"broadcast_id"`
	UserID      string                   `json:"user_id"`
	Status      BroadcastRecipientStatus `json:"status"`
	AttemptedAt *time.Time               `json:"attempted_at,omitempty"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// Identity is the authenticated caller attached to request context (admin
// API boundary only; the chat front-end resolves its own user identity).
type Identity struct {
	Subject string
	Role    string // "admin"
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a new context.WithValue allocation.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Provider dispatch interfaces ---

// SubmitResult is returned by a successful upstream submission.
type SubmitResult struct {
	UpstreamJobID string
	// Synchronous is true when the upstream returned the final outputs
	// directly, with no polling required.
	Synchronous bool
	OutputURLs  []string
}

// PredictionStatus is the normalized result of a poll.
type PredictionStatus struct {
	Status       GenerationStatus
	OutputURLs   []string
	ErrorMessage string
}

// Dispatcher is implemented by each upstream image-generation provider.
type Dispatcher interface {
	// Name returns the provider identifier (e.g. "wavespeed").
	Name() string
	// Submit dispatches a generation request to the upstream.
	Submit(ctx context.Context, req *GenerationRequest) (*SubmitResult, error)
	// GetPrediction polls the upstream for the current state of a job.
	GetPrediction(ctx context.Context, upstreamJobID string) (*PredictionStatus, error)
	// Balance returns the current upstream account balance in USD.
	Balance(ctx context.Context) (float64, error)
	// ModelPricing returns the current USD unit price for a model/input
	// combination, for dynamic-pricing models.
	ModelPricing(ctx context.Context, modelID string, inputs map[string]string) (string, error)
}

// --- Chat platform client ---

// Chat is the narrow interface the core uses to talk to the chat front-end.
// buttonText/buttonURL attach a single inline link button; pass "" for
// both to send without one.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, buttonText, buttonURL string) error
	SendPhoto(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error
	SendDocument(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error
	SendVideo(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error
	SendAnimation(ctx context.Context, chatID int64, url string, caption string, buttonText, buttonURL string) error
	EditMessageText(ctx context.Context, chatID int64, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int64) error
}
