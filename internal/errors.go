package core

import "errors"

// Sentinel errors for the generation-core domain.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrRateLimited            = errors.New("rate limited")
	ErrBadRequest             = errors.New("bad request")
	ErrModelNotFound          = errors.New("model not found")
	ErrParameterNotSupported  = errors.New("parameter not supported for model")
	ErrParameterInvalid       = errors.New("invalid parameter value")
	ErrReferenceRequired      = errors.New("reference image required for mode")
	ErrReferenceNotFound      = errors.New("reference image not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrActiveGenerationLimit  = errors.New("active generation limit reached")
	ErrProviderBalanceLow     = errors.New("provider balance too low")
	ErrProviderSubmitFailed   = errors.New("provider submit failed")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrRecipientBlocked       = errors.New("recipient blocked the bot")
	ErrBroadcastNotDraft      = errors.New("broadcast is not in draft state")
	ErrBroadcastNotRunning    = errors.New("broadcast is not running")
	ErrTrialAlreadyUsed       = errors.New("trial already used")
)
