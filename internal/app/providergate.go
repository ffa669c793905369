package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/cache"
	"github.com/bananapics/core/internal/circuitbreaker"
	"github.com/bananapics/core/internal/provider"
)

const (
	balanceCacheTTL      = 60 * time.Second
	balanceCacheKeyFmt   = "provider:balance:%s"
	lowBalanceAlertDedup = "provider:low-balance-alerted:%s"
	defaultLowBalanceUSD = 5.0
)

// BalanceLowError carries the structured fields the Submission API's 503
// response body surfaces alongside core.ErrProviderBalanceLow.
type BalanceLowError struct {
	Provider  string
	Balance   float64
	Threshold float64
}

func (e *BalanceLowError) Error() string {
	return fmt.Sprintf("%s: %s balance $%.2f below threshold $%.2f", core.ErrProviderBalanceLow, e.Provider, e.Balance, e.Threshold)
}

func (e *BalanceLowError) Unwrap() error { return core.ErrProviderBalanceLow }

// ProviderGate gates upstream submission on provider health: a cached
// balance floor check and a circuit breaker per provider, so a single
// misbehaving upstream can't be hammered by every admission in flight.
type ProviderGate struct {
	registry      *provider.Registry
	breakers      *circuitbreaker.Registry
	cache         cache.Cache
	lowBalanceUSD float64
	chat          core.Chat // nil = alert by log only
	adminChatIDs  []int64
}

// NewProviderGate returns a ProviderGate. lowBalanceUSD <= 0 defaults to
// 5.00. chat/adminChatIDs are used to alert every admin chat on a
// low-balance trip; chat may be nil.
func NewProviderGate(registry *provider.Registry, breakers *circuitbreaker.Registry, c cache.Cache, lowBalanceUSD float64, chat core.Chat, adminChatIDs []int64) *ProviderGate {
	if lowBalanceUSD <= 0 {
		lowBalanceUSD = defaultLowBalanceUSD
	}
	return &ProviderGate{registry: registry, breakers: breakers, cache: c, lowBalanceUSD: lowBalanceUSD, chat: chat, adminChatIDs: adminChatIDs}
}

// Check verifies providerName is allowed to receive a new submission:
// its breaker must be closed (or half-open, for a probe) and its cached
// balance must be above the low-balance floor.
func (g *ProviderGate) Check(ctx context.Context, providerName string) (core.Dispatcher, error) {
	d, err := g.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	breaker := g.breakers.GetOrCreate(providerName)
	if !breaker.Allow() {
		return nil, fmt.Errorf("%w: %s circuit open", core.ErrProviderUnavailable, providerName)
	}

	balance, err := g.balance(ctx, d)
	if err != nil {
		// A transient balance-query failure is treated as absent, not as
		// low: proceed rather than block admission on it.
		slog.Warn("provider balance query failed, proceeding", "provider", providerName, "error", err)
		return d, nil
	}
	if balance < g.lowBalanceUSD {
		g.alertLowBalanceOnce(ctx, providerName, balance)
		return nil, &BalanceLowError{Provider: providerName, Balance: balance, Threshold: g.lowBalanceUSD}
	}
	return d, nil
}

// RecordOutcome feeds a submission's success/failure back into the
// provider's breaker.
func (g *ProviderGate) RecordOutcome(providerName string, err error) {
	breaker := g.breakers.GetOrCreate(providerName)
	if err != nil {
		breaker.RecordError(1.0)
		return
	}
	breaker.RecordSuccess()
}

func (g *ProviderGate) balance(ctx context.Context, d core.Dispatcher) (float64, error) {
	key := fmt.Sprintf(balanceCacheKeyFmt, d.Name())
	if g.cache != nil {
		if raw, ok := g.cache.Get(ctx, key); ok {
			var cached float64
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	balance, err := d.Balance(ctx)
	if err != nil {
		return 0, err
	}
	if g.cache != nil {
		if raw, err := json.Marshal(balance); err == nil {
			g.cache.Set(ctx, key, raw, balanceCacheTTL)
		}
	}
	return balance, nil
}

// alertLowBalanceOnce alerts every admin chat at most once per TTL window
// per provider, so a stuck submission loop doesn't flood admins.
func (g *ProviderGate) alertLowBalanceOnce(ctx context.Context, providerName string, balance float64) {
	if g.cache != nil {
		key := fmt.Sprintf(lowBalanceAlertDedup, providerName)
		if _, ok := g.cache.Get(ctx, key); ok {
			return
		}
		g.cache.Set(ctx, key, []byte("1"), 10*time.Minute)
	}

	slog.Warn("provider balance low", "provider", providerName, "balance_usd", balance)
	if g.chat == nil {
		return
	}
	text := fmt.Sprintf("Provider %s balance low: $%.2f", providerName, balance)
	for _, chatID := range g.adminChatIDs {
		if err := g.chat.SendMessage(ctx, chatID, text, "", ""); err != nil {
			slog.Warn("low-balance admin alert failed", "provider", providerName, "chat_id", chatID, "error", err)
		}
	}
}
