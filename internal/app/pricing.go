package app

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/cache"
	"github.com/bananapics/core/internal/storage"
)

// PricingService converts a model's USD base price plus admin markup into
// a credit amount, per the catalog-wide conversion rate ($1 = creditsPerUSD).
type PricingService struct {
	store         storage.CatalogStore
	cache         cache.Cache
	creditsPerUSD int64
}

// NewPricingService returns a PricingService. c may be nil; it is stored
// but PriceFor does not consult it, so every price lookup reads the store.
func NewPricingService(store storage.CatalogStore, c cache.Cache, creditsPerUSD int64) *PricingService {
	if creditsPerUSD <= 0 {
		creditsPerUSD = 1000
	}
	return &PricingService{store: store, cache: c, creditsPerUSD: creditsPerUSD}
}

// variantKey builds a stable cache/lookup key from the dynamic-pricing
// input parameters relevant to a model's price table.
func variantKey(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "|")
}

// PriceFor resolves the credit price to charge for one generation of the
// given model with the given (already-normalized) parameters: stored
// base USD price, plus the configured markup, converted to credits.
func (p *PricingService) PriceFor(ctx context.Context, modelKey string, params map[string]string) (int64, error) {
	variant := variantKey(params)

	price, err := p.store.GetPrice(ctx, modelKey, variant)
	if err != nil && variant != "" {
		// Fall back to the model's flat price if no variant-specific row exists.
		price, err = p.store.GetPrice(ctx, modelKey, "")
	}
	if err != nil {
		return 0, fmt.Errorf("%w: no price for %s", core.ErrModelNotFound, modelKey)
	}

	base, err := usdToCredits(price.BasePriceUSD, p.creditsPerUSD)
	if err != nil {
		return 0, fmt.Errorf("pricing: parse base price: %w", err)
	}
	return applyMarkup(base, price.MarkupCredits), nil
}

// usdToCredits converts a decimal USD string to an integer credit amount,
// rounding half away from zero, using exact decimal arithmetic (big.Rat)
// instead of float64 to avoid cent-level drift.
func usdToCredits(usd string, creditsPerUSD int64) (int64, error) {
	r, ok := new(big.Rat).SetString(usd)
	if !ok {
		return 0, fmt.Errorf("invalid decimal price %q", usd)
	}
	r.Mul(r, new(big.Rat).SetInt64(creditsPerUSD))

	num := r.Num()
	den := r.Denom()
	q := new(big.Int)
	rem := new(big.Int)
	q.QuoRem(num, den, rem)

	// Round half away from zero: if 2*|rem| >= |den|, bump by one.
	twiceRem := new(big.Int).Mul(rem, big.NewInt(2))
	twiceRem.Abs(twiceRem)
	if twiceRem.Cmp(den) >= 0 {
		if num.Sign() >= 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}
	return q.Int64(), nil
}

// applyMarkup adds the admin-configured markup (floored at zero) to the
// base credit price.
func applyMarkup(baseCredits, markupCredits int64) int64 {
	if markupCredits < 0 {
		markupCredits = 0
	}
	return baseCredits + markupCredits
}
