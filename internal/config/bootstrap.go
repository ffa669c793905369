// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/storage"
)

// Bootstrap seeds the model catalog and pricing from the config file on
// every start. Catalog entries are upserted so config edits (new models,
// price changes) take effect without a migration.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, m := range cfg.Models {
		model := &core.ModelCatalog{
			Key:             m.Key,
			DisplayName:     m.DisplayName,
			ProviderName:    m.Provider,
			SupportsT2I:     m.SupportsT2I,
			SupportsI2I:     m.SupportsI2I,
			SupportedParams: m.SupportedParams,
			OptionSets:      m.OptionSets,
			Enabled:         m.IsEnabled(),
		}
		if err := store.UpsertModel(ctx, model); err != nil {
			return err
		}

		price := &core.ModelPrice{
			ModelKey:      m.Key,
			BasePriceUSD:  m.BasePriceUSD,
			MarkupCredits: m.MarkupCredits,
		}
		if err := store.UpsertPrice(ctx, price); err != nil {
			return err
		}
		slog.Info("bootstrapped model", "key", m.Key, "provider", m.Provider)
	}

	if cfg.Admin.AdminKey == "" {
		return errors.New("admin.admin_key must be set")
	}

	return nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
// The key is held only in config/environment; it is never persisted, so
// the admin API boundary authenticates by direct comparison against
// Config.Admin.AdminKey.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return "bpk_" + base64.RawURLEncoding.EncodeToString(raw)
}
