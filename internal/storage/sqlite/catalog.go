package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	core "github.com/bananapics/core/internal"
)

// UpsertModel inserts or updates a model catalog entry.
func (s *Store) UpsertModel(ctx context.Context, m *core.ModelCatalog) error {
	params, err := json.Marshal(m.SupportedParams)
	if err != nil {
		return err
	}
	options, err := json.Marshal(m.OptionSets)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO model_catalog (key, display_name, provider_name, supports_t2i, supports_i2i, supported_params, option_sets, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   display_name=excluded.display_name, provider_name=excluded.provider_name,
		   supports_t2i=excluded.supports_t2i, supports_i2i=excluded.supports_i2i,
		   supported_params=excluded.supported_params, option_sets=excluded.option_sets, enabled=excluded.enabled`,
		m.Key, m.DisplayName, m.ProviderName, boolToInt(m.SupportsT2I), boolToInt(m.SupportsI2I),
		string(params), string(options), boolToInt(m.Enabled),
	)
	return err
}

// GetModel retrieves a model catalog entry by key.
func (s *Store) GetModel(ctx context.Context, key string) (*core.ModelCatalog, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT key, display_name, provider_name, supports_t2i, supports_i2i, supported_params, option_sets, enabled
		 FROM model_catalog WHERE key = ?`, key,
	)
	return scanModel(row)
}

// ListModels returns all catalog entries.
func (s *Store) ListModels(ctx context.Context) ([]*core.ModelCatalog, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT key, display_name, provider_name, supports_t2i, supports_i2i, supported_params, option_sets, enabled
		 FROM model_catalog ORDER BY key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*core.ModelCatalog
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// UpsertPrice inserts or updates a model pricing entry. VariantKey may be
// empty for models with flat (non-dynamic) pricing.
func (s *Store) UpsertPrice(ctx context.Context, p *core.ModelPrice) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO model_prices (model_key, variant_key, base_price_usd, markup_credits)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(model_key, variant_key) DO UPDATE SET
		   base_price_usd=excluded.base_price_usd, markup_credits=excluded.markup_credits`,
		p.ModelKey, p.VariantKey, p.BasePriceUSD, p.MarkupCredits,
	)
	return err
}

// GetPrice retrieves a pricing entry for a model and optional variant key.
func (s *Store) GetPrice(ctx context.Context, modelKey, variantKey string) (*core.ModelPrice, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT model_key, variant_key, base_price_usd, markup_credits
		 FROM model_prices WHERE model_key = ? AND variant_key = ?`,
		modelKey, variantKey,
	)
	var p core.ModelPrice
	if err := row.Scan(&p.ModelKey, &p.VariantKey, &p.BasePriceUSD, &p.MarkupCredits); err != nil {
		return nil, notFoundErr(err)
	}
	return &p, nil
}

func scanModel(sc scanner) (*core.ModelCatalog, error) {
	var m core.ModelCatalog
	var supportsT2I, supportsI2I, enabled int
	var paramsJSON, optionsJSON sql.NullString

	err := sc.Scan(&m.Key, &m.DisplayName, &m.ProviderName, &supportsT2I, &supportsI2I, &paramsJSON, &optionsJSON, &enabled)
	if err != nil {
		return nil, notFoundErr(err)
	}
	m.SupportsT2I = supportsT2I != 0
	m.SupportsI2I = supportsI2I != 0
	m.Enabled = enabled != 0
	if paramsJSON.Valid {
		if err := json.Unmarshal([]byte(paramsJSON.String), &m.SupportedParams); err != nil {
			return nil, err
		}
	}
	if optionsJSON.Valid && optionsJSON.String != "" && optionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(optionsJSON.String), &m.OptionSets); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
