package config

import (
	"context"
	"testing"

	"github.com/bananapics/core/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := sqlite.New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Admin: AdminConfig{AdminKey: "bpk_test"},
		Models: []ModelEntry{
			{
				Key:             "seedream-v4",
				DisplayName:     "Seedream v4",
				Provider:        "wavespeed",
				SupportsT2I:     true,
				SupportsI2I:     true,
				SupportedParams: []string{"size", "aspect_ratio"},
				BasePriceUSD:    "0.025",
				MarkupCredits:   10,
			},
		},
	}

	// First call seeds the catalog.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	model, err := store.GetModel(ctx, "seedream-v4")
	if err != nil {
		t.Fatal("get model:", err)
	}
	if model.DisplayName != "Seedream v4" {
		t.Errorf("display name = %q, want %q", model.DisplayName, "Seedream v4")
	}

	price, err := store.GetPrice(ctx, "seedream-v4", "")
	if err != nil {
		t.Fatal("get price:", err)
	}
	if price.MarkupCredits != 10 {
		t.Errorf("markup credits = %d, want 10", price.MarkupCredits)
	}

	// Second call is idempotent -- no errors, catalog entry count unchanged.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("idempotent bootstrap:", err)
	}

	models, err := store.ListModels(ctx)
	if err != nil {
		t.Fatal("list models:", err)
	}
	if len(models) != 1 {
		t.Errorf("model count after second bootstrap = %d, want 1", len(models))
	}
}

func TestBootstrapRequiresAdminKey(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{}

	if err := Bootstrap(ctx, cfg, store); err == nil {
		t.Error("bootstrap with no admin key: expected error, got nil")
	}
}

func TestGenerateAdminKey(t *testing.T) {
	t.Parallel()
	a := GenerateAdminKey()
	b := GenerateAdminKey()
	if a == b {
		t.Error("GenerateAdminKey produced identical keys on successive calls")
	}
	if len(a) < 20 {
		t.Errorf("GenerateAdminKey produced suspiciously short key: %q", a)
	}
}
