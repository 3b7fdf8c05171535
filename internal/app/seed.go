package app

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"lotpool/internal/domain/catalog"
	"lotpool/internal/infrastructure/storage/memory"
	"lotpool/pkg/logger"
)

//go:embed demo_seed.json
var demoSeed []byte

// Seed is catalog reference data loaded at bootstrap.
type Seed struct {
	Products  []catalog.Product `json:"products"`
	Addresses []catalog.Address `json:"addresses"`
}

// LoadSeed reads a seed file. An empty path yields the bundled demo catalog.
func LoadSeed(path string) (*Seed, error) {
	raw := demoSeed
	if path != "" {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
	}
	var s Seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &s, nil
}

// catalogWriter upserts reference data.
type catalogWriter interface {
	UpsertProduct(ctx context.Context, p catalog.Product) error
	UpsertAddress(ctx context.Context, a catalog.Address) error
}

type memoryCatalogWriter struct {
	store *memory.CatalogStore
}

func (w memoryCatalogWriter) UpsertProduct(_ context.Context, p catalog.Product) error {
	w.store.PutProduct(p)
	return nil
}

func (w memoryCatalogWriter) UpsertAddress(_ context.Context, a catalog.Address) error {
	w.store.PutAddress(a)
	return nil
}

// ApplySeed upserts s into the catalog in one transaction.
func (a *App) ApplySeed(ctx context.Context, s *Seed) error {
	if a.catalog == nil {
		return fmt.Errorf("catalog is not writable")
	}
	err := a.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, p := range s.Products {
			if err := a.catalog.UpsertProduct(ctx, p); err != nil {
				return fmt.Errorf("upsert product %s: %w", p.ID, err)
			}
		}
		for _, addr := range s.Addresses {
			if err := a.catalog.UpsertAddress(ctx, addr); err != nil {
				return fmt.Errorf("upsert address %s: %w", addr.RetailerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "catalog seeded", "products", len(s.Products), "addresses", len(s.Addresses))
	return nil
}
