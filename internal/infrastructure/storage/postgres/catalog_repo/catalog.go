// Package catalog_repo reads product and retailer address data owned by
// the marketplace catalog.
package catalog_repo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotpool/internal/core/apperror"
	"lotpool/internal/domain/catalog"
	"lotpool/internal/infrastructure/storage/postgres"
)

const (
	productsTable  = "products"
	addressesTable = "retailer_addresses"
)

var (
	_ catalog.ProductLookup = (*CatalogRepo)(nil)
	_ catalog.AddressBook   = (*CatalogRepo)(nil)

	productCols = postgres.ExtractDBColumns[catalog.Product]()
	addressCols = postgres.ExtractDBColumns[catalog.Address]()
)

// CatalogRepo implements catalog.ProductLookup and catalog.AddressBook.
type CatalogRepo struct {
	txManager *postgres.TxManager
}

// NewCatalogRepo creates a new catalog repository.
func NewCatalogRepo(txManager *postgres.TxManager) *CatalogRepo {
	return &CatalogRepo{txManager: txManager}
}

// GetProduct fails with NOT_FOUND for unknown products.
func (r *CatalogRepo) GetProduct(ctx context.Context, productID string) (*catalog.Product, error) {
	sql, args, err := postgres.Builder().
		Select(productCols...).
		From(productsTable).
		Where(squirrel.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var p catalog.Product
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("product", productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// GetAddress returns nil when the retailer has no address on file.
func (r *CatalogRepo) GetAddress(ctx context.Context, retailerID string) (*catalog.Address, error) {
	sql, args, err := postgres.Builder().
		Select(addressCols...).
		From(addressesTable).
		Where(squirrel.Eq{"retailer_id": retailerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var a catalog.Address
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &a, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return &a, nil
}

// UpsertProduct inserts or replaces a product row.
func (r *CatalogRepo) UpsertProduct(ctx context.Context, p catalog.Product) error {
	return r.upsert(ctx, upsertQuery(productsTable, "id", postgres.StructToMap(p)))
}

// UpsertAddress inserts or replaces a retailer address.
func (r *CatalogRepo) UpsertAddress(ctx context.Context, a catalog.Address) error {
	return r.upsert(ctx, upsertQuery(addressesTable, "retailer_id", postgres.StructToMap(a)))
}

func (r *CatalogRepo) upsert(ctx context.Context, q squirrel.InsertBuilder) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func upsertQuery(table, keyCol string, data map[string]any) squirrel.InsertBuilder {
	cols := make([]string, 0, len(data))
	for col := range data {
		if col != keyCol {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)

	set := make([]string, len(cols))
	for i, col := range cols {
		set[i] = col + " = EXCLUDED." + col
	}
	return postgres.Builder().
		Insert(table).
		SetMap(data).
		Suffix("ON CONFLICT (" + keyCol + ") DO UPDATE SET " + strings.Join(set, ", "))
}
