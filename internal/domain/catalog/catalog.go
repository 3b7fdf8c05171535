// Package catalog holds the read-only collaborators the core consumes:
// product data for closure snapshots, retailer addresses for zone keys and
// the shipping-cost formula.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"lotpool/internal/domain/lot"
)

// Product is the subset of catalog data captured when a lot closes.
type Product struct {
	ID               string          `db:"id" json:"id"`
	FactoryID        string          `db:"factory_id" json:"factoryId"`
	Name             string          `db:"name" json:"name"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unitPrice"`
	NetProfitPerUnit decimal.Decimal `db:"net_profit_per_unit" json:"netProfitPerUnit"`
	MinimumQuantity  int             `db:"minimum_quantity" json:"minimumQuantity"`
}

// Snapshot converts the product into the denormalized lot snapshot.
func (p *Product) Snapshot() *lot.ProductSnapshot {
	if p == nil {
		return nil
	}
	return &lot.ProductSnapshot{
		Name:             p.Name,
		UnitPrice:        p.UnitPrice,
		NetProfitPerUnit: p.NetProfitPerUnit,
	}
}

// ProductLookup returns NOT_FOUND for unknown products.
type ProductLookup interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

// Address is a retailer's registered delivery address.
type Address struct {
	RetailerID string `db:"retailer_id" json:"retailerId"`
	Line1      string `db:"line1" json:"line1"`
	City       string `db:"city" json:"city"`
	PostalCode string `db:"postal_code" json:"postalCode"`
}

// ZoneKey is the shipping-pool key: the normalized postal code.
func (a *Address) ZoneKey() string {
	if a == nil {
		return ""
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(a.PostalCode), " ", ""))
}

// AddressBook returns nil without error when the retailer has no address.
type AddressBook interface {
	GetAddress(ctx context.Context, retailerID string) (*Address, error)
}

// ShippingQuoter is a pure cost function for one zone of a closed lot:
// the whole zone's cost given its units and number of buyers.
type ShippingQuoter interface {
	Quote(factoryID, zoneKey string, units, buyers int) decimal.Decimal
}

// FlatRate charges a base fee per zone plus a per-unit fee. The base fee is
// what same-zone buyers pool: it is paid once per zone, not once per buyer.
type FlatRate struct {
	Base    decimal.Decimal
	PerUnit decimal.Decimal
}

// Quote implements ShippingQuoter.
func (f FlatRate) Quote(_ string, _ string, units, buyers int) decimal.Decimal {
	if units <= 0 || buyers <= 0 {
		return decimal.Zero
	}
	return f.Base.Add(f.PerUnit.Mul(decimal.NewFromInt(int64(units))))
}
