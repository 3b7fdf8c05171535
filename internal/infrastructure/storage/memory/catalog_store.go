package memory

import (
	"context"
	"sync"

	"lotpool/internal/core/apperror"
	"lotpool/internal/domain/catalog"
)

var (
	_ catalog.ProductLookup = (*CatalogStore)(nil)
	_ catalog.AddressBook   = (*CatalogStore)(nil)
)

// CatalogStore holds products and retailer addresses.
type CatalogStore struct {
	mu        sync.RWMutex
	products  map[string]catalog.Product
	addresses map[string]catalog.Address
}

// NewCatalogStore creates an empty store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products:  make(map[string]catalog.Product),
		addresses: make(map[string]catalog.Address),
	}
}

// PutProduct adds or replaces a product.
func (s *CatalogStore) PutProduct(p catalog.Product) {
	s.mu.Lock()
	s.products[p.ID] = p
	s.mu.Unlock()
}

// PutAddress adds or replaces a retailer address.
func (s *CatalogStore) PutAddress(a catalog.Address) {
	s.mu.Lock()
	s.addresses[a.RetailerID] = a
	s.mu.Unlock()
}

// GetProduct implements catalog.ProductLookup.
func (s *CatalogStore) GetProduct(_ context.Context, productID string) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, apperror.NewNotFound("product", productID)
	}
	return &p, nil
}

// GetAddress implements catalog.AddressBook.
func (s *CatalogStore) GetAddress(_ context.Context, retailerID string) (*catalog.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.addresses[retailerID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}
