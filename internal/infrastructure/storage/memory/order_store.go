package memory

import (
	"context"
	"sync"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/settlement"
)

var _ settlement.Repository = (*OrderStore)(nil)

// OrderStore is an in-memory settlement.Repository with a unique source lot.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[id.ID]*settlement.Order
	byLot  map[id.ID]id.ID
}

// NewOrderStore creates an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[id.ID]*settlement.Order),
		byLot:  make(map[id.ID]id.ID),
	}
}

// Create implements settlement.Repository.
func (s *OrderStore) Create(_ context.Context, o *settlement.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byLot[o.SourceLotID]; exists {
		return apperror.NewConflict("order already exists for lot").WithDetail("lot_id", o.SourceLotID)
	}
	s.orders[o.ID] = cloneOrder(o)
	s.byLot[o.SourceLotID] = o.ID
	return nil
}

// AssignNumber implements settlement.Repository.
func (s *OrderStore) AssignNumber(_ context.Context, orderID id.ID, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return apperror.NewNotFound("order", orderID)
	}
	o.Number = number
	return nil
}

// GetBySourceLot implements settlement.Repository.
func (s *OrderStore) GetBySourceLot(_ context.Context, lotID id.ID) (*settlement.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	oid, ok := s.byLot[lotID]
	if !ok {
		return nil, nil
	}
	return cloneOrder(s.orders[oid]), nil
}

// GetByID implements settlement.Repository.
func (s *OrderStore) GetByID(_ context.Context, orderID id.ID) (*settlement.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, apperror.NewNotFound("order", orderID)
	}
	return cloneOrder(o), nil
}

// Count returns the number of stored orders.
func (s *OrderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func cloneOrder(o *settlement.Order) *settlement.Order {
	cp := *o
	cp.Lines = append([]settlement.OrderLine(nil), o.Lines...)
	return &cp
}
