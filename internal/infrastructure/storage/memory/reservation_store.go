package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/reservation"
)

var _ reservation.Repository = (*ReservationStore)(nil)

type pendingKey struct {
	retailerID string
	productID  string
}

// ReservationStore is an in-memory reservation.Repository.
type ReservationStore struct {
	mu      sync.RWMutex
	items   map[id.ID]*reservation.Reservation
	pending map[pendingKey]id.ID
}

// NewReservationStore creates an empty store.
func NewReservationStore() *ReservationStore {
	return &ReservationStore{
		items:   make(map[id.ID]*reservation.Reservation),
		pending: make(map[pendingKey]id.ID),
	}
}

// Create implements reservation.Repository.
func (s *ReservationStore) Create(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{r.RetailerID, r.ProductID}
	if r.IsPending() {
		if _, taken := s.pending[key]; taken {
			return apperror.NewAlreadyReserved(r.RetailerID, r.ProductID)
		}
		s.pending[key] = r.ID
	}
	s.items[r.ID] = r.Clone()
	return nil
}

// GetByID implements reservation.Repository.
func (s *ReservationStore) GetByID(_ context.Context, reservationID id.ID) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[reservationID]
	if !ok {
		return nil, apperror.NewNotFound("reservation", reservationID)
	}
	return r.Clone(), nil
}

// FindPending implements reservation.Repository.
func (s *ReservationStore) FindPending(_ context.Context, retailerID, productID string) (*reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rid, ok := s.pending[pendingKey{retailerID, productID}]
	if !ok {
		return nil, nil
	}
	return s.items[rid].Clone(), nil
}

// Update implements reservation.Repository.
func (s *ReservationStore) Update(_ context.Context, r *reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[r.ID]
	if !ok {
		return apperror.NewNotFound("reservation", r.ID)
	}
	if stored.Version != r.Version-1 {
		return apperror.NewConcurrentModification("reservation", r.ID)
	}
	if stored.IsPending() && !r.IsPending() {
		delete(s.pending, pendingKey{r.RetailerID, r.ProductID})
	}
	s.items[r.ID] = r.Clone()
	return nil
}

// ListByRetailer implements reservation.Repository.
func (s *ReservationStore) ListByRetailer(_ context.Context, retailerID string) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	out := make([]*reservation.Reservation, 0)
	for _, r := range s.items {
		if r.RetailerID == retailerID {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ZoneDemand implements reservation.Repository.
func (s *ReservationStore) ZoneDemand(_ context.Context, productID string) ([]reservation.ZoneCount, error) {
	s.mu.RLock()
	byZone := map[string]*reservation.ZoneCount{}
	for _, r := range s.items {
		if r.ProductID != productID || !r.IsPending() {
			continue
		}
		zc, ok := byZone[r.ZoneKey]
		if !ok {
			zc = &reservation.ZoneCount{ZoneKey: r.ZoneKey}
			byZone[r.ZoneKey] = zc
		}
		zc.Retailers++
		zc.Qty += r.Qty
	}
	s.mu.RUnlock()

	out := make([]reservation.ZoneCount, 0, len(byZone))
	for _, zc := range byZone {
		out = append(out, *zc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneKey < out[j].ZoneKey })
	return out, nil
}

// ListPendingBefore implements reservation.Repository.
func (s *ReservationStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*reservation.Reservation, error) {
	s.mu.RLock()
	var out []*reservation.Reservation
	for _, r := range s.items {
		if r.IsPending() && r.CreatedAt.Before(cutoff) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
