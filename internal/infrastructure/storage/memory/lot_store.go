package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/domain/lot"
)

var _ lot.Repository = (*LotStore)(nil)

// LotStore keeps committed lots as immutable snapshots. A mutation clones the
// current snapshot under the lot's own mutex and swaps it in under the short
// index lock, which also enforces the open-key and payment-id uniqueness.
type LotStore struct {
	mu       sync.RWMutex
	lots     map[id.ID]*lot.Lot
	locks    map[id.ID]*sync.Mutex
	open     map[lot.Key]id.ID
	payments map[string]id.ID
	now      func() time.Time
}

// NewLotStore creates an empty store.
func NewLotStore() *LotStore {
	return &LotStore{
		lots:     make(map[id.ID]*lot.Lot),
		locks:    make(map[id.ID]*sync.Mutex),
		open:     make(map[lot.Key]id.ID),
		payments: make(map[string]id.ID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindOpenLot implements lot.Repository.
func (s *LotStore) FindOpenLot(_ context.Context, key lot.Key) (*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *lot.Lot
	for _, l := range s.lots {
		if l.Key() != key || l.IsClosed() {
			continue
		}
		if found != nil {
			return nil, apperror.NewInvariantViolation("more than one open lot for key").
				WithDetail("key", key.String())
		}
		found = l
	}
	return found.Clone(), nil
}

// GetOrCreateOpenLot implements lot.Repository.
func (s *LotStore) GetOrCreateOpenLot(_ context.Context, key lot.Key, minimumQuantity int) (*lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lotID, ok := s.open[key]; ok {
		return s.lots[lotID].Clone(), nil
	}
	l, err := lot.New(key, minimumQuantity, s.now())
	if err != nil {
		return nil, err
	}
	s.lots[l.ID] = l
	s.locks[l.ID] = &sync.Mutex{}
	s.open[key] = l.ID
	return l.Clone(), nil
}

// ApplyContribution implements lot.Repository.
func (s *LotStore) ApplyContribution(_ context.Context, lotID id.ID, c lot.Contribution, snapshot *lot.ProductSnapshot) (lot.ApplyResult, error) {
	lock, ok := s.lockFor(lotID)
	if !ok {
		return lot.ApplyResult{}, apperror.NewLotNotFound(lotID)
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	if holder, dup := s.payments[c.PaymentID]; dup {
		held := s.lots[holder].Clone()
		s.mu.RUnlock()
		return lot.ApplyResult{Lot: held, Duplicate: true}, nil
	}
	working := s.lots[lotID].Clone()
	s.mu.RUnlock()

	res, err := working.ApplyContribution(c, snapshot, s.now())
	if err != nil || res.Duplicate {
		return lot.ApplyResult{Lot: working, Duplicate: res.Duplicate}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another lot may have taken the payment while we were computing.
	if holder, dup := s.payments[c.PaymentID]; dup {
		return lot.ApplyResult{Lot: s.lots[holder].Clone(), Duplicate: true}, nil
	}
	s.payments[c.PaymentID] = lotID
	s.lots[lotID] = working
	if working.IsClosed() {
		delete(s.open, working.Key())
	}
	return lot.ApplyResult{Lot: working.Clone(), DidClose: res.DidClose}, nil
}

// GetByID implements lot.Repository.
func (s *LotStore) GetByID(_ context.Context, lotID id.ID) (*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lots[lotID]
	if !ok {
		return nil, apperror.NewLotNotFound(lotID)
	}
	return l.Clone(), nil
}

// FindLotByPayment implements lot.Repository.
func (s *LotStore) FindLotByPayment(_ context.Context, paymentID string) (*lot.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lotID, ok := s.payments[paymentID]
	if !ok {
		return nil, nil
	}
	return s.lots[lotID].Clone(), nil
}

// MarkOrderMaterialized implements lot.Repository.
func (s *LotStore) MarkOrderMaterialized(_ context.Context, lotID id.ID, orderID id.ID) error {
	lock, ok := s.lockFor(lotID)
	if !ok {
		return apperror.NewLotNotFound(lotID)
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	working := s.lots[lotID].Clone()
	s.mu.RUnlock()

	if err := working.MarkMaterialized(orderID, s.now()); err != nil {
		return err
	}

	s.mu.Lock()
	s.lots[lotID] = working
	s.mu.Unlock()
	return nil
}

// Progress implements lot.Repository.
func (s *LotStore) Progress(_ context.Context, key lot.Key) (*lot.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lotID, ok := s.open[key]; ok {
		return lot.ProgressOf(s.lots[lotID]), nil
	}
	var latest *lot.Lot
	for _, l := range s.lots {
		if l.Key() != key {
			continue
		}
		if latest == nil || l.CreatedAt.After(latest.CreatedAt) {
			latest = l
		}
	}
	if latest == nil {
		return nil, apperror.NewNotFound("lot", key.String())
	}
	return lot.ProgressOf(latest), nil
}

// HasContribution implements lot.Repository.
func (s *LotStore) HasContribution(_ context.Context, retailerID, productID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.lots {
		if l.ProductID != productID {
			continue
		}
		for _, c := range l.Contributions {
			if c.RetailerID == retailerID {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListClosedUnmaterialized implements lot.Repository.
func (s *LotStore) ListClosedUnmaterialized(_ context.Context, limit int) ([]*lot.Lot, error) {
	s.mu.RLock()
	var out []*lot.Lot
	for _, l := range s.lots {
		if l.IsClosed() && !l.IsMaterialized() {
			out = append(out, l.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ClosedAt.Before(*out[j].ClosedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored lots.
func (s *LotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lots)
}

func (s *LotStore) lockFor(lotID id.ID) (*sync.Mutex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[lotID]
	return l, ok
}
