package reservation

import (
	"context"
	"fmt"
	"time"

	"lotpool/internal/core/apperror"
	"lotpool/internal/core/id"
	"lotpool/internal/core/tx"
	"lotpool/internal/domain/catalog"
	"lotpool/pkg/logger"
)

// ContributionChecker is the read-only view of lots the layer needs.
type ContributionChecker interface {
	HasContribution(ctx context.Context, retailerID, productID string) (bool, error)
}

// Service implements reserve, cancel and conversion of reservations.
type Service struct {
	repo      Repository
	addresses catalog.AddressBook
	lots      ContributionChecker
	txManager tx.Manager
	ttl       time.Duration
	now       func() time.Time
}

// ServiceConfig configures the reservation service.
type ServiceConfig struct {
	Repo      Repository
	Addresses catalog.AddressBook
	Lots      ContributionChecker
	TxManager tx.Manager
	// TTL expires pending reservations; zero disables expiry.
	TTL time.Duration
	Now func() time.Time
}

// NewService creates a new reservation service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:      cfg.Repo,
		addresses: cfg.Addresses,
		lots:      cfg.Lots,
		txManager: cfg.TxManager,
		ttl:       cfg.TTL,
		now:       now,
	}
}

// Reserve claims a slot for retailerID in productID's pool.
// The address check runs first because the zone key comes from it.
func (s *Service) Reserve(ctx context.Context, productID, retailerID string, qty int) (*Reservation, error) {
	addr, err := s.addresses.GetAddress(ctx, retailerID)
	if err != nil {
		return nil, fmt.Errorf("get retailer address: %w", err)
	}
	zone := addr.ZoneKey()
	if zone == "" {
		return nil, apperror.NewMissingAddress(retailerID)
	}

	r, err := New(productID, retailerID, qty, zone, s.now())
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindPending(ctx, retailerID, productID)
		if err != nil {
			return fmt.Errorf("find pending reservation: %w", err)
		}
		if existing != nil {
			return apperror.NewAlreadyReserved(retailerID, productID).
				WithDetail("reservation_id", existing.ID)
		}
		return s.repo.Create(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reservation created",
		"reservation_id", r.ID,
		"product_id", productID,
		"qty", qty,
		"zone", zone,
	)
	return r, nil
}

// Cancel ends a pending reservation owned by retailerID.
func (s *Service) Cancel(ctx context.Context, reservationID id.ID, retailerID string) error {
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.RetailerID != retailerID {
			return apperror.NewForbidden("reservation belongs to another retailer").
				WithDetail("reservation_id", reservationID)
		}
		if err := r.Cancel(CancelByRetailer, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, r); err != nil {
			if apperror.IsConcurrentModification(err) {
				// Lost the race against conversion or expiry.
				return s.notCancellable(ctx, reservationID)
			}
			return fmt.Errorf("update reservation: %w", err)
		}
		return nil
	})
}

func (s *Service) notCancellable(ctx context.Context, reservationID id.ID) error {
	current, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	return apperror.NewNotCancellable(reservationID, string(current.Status))
}

// ConvertForPayment turns the retailer's pending reservation into a paid one.
// Returns nil, nil when the retailer had no pending reservation.
func (s *Service) ConvertForPayment(ctx context.Context, retailerID, productID, paymentID string) (*Reservation, error) {
	var converted *Reservation
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.repo.FindPending(ctx, retailerID, productID)
		if err != nil {
			return fmt.Errorf("find pending reservation: %w", err)
		}
		if r == nil {
			return nil
		}
		if err := r.Convert(paymentID, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("convert reservation: %w", err)
		}
		converted = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if converted != nil {
		logger.Info(ctx, "reservation converted",
			"reservation_id", converted.ID,
			"payment_id", paymentID,
		)
	}
	return converted, nil
}

// GetActive returns the retailer's pending reservation for productID or nil.
func (s *Service) GetActive(ctx context.Context, retailerID, productID string) (*Reservation, error) {
	return s.repo.FindPending(ctx, retailerID, productID)
}

// ListByRetailer returns every reservation of retailerID, newest first.
func (s *Service) ListByRetailer(ctx context.Context, retailerID string) ([]*Reservation, error) {
	return s.repo.ListByRetailer(ctx, retailerID)
}

// ZoneDemand reports pending demand per shipping zone for productID.
func (s *Service) ZoneDemand(ctx context.Context, productID string) ([]ZoneCount, error) {
	return s.repo.ZoneDemand(ctx, productID)
}

// Participation reports whether the retailer reserved or paid into productID.
func (s *Service) Participation(ctx context.Context, retailerID, productID string) (*Participation, error) {
	r, err := s.repo.FindPending(ctx, retailerID, productID)
	if err != nil {
		return nil, fmt.Errorf("find pending reservation: %w", err)
	}
	contributed, err := s.lots.HasContribution(ctx, retailerID, productID)
	if err != nil {
		return nil, fmt.Errorf("check contribution: %w", err)
	}
	return &Participation{
		ProductID:   productID,
		RetailerID:  retailerID,
		Reservation: r,
		Reserved:    r != nil,
		Contributed: contributed,
	}, nil
}

// ExpireStale cancels pending reservations older than the configured TTL.
// Returns the number of expired reservations; zero when expiry is disabled.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	now := s.now()
	stale, err := s.repo.ListPendingBefore(ctx, now.Add(-s.ttl), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale reservations: %w", err)
	}

	expired := 0
	for _, r := range stale {
		if err := r.Cancel(CancelExpired, now); err != nil {
			continue
		}
		err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.repo.Update(ctx, r)
		})
		if err != nil {
			if apperror.IsConcurrentModification(err) {
				continue
			}
			return expired, fmt.Errorf("expire reservation %s: %w", r.ID, err)
		}
		expired++
	}
	if expired > 0 {
		logger.Info(ctx, "reservations expired", "count", expired, "ttl", s.ttl)
	}
	return expired, nil
}
