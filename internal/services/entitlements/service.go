package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pgrepo "github.com/mvolkov/trackstore/internal/repo/postgres"
)

var ErrValidation = errors.New("validation error")

type Store interface {
	FindPaid(ctx context.Context, buyerID int64, trackID string) (pgrepo.PurchaseRecord, error)
	ListPaidByBuyer(ctx context.Context, buyerID int64) ([]pgrepo.PurchaseRecord, error)
}

// Service answers ownership questions. A paid Purchase row is the sole
// evidence of entitlement; there is no separate entitlement table.
type Service struct {
	store Store
}

type Purchase struct {
	ID          string
	TrackID     string
	Amount      int64
	Currency    string
	PurchasedAt time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) HasPaid(ctx context.Context, buyerID int64, trackID string) (bool, error) {
	trackID = strings.TrimSpace(trackID)
	if buyerID <= 0 || trackID == "" {
		return false, ErrValidation
	}
	if s.store == nil {
		return false, fmt.Errorf("entitlement store is nil")
	}

	if _, err := s.store.FindPaid(ctx, buyerID, trackID); err != nil {
		if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find paid purchase: %w", err)
	}

	return true, nil
}

func (s *Service) Library(ctx context.Context, buyerID int64) ([]Purchase, error) {
	if buyerID <= 0 {
		return nil, ErrValidation
	}
	if s.store == nil {
		return nil, fmt.Errorf("entitlement store is nil")
	}

	records, err := s.store.ListPaidByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list paid purchases: %w", err)
	}

	purchases := make([]Purchase, 0, len(records))
	for _, record := range records {
		purchases = append(purchases, Purchase{
			ID:          record.ID,
			TrackID:     record.TrackID,
			Amount:      record.Amount,
			Currency:    record.Currency,
			PurchasedAt: record.PurchasedAt,
		})
	}

	return purchases, nil
}
