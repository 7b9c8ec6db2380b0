package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pgrepo "github.com/mvolkov/trackstore/internal/repo/postgres"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrTrackNotFound = errors.New("track not found")
)

type Store interface {
	FindByID(ctx context.Context, trackID string) (pgrepo.TrackRecord, error)
}

// Service is the read-only catalog lookup leaf. Track rows are created and
// priced by catalog administration, which is outside the fulfillment core.
type Service struct {
	store Store
}

type Track struct {
	ID        string
	Title     string
	Artist    string
	Amount    int64
	Currency  string
	PriceRef  string
	Active    bool
	ObjectKey string
	CreatedAt time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context, trackID string) (Track, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return Track{}, ErrValidation
	}
	if s.store == nil {
		return Track{}, fmt.Errorf("catalog store is nil")
	}

	record, err := s.store.FindByID(ctx, trackID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrTrackNotFound) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("find track: %w", err)
	}

	track := Track{
		ID:        record.ID,
		Title:     record.Title,
		Artist:    record.Artist,
		Amount:    record.Amount,
		Currency:  record.Currency,
		Active:    record.Active,
		ObjectKey: record.ObjectKey,
		CreatedAt: record.CreatedAt,
	}
	if record.PriceRef != nil {
		track.PriceRef = strings.TrimSpace(*record.PriceRef)
	}

	return track, nil
}
