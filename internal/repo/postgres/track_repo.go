package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTrackNotFound = errors.New("track not found")

// TrackRepo reads the catalog. Rows are owned by catalog administration;
// the fulfillment core never writes them.
type TrackRepo struct {
	pool *pgxpool.Pool
}

type TrackRecord struct {
	ID        string
	Title     string
	Artist    string
	Amount    int64
	Currency  string
	PriceRef  *string
	Active    bool
	ObjectKey string
	CreatedAt time.Time
}

func NewTrackRepo(pool *pgxpool.Pool) *TrackRepo {
	return &TrackRepo{pool: pool}
}

func (r *TrackRepo) FindByID(ctx context.Context, trackID string) (TrackRecord, error) {
	if r.pool == nil {
		return TrackRecord{}, fmt.Errorf("postgres pool is nil")
	}
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return TrackRecord{}, fmt.Errorf("track id is required")
	}

	var record TrackRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, title, artist, amount, currency, price_ref, active, object_key, created_at
FROM tracks
WHERE id = $1
LIMIT 1
`, trackID).Scan(
		&record.ID,
		&record.Title,
		&record.Artist,
		&record.Amount,
		&record.Currency,
		&record.PriceRef,
		&record.Active,
		&record.ObjectKey,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TrackRecord{}, ErrTrackNotFound
		}
		return TrackRecord{}, fmt.Errorf("find track by id: %w", err)
	}

	return record, nil
}
