package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPurchaseNotFound = errors.New("purchase not found")

const (
	PurchaseStatusPaid     = "paid"
	PurchaseStatusRefunded = "refunded"
	PurchaseStatusFailed   = "failed"
)

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

type PurchaseRecord struct {
	ID                string
	BuyerID           int64
	TrackID           string
	ProviderSessionID string
	Amount            int64
	Currency          string
	Status            string
	PurchasedAt       time.Time
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

// InsertIfAbsent inserts the purchase keyed by the provider session id. The
// unique constraint on provider_session_id is the concurrency primitive:
// concurrent duplicate deliveries race to insert, exactly one wins, the loser
// reads the winner's row back. Returns the persisted row and whether this
// call inserted it.
func (r *PurchaseRepo) InsertIfAbsent(ctx context.Context, purchase PurchaseRecord) (PurchaseRecord, bool, error) {
	if r.pool == nil {
		return PurchaseRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if purchase.ID == "" || purchase.BuyerID <= 0 ||
		strings.TrimSpace(purchase.TrackID) == "" || strings.TrimSpace(purchase.ProviderSessionID) == "" {
		return PurchaseRecord{}, false, fmt.Errorf("invalid purchase insert payload")
	}
	if purchase.Status == "" {
		purchase.Status = PurchaseStatusPaid
	}
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = time.Now().UTC()
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	id,
	buyer_id,
	track_id,
	provider_session_id,
	amount,
	currency,
	status,
	purchased_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (provider_session_id) DO NOTHING
RETURNING id, buyer_id, track_id, provider_session_id, amount, currency, status, purchased_at
`,
		purchase.ID,
		purchase.BuyerID,
		strings.TrimSpace(purchase.TrackID),
		strings.TrimSpace(purchase.ProviderSessionID),
		purchase.Amount,
		strings.ToLower(strings.TrimSpace(purchase.Currency)),
		purchase.Status,
		purchase.PurchasedAt.UTC(),
	))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return PurchaseRecord{}, false, fmt.Errorf("insert purchase: %w", err)
		}
	}

	existing, err := r.FindBySessionID(ctx, purchase.ProviderSessionID)
	if err != nil {
		return PurchaseRecord{}, false, fmt.Errorf("load purchase after conflict: %w", err)
	}
	return existing, false, nil
}

func (r *PurchaseRepo) FindBySessionID(ctx context.Context, sessionID string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return PurchaseRecord{}, fmt.Errorf("session id is required")
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT id, buyer_id, track_id, provider_session_id, amount, currency, status, purchased_at
FROM purchases
WHERE provider_session_id = $1
LIMIT 1
`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase by session id: %w", err)
	}

	return record, nil
}

// FindPaid is the entitlement point lookup, backed by the
// (buyer_id, track_id, status) index.
func (r *PurchaseRepo) FindPaid(ctx context.Context, buyerID int64, trackID string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	trackID = strings.TrimSpace(trackID)
	if buyerID <= 0 || trackID == "" {
		return PurchaseRecord{}, fmt.Errorf("invalid paid lookup payload")
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT id, buyer_id, track_id, provider_session_id, amount, currency, status, purchased_at
FROM purchases
WHERE buyer_id = $1
  AND track_id = $2
  AND status = $3
LIMIT 1
`, buyerID, trackID, PurchaseStatusPaid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find paid purchase: %w", err)
	}

	return record, nil
}

func (r *PurchaseRepo) ListPaidByBuyer(ctx context.Context, buyerID int64) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 {
		return nil, fmt.Errorf("invalid buyer id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, buyer_id, track_id, provider_session_id, amount, currency, status, purchased_at
FROM purchases
WHERE buyer_id = $1
  AND status = $2
ORDER BY purchased_at DESC
`, buyerID, PurchaseStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("list paid purchases: %w", err)
	}
	defer rows.Close()

	var records []PurchaseRecord
	for rows.Next() {
		record, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan paid purchase: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paid purchases: %w", err)
	}

	return records, nil
}

func scanPurchase(row pgx.Row) (PurchaseRecord, error) {
	var record PurchaseRecord
	if err := row.Scan(
		&record.ID,
		&record.BuyerID,
		&record.TrackID,
		&record.ProviderSessionID,
		&record.Amount,
		&record.Currency,
		&record.Status,
		&record.PurchasedAt,
	); err != nil {
		return PurchaseRecord{}, err
	}
	return record, nil
}
