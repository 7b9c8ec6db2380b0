package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryRepo appends fulfillment log rows. Callers treat writes as
// best-effort; a failed append never affects the purchase itself.
type DeliveryRepo struct {
	pool *pgxpool.Pool
}

func NewDeliveryRepo(pool *pgxpool.Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

func (r *DeliveryRepo) RecordFulfillment(ctx context.Context, purchaseID string, buyerID int64, trackID string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	trackID = strings.TrimSpace(trackID)
	if purchaseID == "" || buyerID <= 0 || trackID == "" {
		return fmt.Errorf("invalid fulfillment payload")
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO delivery_log (purchase_id, buyer_id, track_id, created_at)
VALUES ($1, $2, $3, NOW())
`, purchaseID, buyerID, trackID); err != nil {
		return fmt.Errorf("record fulfillment: %w", err)
	}

	return nil
}
