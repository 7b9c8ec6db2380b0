package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	pgrepo "github.com/mvolkov/trackstore/internal/repo/postgres"
)

const (
	EventTypeCheckoutCompleted = "checkout.session.completed"
	// Delayed payment methods settle after the session completes; the
	// provider then delivers the same session object under this type.
	EventTypeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed payment event")
)

// WebhookEvent is a payment provider notification after signature
// verification. Completed is nil for event types the recorder ignores.
type WebhookEvent struct {
	ID        string
	Type      string
	Completed *CompletedCheckout
}

// CompletedCheckout carries the provider-reported payment completion.
// Metadata holds the correlation fields embedded at checkout time.
type CompletedCheckout struct {
	SessionID  string
	Amount     int64
	Currency   string
	Metadata   map[string]string
	OccurredAt time.Time
}

type PurchaseStore interface {
	InsertIfAbsent(ctx context.Context, purchase pgrepo.PurchaseRecord) (pgrepo.PurchaseRecord, bool, error)
}

type DeliveryStore interface {
	RecordFulfillment(ctx context.Context, purchaseID string, buyerID int64, trackID string) error
}

type RecordResult struct {
	PurchaseID       string
	BuyerID          int64
	TrackID          string
	SessionID        string
	AlreadyProcessed bool
}

// Service is the purchase recorder: it converts verified completed-checkout
// events into durable Purchase rows exactly once per provider session id.
type Service struct {
	purchases  PurchaseStore
	deliveries DeliveryStore
	newID      func() string
	now        func() time.Time
}

func NewService(purchases PurchaseStore, newID func() string) *Service {
	return &Service{
		purchases: purchases,
		newID:     newID,
		now:       time.Now,
	}
}

// AttachDeliveryLog enables the best-effort fulfillment log side effect.
func (s *Service) AttachDeliveryLog(deliveries DeliveryStore) {
	s.deliveries = deliveries
}

// RecordCompleted persists the purchase for a verified completed checkout.
// The provider session id is the sole idempotency key: a second delivery of
// the same session, concurrent or not, resolves to success-no-op. Any storage
// failure other than the uniqueness conflict is returned so the transport can
// answer non-2xx and let the provider retry.
func (s *Service) RecordCompleted(ctx context.Context, completed CompletedCheckout) (RecordResult, error) {
	if s.purchases == nil || s.newID == nil {
		return RecordResult{}, fmt.Errorf("payments dependencies are not configured")
	}

	sessionID := strings.TrimSpace(completed.SessionID)
	if sessionID == "" {
		return RecordResult{}, ErrMalformedEvent
	}

	buyerID, trackID, err := extractCorrelation(completed.Metadata)
	if err != nil {
		return RecordResult{}, err
	}
	if completed.Amount < 0 || strings.TrimSpace(completed.Currency) == "" {
		return RecordResult{}, ErrMalformedEvent
	}

	purchasedAt := completed.OccurredAt
	if purchasedAt.IsZero() {
		purchasedAt = s.now().UTC()
	}

	record, inserted, err := s.purchases.InsertIfAbsent(ctx, pgrepo.PurchaseRecord{
		ID:                s.newID(),
		BuyerID:           buyerID,
		TrackID:           trackID,
		ProviderSessionID: sessionID,
		Amount:            completed.Amount,
		Currency:          strings.ToLower(strings.TrimSpace(completed.Currency)),
		Status:            pgrepo.PurchaseStatusPaid,
		PurchasedAt:       purchasedAt,
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("insert purchase: %w", err)
	}

	if inserted {
		s.recordDeliveryBestEffort(ctx, record)
	}

	return RecordResult{
		PurchaseID:       record.ID,
		BuyerID:          record.BuyerID,
		TrackID:          record.TrackID,
		SessionID:        record.ProviderSessionID,
		AlreadyProcessed: !inserted,
	}, nil
}

// recordDeliveryBestEffort writes the fulfillment log entry. The payment has
// already happened; a failure here must not fail the recorded purchase.
func (s *Service) recordDeliveryBestEffort(ctx context.Context, record pgrepo.PurchaseRecord) {
	if s.deliveries == nil {
		return
	}
	_ = s.deliveries.RecordFulfillment(ctx, record.ID, record.BuyerID, record.TrackID)
}

func extractCorrelation(metadata map[string]string) (int64, string, error) {
	rawBuyer := strings.TrimSpace(metadata["buyer_id"])
	trackID := strings.TrimSpace(metadata["track_id"])
	if rawBuyer == "" || trackID == "" {
		return 0, "", ErrMalformedEvent
	}

	buyerID, err := strconv.ParseInt(rawBuyer, 10, 64)
	if err != nil || buyerID <= 0 {
		return 0, "", ErrMalformedEvent
	}

	return buyerID, trackID, nil
}
