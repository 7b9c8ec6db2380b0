package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripeinfra "github.com/mvolkov/trackstore/internal/infra/stripe"
	pgrepo "github.com/mvolkov/trackstore/internal/repo/postgres"
	paymentsvc "github.com/mvolkov/trackstore/internal/services/payments"
)

const testWebhookSecret = "whsec_test_secret"

type webhookPurchaseStoreStub struct {
	bySession map[string]pgrepo.PurchaseRecord
	inserts   int
}

func newWebhookPurchaseStoreStub() *webhookPurchaseStoreStub {
	return &webhookPurchaseStoreStub{bySession: make(map[string]pgrepo.PurchaseRecord)}
}

func (s *webhookPurchaseStoreStub) InsertIfAbsent(_ context.Context, purchase pgrepo.PurchaseRecord) (pgrepo.PurchaseRecord, bool, error) {
	if existing, ok := s.bySession[purchase.ProviderSessionID]; ok {
		return existing, false, nil
	}
	s.inserts++
	s.bySession[purchase.ProviderSessionID] = purchase
	return purchase, true, nil
}

func newWebhookHandlerForTest(t *testing.T, purchases *webhookPurchaseStoreStub) *WebhookHandler {
	t.Helper()

	client, err := stripeinfra.NewClient(stripeinfra.Config{
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
	})
	if err != nil {
		t.Fatalf("create stripe client: %v", err)
	}

	ids := 0
	svc := paymentsvc.NewService(purchases, func() string {
		ids++
		return fmt.Sprintf("purchase-%d", ids)
	})
	return NewWebhookHandler(client, svc, nil)
}

func signPayload(t *testing.T, payload []byte) string {
	t.Helper()

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func sessionEvent(eventType, sessionID, paymentStatus string, metadata map[string]string) []byte {
	object := map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"amount_total":   499,
		"currency":       "usd",
		"payment_status": paymentStatus,
		"metadata":       metadata,
	}
	event := map[string]any{
		"id":      "evt_" + sessionID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	}
	payload, _ := json.Marshal(event)
	return payload
}

func completedSessionEvent(sessionID string, metadata map[string]string) []byte {
	return sessionEvent("checkout.session.completed", sessionID, "paid", metadata)
}

func performWebhookRequest(h *WebhookHandler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.HandlePayment(rec, req)
	return rec
}

func TestWebhookRecordsPurchase(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)

	payload := completedSessionEvent("cs_test_1", map[string]string{
		"buyer_id": "42",
		"track_id": "track-1",
	})
	rec := performWebhookRequest(h, payload, signPayload(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, body=%s", rec.Code, rec.Body.String())
	}
	if purchases.inserts != 1 {
		t.Fatalf("expected 1 purchase insert, got %d", purchases.inserts)
	}

	stored := purchases.bySession["cs_test_1"]
	if stored.BuyerID != 42 || stored.TrackID != "track-1" {
		t.Fatalf("unexpected purchase: %+v", stored)
	}
	if stored.Status != pgrepo.PurchaseStatusPaid {
		t.Fatalf("unexpected status: %q", stored.Status)
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)

	payload := completedSessionEvent("cs_test_1", map[string]string{
		"buyer_id": "42",
		"track_id": "track-1",
	})

	first := performWebhookRequest(h, payload, signPayload(t, payload))
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery: got %d", first.Code)
	}

	second := performWebhookRequest(h, payload, signPayload(t, payload))
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate delivery must be acknowledged, got %d", second.Code)
	}

	var ack struct {
		Received   bool `json:"received"`
		Idempotent bool `json:"idempotent"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Received || !ack.Idempotent {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if purchases.inserts != 1 {
		t.Fatalf("duplicate delivery wrote a second purchase: %d inserts", purchases.inserts)
	}
}

func TestWebhookRecordsDelayedPaymentOnAsyncSuccess(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)
	metadata := map[string]string{
		"buyer_id": "42",
		"track_id": "track-1",
	}

	// The session completes before the bank transfer settles: nothing to
	// record yet.
	unpaid := sessionEvent("checkout.session.completed", "cs_test_1", "unpaid", metadata)
	rec := performWebhookRequest(h, unpaid, signPayload(t, unpaid))
	if rec.Code != http.StatusOK {
		t.Fatalf("unpaid completion must be acknowledged, got %d", rec.Code)
	}
	if purchases.inserts != 0 {
		t.Fatalf("unpaid completion must not write, got %d inserts", purchases.inserts)
	}

	settled := sessionEvent("checkout.session.async_payment_succeeded", "cs_test_1", "paid", metadata)
	rec = performWebhookRequest(h, settled, signPayload(t, settled))
	if rec.Code != http.StatusOK {
		t.Fatalf("settled delivery must be acknowledged, got %d, body=%s", rec.Code, rec.Body.String())
	}
	if purchases.inserts != 1 {
		t.Fatalf("settled delivery must record the purchase, got %d inserts", purchases.inserts)
	}

	stored := purchases.bySession["cs_test_1"]
	if stored.BuyerID != 42 || stored.TrackID != "track-1" {
		t.Fatalf("unexpected purchase: %+v", stored)
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)

	payload := completedSessionEvent("cs_test_1", map[string]string{
		"buyer_id": "42",
		"track_id": "track-1",
	})
	signature := signPayload(t, payload)

	tampered := bytes.Replace(payload, []byte(`"buyer_id":"42"`), []byte(`"buyer_id":"43"`), 1)
	rec := performWebhookRequest(h, tampered, signature)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("tampered body must be rejected, got %d", rec.Code)
	}
	if purchases.inserts != 0 {
		t.Fatalf("tampered delivery must not write, got %d inserts", purchases.inserts)
	}

	var payloadErr struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payloadErr); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payloadErr.Code != "INVALID_SIGNATURE" {
		t.Fatalf("unexpected error code: %q", payloadErr.Code)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)

	payload := completedSessionEvent("cs_test_1", map[string]string{
		"buyer_id": "42",
		"track_id": "track-1",
	})
	rec := performWebhookRequest(h, payload, "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsigned delivery must be rejected, got %d", rec.Code)
	}
	if purchases.inserts != 0 {
		t.Fatalf("unsigned delivery must not write, got %d inserts", purchases.inserts)
	}
}

func TestWebhookIgnoresUnrelatedEventType(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)

	event := map[string]any{
		"id":      "evt_other",
		"object":  "event",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": map[string]any{"id": "in_1"}},
	}
	payload, _ := json.Marshal(event)
	rec := performWebhookRequest(h, payload, signPayload(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("unrelated event must be acknowledged, got %d", rec.Code)
	}

	var ack struct {
		Received bool `json:"received"`
		Ignored  bool `json:"ignored"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Received || !ack.Ignored {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if purchases.inserts != 0 {
		t.Fatalf("unrelated event must not write, got %d inserts", purchases.inserts)
	}
}

func TestWebhookAcknowledgesVerifiedButIncompleteMetadata(t *testing.T) {
	purchases := newWebhookPurchaseStoreStub()
	h := newWebhookHandlerForTest(t, purchases)

	payload := completedSessionEvent("cs_test_1", map[string]string{
		"buyer_id": "42",
	})
	rec := performWebhookRequest(h, payload, signPayload(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("authentic but incomplete event must be acknowledged, got %d", rec.Code)
	}
	if purchases.inserts != 0 {
		t.Fatalf("incomplete event must not write, got %d inserts", purchases.inserts)
	}
}
