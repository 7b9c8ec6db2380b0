package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	paymentsvc "github.com/mvolkov/trackstore/internal/services/payments"
)

// VerifyEvent authenticates a raw webhook delivery and decodes it into a
// typed event. The signature is checked over the unparsed body; nothing is
// deserialized before verification succeeds.
func (c *Client) VerifyEvent(payload []byte, signature string) (paymentsvc.WebhookEvent, error) {
	if c == nil || c.webhookSecret == "" {
		return paymentsvc.WebhookEvent{}, fmt.Errorf("stripe webhook secret is not configured")
	}
	if strings.TrimSpace(signature) == "" {
		return paymentsvc.WebhookEvent{}, paymentsvc.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return paymentsvc.WebhookEvent{}, paymentsvc.ErrInvalidSignature
		}
		return paymentsvc.WebhookEvent{}, paymentsvc.ErrMalformedEvent
	}

	out := paymentsvc.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	switch out.Type {
	case paymentsvc.EventTypeCheckoutCompleted, paymentsvc.EventTypeAsyncPaymentSucceeded:
	default:
		return out, nil
	}

	var sess struct {
		ID            string            `json:"id"`
		AmountTotal   int64             `json:"amount_total"`
		Currency      string            `json:"currency"`
		PaymentStatus string            `json:"payment_status"`
		Metadata      map[string]string `json:"metadata"`
	}
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &sess) != nil {
		return paymentsvc.WebhookEvent{}, paymentsvc.ErrMalformedEvent
	}

	// Sessions completed via delayed payment methods report "unpaid" on the
	// completed event and deliver the session again as
	// async_payment_succeeded once the charge settles. Only the settled
	// delivery carries "paid" and gets recorded.
	if sess.PaymentStatus != "" && !strings.EqualFold(sess.PaymentStatus, "paid") {
		return out, nil
	}

	out.Completed = &paymentsvc.CompletedCheckout{
		SessionID:  sess.ID,
		Amount:     sess.AmountTotal,
		Currency:   sess.Currency,
		Metadata:   sess.Metadata,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrTooOld)
}
