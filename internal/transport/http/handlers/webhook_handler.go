package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	paymentsvc "github.com/mvolkov/trackstore/internal/services/payments"
	"github.com/mvolkov/trackstore/internal/transport/http/dto"
	httperrors "github.com/mvolkov/trackstore/internal/transport/http/errors"
)

const webhookBodyLimit = 1024 * 1024 // 1MiB

type WebhookVerifier interface {
	VerifyEvent(payload []byte, signature string) (paymentsvc.WebhookEvent, error)
}

// WebhookHandler receives payment provider notifications. The signature is
// the authentication for this endpoint; there is no bearer token.
type WebhookHandler struct {
	verifier WebhookVerifier
	payments *paymentsvc.Service
	log      *zap.Logger
}

func NewWebhookHandler(verifier WebhookVerifier, payments *paymentsvc.Service, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{
		verifier: verifier,
		payments: payments,
		log:      log,
	}
}

func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil || h.payments == nil {
		writeInternal(w, "WEBHOOK_SERVICE_UNAVAILABLE", "webhook handler is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "failed to read request body")
		return
	}

	event, err := h.verifier.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, paymentsvc.ErrInvalidSignature):
			// Intentionally vague; a missing header reads the same as a
			// forged one.
			writeBadRequest(w, "INVALID_SIGNATURE", "invalid webhook signature")
		case errors.Is(err, paymentsvc.ErrMalformedEvent):
			writeBadRequest(w, "MALFORMED_EVENT", "malformed webhook payload")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to verify webhook")
		}
		return
	}

	if event.Completed == nil {
		// Recognized but not actionable. Acknowledge so the provider does
		// not keep retrying an event type we will never process.
		httperrors.Write(w, http.StatusOK, dto.WebhookAckResponse{Received: true, Ignored: true})
		return
	}

	result, err := h.payments.RecordCompleted(r.Context(), *event.Completed)
	if err != nil {
		if errors.Is(err, paymentsvc.ErrMalformedEvent) {
			// Authentic but structurally incomplete. Provider retries
			// cannot repair it, so log and acknowledge.
			h.log.Warn("ignoring malformed payment event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
			)
			httperrors.Write(w, http.StatusOK, dto.WebhookAckResponse{Received: true, Ignored: true})
			return
		}

		// Durable write failed; answer non-2xx so the provider redelivers.
		h.log.Error("failed to record completed payment",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		writeInternal(w, "INTERNAL_ERROR", "failed to process webhook")
		return
	}

	if result.AlreadyProcessed {
		h.log.Info("duplicate payment delivery acknowledged",
			zap.String("event_id", event.ID),
			zap.String("session_id", result.SessionID),
		)
	} else {
		h.log.Info("purchase recorded",
			zap.String("event_id", event.ID),
			zap.String("purchase_id", result.PurchaseID),
			zap.Int64("buyer_id", result.BuyerID),
			zap.String("track_id", result.TrackID),
		)
	}

	httperrors.Write(w, http.StatusOK, dto.WebhookAckResponse{
		Received:   true,
		Idempotent: result.AlreadyProcessed,
	})
}
