package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	authsvc "github.com/mvolkov/trackstore/internal/services/auth"
	checkoutsvc "github.com/mvolkov/trackstore/internal/services/checkout"
	"github.com/mvolkov/trackstore/internal/transport/http/dto"
	httperrors "github.com/mvolkov/trackstore/internal/transport/http/errors"
)

type CheckoutHandler struct {
	checkout *checkoutsvc.Service
}

func NewCheckoutHandler(checkout *checkoutsvc.Service) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.checkout == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	var req dto.CheckoutCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.checkout.Create(r.Context(), identity.UserID, req.TrackID)
	if err != nil {
		var retryAfter *checkoutsvc.RetryAfterError
		switch {
		case errors.As(err, &retryAfter):
			httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
				Code:          "TOO_MANY_REQUESTS",
				Message:       "too many checkout attempts",
				RetryAfterSec: retryAfter.RetryAfterSec,
			})
		case errors.Is(err, checkoutsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid checkout payload")
		case errors.Is(err, checkoutsvc.ErrTrackNotFound):
			httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
				Code:    "TRACK_NOT_FOUND",
				Message: "track not found",
			})
		case errors.Is(err, checkoutsvc.ErrTrackInactive):
			httperrors.Write(w, http.StatusConflict, httperrors.APIError{
				Code:    "TRACK_INACTIVE",
				Message: "track is not available for purchase",
			})
		case errors.Is(err, checkoutsvc.ErrPriceNotConfigured):
			httperrors.Write(w, http.StatusConflict, httperrors.APIError{
				Code:    "PRICE_NOT_CONFIGURED",
				Message: "track is not yet available for purchase",
			})
		case errors.Is(err, checkoutsvc.ErrProviderRejected):
			httperrors.Write(w, http.StatusUnprocessableEntity, httperrors.APIError{
				Code:    "CHECKOUT_REJECTED",
				Message: "payment provider rejected the checkout request",
			})
		case errors.Is(err, checkoutsvc.ErrProviderUnavailable):
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "PROVIDER_UNAVAILABLE",
				Message: "payment provider is unavailable, try again",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to create checkout session")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CheckoutCreateResponse{
		SessionID:   result.SessionID,
		RedirectURL: result.RedirectURL,
	})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
