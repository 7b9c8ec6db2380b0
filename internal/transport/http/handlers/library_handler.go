package handlers

import (
	"errors"
	"net/http"

	authsvc "github.com/mvolkov/trackstore/internal/services/auth"
	entsvc "github.com/mvolkov/trackstore/internal/services/entitlements"
	"github.com/mvolkov/trackstore/internal/transport/http/dto"
	httperrors "github.com/mvolkov/trackstore/internal/transport/http/errors"
)

type LibraryHandler struct {
	entitlements *entsvc.Service
}

func NewLibraryHandler(entitlements *entsvc.Service) *LibraryHandler {
	return &LibraryHandler{entitlements: entitlements}
}

func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENTS_SERVICE_UNAVAILABLE", "entitlements service is unavailable")
		return
	}

	purchases, err := h.entitlements.Library(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, entsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid library request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load library")
		return
	}

	items := make([]dto.LibraryItem, 0, len(purchases))
	for _, purchase := range purchases {
		items = append(items, dto.LibraryItem{
			PurchaseID:  purchase.ID,
			TrackID:     purchase.TrackID,
			Amount:      purchase.Amount,
			Currency:    purchase.Currency,
			PurchasedAt: purchase.PurchasedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.LibraryResponse{Purchases: items})
}
