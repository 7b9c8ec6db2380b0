package handlers

import (
	"errors"
	"net/http"

	authsvc "github.com/mvolkov/trackstore/internal/services/auth"
	downloadsvc "github.com/mvolkov/trackstore/internal/services/downloads"
	"github.com/mvolkov/trackstore/internal/transport/http/dto"
	httperrors "github.com/mvolkov/trackstore/internal/transport/http/errors"
)

type DownloadHandler struct {
	downloads *downloadsvc.Service
}

func NewDownloadHandler(downloads *downloadsvc.Service) *DownloadHandler {
	return &DownloadHandler{downloads: downloads}
}

func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.downloads == nil {
		writeInternal(w, "DOWNLOAD_SERVICE_UNAVAILABLE", "download service is unavailable")
		return
	}

	grant, err := h.downloads.Get(r.Context(), identity.UserID, r.URL.Query().Get("track_id"))
	if err != nil {
		switch {
		case errors.Is(err, downloadsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "track_id is required")
		case errors.Is(err, downloadsvc.ErrNotEntitled):
			// One generic refusal for every cause; anything more specific
			// leaks whether the track exists.
			httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
				Code:    "NOT_ENTITLED",
				Message: "you do not own this track",
			})
		case errors.Is(err, downloadsvc.ErrStorageUnavailable):
			httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
				Code:    "STORAGE_UNAVAILABLE",
				Message: "downloads are temporarily unavailable, try again",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to issue download link")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.DownloadResponse{
		DownloadURL: grant.URL,
		Filename:    grant.Filename,
		ExpiresAt:   grant.ExpiresAt,
	})
}
