package dto

type CheckoutCreateRequest struct {
	TrackID string `json:"track_id"`
}

type CheckoutCreateResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}
