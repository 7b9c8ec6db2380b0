package dto

import "time"

type LibraryItem struct {
	PurchaseID  string    `json:"purchase_id"`
	TrackID     string    `json:"track_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type LibraryResponse struct {
	Purchases []LibraryItem `json:"purchases"`
}
