package dto

type WebhookAckResponse struct {
	Received   bool `json:"received"`
	Ignored    bool `json:"ignored,omitempty"`
	Idempotent bool `json:"idempotent,omitempty"`
}
