package messages

// WebhookTestResponse reports the outcome of a merchant-initiated test delivery.
type WebhookTestResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}
