package api

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse reports service liveness and call load.
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	ActiveCalls      int    `json:"active_calls"`
	TwilioConfigured bool   `json:"twilio_configured"`
}
