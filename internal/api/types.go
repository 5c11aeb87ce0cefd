package api

// HealthzResponse is returned by GET /healthz
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RunID         string `json:"run_id,omitempty"`
	Finished      bool   `json:"finished"`
}

// ErrorResponse is returned on API errors
type ErrorResponse struct {
	Error string `json:"error"`
}
