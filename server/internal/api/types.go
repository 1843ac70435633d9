package api

// errorResponse is a generic JSON error body. Field and Reason are set for
// validation failures so callers can see which input to fix.
type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// healthResponse is the payload for GET /api/v1/health: liveness plus a
// 24-hour status breakdown for a quick fleet overview.
type healthResponse struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	Time            string `json:"time"` // RFC3339
	Subscribers     int    `json:"subscribers"`
	BuildsLast24h   int    `json:"builds_last_24h"`
	SuccessLast24h  int    `json:"success_last_24h"`
	FailureLast24h  int    `json:"failure_last_24h"`
	RunningLast24h  int    `json:"running_last_24h"`
	CancelledLast24 int    `json:"cancelled_last_24h"`
}

// ignoredResponse is returned for webhook deliveries that are accepted but
// intentionally not processed (e.g. non-completed workflow events).
type ignoredResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
