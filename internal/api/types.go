package api

import (
	"encoding/json"

	"github.com/mattjoyce/keybridge/internal/journal"
)

// CallRequest is the JSON body for POST /call/{api}/{method}
type CallRequest struct {
	Options   json.RawMessage `json:"options,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
}

// CallResponse is returned when the binary answered with a result.
type CallResponse struct {
	API    string `json:"api"`
	Method string `json:"method"`
	Result any    `json:"result"`
}

// CallsResponse is returned by GET /calls
type CallsResponse struct {
	Calls []journal.Entry `json:"calls"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
