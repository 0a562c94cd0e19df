package api

import (
	"encoding/json"
	"time"
)

// Config holds the HTTP ingress's listen address and request tuning.
type Config struct {
	Listen         string
	ResponseWait   time.Duration // how long /commands blocks for a response before 504
}

// submitRequest is the POST /commands body.
type submitRequest struct {
	MethodLine string          `json:"methodLine"`
	UserID     string          `json:"userID,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	ExecuteAt  int64           `json:"commandExecuteTime,omitempty"`
	Deadline   int64           `json:"deadline,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// submitResponse is the POST /commands reply once the command is terminal.
type submitResponse struct {
	ID      string          `json:"id"`
	Status  int             `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
