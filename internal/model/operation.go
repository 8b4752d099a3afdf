package model

import "time"

// Operation outcome constants.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Operation is one recorded lifecycle action against a service: who was
// touched, what was attempted, and how it ended. Operations form the audit
// trail persisted by the store.
type Operation struct {
	ID         string    `json:"id"`
	Service    string    `json:"service"`
	Op         string    `json:"op"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
