package models

import (
	"encoding/json"
	"time"
)

// PendingStatus is the lifecycle state of a confirmation-gated action.
type PendingStatus string

// Pending action statuses. Only pending may move, and only once.
const (
	StatusPending  PendingStatus = "pending"
	StatusApproved PendingStatus = "approved"
	StatusDenied   PendingStatus = "denied"
	StatusExpired  PendingStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s PendingStatus) Terminal() bool {
	return s != StatusPending
}

// PendingAction is a buffered service call awaiting a human decision.
type PendingAction struct {
	ID         string          `json:"action_id"`
	Domain     string          `json:"domain"`
	Service    string          `json:"service"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	SourceIP   string          `json:"source_ip"`
	KeyID      string          `json:"key_id,omitempty"`
	Status     PendingStatus   `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}
