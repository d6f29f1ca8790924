package models

import "time"

// AuditResult classifies the outcome of an audited request.
type AuditResult string

// Audit results.
const (
	ResultSuccess     AuditResult = "success"
	ResultDenied      AuditResult = "denied"
	ResultError       AuditResult = "error"
	ResultRateLimited AuditResult = "rate_limited"
	ResultClamped     AuditResult = "clamped"
	ResultPending     AuditResult = "pending"
)

// Audit event types.
const (
	EventServiceCall           = "service_call"
	EventConstraintClamped     = "constraint_clamped"
	EventConfirmationRequested = "confirmation_requested"
	EventConfirmedCall         = "confirmed_call"
	EventConfirmationDenied    = "confirmation_denied"
	EventConfirmationExpired   = "confirmation_expired"
	EventHistoryQuery          = "history_query"
	EventAuthFailed            = "auth_failed"
)

// AuditEntry is one line of the append-only audit trail. Zero-valued optional
// fields are omitted when serialized.
type AuditEntry struct {
	Timestamp      time.Time      `json:"timestamp"`
	EventType      string         `json:"event_type"`
	EntityID       string         `json:"entity_id,omitempty"`
	Domain         string         `json:"domain,omitempty"`
	Service        string         `json:"service,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	SourceIP       string         `json:"source_ip,omitempty"`
	KeyID          string         `json:"key_id,omitempty"`
	Result         AuditResult    `json:"result"`
	Error          string         `json:"error,omitempty"`
	ResponseTimeMS *float64       `json:"response_time_ms,omitempty"`
}

// AuditFilter holds filters for querying the audit log.
type AuditFilter struct {
	EntityID string
	Result   AuditResult
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// CountEntry pairs a key with an occurrence count in stats rankings.
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// AuditStats is an aggregate view of the audit trail.
type AuditStats struct {
	TotalAllTime   int                 `json:"total_all_time"`
	TotalWindow    int                 `json:"total_window"`
	Total7d        int                 `json:"total_7d"`
	WindowHours    int                 `json:"window_hours"`
	ResultsWindow  map[AuditResult]int `json:"results_window"`
	ResultsAll     map[AuditResult]int `json:"results_all"`
	TopEntities    []CountEntry        `json:"top_entities"`
	TopDenied      []CountEntry        `json:"top_denied"`
	TopIPs         []CountEntry        `json:"top_ips"`
	Hourly         []int               `json:"hourly"`
	AvgResponseMS  float64             `json:"avg_response_ms"`
	SuccessRatePct float64             `json:"success_rate"`
}
