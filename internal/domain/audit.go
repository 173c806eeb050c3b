package domain

import "time"

// AuditResult is the outcome recorded for an audited operation.
type AuditResult string

// Audit results.
const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultPartial AuditResult = "partial"
)

// AuditEntry is an immutable record of one state-changing operation.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	IncidentID string         `json:"incident_id,omitempty"`
	Details    map[string]any `json:"details"`
	Result     AuditResult    `json:"result"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
