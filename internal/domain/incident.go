package domain

import "time"

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusAcknowledged  IncidentStatus = "acknowledged"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolving     IncidentStatus = "resolving"
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusClosed        IncidentStatus = "closed"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusAcknowledged, IncidentStatusInvestigating,
		IncidentStatusResolving, IncidentStatusResolved, IncidentStatusClosed:
		return true
	}
	return false
}

// IsOpen reports whether the status counts as unresolved for SLA purposes.
func (s IncidentStatus) IsOpen() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusAcknowledged,
		IncidentStatusInvestigating, IncidentStatusResolving:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the active lifecycle.
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusClosed
}

// Severity represents the severity level of an incident.
type Severity string

// Severity levels.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// IncidentSource represents how an incident entered the system.
type IncidentSource string

// Incident sources.
const (
	SourceManual     IncidentSource = "manual"
	SourceWebhook    IncidentSource = "webhook"
	SourceMonitoring IncidentSource = "monitoring"
	SourceAPI        IncidentSource = "api"
	SourceUserReport IncidentSource = "user_report"
)

// IsValid checks if the incident source is valid.
func (s IncidentSource) IsValid() bool {
	switch s {
	case SourceManual, SourceWebhook, SourceMonitoring, SourceAPI, SourceUserReport:
		return true
	}
	return false
}

// TimelineEntry is a single record in an incident's append-only history.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details"`
}

// Timeline actions.
const (
	TimelineActionCreated            = "created"
	TimelineActionStatusChanged      = "status_changed"
	TimelineActionAssigned           = "assigned"
	TimelineActionEscalated          = "escalated"
	TimelineActionRemediationChanged = "remediation_changed"
	TimelineActionTicketLinked       = "ticket_linked"
)

// SystemActor is the actor recorded for changes not attributable to a user.
const SystemActor = "system"

// IncidentMetrics holds derived timing metrics.
// Values are recomputed on milestone transitions and never decremented.
type IncidentMetrics struct {
	TimeToAcknowledgment *int `json:"time_to_acknowledgment,omitempty"` // minutes
	MTTR                 *int `json:"mttr,omitempty"`                   // minutes
	Escalations          int  `json:"escalations"`
	AutomatedActions     int  `json:"automated_actions"`
}

// BreachType identifies which SLA deadline was missed.
type BreachType string

// Breach types.
const (
	BreachAcknowledgment BreachType = "acknowledgment"
	BreachResolution     BreachType = "resolution"
	BreachBoth           BreachType = "both"
)

// SLAState is the per-incident SLA tracking block.
type SLAState struct {
	PolicyID               *string     `json:"policy_id,omitempty"`
	AcknowledgmentDeadline *time.Time  `json:"acknowledgment_deadline,omitempty"`
	ResolutionDeadline     *time.Time  `json:"resolution_deadline,omitempty"`
	Breached               bool        `json:"breached"`
	BreachType             *BreachType `json:"breach_type,omitempty"`
	EscalationLevel        int         `json:"escalation_level"`
}

// EscalationRecord is one entry in an incident's escalation history.
type EscalationRecord struct {
	Level       int       `json:"level"`
	EscalatedAt time.Time `json:"escalated_at"`
	EscalatedBy string    `json:"escalated_by"`
	Reason      string    `json:"reason"`
}

// RemediationStatus represents the state of a remediation step.
type RemediationStatus string

// Remediation statuses.
const (
	RemediationPending   RemediationStatus = "pending"
	RemediationApproved  RemediationStatus = "approved"
	RemediationRejected  RemediationStatus = "rejected"
	RemediationExecuting RemediationStatus = "executing"
	RemediationCompleted RemediationStatus = "completed"
	RemediationFailed    RemediationStatus = "failed"
)

// IsValid checks if the remediation status is valid.
func (s RemediationStatus) IsValid() bool {
	switch s {
	case RemediationPending, RemediationApproved, RemediationRejected,
		RemediationExecuting, RemediationCompleted, RemediationFailed:
		return true
	}
	return false
}

// RequiresAdminAttention reports whether the status should notify admins.
func (s RemediationStatus) RequiresAdminAttention() bool {
	return s == RemediationPending || s == RemediationApproved
}

// RemediationStep is a proposed or executed remediation action.
type RemediationStep struct {
	ID               string            `json:"id"`
	Step             string            `json:"step"`
	Description      string            `json:"description"`
	Status           RemediationStatus `json:"status"`
	ExecutedBy       string            `json:"executed_by,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	RequiresApproval bool              `json:"requires_approval"`
	Safe             bool              `json:"safe"`
	RunbookID        *string           `json:"runbook_id,omitempty"`
	Result           string            `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// TicketProvider identifies an external ticketing system.
type TicketProvider string

// Ticket providers.
const (
	TicketProviderJira       TicketProvider = "jira"
	TicketProviderPagerDuty  TicketProvider = "pagerduty"
	TicketProviderServiceNow TicketProvider = "servicenow"
)

// IsValid checks if the ticket provider is valid.
func (p TicketProvider) IsValid() bool {
	return p == TicketProviderJira || p == TicketProviderPagerDuty || p == TicketProviderServiceNow
}

// TicketLink references an externally created ticket.
type TicketLink struct {
	Provider   TicketProvider `json:"provider"`
	ExternalID string         `json:"external_id"`
	URL        string         `json:"url"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ChatAuthor identifies who wrote a chat message.
type ChatAuthor string

// Chat authors.
const (
	ChatAuthorUser ChatAuthor = "user"
	ChatAuthorBot  ChatAuthor = "bot"
)

// ChatMessage is one entry in the incident's bot transcript.
type ChatMessage struct {
	Author      ChatAuthor `json:"author"`
	Text        string     `json:"text"`
	Timestamp   time.Time  `json:"timestamp"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
	Followups   []string   `json:"followups,omitempty"`
}

// RCAStatus represents the review state of a root cause analysis.
type RCAStatus string

// RCA statuses.
const (
	RCAStatusDraft     RCAStatus = "draft"
	RCAStatusPending   RCAStatus = "pending"
	RCAStatusApproved  RCAStatus = "approved"
	RCAStatusPublished RCAStatus = "published"
)

// RCA is the root cause analysis attached to a resolved incident.
type RCA struct {
	Summary             string     `json:"summary"`
	Timeline            string     `json:"timeline"`
	RootCause           string     `json:"root_cause"`
	Impact              string     `json:"impact"`
	ContributingFactors []string   `json:"contributing_factors,omitempty"`
	PreventionMeasures  []string   `json:"prevention_measures,omitempty"`
	GeneratedBy         ChatAuthor `json:"generated_by"`
	GeneratedAt         time.Time  `json:"generated_at"`
	ApprovedBy          *string    `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	Status              RCAStatus  `json:"status"`
}

// Incident is the central entity. Title, service, reporter, environment and
// source are fixed at creation; the timeline only grows.
type Incident struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Service     string         `json:"service"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	Source      IncidentSource `json:"source"`
	Environment string         `json:"environment"`
	Reporter    string         `json:"reporter"`
	Assignee    *string        `json:"assignee,omitempty"`
	Tags        []string       `json:"tags,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`

	Metrics           IncidentMetrics    `json:"metrics"`
	SLA               SLAState           `json:"sla"`
	EscalationHistory []EscalationRecord `json:"escalation_history,omitempty"`

	Timeline      []TimelineEntry   `json:"timeline"`
	Remediations  []RemediationStep `json:"remediations,omitempty"`
	TicketLinks   []TicketLink      `json:"ticket_links,omitempty"`
	BotTranscript []ChatMessage     `json:"bot_transcript,omitempty"`
	RCA           *RCA              `json:"rca,omitempty"`
}

// IsArchived returns true if the incident is soft-archived.
func (i *Incident) IsArchived() bool {
	return i.ArchivedAt != nil
}

// AgeInMinutes returns whole minutes elapsed since creation.
func (i *Incident) AgeInMinutes(now time.Time) int {
	return int(now.Sub(i.CreatedAt).Minutes())
}

// Remediation returns the remediation step with the given id, or nil.
func (i *Incident) Remediation(id string) *RemediationStep {
	for idx := range i.Remediations {
		if i.Remediations[idx].ID == id {
			return &i.Remediations[idx]
		}
	}
	return nil
}
