package lifecycle

import (
	"context"
	"time"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// Filters narrows incident listings.
type Filters struct {
	Service  *string
	Severity *domain.Severity
	Status   *domain.IncidentStatus
	Assignee *string
	Reporter *string
	Limit    int
	Offset   int
}

// Repository is the storage collaborator for incidents. Milestone claims and
// timeline appends must be atomic single operations so that concurrent
// transitions on the same incident never lose updates.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	Get(ctx context.Context, id string) (*domain.Incident, error)
	List(ctx context.Context, filters Filters) ([]*domain.Incident, int, error)
	ListOpen(ctx context.Context) ([]*domain.Incident, error)

	// UpdateStatus sets the status and appends the timeline entry in a single
	// statement: both change together or not at all.
	UpdateStatus(ctx context.Context, id string, status domain.IncidentStatus, entry domain.TimelineEntry) error
	UpdateAssignee(ctx context.Context, id, assignee string, entry domain.TimelineEntry) error
	AppendTimeline(ctx context.Context, id string, entry domain.TimelineEntry) error

	// ClaimAcknowledged sets acknowledged_at and the acknowledgment metric only
	// if not already set. Returns false when another transition won the claim.
	ClaimAcknowledged(ctx context.Context, id string, at time.Time, minutes int) (bool, error)
	// ClaimResolved sets resolved_at and mttr only if not already set.
	ClaimResolved(ctx context.Context, id string, at time.Time, mttr int) (bool, error)
	// ClaimClosed sets closed_at only if not already set.
	ClaimClosed(ctx context.Context, id string, at time.Time) (bool, error)

	// RecordEscalation appends the escalation record and raises the escalation
	// level, unless the level is already present in the history. Returns false
	// when the level was already recorded.
	RecordEscalation(ctx context.Context, id string, rec domain.EscalationRecord) (bool, error)
	MarkBreached(ctx context.Context, id string, breachType domain.BreachType) error

	AppendChatMessage(ctx context.Context, id string, msg domain.ChatMessage) error
	AppendRemediation(ctx context.Context, id string, step domain.RemediationStep) error
	UpdateRemediationStatus(ctx context.Context, id, remediationID string, status domain.RemediationStatus, executedBy, result, errMsg string) error
	AppendTicketLink(ctx context.Context, id string, link domain.TicketLink) error
	UpdateRCA(ctx context.Context, id string, rca *domain.RCA) error

	Archive(ctx context.Context, id string, at time.Time) error
}

// PolicyRepository is the storage collaborator for SLA policies.
type PolicyRepository interface {
	ListActive(ctx context.Context) ([]*domain.SLAPolicy, error)
	Get(ctx context.Context, id string) (*domain.SLAPolicy, error)
}
