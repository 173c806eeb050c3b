package lifecycle

import (
	"context"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// EventPublisher receives domain events after the corresponding mutation has
// durably succeeded. Implementations must be best-effort: they may drop
// events but must never return control-flow errors to the engine.
type EventPublisher interface {
	IncidentCreated(incident *domain.Incident)
	IncidentUpdated(incident *domain.Incident)
	StatusChanged(incidentID string, status domain.IncidentStatus)
	Assigned(incidentID, assigneeID string)
	ChatUpdated(incidentID string, message domain.ChatMessage)
	RemediationStatusChanged(incidentID, remediationID string, status domain.RemediationStatus)
	NotifyUser(userID string, n domain.Notification)
	NotifyRole(role domain.Role, n domain.Notification)
	Broadcast(n domain.Notification)
}

// AuditRecorder records state-changing operations. Recording never fails the
// triggering operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}
