package gateway

import (
	"fmt"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// Broadcaster maps domain events to their recipient sets. Each event type has
// a fixed routing rule evaluated against current room membership at emit
// time; delivery is at-most-once with no redelivery on reconnect.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a broadcaster bound to the hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// IncidentCreated goes to every connected client.
func (b *Broadcaster) IncidentCreated(incident *domain.Incident) {
	b.hub.Broadcast(Event{Event: EventIncidentCreated, Data: incident})
}

// IncidentUpdated goes to every connected client and, additionally, to the
// incident room. Room members receiving the event twice is expected.
func (b *Broadcaster) IncidentUpdated(incident *domain.Incident) {
	event := Event{Event: EventIncidentUpdated, Data: incident}
	b.hub.Broadcast(event)
	b.hub.ToRoom(IncidentRoom(incident.ID), event)
}

// StatusChanged goes to every connected client and to the incident room.
func (b *Broadcaster) StatusChanged(incidentID string, status domain.IncidentStatus) {
	event := Event{
		Event: EventIncidentStatusChanged,
		Data:  map[string]any{"incident_id": incidentID, "status": status},
	}
	b.hub.Broadcast(event)
	b.hub.ToRoom(IncidentRoom(incidentID), event)
}

// Assigned goes to every connected client, to the incident room, and sends
// one direct notification to the assignee.
func (b *Broadcaster) Assigned(incidentID, assigneeID string) {
	event := Event{
		Event: EventIncidentAssigned,
		Data:  map[string]any{"incident_id": incidentID, "assignee": assigneeID},
	}
	b.hub.Broadcast(event)
	b.hub.ToRoom(IncidentRoom(incidentID), event)
	b.NotifyUser(assigneeID, domain.Notification{
		Type:    "assignment",
		Message: fmt.Sprintf("You have been assigned to incident %s", incidentID),
		Data:    map[string]any{"incident_id": incidentID},
	})
}

// ChatUpdated goes to the incident room only.
func (b *Broadcaster) ChatUpdated(incidentID string, message domain.ChatMessage) {
	b.hub.ToRoom(IncidentRoom(incidentID), Event{
		Event: EventIncidentChatUpdated,
		Data:  map[string]any{"incident_id": incidentID, "message": message},
	})
}

// RemediationStatusChanged goes to the incident room; steps awaiting an
// approval decision are additionally surfaced to the admin role room.
func (b *Broadcaster) RemediationStatusChanged(incidentID, remediationID string, status domain.RemediationStatus) {
	b.hub.ToRoom(IncidentRoom(incidentID), Event{
		Event: EventRemediationStatusChanged,
		Data:  map[string]any{"incident_id": incidentID, "remediation_id": remediationID, "status": status},
	})

	if status.RequiresAdminAttention() {
		b.NotifyRole(domain.RoleAdmin, domain.Notification{
			Type:    "remediation_approval",
			Message: fmt.Sprintf("Remediation %s requires approval", remediationID),
			Data:    map[string]any{"incident_id": incidentID, "remediation_id": remediationID, "status": status},
		})
	}
}

// NotifyUser sends a notification to one user's room.
func (b *Broadcaster) NotifyUser(userID string, n domain.Notification) {
	b.hub.ToRoom(UserRoom(userID), Event{Event: EventNotification, Data: n})
}

// NotifyRole sends a notification to one role's room.
func (b *Broadcaster) NotifyRole(role domain.Role, n domain.Notification) {
	b.hub.ToRoom(RoleRoom(role), Event{Event: EventNotification, Data: n})
}

// Broadcast sends a notification to every connected client.
func (b *Broadcaster) Broadcast(n domain.Notification) {
	b.hub.Broadcast(Event{Event: EventNotification, Data: n})
}
