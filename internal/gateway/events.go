// Package gateway implements the real-time fan-out layer: authenticated
// WebSocket connections, room membership and the routing of domain events to
// the correct set of subscribers.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// Outbound event names. Clients subscribe by event name.
const (
	EventIncidentCreated          = "incident.created"
	EventIncidentUpdated          = "incident.updated"
	EventIncidentStatusChanged    = "incident.status_changed"
	EventIncidentAssigned         = "incident.assigned"
	EventIncidentChatUpdated      = "incident.chat_updated"
	EventRemediationStatusChanged = "remediation.status_changed"
	EventNotification             = "notification"
)

// Inbound frame types sent by clients.
const (
	frameJoinIncident  = "join_incident"
	frameLeaveIncident = "leave_incident"
	frameTyping        = "typing"
)

// Event is one outbound frame. Data is any JSON-serializable payload.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// encode marshals the event once so the hub can fan the same bytes out to
// every recipient.
func (e Event) encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Event, err)
	}
	return b, nil
}

// clientFrame is one inbound frame from a client.
type clientFrame struct {
	Event      string `json:"event"`
	IncidentID string `json:"incident_id,omitempty"`
	Typing     bool   `json:"typing,omitempty"`
}

// Room name constructors. Every connection is implicitly a member of its user
// and role rooms; incident rooms are joined on explicit request.
func UserRoom(userID string) string { return "user:" + userID }

func RoleRoom(role domain.Role) string { return "role:" + string(role) }

func IncidentRoom(incidentID string) string { return "incident:" + incidentID }
