package gateway

import (
	"testing"

	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routingFixture struct {
	hub         *Broadcaster
	inRoom      *Client // joined to incident:inc-1
	global      *Client // connected, no incident rooms
	admin       *Client // connected, role:admin
	assigneeCon *Client // connected as user u-assignee
}

func newRoutingFixture(t *testing.T) *routingFixture {
	t.Helper()
	hub := NewHub()

	inRoom := testClient(hub, "u-member", domain.RoleResponder)
	global := testClient(hub, "u-bystander", domain.RoleViewer)
	admin := testClient(hub, "u-admin", domain.RoleAdmin)
	assignee := testClient(hub, "u-assignee", domain.RoleResponder)

	for _, c := range []*Client{inRoom, global, admin, assignee} {
		hub.Register(c)
		hub.Join(c, UserRoom(c.principal.ID))
		hub.Join(c, RoleRoom(c.principal.Role))
	}
	hub.Join(inRoom, IncidentRoom("inc-1"))

	return &routingFixture{
		hub:         NewBroadcaster(hub),
		inRoom:      inRoom,
		global:      global,
		admin:       admin,
		assigneeCon: assignee,
	}
}

func TestBroadcasterRouting(t *testing.T) {
	t.Run("incident created reaches everyone once", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.IncidentCreated(&domain.Incident{ID: "inc-1"})

		for _, c := range []*Client{f.inRoom, f.global, f.admin, f.assigneeCon} {
			events := received(t, c)
			require.Len(t, events, 1)
			assert.Equal(t, EventIncidentCreated, events[0].Event)
		}
	})

	t.Run("incident updated duplicates into the room", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.IncidentUpdated(&domain.Incident{ID: "inc-1"})

		assert.Len(t, received(t, f.inRoom), 2, "room members get broadcast plus room copy")
		assert.Len(t, received(t, f.global), 1)
	})

	t.Run("chat stays inside the incident room", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.ChatUpdated("inc-1", domain.ChatMessage{Author: domain.ChatAuthorUser, Text: "restarting"})
		f.hub.ChatUpdated("inc-2", domain.ChatMessage{Author: domain.ChatAuthorUser, Text: "other incident"})

		events := received(t, f.inRoom)
		require.Len(t, events, 1, "only the inc-1 message arrives")
		assert.Equal(t, EventIncidentChatUpdated, events[0].Event)
		assert.Empty(t, received(t, f.global))
	})

	t.Run("assignment notifies the assignee exactly once directly", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.Assigned("inc-1", "u-assignee")

		assigneeEvents := received(t, f.assigneeCon)
		require.Len(t, assigneeEvents, 2)
		assert.Equal(t, EventIncidentAssigned, assigneeEvents[0].Event)
		assert.Equal(t, EventNotification, assigneeEvents[1].Event)

		roomEvents := received(t, f.inRoom)
		require.Len(t, roomEvents, 2, "broadcast plus room copy, no direct notification")
		assert.Equal(t, EventIncidentAssigned, roomEvents[0].Event)
		assert.Equal(t, EventIncidentAssigned, roomEvents[1].Event)
	})

	t.Run("pending remediation surfaces to admins", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.RemediationStatusChanged("inc-1", "rem-1", domain.RemediationPending)

		adminEvents := received(t, f.admin)
		require.Len(t, adminEvents, 1)
		assert.Equal(t, EventNotification, adminEvents[0].Event)

		roomEvents := received(t, f.inRoom)
		require.Len(t, roomEvents, 1)
		assert.Equal(t, EventRemediationStatusChanged, roomEvents[0].Event)

		assert.Empty(t, received(t, f.global))
	})

	t.Run("completed remediation does not involve admins", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.RemediationStatusChanged("inc-1", "rem-1", domain.RemediationCompleted)

		assert.Empty(t, received(t, f.admin))
		assert.Len(t, received(t, f.inRoom), 1)
	})

	t.Run("targeted notifications respect their scope", func(t *testing.T) {
		f := newRoutingFixture(t)

		f.hub.NotifyUser("u-member", domain.Notification{Type: "ping"})
		f.hub.NotifyRole(domain.RoleAdmin, domain.Notification{Type: "role-ping"})
		f.hub.Broadcast(domain.Notification{Type: "global-ping"})

		assert.Len(t, received(t, f.inRoom), 2)      // user-targeted + global
		assert.Len(t, received(t, f.admin), 2)       // role-targeted + global
		assert.Len(t, received(t, f.global), 1)      // global only
		assert.Len(t, received(t, f.assigneeCon), 1) // global only
	})
}
