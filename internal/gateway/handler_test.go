package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticVerifier accepts a fixed set of tokens.
type staticVerifier struct {
	principals map[string]domain.Principal
}

func (v *staticVerifier) VerifyToken(_ context.Context, token string) (domain.Principal, error) {
	p, ok := v.principals[token]
	if !ok {
		return domain.Principal{}, errors.New("invalid token")
	}
	return p, nil
}

func newGatewayServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	handler := NewHandler(hub, &staticVerifier{principals: map[string]domain.Principal{
		"token-responder": {Kind: domain.PrincipalUser, ID: "u1", Role: domain.RoleResponder},
	}})

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var e Event
	require.NoError(t, json.Unmarshal(payload, &e))
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandlerAuthentication(t *testing.T) {
	srv, hub := newGatewayServer(t)

	t.Run("missing token is rejected before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, hub.ConnectionCount())
	})

	t.Run("bad token is rejected and joins no room", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=bogus"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, hub.RoomSize(UserRoom("u1")))
	})

	t.Run("valid token connects and auto-joins user and role rooms", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=token-responder"), nil)
		require.NoError(t, err)
		defer conn.Close()

		welcome := readEvent(t, conn)
		assert.Equal(t, EventNotification, welcome.Event)

		waitFor(t, func() bool { return hub.ConnectionCount() == 1 })
		assert.Equal(t, 1, hub.RoomSize(UserRoom("u1")))
		assert.Equal(t, 1, hub.RoomSize(RoleRoom(domain.RoleResponder)))
	})
}

func TestHandlerIncidentRooms(t *testing.T) {
	srv, hub := newGatewayServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=token-responder"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn) // welcome

	require.NoError(t, conn.WriteJSON(clientFrame{Event: frameJoinIncident, IncidentID: "inc-1"}))
	waitFor(t, func() bool { return hub.RoomSize(IncidentRoom("inc-1")) == 1 })

	hub.ToRoom(IncidentRoom("inc-1"), Event{Event: EventIncidentChatUpdated})
	got := readEvent(t, conn)
	assert.Equal(t, EventIncidentChatUpdated, got.Event)

	require.NoError(t, conn.WriteJSON(clientFrame{Event: frameLeaveIncident, IncidentID: "inc-1"}))
	waitFor(t, func() bool { return hub.RoomSize(IncidentRoom("inc-1")) == 0 })

	// Malformed frames are dropped without killing the connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	hub.Broadcast(Event{Event: EventNotification})
	got = readEvent(t, conn)
	assert.Equal(t, EventNotification, got.Event)
}

func TestHandlerImmediateDisconnect(t *testing.T) {
	srv, hub := newGatewayServer(t)

	// Peers dropping right after the handshake must not race the welcome
	// greeting against send-channel teardown.
	for i := 0; i < 50; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=token-responder"), nil)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=token-responder"), nil)
	require.NoError(t, err)
	defer conn.Close()
	welcome := readEvent(t, conn)
	assert.Equal(t, EventNotification, welcome.Event)
}

func TestHandlerDisconnectClearsMembership(t *testing.T) {
	srv, hub := newGatewayServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=token-responder"), nil)
	require.NoError(t, err)
	readEvent(t, conn) // welcome

	require.NoError(t, conn.WriteJSON(clientFrame{Event: frameJoinIncident, IncidentID: "inc-1"}))
	waitFor(t, func() bool { return hub.RoomSize(IncidentRoom("inc-1")) == 1 })

	require.NoError(t, conn.Close())

	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
	assert.Equal(t, 0, hub.RoomSize(IncidentRoom("inc-1")))
	assert.Equal(t, 0, hub.RoomSize(UserRoom("u1")))
}
