package gateway

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/newdaksh/incident-agent/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// Client is one authenticated WebSocket connection. The hub writes to the
// send channel; the write pump drains it. The read pump handles room
// membership frames and typing relays from the client.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal domain.Principal
	send      chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, principal domain.Principal) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		principal: principal,
		send:      make(chan []byte, sendBufferSize),
	}
}

// Principal returns the identity this connection authenticated as.
func (c *Client) Principal() domain.Principal {
	return c.principal
}

// readPump consumes inbound frames until the connection drops, then removes
// the client from the hub. Malformed frames are dropped with a warning and
// never terminate the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "user_id", c.principal.ID, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Warn("dropping malformed client frame", "user_id", c.principal.ID, "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame clientFrame) {
	switch frame.Event {
	case frameJoinIncident:
		if frame.IncidentID == "" {
			return
		}
		c.hub.Join(c, IncidentRoom(frame.IncidentID))
		slog.Debug("client joined incident room", "user_id", c.principal.ID, "incident_id", frame.IncidentID)

	case frameLeaveIncident:
		if frame.IncidentID == "" {
			return
		}
		c.hub.Leave(c, IncidentRoom(frame.IncidentID))
		slog.Debug("client left incident room", "user_id", c.principal.ID, "incident_id", frame.IncidentID)

	case frameTyping:
		if frame.IncidentID == "" {
			return
		}
		message := "User stopped typing"
		if frame.Typing {
			message = "User is typing..."
		}
		c.hub.ToRoomExcept(IncidentRoom(frame.IncidentID), c, Event{
			Event: EventNotification,
			Data: domain.Notification{
				Type:    "typing",
				Message: message,
				Data:    map[string]any{"user_id": c.principal.ID, "typing": frame.Typing},
			},
		})

	default:
		slog.Warn("dropping unknown client frame", "user_id", c.principal.ID, "frame", frame.Event)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
