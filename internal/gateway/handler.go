package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
)

// Handler upgrades HTTP requests to WebSocket connections. The credential is
// verified before the upgrade; a failed verification rejects the handshake
// and no room is ever joined.
type Handler struct {
	hub      *Hub
	verifier httputil.TokenVerifier
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, verifier httputil.TokenVerifier) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin access control happens at the token, not the
			// Origin header; browser dashboards run on a separate origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.serveWS)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		authFailures.Inc()
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	principal, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		authFailures.Inc()
		slog.Warn("websocket authentication failed", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, conn, principal)
	h.hub.Register(client)
	h.hub.Join(client, UserRoom(principal.ID))
	h.hub.Join(client, RoleRoom(principal.Role))

	slog.Info("websocket connected", "user_id", principal.ID, "role", principal.Role)

	// Greet only this connection, not the whole user room. Enqueued before
	// the pumps start: once readPump runs, a disconnect can unregister the
	// client and close its send channel.
	if payload, err := (Event{
		Event: EventNotification,
		Data: domain.Notification{
			Type:    "welcome",
			Message: "Connected to IncidentAgent real-time updates",
		},
	}).encode(); err == nil {
		select {
		case client.send <- payload:
		default:
		}
	}

	go client.writePump()
	go client.readPump()
}

// bearerToken extracts the credential from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
