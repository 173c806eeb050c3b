package domain

// Notification is a generic real-time message pushed to connected clients.
type Notification struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
