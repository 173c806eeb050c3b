package domain

import "time"

// Runbook is a versioned operational procedure document.
type Runbook struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Service     string     `json:"service"`
	Description string     `json:"description,omitempty"`
	Body        string     `json:"body"`
	Version     int        `json:"version"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
}

// IsArchived returns true if the runbook is archived.
func (r *Runbook) IsArchived() bool {
	return r.ArchivedAt != nil
}

// RunbookVersion is a historical snapshot of a runbook's body.
type RunbookVersion struct {
	ID        string    `json:"id"`
	RunbookID string    `json:"runbook_id"`
	Version   int       `json:"version"`
	Body      string    `json:"body"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
