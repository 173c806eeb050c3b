package audit

import (
	"context"
	"errors"
	"time"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// ErrEntryNotFound is returned when an audit entry does not exist.
var ErrEntryNotFound = errors.New("audit entry not found")

// Filter narrows audit queries.
type Filter struct {
	ActorID    *string
	IncidentID *string
	Action     *string
	Resource   *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Repository is the append-only storage collaborator for audit entries.
// Entries are never updated; expiry happens through DeleteOlderThan only.
type Repository interface {
	Insert(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
