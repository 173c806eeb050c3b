// Package postgres provides the PostgreSQL implementation of the audit
// repository.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newdaksh/incident-agent/internal/audit"
	"github.com/newdaksh/incident-agent/internal/domain"
)

// Repository implements audit.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert appends one audit entry.
func (r *Repository) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			actor_id, action, resource, resource_id, incident_id,
			details, result, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		entry.ActorID,
		entry.Action,
		entry.Resource,
		nullable(entry.ResourceID),
		nullable(entry.IncidentID),
		entry.Details,
		entry.Result,
		nullable(entry.IPAddress),
		nullable(entry.UserAgent),
		entry.Timestamp,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List retrieves audit entries matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter audit.Filter) ([]*domain.AuditEntry, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	addFilter := func(column string, value interface{}) {
		where += fmt.Sprintf(" AND %s = $%d", column, argNum)
		args = append(args, value)
		argNum++
	}

	if filter.ActorID != nil {
		addFilter("actor_id", *filter.ActorID)
	}
	if filter.IncidentID != nil {
		addFilter("incident_id", *filter.IncidentID)
	}
	if filter.Action != nil {
		addFilter("action", *filter.Action)
	}
	if filter.Resource != nil {
		addFilter("resource", *filter.Resource)
	}
	if filter.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.From)
		argNum++
	}
	if filter.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argNum)
		args = append(args, *filter.To)
		argNum++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	query := `
		SELECT id, actor_id, action, resource, resource_id, incident_id,
			details, result, ip_address, user_agent, created_at
		FROM audit_entries` + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			entry                                        domain.AuditEntry
			resourceID, incidentID, ipAddress, userAgent *string
		)
		err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&entry.Action,
			&entry.Resource,
			&resourceID,
			&incidentID,
			&entry.Details,
			&entry.Result,
			&ipAddress,
			&userAgent,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ResourceID = deref(resourceID)
		entry.IncidentID = deref(incidentID)
		entry.IPAddress = deref(ipAddress)
		entry.UserAgent = deref(userAgent)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, total, nil
}

// DeleteOlderThan removes entries created before the cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM audit_entries WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
