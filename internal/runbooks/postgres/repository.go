// Package postgres provides the PostgreSQL implementation of the runbook
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/runbooks"
)

const runbookColumns = `
	id, title, service, description, body, version, tags,
	created_by, created_at, updated_at, archived_at
`

// Repository implements runbooks.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL runbook repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new runbook.
func (r *Repository) Create(ctx context.Context, runbook *domain.Runbook) error {
	query := `
		INSERT INTO runbooks (
			id, title, service, description, body, version, tags,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		runbook.ID,
		runbook.Title,
		runbook.Service,
		runbook.Description,
		runbook.Body,
		runbook.Version,
		runbook.Tags,
		runbook.CreatedBy,
		runbook.CreatedAt,
		runbook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert runbook: %w", err)
	}
	return nil
}

// Get retrieves a runbook by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Runbook, error) {
	query := `SELECT ` + runbookColumns + ` FROM runbooks WHERE id = $1`
	runbook, err := scanRunbook(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbooks.ErrRunbookNotFound
		}
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	return runbook, nil
}

// List retrieves runbooks matching the filter, most recently updated first.
func (r *Repository) List(ctx context.Context, filter runbooks.Filter) ([]*domain.Runbook, error) {
	query := `SELECT ` + runbookColumns + ` FROM runbooks WHERE 1=1`
	args := []any{}
	argNum := 1

	if !filter.IncludeArchived {
		query += " AND archived_at IS NULL"
	}
	if filter.Service != nil {
		query += fmt.Sprintf(" AND service = $%d", argNum)
		args = append(args, *filter.Service)
		argNum++
	}
	if filter.Tag != nil {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argNum)
		args = append(args, *filter.Tag)
		argNum++
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runbooks: %w", err)
	}
	defer rows.Close()

	var result []*domain.Runbook
	for rows.Next() {
		runbook, err := scanRunbook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan runbook: %w", err)
		}
		result = append(result, runbook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runbooks: %w", err)
	}
	return result, nil
}

// Update replaces the runbook head and inserts the version snapshot of the
// previous body in one transaction.
func (r *Repository) Update(ctx context.Context, runbook *domain.Runbook, snapshot *domain.RunbookVersion) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		UPDATE runbooks
		SET title = $2, description = $3, body = $4, version = $5,
			tags = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query,
		runbook.ID,
		runbook.Title,
		runbook.Description,
		runbook.Body,
		runbook.Version,
		runbook.Tags,
		runbook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update runbook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbooks.ErrRunbookNotFound
	}

	if snapshot != nil {
		query := `
			INSERT INTO runbook_versions (id, runbook_id, version, body, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := tx.Exec(ctx, query,
			snapshot.ID,
			snapshot.RunbookID,
			snapshot.Version,
			snapshot.Body,
			snapshot.CreatedBy,
			snapshot.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert runbook version: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListVersions retrieves a runbook's snapshots, newest first.
func (r *Repository) ListVersions(ctx context.Context, runbookID string) ([]*domain.RunbookVersion, error) {
	query := `
		SELECT id, runbook_id, version, body, created_by, created_at
		FROM runbook_versions
		WHERE runbook_id = $1
		ORDER BY version DESC
	`
	rows, err := r.db.Query(ctx, query, runbookID)
	if err != nil {
		return nil, fmt.Errorf("query runbook versions: %w", err)
	}
	defer rows.Close()

	var result []*domain.RunbookVersion
	for rows.Next() {
		var v domain.RunbookVersion
		if err := rows.Scan(&v.ID, &v.RunbookID, &v.Version, &v.Body, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan runbook version: %w", err)
		}
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runbook versions: %w", err)
	}
	return result, nil
}

// GetVersion retrieves one snapshot.
func (r *Repository) GetVersion(ctx context.Context, runbookID string, version int) (*domain.RunbookVersion, error) {
	query := `
		SELECT id, runbook_id, version, body, created_by, created_at
		FROM runbook_versions
		WHERE runbook_id = $1 AND version = $2
	`
	var v domain.RunbookVersion
	err := r.db.QueryRow(ctx, query, runbookID, version).
		Scan(&v.ID, &v.RunbookID, &v.Version, &v.Body, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, runbooks.ErrVersionNotFound
		}
		return nil, fmt.Errorf("get runbook version: %w", err)
	}
	return &v, nil
}

// Archive soft-archives a runbook.
func (r *Repository) Archive(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE runbooks SET archived_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("archive runbook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runbooks.ErrRunbookNotFound
	}
	return nil
}

func scanRunbook(row pgx.Row) (*domain.Runbook, error) {
	var runbook domain.Runbook
	err := row.Scan(
		&runbook.ID,
		&runbook.Title,
		&runbook.Service,
		&runbook.Description,
		&runbook.Body,
		&runbook.Version,
		&runbook.Tags,
		&runbook.CreatedBy,
		&runbook.CreatedAt,
		&runbook.UpdatedAt,
		&runbook.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &runbook, nil
}
