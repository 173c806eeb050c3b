// Package postgres provides the PostgreSQL implementation of the SLA policy
// repository. It backs both the admin CRUD API and the lifecycle engine's
// read-only active-policy view.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/policies"
)

const policyColumns = `
	id, name, description, conditions, targets, escalation,
	is_active, created_by, created_at, updated_at
`

// Repository implements policies.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL policy repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new policy.
func (r *Repository) Create(ctx context.Context, policy *domain.SLAPolicy) error {
	conditions, targets, escalation, err := marshalPolicy(policy)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sla_policies (
			id, name, description, conditions, targets, escalation,
			is_active, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		policy.ID,
		policy.Name,
		policy.Description,
		conditions,
		targets,
		escalation,
		policy.IsActive,
		policy.CreatedBy,
		policy.CreatedAt,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

// Get retrieves a policy by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies WHERE id = $1`
	policy, err := scanPolicy(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, policies.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// List retrieves all policies, newest first.
func (r *Repository) List(ctx context.Context) ([]*domain.SLAPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies ORDER BY created_at DESC`
	return r.queryPolicies(ctx, query)
}

// ListActive retrieves the policies the lifecycle engine evaluates.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.SLAPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM sla_policies WHERE is_active ORDER BY created_at`
	return r.queryPolicies(ctx, query)
}

// Update replaces a policy's definition.
func (r *Repository) Update(ctx context.Context, policy *domain.SLAPolicy) error {
	conditions, targets, escalation, err := marshalPolicy(policy)
	if err != nil {
		return err
	}

	query := `
		UPDATE sla_policies
		SET name = $2, description = $3, conditions = $4, targets = $5,
			escalation = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		policy.ID,
		policy.Name,
		policy.Description,
		conditions,
		targets,
		escalation,
		policy.IsActive,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return policies.ErrPolicyNotFound
	}
	return nil
}

// Delete removes a policy.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sla_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return policies.ErrPolicyNotFound
	}
	return nil
}

func (r *Repository) queryPolicies(ctx context.Context, query string, args ...any) ([]*domain.SLAPolicy, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var result []*domain.SLAPolicy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		result = append(result, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return result, nil
}

func marshalPolicy(policy *domain.SLAPolicy) (conditions, targets, escalation []byte, err error) {
	if conditions, err = json.Marshal(policy.Conditions); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	if targets, err = json.Marshal(policy.Targets); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal targets: %w", err)
	}
	if escalation, err = json.Marshal(policy.Escalation); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal escalation: %w", err)
	}
	return conditions, targets, escalation, nil
}

func scanPolicy(row pgx.Row) (*domain.SLAPolicy, error) {
	var (
		policy     domain.SLAPolicy
		conditions []byte
		targets    []byte
		escalation []byte
	)
	err := row.Scan(
		&policy.ID,
		&policy.Name,
		&policy.Description,
		&conditions,
		&targets,
		&escalation,
		&policy.IsActive,
		&policy.CreatedBy,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditions, &policy.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(targets, &policy.Targets); err != nil {
		return nil, fmt.Errorf("unmarshal targets: %w", err)
	}
	if err := json.Unmarshal(escalation, &policy.Escalation); err != nil {
		return nil, fmt.Errorf("unmarshal escalation: %w", err)
	}
	return &policy, nil
}
