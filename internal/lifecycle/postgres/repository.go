// Package postgres provides the PostgreSQL implementation of the lifecycle
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/lifecycle"
)

// Repository implements lifecycle.Repository using PostgreSQL. Append-only
// substructures (timeline, remediations, escalation history, transcript) are
// JSONB columns mutated with single-statement appends, so concurrent writers
// never lose entries.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `
	id, title, description, service, severity, status, source, environment,
	reporter, assignee, tags,
	created_at, updated_at, acknowledged_at, resolved_at, closed_at, archived_at,
	time_to_acknowledgment, mttr, escalations, automated_actions,
	sla_policy_id, ack_deadline, resolution_deadline,
	sla_breached, sla_breach_type, sla_escalation_level,
	escalation_history, timeline, remediations, ticket_links, bot_transcript, rca`

// Create inserts a new incident.
func (r *Repository) Create(ctx context.Context, incident *domain.Incident) error {
	timeline, err := json.Marshal(incident.Timeline)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	query := `
		INSERT INTO incidents (
			title, description, service, severity, status, source, environment,
			reporter, tags, created_at, updated_at,
			sla_policy_id, ack_deadline, resolution_deadline, timeline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err = r.db.QueryRow(ctx, query,
		incident.Title,
		incident.Description,
		incident.Service,
		incident.Severity,
		incident.Status,
		incident.Source,
		incident.Environment,
		incident.Reporter,
		incident.Tags,
		incident.CreatedAt,
		incident.UpdatedAt,
		incident.SLA.PolicyID,
		incident.SLA.AcknowledgmentDeadline,
		incident.SLA.ResolutionDeadline,
		timeline,
	).Scan(&incident.ID)

	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// Get retrieves an incident by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// List retrieves incidents with optional filters, newest first.
func (r *Repository) List(ctx context.Context, filters lifecycle.Filters) ([]*domain.Incident, int, error) {
	where := ` WHERE archived_at IS NULL`
	args := []interface{}{}
	argNum := 1

	addFilter := func(column string, value interface{}) {
		where += fmt.Sprintf(" AND %s = $%d", column, argNum)
		args = append(args, value)
		argNum++
	}

	if filters.Service != nil {
		addFilter("service", *filters.Service)
	}
	if filters.Severity != nil {
		addFilter("severity", *filters.Severity)
	}
	if filters.Status != nil {
		addFilter("status", *filters.Status)
	}
	if filters.Assignee != nil {
		addFilter("assignee", *filters.Assignee)
	}
	if filters.Reporter != nil {
		addFilter("reporter", *filters.Reporter)
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM incidents"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, total, nil
}

// ListOpen retrieves all unresolved, unarchived incidents for the SLA sweep.
func (r *Repository) ListOpen(ctx context.Context) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE status IN ('open', 'acknowledged', 'investigating', 'resolving')
		AND archived_at IS NULL
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*domain.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

// UpdateStatus sets the status and appends the timeline entry in one
// statement.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.IncidentStatus, entry domain.TimelineEntry) error {
	appended, err := json.Marshal([]domain.TimelineEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}

	query := `
		UPDATE incidents
		SET status = $2, timeline = timeline || $3::jsonb, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, appended)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// UpdateAssignee sets the assignee and appends the timeline entry in one
// statement.
func (r *Repository) UpdateAssignee(ctx context.Context, id, assignee string, entry domain.TimelineEntry) error {
	appended, err := json.Marshal([]domain.TimelineEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}

	query := `
		UPDATE incidents
		SET assignee = $2, timeline = timeline || $3::jsonb, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, assignee, appended)
	if err != nil {
		return fmt.Errorf("update assignee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// AppendTimeline appends one entry to the incident timeline.
func (r *Repository) AppendTimeline(ctx context.Context, id string, entry domain.TimelineEntry) error {
	appended, err := json.Marshal([]domain.TimelineEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}

	query := `UPDATE incidents SET timeline = timeline || $2::jsonb, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, appended)
	if err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// ClaimAcknowledged atomically sets acknowledged_at if unset.
func (r *Repository) ClaimAcknowledged(ctx context.Context, id string, at time.Time, minutes int) (bool, error) {
	query := `
		UPDATE incidents
		SET acknowledged_at = $2, time_to_acknowledgment = $3, updated_at = now()
		WHERE id = $1 AND acknowledged_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, at, minutes)
	if err != nil {
		return false, fmt.Errorf("claim acknowledged: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimResolved atomically sets resolved_at and mttr if unset.
func (r *Repository) ClaimResolved(ctx context.Context, id string, at time.Time, mttr int) (bool, error) {
	query := `
		UPDATE incidents
		SET resolved_at = $2, mttr = $3, updated_at = now()
		WHERE id = $1 AND resolved_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, at, mttr)
	if err != nil {
		return false, fmt.Errorf("claim resolved: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimClosed atomically sets closed_at if unset.
func (r *Repository) ClaimClosed(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE incidents
		SET closed_at = $2, updated_at = now()
		WHERE id = $1 AND closed_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("claim closed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordEscalation appends the record and raises the level unless the level
// is already present in the history. The containment guard makes repeated
// claims for one level a no-op.
func (r *Repository) RecordEscalation(ctx context.Context, id string, rec domain.EscalationRecord) (bool, error) {
	appended, err := json.Marshal([]domain.EscalationRecord{rec})
	if err != nil {
		return false, fmt.Errorf("marshal escalation record: %w", err)
	}
	guard, err := json.Marshal([]map[string]int{{"level": rec.Level}})
	if err != nil {
		return false, fmt.Errorf("marshal escalation guard: %w", err)
	}

	query := `
		UPDATE incidents
		SET escalation_history = escalation_history || $2::jsonb,
			sla_escalation_level = GREATEST(sla_escalation_level, $3),
			escalations = escalations + 1,
			updated_at = now()
		WHERE id = $1 AND NOT escalation_history @> $4::jsonb
	`
	tag, err := r.db.Exec(ctx, query, id, appended, rec.Level, guard)
	if err != nil {
		return false, fmt.Errorf("record escalation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkBreached records the SLA breach state.
func (r *Repository) MarkBreached(ctx context.Context, id string, breachType domain.BreachType) error {
	query := `
		UPDATE incidents
		SET sla_breached = true, sla_breach_type = $2, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, breachType)
	if err != nil {
		return fmt.Errorf("mark breached: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// AppendChatMessage appends one message to the bot transcript.
func (r *Repository) AppendChatMessage(ctx context.Context, id string, msg domain.ChatMessage) error {
	appended, err := json.Marshal([]domain.ChatMessage{msg})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	query := `UPDATE incidents SET bot_transcript = bot_transcript || $2::jsonb, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, appended)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// AppendRemediation appends one remediation step.
func (r *Repository) AppendRemediation(ctx context.Context, id string, step domain.RemediationStep) error {
	appended, err := json.Marshal([]domain.RemediationStep{step})
	if err != nil {
		return fmt.Errorf("marshal remediation step: %w", err)
	}

	query := `UPDATE incidents SET remediations = remediations || $2::jsonb, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, appended)
	if err != nil {
		return fmt.Errorf("append remediation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// UpdateRemediationStatus patches the matching remediation step in place.
// Completed steps bump the automated-action counter.
func (r *Repository) UpdateRemediationStatus(ctx context.Context, id, remediationID string, status domain.RemediationStatus, executedBy, result, errMsg string) error {
	patch, err := json.Marshal(map[string]string{
		"status":      string(status),
		"executed_by": executedBy,
		"result":      result,
		"error":       errMsg,
	})
	if err != nil {
		return fmt.Errorf("marshal remediation patch: %w", err)
	}

	query := `
		UPDATE incidents
		SET remediations = (
				SELECT COALESCE(jsonb_agg(
					CASE WHEN elem->>'id' = $2 THEN elem || $3::jsonb ELSE elem END
				), '[]'::jsonb)
				FROM jsonb_array_elements(remediations) elem
			),
			automated_actions = automated_actions + CASE WHEN $4 THEN 1 ELSE 0 END,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, remediationID, patch, status == domain.RemediationCompleted)
	if err != nil {
		return fmt.Errorf("update remediation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// AppendTicketLink appends one external ticket link.
func (r *Repository) AppendTicketLink(ctx context.Context, id string, link domain.TicketLink) error {
	appended, err := json.Marshal([]domain.TicketLink{link})
	if err != nil {
		return fmt.Errorf("marshal ticket link: %w", err)
	}

	query := `UPDATE incidents SET ticket_links = ticket_links || $2::jsonb, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, appended)
	if err != nil {
		return fmt.Errorf("append ticket link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// UpdateRCA replaces the RCA document.
func (r *Repository) UpdateRCA(ctx context.Context, id string, rca *domain.RCA) error {
	doc, err := json.Marshal(rca)
	if err != nil {
		return fmt.Errorf("marshal rca: %w", err)
	}

	query := `UPDATE incidents SET rca = $2::jsonb, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, doc)
	if err != nil {
		return fmt.Errorf("update rca: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// Archive soft-archives an incident.
func (r *Repository) Archive(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE incidents SET archived_at = $2, updated_at = now() WHERE id = $1 AND archived_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("archive incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrIncidentNotFound
	}
	return nil
}

// scanIncident scans one incident row including its JSONB substructures.
func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var (
		incident                                                       domain.Incident
		escalationHistory, timeline, remediations, tickets, transcript []byte
		rca                                                            []byte
	)

	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Description,
		&incident.Service,
		&incident.Severity,
		&incident.Status,
		&incident.Source,
		&incident.Environment,
		&incident.Reporter,
		&incident.Assignee,
		&incident.Tags,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.AcknowledgedAt,
		&incident.ResolvedAt,
		&incident.ClosedAt,
		&incident.ArchivedAt,
		&incident.Metrics.TimeToAcknowledgment,
		&incident.Metrics.MTTR,
		&incident.Metrics.Escalations,
		&incident.Metrics.AutomatedActions,
		&incident.SLA.PolicyID,
		&incident.SLA.AcknowledgmentDeadline,
		&incident.SLA.ResolutionDeadline,
		&incident.SLA.Breached,
		&incident.SLA.BreachType,
		&incident.SLA.EscalationLevel,
		&escalationHistory,
		&timeline,
		&remediations,
		&tickets,
		&transcript,
		&rca,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(escalationHistory, &incident.EscalationHistory); err != nil {
		return nil, fmt.Errorf("unmarshal escalation history: %w", err)
	}
	if err := json.Unmarshal(timeline, &incident.Timeline); err != nil {
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}
	if err := json.Unmarshal(remediations, &incident.Remediations); err != nil {
		return nil, fmt.Errorf("unmarshal remediations: %w", err)
	}
	if err := json.Unmarshal(tickets, &incident.TicketLinks); err != nil {
		return nil, fmt.Errorf("unmarshal ticket links: %w", err)
	}
	if err := json.Unmarshal(transcript, &incident.BotTranscript); err != nil {
		return nil, fmt.Errorf("unmarshal bot transcript: %w", err)
	}
	if rca != nil {
		if err := json.Unmarshal(rca, &incident.RCA); err != nil {
			return nil, fmt.Errorf("unmarshal rca: %w", err)
		}
	}
	return &incident, nil
}
