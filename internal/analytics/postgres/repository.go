// Package postgres provides the PostgreSQL implementation of the analytics
// repository. All aggregates exclude archived incidents.
package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newdaksh/incident-agent/internal/analytics"
)

// severityWeight maps severities onto an ordinal scale for averaging.
// Unknown severities weigh 1.
const severityWeight = `CASE severity
	WHEN 'critical' THEN 4
	WHEN 'high' THEN 3
	WHEN 'medium' THEN 2
	ELSE 1
END`

// Repository implements analytics.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL analytics repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Summary aggregates the dashboard counters over one window.
func (r *Repository) Summary(ctx context.Context, window analytics.Window) (analytics.Summary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status NOT IN ('resolved', 'closed')),
			COUNT(*) FILTER (WHERE resolved_at IS NOT NULL),
			COUNT(*) FILTER (WHERE escalations > 0),
			COALESCE(AVG(time_to_acknowledgment), 0),
			COALESCE(AVG(mttr), 0),
			COUNT(*) FILTER (WHERE sla_breached)
		FROM incidents
		WHERE archived_at IS NULL AND created_at >= $1 AND created_at <= $2
	`
	var summary analytics.Summary
	err := r.db.QueryRow(ctx, query, window.From, window.To).Scan(
		&summary.TotalIncidents,
		&summary.OpenIncidents,
		&summary.ResolvedIncidents,
		&summary.EscalatedIncidents,
		&summary.AvgTimeToAck,
		&summary.AvgMTTR,
		&summary.SLABreaches,
	)
	if err != nil {
		return analytics.Summary{}, fmt.Errorf("summary: %w", err)
	}
	summary.AvgTimeToAck = round2(summary.AvgTimeToAck)
	summary.AvgMTTR = round2(summary.AvgMTTR)
	return summary, nil
}

// ServiceBreakdown aggregates incidents per service.
func (r *Repository) ServiceBreakdown(ctx context.Context, window analytics.Window) ([]analytics.ServiceStats, error) {
	query := `
		SELECT service, COUNT(*),
			AVG(` + severityWeight + `),
			COALESCE(AVG(mttr), 0),
			COUNT(*) FILTER (WHERE sla_breached)
		FROM incidents
		WHERE archived_at IS NULL AND created_at >= $1 AND created_at <= $2
		GROUP BY service
	`
	rows, err := r.db.Query(ctx, query, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("service breakdown: %w", err)
	}
	defer rows.Close()

	var stats []analytics.ServiceStats
	for rows.Next() {
		var s analytics.ServiceStats
		if err := rows.Scan(&s.Service, &s.IncidentCount, &s.AvgSeverity, &s.AvgMTTR, &s.Breaches); err != nil {
			return nil, fmt.Errorf("scan service stats: %w", err)
		}
		s.AvgSeverity = round2(s.AvgSeverity)
		s.AvgMTTR = round2(s.AvgMTTR)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service stats: %w", err)
	}
	return stats, nil
}

// DailyTrends counts incidents per day and severity.
func (r *Repository) DailyTrends(ctx context.Context, service *string, window analytics.Window) ([]analytics.TrendRow, error) {
	query := `
		SELECT date_trunc('day', created_at), severity, COUNT(*)
		FROM incidents
		WHERE archived_at IS NULL AND created_at >= $1 AND created_at <= $2
	`
	args := []interface{}{window.From, window.To}
	if service != nil {
		query += " AND service = $3"
		args = append(args, *service)
	}
	query += " GROUP BY 1, 2 ORDER BY 1"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily trends: %w", err)
	}
	defer rows.Close()

	var out []analytics.TrendRow
	for rows.Next() {
		var row analytics.TrendRow
		if err := rows.Scan(&row.Day, &row.Severity, &row.Count); err != nil {
			return nil, fmt.Errorf("scan trend row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend rows: %w", err)
	}
	return out, nil
}

// ResolutionStats aggregates resolution minutes per service over resolved
// incidents.
func (r *Repository) ResolutionStats(ctx context.Context, service *string, window analytics.Window) ([]analytics.ResolutionStats, error) {
	query := `
		SELECT service, COUNT(*), AVG(mttr), MIN(mttr), MAX(mttr)
		FROM incidents
		WHERE archived_at IS NULL AND mttr IS NOT NULL
			AND resolved_at >= $1 AND resolved_at <= $2
	`
	args := []interface{}{window.From, window.To}
	if service != nil {
		query += " AND service = $3"
		args = append(args, *service)
	}
	query += " GROUP BY service ORDER BY service"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolution stats: %w", err)
	}
	defer rows.Close()

	var out []analytics.ResolutionStats
	for rows.Next() {
		var s analytics.ResolutionStats
		if err := rows.Scan(&s.Service, &s.Resolved, &s.AvgMinutes, &s.MinMinutes, &s.MaxMinutes); err != nil {
			return nil, fmt.Errorf("scan resolution stats: %w", err)
		}
		s.AvgMinutes = round2(s.AvgMinutes)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolution stats: %w", err)
	}
	return out, nil
}

// BreachedIncidents lists SLA-breached incidents in the window, newest first.
func (r *Repository) BreachedIncidents(ctx context.Context, window analytics.Window) ([]analytics.BreachSummary, error) {
	query := `
		SELECT id, title, service, severity, COALESCE(sla_breach_type, '')
		FROM incidents
		WHERE archived_at IS NULL AND sla_breached
			AND created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("breached incidents: %w", err)
	}
	defer rows.Close()

	var out []analytics.BreachSummary
	for rows.Next() {
		var b analytics.BreachSummary
		if err := rows.Scan(&b.ID, &b.Title, &b.Service, &b.Severity, &b.BreachType); err != nil {
			return nil, fmt.Errorf("scan breach summary: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate breach summaries: %w", err)
	}
	return out, nil
}

// AssigneeStats aggregates incidents per assignee, joined against users for
// display names.
func (r *Repository) AssigneeStats(ctx context.Context, assignee *string, window analytics.Window) ([]analytics.AssigneeRow, error) {
	query := `
		SELECT i.assignee, COALESCE(u.name, ''),
			COUNT(*),
			COUNT(*) FILTER (WHERE i.resolved_at IS NOT NULL),
			COALESCE(AVG(i.mttr), 0),
			COALESCE(SUM(i.escalations), 0)
		FROM incidents i
		LEFT JOIN users u ON u.id::text = i.assignee
		WHERE i.archived_at IS NULL AND i.assignee IS NOT NULL
			AND i.created_at >= $1 AND i.created_at <= $2
	`
	args := []interface{}{window.From, window.To}
	if assignee != nil {
		query += " AND i.assignee = $3"
		args = append(args, *assignee)
	}
	query += " GROUP BY i.assignee, u.name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("assignee stats: %w", err)
	}
	defer rows.Close()

	var out []analytics.AssigneeRow
	for rows.Next() {
		var row analytics.AssigneeRow
		if err := rows.Scan(&row.AssigneeID, &row.Name, &row.Assigned, &row.Resolved, &row.AvgMinutes, &row.Escalations); err != nil {
			return nil, fmt.Errorf("scan assignee stats: %w", err)
		}
		row.AvgMinutes = round2(row.AvgMinutes)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignee stats: %w", err)
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
