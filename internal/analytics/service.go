// Package analytics computes read-side aggregates over the incident store:
// dashboard summaries, service hotspots, trends, resolution statistics, SLA
// compliance and assignee performance. Nothing here mutates state.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// hotspotThreshold is the incident count above which a service is flagged.
const hotspotThreshold = 5

// Window bounds an aggregation period.
type Window struct {
	From time.Time
	To   time.Time
}

// Summary holds the raw dashboard counters for a window.
type Summary struct {
	TotalIncidents     int     `json:"total_incidents"`
	OpenIncidents      int     `json:"open_incidents"`
	ResolvedIncidents  int     `json:"resolved_incidents"`
	EscalatedIncidents int     `json:"escalated_incidents"`
	AvgTimeToAck       float64 `json:"avg_time_to_ack"`
	AvgMTTR            float64 `json:"avg_mttr"`
	SLABreaches        int     `json:"sla_breaches"`
}

// DashboardReport is the summary plus derived compliance.
type DashboardReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Summary
	SLACompliance float64 `json:"sla_compliance"`
}

// ServiceStats aggregates incidents of one service.
type ServiceStats struct {
	Service       string  `json:"service"`
	IncidentCount int     `json:"incident_count"`
	AvgSeverity   float64 `json:"avg_severity"`
	AvgMTTR       float64 `json:"avg_mttr"`
	Breaches      int     `json:"breaches"`
	Hotspot       bool    `json:"hotspot"`
}

// TrendRow is one (day, severity) count from the store.
type TrendRow struct {
	Day      time.Time
	Severity string
	Count    int
}

// TrendBucket is one day of incident counts grouped by severity.
type TrendBucket struct {
	Date       string         `json:"date"`
	BySeverity map[string]int `json:"by_severity"`
	Total      int            `json:"total"`
}

// ResolutionStats holds resolution-time figures for one service, in minutes.
type ResolutionStats struct {
	Service    string  `json:"service"`
	Resolved   int     `json:"resolved"`
	AvgMinutes float64 `json:"avg_minutes"`
	MinMinutes int     `json:"min_minutes"`
	MaxMinutes int     `json:"max_minutes"`
}

// BreachSummary identifies one SLA-breached incident.
type BreachSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Service    string `json:"service"`
	Severity   string `json:"severity"`
	BreachType string `json:"breach_type,omitempty"`
}

// ComplianceReport is the windowed SLA compliance picture.
type ComplianceReport struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Total      int             `json:"total"`
	Breached   int             `json:"breached"`
	Compliance float64         `json:"compliance"`
	Breaches   []BreachSummary `json:"breaches"`
}

// AssigneeRow is raw per-assignee figures from the store.
type AssigneeRow struct {
	AssigneeID  string
	Name        string
	Assigned    int
	Resolved    int
	AvgMinutes  float64
	Escalations int
}

// AssigneePerformance adds the derived resolution rate.
type AssigneePerformance struct {
	AssigneeID     string  `json:"assignee_id"`
	Name           string  `json:"name"`
	Assigned       int     `json:"assigned"`
	Resolved       int     `json:"resolved"`
	AvgMinutes     float64 `json:"avg_minutes"`
	Escalations    int     `json:"escalations"`
	ResolutionRate float64 `json:"resolution_rate"`
}

// Repository defines the aggregation queries analytics needs. Archived
// incidents are excluded from every aggregate.
type Repository interface {
	Summary(ctx context.Context, window Window) (Summary, error)
	ServiceBreakdown(ctx context.Context, window Window) ([]ServiceStats, error)
	DailyTrends(ctx context.Context, service *string, window Window) ([]TrendRow, error)
	ResolutionStats(ctx context.Context, service *string, window Window) ([]ResolutionStats, error)
	BreachedIncidents(ctx context.Context, window Window) ([]BreachSummary, error)
	AssigneeStats(ctx context.Context, assignee *string, window Window) ([]AssigneeRow, error)
}

// Service derives reports from repository aggregates.
type Service struct {
	repo Repository
}

// NewService creates an analytics service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Dashboard returns the windowed summary with SLA compliance attached.
func (s *Service) Dashboard(ctx context.Context, window Window) (*DashboardReport, error) {
	summary, err := s.repo.Summary(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("dashboard summary: %w", err)
	}

	return &DashboardReport{
		From:          window.From,
		To:            window.To,
		Summary:       summary,
		SLACompliance: compliancePercent(summary.TotalIncidents, summary.SLABreaches),
	}, nil
}

// Hotspots returns per-service stats ordered by incident count, flagging
// services over the hotspot threshold.
func (s *Service) Hotspots(ctx context.Context, window Window) ([]ServiceStats, error) {
	stats, err := s.repo.ServiceBreakdown(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("service breakdown: %w", err)
	}

	for i := range stats {
		stats[i].Hotspot = stats[i].IncidentCount > hotspotThreshold
	}
	sort.Slice(stats, func(a, b int) bool {
		if stats[a].IncidentCount != stats[b].IncidentCount {
			return stats[a].IncidentCount > stats[b].IncidentCount
		}
		return stats[a].Service < stats[b].Service
	})
	return stats, nil
}

// Trends folds per-day severity counts into date buckets, ascending by date.
func (s *Service) Trends(ctx context.Context, service *string, window Window) ([]TrendBucket, error) {
	rows, err := s.repo.DailyTrends(ctx, service, window)
	if err != nil {
		return nil, fmt.Errorf("daily trends: %w", err)
	}

	byDate := make(map[string]*TrendBucket)
	for _, row := range rows {
		date := row.Day.Format("2006-01-02")
		bucket, ok := byDate[date]
		if !ok {
			bucket = &TrendBucket{Date: date, BySeverity: make(map[string]int)}
			byDate[date] = bucket
		}
		bucket.BySeverity[row.Severity] += row.Count
		bucket.Total += row.Count
	}

	out := make([]TrendBucket, 0, len(byDate))
	for _, bucket := range byDate {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Date < out[b].Date })
	return out, nil
}

// ResolutionTimes returns per-service resolution statistics.
func (s *Service) ResolutionTimes(ctx context.Context, service *string, window Window) ([]ResolutionStats, error) {
	stats, err := s.repo.ResolutionStats(ctx, service, window)
	if err != nil {
		return nil, fmt.Errorf("resolution stats: %w", err)
	}
	return stats, nil
}

// SLACompliance returns the windowed compliance percentage with the breached
// incidents listed.
func (s *Service) SLACompliance(ctx context.Context, window Window) (*ComplianceReport, error) {
	summary, err := s.repo.Summary(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("compliance summary: %w", err)
	}
	breaches, err := s.repo.BreachedIncidents(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("breached incidents: %w", err)
	}

	return &ComplianceReport{
		From:       window.From,
		To:         window.To,
		Total:      summary.TotalIncidents,
		Breached:   summary.SLABreaches,
		Compliance: compliancePercent(summary.TotalIncidents, summary.SLABreaches),
		Breaches:   breaches,
	}, nil
}

// UserPerformance returns per-assignee figures ordered by resolution rate.
func (s *Service) UserPerformance(ctx context.Context, assignee *string, window Window) ([]AssigneePerformance, error) {
	rows, err := s.repo.AssigneeStats(ctx, assignee, window)
	if err != nil {
		return nil, fmt.Errorf("assignee stats: %w", err)
	}

	out := make([]AssigneePerformance, 0, len(rows))
	for _, row := range rows {
		rate := 0.0
		if row.Assigned > 0 {
			rate = round2(float64(row.Resolved) / float64(row.Assigned) * 100)
		}
		out = append(out, AssigneePerformance{
			AssigneeID:     row.AssigneeID,
			Name:           row.Name,
			Assigned:       row.Assigned,
			Resolved:       row.Resolved,
			AvgMinutes:     row.AvgMinutes,
			Escalations:    row.Escalations,
			ResolutionRate: rate,
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ResolutionRate != out[b].ResolutionRate {
			return out[a].ResolutionRate > out[b].ResolutionRate
		}
		return out[a].AssigneeID < out[b].AssigneeID
	})
	return out, nil
}

// compliancePercent is 100 for an empty window, else the non-breached share
// rounded to two decimals.
func compliancePercent(total, breached int) float64 {
	if total == 0 {
		return 100
	}
	return round2(float64(total-breached) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
