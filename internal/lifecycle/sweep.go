package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/pkg/ctxlog"
)

// Sweep evaluates SLA state for every open incident. It is safe to run on any
// schedule and concurrently with itself: breach marking converges to the same
// state and escalation claims are idempotent per level at the storage layer.
func (e *Engine) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	incidents, err := e.repo.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open incidents: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	for _, incident := range incidents {
		if err := e.EvaluateIncident(ctx, incident); err != nil {
			logger.Error("sla evaluation failed", "incident_id", incident.ID, "error", err)
		}
	}
	return nil
}

// EvaluateIncident applies EvaluateSLA to one incident and persists any newly
// detected breach or due escalation, emitting events for each.
func (e *Engine) EvaluateIncident(ctx context.Context, incident *domain.Incident) error {
	if incident.SLA.PolicyID == nil {
		return nil
	}

	policy, err := e.policyByID(ctx, *incident.SLA.PolicyID)
	if err != nil {
		return err
	}

	now := e.clock()
	eval := EvaluateSLA(incident, policy, now)

	if eval.Breached && !sameBreach(incident.SLA, eval) {
		if err := e.repo.MarkBreached(ctx, incident.ID, *eval.BreachType); err != nil {
			return fmt.Errorf("mark breached: %w", err)
		}
		slaBreaches.WithLabelValues(string(*eval.BreachType)).Inc()

		e.publisher.NotifyRole(domain.RoleManager, domain.Notification{
			Type:    "sla_breach",
			Message: fmt.Sprintf("Incident %s breached its %s SLA", incident.ID, *eval.BreachType),
			Data:    map[string]any{"incident_id": incident.ID, "breach_type": *eval.BreachType},
		})
	}

	for _, lvl := range eval.DueEscalations {
		if err := e.escalate(ctx, incident, policy, lvl, now); err != nil {
			return err
		}
	}
	return nil
}

// escalate records one escalation level. The storage-layer claim consults the
// persisted history, so a concurrent evaluation losing the claim simply skips
// the notification.
func (e *Engine) escalate(ctx context.Context, incident *domain.Incident, policy *domain.SLAPolicy, lvl domain.EscalationLevel, now time.Time) error {
	reason := fmt.Sprintf("SLA escalation: %d%% of resolution target elapsed", lvl.TriggerAt)
	claimed, err := e.repo.RecordEscalation(ctx, incident.ID, domain.EscalationRecord{
		Level:       lvl.Level,
		EscalatedAt: now,
		EscalatedBy: domain.SystemActor,
		Reason:      reason,
	})
	if err != nil {
		return fmt.Errorf("record escalation level %d: %w", lvl.Level, err)
	}
	if !claimed {
		return nil
	}

	slaEscalations.Inc()

	entry := domain.TimelineEntry{
		Timestamp: now,
		Action:    domain.TimelineActionEscalated,
		Actor:     domain.SystemActor,
		Details:   fmt.Sprintf("Escalated to level %d", lvl.Level),
	}
	if err := e.repo.AppendTimeline(ctx, incident.ID, entry); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}

	notification := domain.Notification{
		Type:    "sla_escalation",
		Message: fmt.Sprintf("Incident %s escalated to level %d", incident.ID, lvl.Level),
		Data:    map[string]any{"incident_id": incident.ID, "level": lvl.Level, "policy_id": policy.ID},
	}
	for _, userID := range lvl.NotifyUsers {
		e.publisher.NotifyUser(userID, notification)
	}
	for _, channel := range lvl.NotifyChannels {
		e.publisher.NotifyRole(domain.Role(channel), notification)
	}

	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    domain.SystemActor,
		Action:     "sla_escalated",
		Resource:   "incident",
		ResourceID: incident.ID,
		IncidentID: incident.ID,
		Details:    map[string]any{"level": lvl.Level, "policy_id": policy.ID},
		Result:     domain.AuditResultSuccess,
	})
	return nil
}

func (e *Engine) policyByID(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	policies, err := e.activePolicies(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if p.ID == id {
			return p, nil
		}
	}
	policy, err := e.policies.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return policy, nil
}

func sameBreach(state domain.SLAState, eval SLAEvaluation) bool {
	if !state.Breached {
		return false
	}
	return state.BreachType != nil && eval.BreachType != nil && *state.BreachType == *eval.BreachType
}
