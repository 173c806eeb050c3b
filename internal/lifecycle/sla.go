package lifecycle

import (
	"sort"
	"time"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// SLAEvaluation is the result of evaluating an incident against its policy at
// a point in time.
type SLAEvaluation struct {
	Breached   bool
	BreachType *domain.BreachType
	// DueEscalations lists ladder levels whose trigger time has elapsed and
	// that are not yet present in the incident's escalation history, in
	// ascending level order.
	DueEscalations []domain.EscalationLevel
}

// SelectApplicablePolicy returns the policy applying to the incident, or nil.
// A policy matches if any severity, service or tag condition matches; among
// matches the smallest resolution target wins, ties broken by ascending
// policy ID so selection is deterministic.
func SelectApplicablePolicy(incident *domain.Incident, policies []*domain.SLAPolicy) *domain.SLAPolicy {
	matches := make([]*domain.SLAPolicy, 0, len(policies))
	for _, p := range policies {
		if p.IsActive && p.Matches(incident) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Targets.ResolutionTime != matches[b].Targets.ResolutionTime {
			return matches[a].Targets.ResolutionTime < matches[b].Targets.ResolutionTime
		}
		return matches[a].ID < matches[b].ID
	})
	return matches[0]
}

// EvaluateSLA derives breach state and due escalations purely from now versus
// the incident's stored deadlines and escalation history. It never consults
// wall-clock state of its own, so repeated or concurrent evaluations with the
// same inputs yield the same result and escalations are never emitted twice.
func EvaluateSLA(incident *domain.Incident, policy *domain.SLAPolicy, now time.Time) SLAEvaluation {
	var eval SLAEvaluation

	ackMissed := incident.SLA.AcknowledgmentDeadline != nil &&
		incident.AcknowledgedAt == nil &&
		now.After(*incident.SLA.AcknowledgmentDeadline)
	resMissed := incident.SLA.ResolutionDeadline != nil &&
		incident.ResolvedAt == nil &&
		now.After(*incident.SLA.ResolutionDeadline)

	switch {
	case ackMissed && resMissed:
		bt := domain.BreachBoth
		eval.Breached = true
		eval.BreachType = &bt
	case ackMissed:
		bt := domain.BreachAcknowledgment
		eval.Breached = true
		eval.BreachType = &bt
	case resMissed:
		bt := domain.BreachResolution
		eval.Breached = true
		eval.BreachType = &bt
	}

	if policy == nil || !policy.Escalation.Enabled || incident.ResolvedAt != nil {
		return eval
	}

	recorded := make(map[int]bool, len(incident.EscalationHistory))
	for _, rec := range incident.EscalationHistory {
		recorded[rec.Level] = true
	}

	levels := make([]domain.EscalationLevel, len(policy.Escalation.Levels))
	copy(levels, policy.Escalation.Levels)
	sort.Slice(levels, func(a, b int) bool { return levels[a].Level < levels[b].Level })

	resolutionTarget := time.Duration(policy.Targets.ResolutionTime) * time.Minute
	for _, lvl := range levels {
		if recorded[lvl.Level] || lvl.Level <= incident.SLA.EscalationLevel {
			continue
		}
		triggerAt := incident.CreatedAt.Add(resolutionTarget * time.Duration(lvl.TriggerAt) / 100)
		if !now.Before(triggerAt) {
			eval.DueEscalations = append(eval.DueEscalations, lvl)
		}
	}

	return eval
}

// deadlines computes the SLA deadlines for an incident created at createdAt
// under the given policy.
func deadlines(createdAt time.Time, policy *domain.SLAPolicy) (ack, res time.Time) {
	ack = createdAt.Add(time.Duration(policy.Targets.AcknowledgmentTime) * time.Minute)
	res = createdAt.Add(time.Duration(policy.Targets.ResolutionTime) * time.Minute)
	return ack, res
}

// minutesBetween returns whole minutes from a to b, floored.
func minutesBetween(a, b time.Time) int {
	return int(b.Sub(a).Minutes())
}
