package domain

import "time"

// EscalationAction is an automated action attached to an escalation level.
type EscalationAction string

// Escalation actions.
const (
	EscalationActionNotify      EscalationAction = "notify"
	EscalationActionReassign    EscalationAction = "reassign"
	EscalationActionEscalate    EscalationAction = "escalate"
	EscalationActionAutoResolve EscalationAction = "auto-resolve"
)

// IsValid checks if the escalation action is valid.
func (a EscalationAction) IsValid() bool {
	switch a {
	case EscalationActionNotify, EscalationActionReassign,
		EscalationActionEscalate, EscalationActionAutoResolve:
		return true
	}
	return false
}

// EscalationLevel is one rung of a policy's escalation ladder.
// TriggerAt is a percentage of the resolution target.
type EscalationLevel struct {
	Level          int                `json:"level"`
	TriggerAt      int                `json:"trigger_at"`
	NotifyUsers    []string           `json:"notify_users,omitempty"`
	NotifyChannels []string           `json:"notify_channels,omitempty"`
	Actions        []EscalationAction `json:"actions,omitempty"`
}

// PolicyConditions select the incidents a policy applies to.
// A policy matches if any severity, service or tag condition matches.
type PolicyConditions struct {
	Severity []Severity `json:"severity,omitempty"`
	Service  []string   `json:"service,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// PolicyTargets are the SLA deadlines in minutes from incident creation.
type PolicyTargets struct {
	AcknowledgmentTime  int `json:"acknowledgment_time"`
	ResolutionTime      int `json:"resolution_time"`
	EscalationThreshold int `json:"escalation_threshold"`
}

// SLAPolicy defines deadlines and an escalation ladder for matching incidents.
type SLAPolicy struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Conditions  PolicyConditions `json:"conditions"`
	Targets     PolicyTargets    `json:"targets"`
	Escalation  EscalationLadder `json:"escalation"`
	IsActive    bool             `json:"is_active"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EscalationLadder is the ordered set of escalation levels for a policy.
type EscalationLadder struct {
	Enabled bool              `json:"enabled"`
	Levels  []EscalationLevel `json:"levels,omitempty"`
}

// Matches reports whether the policy's conditions select the incident.
func (p *SLAPolicy) Matches(incident *Incident) bool {
	for _, sev := range p.Conditions.Severity {
		if sev == incident.Severity {
			return true
		}
	}
	for _, svc := range p.Conditions.Service {
		if svc == incident.Service {
			return true
		}
	}
	for _, tag := range p.Conditions.Tags {
		for _, it := range incident.Tags {
			if tag == it {
				return true
			}
		}
	}
	return false
}
