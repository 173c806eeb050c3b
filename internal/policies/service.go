// Package policies provides admin CRUD for SLA policies. The lifecycle engine
// reads the active set through its own cached view; every mutation here flushes
// that cache so new deadlines apply on the next sweep.
package policies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/lifecycle"
)

// Sentinel errors for the policies module.
var (
	ErrPolicyNotFound = lifecycle.ErrPolicyNotFound
	ErrInvalidLadder  = errors.New("invalid escalation ladder")
	ErrNoConditions   = errors.New("policy must have at least one condition")
)

// Repository extends the engine's read-only policy view with admin CRUD.
type Repository interface {
	lifecycle.PolicyRepository
	Create(ctx context.Context, policy *domain.SLAPolicy) error
	List(ctx context.Context) ([]*domain.SLAPolicy, error)
	Update(ctx context.Context, policy *domain.SLAPolicy) error
	Delete(ctx context.Context, id string) error
}

// CacheFlusher invalidates cached policy state after a mutation.
type CacheFlusher interface {
	FlushPolicyCache()
}

// AuditRecorder records state-changing operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// Service implements SLA policy business logic.
type Service struct {
	repo     Repository
	flusher  CacheFlusher
	recorder AuditRecorder
	clock    func() time.Time
}

// NewService creates a new policies service.
func NewService(repo Repository, flusher CacheFlusher, recorder AuditRecorder) *Service {
	return &Service{repo: repo, flusher: flusher, recorder: recorder, clock: time.Now}
}

// PolicyInput holds data for creating or updating a policy.
type PolicyInput struct {
	Name        string
	Description string
	Conditions  domain.PolicyConditions
	Targets     domain.PolicyTargets
	Escalation  domain.EscalationLadder
	IsActive    bool
}

func validateInput(in PolicyInput) error {
	if len(in.Conditions.Severity) == 0 && len(in.Conditions.Service) == 0 && len(in.Conditions.Tags) == 0 {
		return ErrNoConditions
	}
	if in.Targets.AcknowledgmentTime <= 0 || in.Targets.ResolutionTime <= 0 {
		return fmt.Errorf("%w: targets must be positive", ErrInvalidLadder)
	}
	return validateLadder(in.Escalation)
}

// validateLadder checks that levels and trigger points are strictly ascending
// and that trigger points fall within 1-100 percent of the resolution target.
func validateLadder(ladder domain.EscalationLadder) error {
	prevLevel, prevTrigger := 0, 0
	for _, level := range ladder.Levels {
		if level.Level <= prevLevel {
			return fmt.Errorf("%w: levels must be ascending, got %d after %d", ErrInvalidLadder, level.Level, prevLevel)
		}
		if level.TriggerAt < 1 || level.TriggerAt > 100 {
			return fmt.Errorf("%w: trigger_at %d out of range 1-100", ErrInvalidLadder, level.TriggerAt)
		}
		if level.TriggerAt <= prevTrigger {
			return fmt.Errorf("%w: trigger points must be ascending, got %d after %d", ErrInvalidLadder, level.TriggerAt, prevTrigger)
		}
		for _, action := range level.Actions {
			if !action.IsValid() {
				return fmt.Errorf("%w: unknown action %q", ErrInvalidLadder, action)
			}
		}
		prevLevel, prevTrigger = level.Level, level.TriggerAt
	}
	return nil
}

// Create validates and stores a new policy.
func (s *Service) Create(ctx context.Context, in PolicyInput, principal domain.Principal) (*domain.SLAPolicy, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	policy := &domain.SLAPolicy{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Conditions:  in.Conditions,
		Targets:     in.Targets,
		Escalation:  in.Escalation,
		IsActive:    in.IsActive,
		CreatedBy:   principal.ID,
		CreatedAt:   s.clock(),
		UpdatedAt:   s.clock(),
	}

	if err := s.repo.Create(ctx, policy); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}

	s.flusher.FlushPolicyCache()
	s.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    principal.ID,
		Action:     "sla_policy_created",
		Resource:   "sla_policy",
		ResourceID: policy.ID,
		Details:    map[string]any{"name": policy.Name, "active": policy.IsActive},
	})
	return policy, nil
}

// Get returns a policy by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	policy, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// List returns all policies, active and inactive.
func (s *Service) List(ctx context.Context) ([]*domain.SLAPolicy, error) {
	policies, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// Update replaces a policy's definition.
func (s *Service) Update(ctx context.Context, id string, in PolicyInput, principal domain.Principal) (*domain.SLAPolicy, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	policy, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	policy.Name = in.Name
	policy.Description = in.Description
	policy.Conditions = in.Conditions
	policy.Targets = in.Targets
	policy.Escalation = in.Escalation
	policy.IsActive = in.IsActive
	policy.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, policy); err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}

	s.flusher.FlushPolicyCache()
	s.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    principal.ID,
		Action:     "sla_policy_updated",
		Resource:   "sla_policy",
		ResourceID: policy.ID,
		Details:    map[string]any{"name": policy.Name, "active": policy.IsActive},
	})
	return policy, nil
}

// Delete removes a policy.
func (s *Service) Delete(ctx context.Context, id string, principal domain.Principal) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}

	s.flusher.FlushPolicyCache()
	s.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    principal.ID,
		Action:     "sla_policy_deleted",
		Resource:   "sla_policy",
		ResourceID: id,
	})
	return nil
}
