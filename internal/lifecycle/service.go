// Package lifecycle implements the incident state machine, timeline, metric
// derivation and SLA breach/escalation evaluation.
package lifecycle

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	ttlcache "github.com/jellydator/ttlcache/v3"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/pkg/ctxlog"
)

const activePoliciesCacheKey = "active"

// lockStripes bounds the per-incident lock table. Distinct incidents hashing
// to the same stripe over-serialize, which is harmless.
const lockStripes = 128

// Engine implements incident lifecycle business logic. All mutations of a
// single incident are serialized through a per-incident lock; milestone
// timestamps additionally rely on atomic set-if-unset claims at the storage
// layer, so duplicate concurrent transitions are safe either way.
type Engine struct {
	repo      Repository
	policies  PolicyRepository
	publisher EventPublisher
	recorder  AuditRecorder
	clock     func() time.Time

	policyCache *ttlcache.Cache[string, []*domain.SLAPolicy]

	locks [lockStripes]sync.Mutex
}

// NewEngine creates a new lifecycle engine.
func NewEngine(repo Repository, policies PolicyRepository, publisher EventPublisher, recorder AuditRecorder) *Engine {
	return NewEngineWithClock(repo, policies, publisher, recorder, time.Now)
}

// NewEngineWithClock creates an engine with an injected clock. Used in tests
// to advance virtual time.
func NewEngineWithClock(repo Repository, policies PolicyRepository, publisher EventPublisher, recorder AuditRecorder, clock func() time.Time) *Engine {
	cache := ttlcache.New(ttlcache.WithTTL[string, []*domain.SLAPolicy](time.Minute))
	go cache.Start()

	return &Engine{
		repo:        repo,
		policies:    policies,
		publisher:   publisher,
		recorder:    recorder,
		clock:       clock,
		policyCache: cache,
	}
}

// lockFor returns the stripe mutex serializing mutations of one incident.
func (e *Engine) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &e.locks[h.Sum32()%lockStripes]
}

// FlushPolicyCache drops the cached active policy set. Called when policies
// are mutated by the admin API.
func (e *Engine) FlushPolicyCache() {
	e.policyCache.DeleteAll()
}

// Close stops the policy cache janitor goroutine.
func (e *Engine) Close() {
	e.policyCache.Stop()
}

func (e *Engine) activePolicies(ctx context.Context) ([]*domain.SLAPolicy, error) {
	if item := e.policyCache.Get(activePoliciesCacheKey); item != nil {
		return item.Value(), nil
	}
	policies, err := e.policies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active policies: %w", err)
	}
	e.policyCache.Set(activePoliciesCacheKey, policies, ttlcache.DefaultTTL)
	return policies, nil
}

// CreateIncidentInput holds data for creating an incident.
type CreateIncidentInput struct {
	Title       string
	Description string
	Service     string
	Severity    domain.Severity
	Source      domain.IncidentSource
	Environment string
	Tags        []string
}

// CreateIncident creates an incident in status open, resolves the applicable
// SLA policy and computes deadlines, and appends the initial timeline entry.
func (e *Engine) CreateIncident(ctx context.Context, input CreateIncidentInput, reporter domain.Principal) (*domain.Incident, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title", ErrValidation)
	}
	if input.Service == "" {
		return nil, fmt.Errorf("%w: service", ErrValidation)
	}
	if input.Environment == "" {
		return nil, fmt.Errorf("%w: environment", ErrValidation)
	}
	if !input.Severity.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSeverity, input.Severity)
	}
	if input.Source == "" {
		input.Source = domain.SourceManual
	}
	if !input.Source.IsValid() {
		return nil, fmt.Errorf("%w: source %s", ErrValidation, input.Source)
	}

	now := e.clock()
	incident := &domain.Incident{
		Title:       input.Title,
		Description: input.Description,
		Service:     input.Service,
		Severity:    input.Severity,
		Status:      domain.IncidentStatusOpen,
		Source:      input.Source,
		Environment: input.Environment,
		Reporter:    reporter.ID,
		Tags:        input.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Timeline: []domain.TimelineEntry{{
			Timestamp: now,
			Action:    domain.TimelineActionCreated,
			Actor:     reporter.Actor(),
			Details:   "Incident created",
		}},
	}

	policies, err := e.activePolicies(ctx)
	if err != nil {
		return nil, err
	}
	if policy := SelectApplicablePolicy(incident, policies); policy != nil {
		ack, res := deadlines(now, policy)
		incident.SLA = domain.SLAState{
			PolicyID:               &policy.ID,
			AcknowledgmentDeadline: &ack,
			ResolutionDeadline:     &res,
		}
	}

	if err := e.repo.Create(ctx, incident); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	incidentsCreated.WithLabelValues(string(incident.Severity), string(incident.Source)).Inc()

	e.publisher.IncidentCreated(incident)
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    reporter.ID,
		Action:     "incident_created",
		Resource:   "incident",
		ResourceID: incident.ID,
		IncidentID: incident.ID,
		Details:    map[string]any{"title": incident.Title, "service": incident.Service, "severity": incident.Severity},
		Result:     domain.AuditResultSuccess,
	})

	return incident, nil
}

// GetIncident retrieves an incident by ID.
func (e *Engine) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return e.repo.Get(ctx, id)
}

// ListIncidents retrieves incidents with optional filters.
func (e *Engine) ListIncidents(ctx context.Context, filters Filters) ([]*domain.Incident, int, error) {
	return e.repo.List(ctx, filters)
}

// canTransition is the single guard for status transitions. The observed
// behavior admits any valid status from any other; substituting a strict
// transition table here changes every call site at once.
func (e *Engine) canTransition(from, to domain.IncidentStatus) bool {
	return to.IsValid()
}

// Transition moves an incident into newStatus, recording milestone timestamps
// the first time a milestone state is entered and appending exactly one
// timeline entry. Re-entering a milestone state never overwrites timestamps.
func (e *Engine) Transition(ctx context.Context, id string, newStatus domain.IncidentStatus, actor domain.Principal) (*domain.Incident, error) {
	if !newStatus.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, newStatus)
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.IsArchived() {
		return nil, ErrIncidentArchived
	}
	if !e.canTransition(incident.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, incident.Status, newStatus)
	}

	now := e.clock()
	entry := domain.TimelineEntry{
		Timestamp: now,
		Action:    domain.TimelineActionStatusChanged,
		Actor:     actor.Actor(),
		Details:   fmt.Sprintf("Status changed to %s", newStatus),
	}
	if err := e.repo.UpdateStatus(ctx, id, newStatus, entry); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if err := e.applyMilestones(ctx, incident, newStatus, now); err != nil {
		return nil, err
	}

	updated, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	statusTransitions.WithLabelValues(string(newStatus)).Inc()

	e.publisher.StatusChanged(id, newStatus)
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "incident_status_changed",
		Resource:   "incident",
		ResourceID: id,
		IncidentID: id,
		Details:    map[string]any{"from": incident.Status, "to": newStatus},
		Result:     domain.AuditResultSuccess,
	})

	return updated, nil
}

// applyMilestones claims milestone timestamps for states entered the first
// time. Claims are atomic set-if-unset operations; a lost claim means another
// transition already recorded the milestone, which is not an error.
func (e *Engine) applyMilestones(ctx context.Context, incident *domain.Incident, newStatus domain.IncidentStatus, now time.Time) error {
	logger := ctxlog.FromContext(ctx)

	if newStatus == domain.IncidentStatusAcknowledged && incident.AcknowledgedAt == nil {
		claimed, err := e.repo.ClaimAcknowledged(ctx, incident.ID, now, minutesBetween(incident.CreatedAt, now))
		if err != nil {
			return fmt.Errorf("claim acknowledged: %w", err)
		}
		if !claimed {
			logger.Debug("acknowledgment milestone already claimed", "incident_id", incident.ID)
		}
	}

	if newStatus.IsTerminal() && incident.ResolvedAt == nil {
		claimed, err := e.repo.ClaimResolved(ctx, incident.ID, now, minutesBetween(incident.CreatedAt, now))
		if err != nil {
			return fmt.Errorf("claim resolved: %w", err)
		}
		if !claimed {
			logger.Debug("resolution milestone already claimed", "incident_id", incident.ID)
		}
	}

	if newStatus == domain.IncidentStatusClosed && incident.ClosedAt == nil {
		if _, err := e.repo.ClaimClosed(ctx, incident.ID, now); err != nil {
			return fmt.Errorf("claim closed: %w", err)
		}
	}

	return nil
}

// Assign sets the incident assignee and appends one timeline entry. Assignee
// identity validation is delegated to the caller.
func (e *Engine) Assign(ctx context.Context, id, assigneeID string, actor domain.Principal) (*domain.Incident, error) {
	if assigneeID == "" {
		return nil, fmt.Errorf("%w: assignee", ErrValidation)
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.IsArchived() {
		return nil, ErrIncidentArchived
	}

	entry := domain.TimelineEntry{
		Timestamp: e.clock(),
		Action:    domain.TimelineActionAssigned,
		Actor:     actor.Actor(),
		Details:   fmt.Sprintf("Assigned to %s", assigneeID),
	}
	if err := e.repo.UpdateAssignee(ctx, id, assigneeID, entry); err != nil {
		return nil, fmt.Errorf("update assignee: %w", err)
	}

	updated, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.publisher.Assigned(id, assigneeID)
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "incident_assigned",
		Resource:   "incident",
		ResourceID: id,
		IncidentID: id,
		Details:    map[string]any{"assignee": assigneeID},
		Result:     domain.AuditResultSuccess,
	})

	return updated, nil
}

// AddChatMessage appends a message to the incident's transcript and fans it
// out to the incident room.
func (e *Engine) AddChatMessage(ctx context.Context, id string, msg domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg.Text == "" {
		return nil, fmt.Errorf("%w: text", ErrValidation)
	}
	if msg.Author == "" {
		msg.Author = domain.ChatAuthorUser
	}
	msg.Timestamp = e.clock()

	if err := e.repo.AppendChatMessage(ctx, id, msg); err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}

	e.publisher.ChatUpdated(id, msg)
	return &msg, nil
}

// AddRemediationInput holds data for proposing a remediation step.
type AddRemediationInput struct {
	Step             string
	Description      string
	RequiresApproval bool
	Safe             bool
	RunbookID        *string
}

// AddRemediation appends a pending remediation step to the incident.
func (e *Engine) AddRemediation(ctx context.Context, id string, input AddRemediationInput, actor domain.Principal) (*domain.RemediationStep, error) {
	if input.Step == "" {
		return nil, fmt.Errorf("%w: step", ErrValidation)
	}

	step := domain.RemediationStep{
		ID:               uuid.New().String(),
		Step:             input.Step,
		Description:      input.Description,
		Status:           domain.RemediationPending,
		Timestamp:        e.clock(),
		RequiresApproval: input.RequiresApproval,
		Safe:             input.Safe,
		RunbookID:        input.RunbookID,
	}
	if err := e.repo.AppendRemediation(ctx, id, step); err != nil {
		return nil, fmt.Errorf("append remediation: %w", err)
	}

	e.publisher.RemediationStatusChanged(id, step.ID, step.Status)
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "remediation_proposed",
		Resource:   "remediation",
		ResourceID: step.ID,
		IncidentID: id,
		Details:    map[string]any{"step": step.Step, "requires_approval": step.RequiresApproval},
		Result:     domain.AuditResultSuccess,
	})

	return &step, nil
}

// SetRemediationStatus moves a remediation step into a new status.
func (e *Engine) SetRemediationStatus(ctx context.Context, id, remediationID string, status domain.RemediationStatus, actor domain.Principal, result, errMsg string) (*domain.Incident, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: remediation status %s", ErrValidation, status)
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Remediation(remediationID) == nil {
		return nil, ErrRemediationNotFound
	}

	if err := e.repo.UpdateRemediationStatus(ctx, id, remediationID, status, actor.Actor(), result, errMsg); err != nil {
		return nil, fmt.Errorf("update remediation status: %w", err)
	}

	entry := domain.TimelineEntry{
		Timestamp: e.clock(),
		Action:    domain.TimelineActionRemediationChanged,
		Actor:     actor.Actor(),
		Details:   fmt.Sprintf("Remediation %s changed to %s", remediationID, status),
	}
	if err := e.repo.AppendTimeline(ctx, id, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}

	updated, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.publisher.RemediationStatusChanged(id, remediationID, status)
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "remediation_status_changed",
		Resource:   "remediation",
		ResourceID: remediationID,
		IncidentID: id,
		Details:    map[string]any{"status": status},
		Result:     domain.AuditResultSuccess,
	})

	return updated, nil
}

// AttachTicket links an externally created ticket to the incident.
func (e *Engine) AttachTicket(ctx context.Context, id string, link domain.TicketLink, actor domain.Principal) (*domain.Incident, error) {
	if !link.Provider.IsValid() {
		return nil, fmt.Errorf("%w: ticket provider %s", ErrValidation, link.Provider)
	}
	if link.ExternalID == "" {
		return nil, fmt.Errorf("%w: external_id", ErrValidation)
	}
	link.CreatedAt = e.clock()

	if err := e.repo.AppendTicketLink(ctx, id, link); err != nil {
		return nil, fmt.Errorf("append ticket link: %w", err)
	}

	entry := domain.TimelineEntry{
		Timestamp: link.CreatedAt,
		Action:    domain.TimelineActionTicketLinked,
		Actor:     actor.Actor(),
		Details:   fmt.Sprintf("Linked %s ticket %s", link.Provider, link.ExternalID),
	}
	if err := e.repo.AppendTimeline(ctx, id, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}

	updated, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.publisher.IncidentUpdated(updated)
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "ticket_linked",
		Resource:   "incident",
		ResourceID: id,
		IncidentID: id,
		Details:    map[string]any{"provider": link.Provider, "external_id": link.ExternalID},
		Result:     domain.AuditResultSuccess,
	})

	return updated, nil
}

// UpdateRCA replaces the incident's root cause analysis document.
func (e *Engine) UpdateRCA(ctx context.Context, id string, rca *domain.RCA, actor domain.Principal) (*domain.Incident, error) {
	if rca == nil || rca.Summary == "" {
		return nil, fmt.Errorf("%w: rca summary", ErrValidation)
	}
	if rca.Status == "" {
		rca.Status = domain.RCAStatusDraft
	}
	rca.GeneratedAt = e.clock()

	if err := e.repo.UpdateRCA(ctx, id, rca); err != nil {
		return nil, fmt.Errorf("update rca: %w", err)
	}

	entry := domain.TimelineEntry{
		Timestamp: rca.GeneratedAt,
		Action:    "rca_updated",
		Actor:     actor.Actor(),
		Details:   fmt.Sprintf("RCA updated (%s)", rca.Status),
	}
	if err := e.repo.AppendTimeline(ctx, id, entry); err != nil {
		return nil, fmt.Errorf("append timeline: %w", err)
	}

	updated, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.publisher.IncidentUpdated(updated)
	return updated, nil
}

// Archive soft-archives an incident; history stays queryable.
func (e *Engine) Archive(ctx context.Context, id string, actor domain.Principal) error {
	if err := e.repo.Archive(ctx, id, e.clock()); err != nil {
		return fmt.Errorf("archive incident: %w", err)
	}
	e.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "incident_archived",
		Resource:   "incident",
		ResourceID: id,
		IncidentID: id,
		Details:    map[string]any{},
		Result:     domain.AuditResultSuccess,
	})
	return nil
}
