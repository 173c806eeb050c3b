package incidents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/lifecycle"
)

// fakeRepo is a minimal in-memory lifecycle.Repository for handler tests.
type fakeRepo struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	nextID    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{incidents: make(map[string]*domain.Incident)}
}

func (f *fakeRepo) get(id string) (*domain.Incident, error) {
	incident, ok := f.incidents[id]
	if !ok {
		return nil, lifecycle.ErrIncidentNotFound
	}
	return incident, nil
}

func (f *fakeRepo) Create(_ context.Context, incident *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	incident.ID = fmt.Sprintf("inc-%d", f.nextID)
	clone := *incident
	f.incidents[incident.ID] = &clone
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return nil, err
	}
	clone := *incident
	return &clone, nil
}

func (f *fakeRepo) List(_ context.Context, _ lifecycle.Filters) ([]*domain.Incident, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Incident
	for _, incident := range f.incidents {
		clone := *incident
		out = append(out, &clone)
	}
	return out, len(out), nil
}

func (f *fakeRepo) ListOpen(_ context.Context) ([]*domain.Incident, error) {
	return nil, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id string, status domain.IncidentStatus, entry domain.TimelineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.Status = status
	incident.Timeline = append(incident.Timeline, entry)
	return nil
}

func (f *fakeRepo) UpdateAssignee(_ context.Context, id, assignee string, entry domain.TimelineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.Assignee = &assignee
	incident.Timeline = append(incident.Timeline, entry)
	return nil
}

func (f *fakeRepo) AppendTimeline(_ context.Context, id string, entry domain.TimelineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.Timeline = append(incident.Timeline, entry)
	return nil
}

func (f *fakeRepo) ClaimAcknowledged(_ context.Context, id string, at time.Time, minutes int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil || incident.AcknowledgedAt != nil {
		return false, err
	}
	incident.AcknowledgedAt = &at
	incident.Metrics.TimeToAcknowledgment = &minutes
	return true, nil
}

func (f *fakeRepo) ClaimResolved(_ context.Context, id string, at time.Time, mttr int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil || incident.ResolvedAt != nil {
		return false, err
	}
	incident.ResolvedAt = &at
	incident.Metrics.MTTR = &mttr
	return true, nil
}

func (f *fakeRepo) ClaimClosed(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil || incident.ClosedAt != nil {
		return false, err
	}
	incident.ClosedAt = &at
	return true, nil
}

func (f *fakeRepo) RecordEscalation(_ context.Context, id string, rec domain.EscalationRecord) (bool, error) {
	return false, nil
}

func (f *fakeRepo) MarkBreached(_ context.Context, id string, breachType domain.BreachType) error {
	return nil
}

func (f *fakeRepo) AppendChatMessage(_ context.Context, id string, msg domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.BotTranscript = append(incident.BotTranscript, msg)
	return nil
}

func (f *fakeRepo) AppendRemediation(_ context.Context, id string, step domain.RemediationStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.Remediations = append(incident.Remediations, step)
	return nil
}

func (f *fakeRepo) UpdateRemediationStatus(_ context.Context, id, remediationID string, status domain.RemediationStatus, executedBy, result, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	for i := range incident.Remediations {
		if incident.Remediations[i].ID == remediationID {
			incident.Remediations[i].Status = status
			incident.Remediations[i].ExecutedBy = executedBy
			incident.Remediations[i].Result = result
			incident.Remediations[i].Error = errMsg
			return nil
		}
	}
	return lifecycle.ErrRemediationNotFound
}

func (f *fakeRepo) AppendTicketLink(_ context.Context, id string, link domain.TicketLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.TicketLinks = append(incident.TicketLinks, link)
	return nil
}

func (f *fakeRepo) UpdateRCA(_ context.Context, id string, rca *domain.RCA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.RCA = rca
	return nil
}

func (f *fakeRepo) Archive(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	incident, err := f.get(id)
	if err != nil {
		return err
	}
	incident.ArchivedAt = &at
	return nil
}

// fakePolicies is an empty policy store.
type fakePolicies struct{}

func (fakePolicies) ListActive(context.Context) ([]*domain.SLAPolicy, error) { return nil, nil }
func (fakePolicies) Get(context.Context, string) (*domain.SLAPolicy, error) {
	return nil, lifecycle.ErrPolicyNotFound
}

// fakePublisher records notifications for assertions.
type fakePublisher struct {
	mu          sync.Mutex
	roleNotices map[domain.Role][]domain.Notification
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{roleNotices: make(map[domain.Role][]domain.Notification)}
}

func (p *fakePublisher) IncidentCreated(*domain.Incident)                                  {}
func (p *fakePublisher) IncidentUpdated(*domain.Incident)                                  {}
func (p *fakePublisher) StatusChanged(string, domain.IncidentStatus)                       {}
func (p *fakePublisher) Assigned(string, string)                                           {}
func (p *fakePublisher) ChatUpdated(string, domain.ChatMessage)                            {}
func (p *fakePublisher) RemediationStatusChanged(string, string, domain.RemediationStatus) {}
func (p *fakePublisher) NotifyUser(string, domain.Notification)                            {}
func (p *fakePublisher) Broadcast(domain.Notification)                                     {}

func (p *fakePublisher) NotifyRole(role domain.Role, n domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roleNotices[role] = append(p.roleNotices[role], n)
}

// fakeRecorder discards audit entries.
type fakeRecorder struct{}

func (fakeRecorder) Record(context.Context, domain.AuditEntry) {}

func newTestEngine() (*lifecycle.Engine, *fakeRepo, *fakePublisher) {
	repo := newFakeRepo()
	publisher := newFakePublisher()
	engine := lifecycle.NewEngine(repo, fakePolicies{}, publisher, fakeRecorder{})
	return engine, repo, publisher
}
