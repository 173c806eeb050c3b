// Package runbooks manages versioned operational procedure documents.
// Updating a runbook's body snapshots the previous version so remediation
// steps can keep pointing at the revision they were proposed against.
package runbooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/newdaksh/incident-agent/internal/domain"
)

// Sentinel errors for the runbooks module.
var (
	ErrRunbookNotFound = errors.New("runbook not found")
	ErrVersionNotFound = errors.New("runbook version not found")
	ErrRunbookArchived = errors.New("runbook is archived")
)

// Filter narrows runbook listings.
type Filter struct {
	Service         *string
	Tag             *string
	IncludeArchived bool
}

// Repository is the storage collaborator for runbooks.
type Repository interface {
	Create(ctx context.Context, runbook *domain.Runbook) error
	Get(ctx context.Context, id string) (*domain.Runbook, error)
	List(ctx context.Context, filter Filter) ([]*domain.Runbook, error)

	// Update replaces the runbook head and inserts the version snapshot of the
	// previous body in one transaction.
	Update(ctx context.Context, runbook *domain.Runbook, snapshot *domain.RunbookVersion) error
	ListVersions(ctx context.Context, runbookID string) ([]*domain.RunbookVersion, error)
	GetVersion(ctx context.Context, runbookID string, version int) (*domain.RunbookVersion, error)

	Archive(ctx context.Context, id string, at time.Time) error
}

// AuditRecorder records state-changing operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// Service implements runbook business logic.
type Service struct {
	repo     Repository
	recorder AuditRecorder
	clock    func() time.Time
}

// NewService creates a new runbooks service.
func NewService(repo Repository, recorder AuditRecorder) *Service {
	return &Service{repo: repo, recorder: recorder, clock: time.Now}
}

// CreateInput holds data for creating a runbook.
type CreateInput struct {
	Title       string
	Service     string
	Description string
	Body        string
	Tags        []string
}

// Create stores a new runbook at version 1.
func (s *Service) Create(ctx context.Context, in CreateInput, principal domain.Principal) (*domain.Runbook, error) {
	now := s.clock()
	runbook := &domain.Runbook{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Service:     in.Service,
		Description: in.Description,
		Body:        in.Body,
		Version:     1,
		Tags:        in.Tags,
		CreatedBy:   principal.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, runbook); err != nil {
		return nil, fmt.Errorf("create runbook: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    principal.ID,
		Action:     "runbook_created",
		Resource:   "runbook",
		ResourceID: runbook.ID,
		Details:    map[string]any{"title": runbook.Title, "service": runbook.Service},
	})
	return runbook, nil
}

// Get returns a runbook by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Runbook, error) {
	runbook, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	return runbook, nil
}

// List returns runbooks matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*domain.Runbook, error) {
	runbooks, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runbooks: %w", err)
	}
	return runbooks, nil
}

// UpdateInput holds data for updating a runbook.
type UpdateInput struct {
	Title       string
	Description string
	Body        string
	Tags        []string
}

// Update replaces the runbook's content. When the body changes, the previous
// body is snapshotted and the version is bumped; metadata-only updates keep
// the current version.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput, principal domain.Principal) (*domain.Runbook, error) {
	runbook, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	if runbook.IsArchived() {
		return nil, ErrRunbookArchived
	}

	var snapshot *domain.RunbookVersion
	if in.Body != runbook.Body {
		snapshot = &domain.RunbookVersion{
			ID:        uuid.NewString(),
			RunbookID: runbook.ID,
			Version:   runbook.Version,
			Body:      runbook.Body,
			CreatedBy: runbook.CreatedBy,
			CreatedAt: runbook.UpdatedAt,
		}
		runbook.Version++
		runbook.Body = in.Body
	}

	runbook.Title = in.Title
	runbook.Description = in.Description
	runbook.Tags = in.Tags
	runbook.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, runbook, snapshot); err != nil {
		return nil, fmt.Errorf("update runbook: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    principal.ID,
		Action:     "runbook_updated",
		Resource:   "runbook",
		ResourceID: runbook.ID,
		Details:    map[string]any{"version": runbook.Version, "body_changed": snapshot != nil},
	})
	return runbook, nil
}

// ListVersions returns the historical snapshots of a runbook, newest first.
func (s *Service) ListVersions(ctx context.Context, id string) ([]*domain.RunbookVersion, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("get runbook: %w", err)
	}
	versions, err := s.repo.ListVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list runbook versions: %w", err)
	}
	return versions, nil
}

// GetVersion returns a single historical snapshot. The head version is served
// from the runbook itself, older versions from the snapshot table.
func (s *Service) GetVersion(ctx context.Context, id string, version int) (*domain.RunbookVersion, error) {
	runbook, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get runbook: %w", err)
	}

	if version == runbook.Version {
		return &domain.RunbookVersion{
			RunbookID: runbook.ID,
			Version:   runbook.Version,
			Body:      runbook.Body,
			CreatedBy: runbook.CreatedBy,
			CreatedAt: runbook.UpdatedAt,
		}, nil
	}

	snapshot, err := s.repo.GetVersion(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("get runbook version: %w", err)
	}
	return snapshot, nil
}

// Archive soft-archives a runbook. Remediation steps keep their references.
func (s *Service) Archive(ctx context.Context, id string, principal domain.Principal) error {
	runbook, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get runbook: %w", err)
	}
	if runbook.IsArchived() {
		return ErrRunbookArchived
	}

	if err := s.repo.Archive(ctx, id, s.clock()); err != nil {
		return fmt.Errorf("archive runbook: %w", err)
	}

	s.recorder.Record(ctx, domain.AuditEntry{
		ActorID:    principal.ID,
		Action:     "runbook_archived",
		Resource:   "runbook",
		ResourceID: id,
	})
	return nil
}
