// Package identity provides user accounts, credential verification and token
// issuance for both the HTTP layer and the socket gateway.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/newdaksh/incident-agent/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// AuditRecorder records identity operations. Recording never fails the
// operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// Service implements identity business logic.
type Service struct {
	repo     Repository
	auth     *Authenticator
	recorder AuditRecorder
}

// NewService creates a new identity service.
func NewService(repo Repository, auth *Authenticator, recorder AuditRecorder) *Service {
	return &Service{repo: repo, auth: auth, recorder: recorder}
}

// RegisterInput contains registration data.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a new user account. New accounts start as viewers; role
// elevation is a separate admin operation.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	existing, err := s.repo.GetUserByEmail(ctx, input.Email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Name:     input.Name,
		Email:    input.Email,
		Password: string(hash),
		Role:     domain.RoleViewer,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.record(ctx, domain.AuditEntry{
		ActorID:    user.ID,
		Action:     "user_registered",
		Resource:   "user",
		ResourceID: user.ID,
		Details:    map[string]any{"email": user.Email},
		Result:     domain.AuditResultSuccess,
	})

	return user, nil
}

// LoginInput contains login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.User, string, error) {
	user, err := s.repo.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		s.record(ctx, domain.AuditEntry{
			ActorID:    user.ID,
			Action:     "login_failed",
			Resource:   "session",
			ResourceID: user.ID,
			Details:    map[string]any{"email": user.Email},
			Result:     domain.AuditResultFailure,
		})
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	s.record(ctx, domain.AuditEntry{
		ActorID:    user.ID,
		Action:     "login",
		Resource:   "session",
		ResourceID: user.ID,
		Details:    map[string]any{"email": user.Email},
		Result:     domain.AuditResultSuccess,
	})

	return user, token, nil
}

// Refresh issues a new token for an already-authenticated user. The user is
// re-read so the fresh token carries the current role.
func (s *Service) Refresh(ctx context.Context, principal domain.Principal) (*domain.User, string, error) {
	user, err := s.repo.GetUserByID(ctx, principal.ID)
	if err != nil {
		return nil, "", fmt.Errorf("get user: %w", err)
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// GetUserByID retrieves a user by ID.
func (s *Service) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.repo.ListUsers(ctx)
}

// ListOnCall returns users currently flagged on-call.
func (s *Service) ListOnCall(ctx context.Context) ([]*domain.User, error) {
	return s.repo.ListOnCall(ctx)
}

// UpdateRole changes a user's role. Admin-only at the routing layer.
func (s *Service) UpdateRole(ctx context.Context, userID string, role domain.Role, actor domain.Principal) (*domain.User, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	previous := user.Role
	user.Role = role
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "user_role_changed",
		Resource:   "user",
		ResourceID: userID,
		Details:    map[string]any{"from": previous, "to": role},
		Result:     domain.AuditResultSuccess,
	})

	return user, nil
}

// SetOnCall toggles a user's on-call flag.
func (s *Service) SetOnCall(ctx context.Context, userID string, onCall bool, actor domain.Principal) (*domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.OnCall = onCall
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.record(ctx, domain.AuditEntry{
		ActorID:    actor.ID,
		Action:     "user_oncall_changed",
		Resource:   "user",
		ResourceID: userID,
		Details:    map[string]any{"on_call": onCall},
		Result:     domain.AuditResultSuccess,
	})

	return user, nil
}

func (s *Service) record(ctx context.Context, entry domain.AuditEntry) {
	if s.recorder != nil {
		s.recorder.Record(ctx, entry)
	}
}
