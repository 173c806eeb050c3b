package identity

import (
	"context"

	"github.com/newdaksh/incident-agent/internal/domain"
)

// Repository is the storage collaborator for users.
type Repository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	ListUsers(ctx context.Context) ([]*domain.User, error)
	ListOnCall(ctx context.Context) ([]*domain.User, error)
}
