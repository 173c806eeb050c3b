package domain

import "time"

// Role represents a user's role.
type Role string

// Roles, in ascending order of privilege.
const (
	RoleViewer    Role = "viewer"
	RoleResponder Role = "responder"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleViewer, RoleResponder, RoleManager, RoleAdmin:
		return true
	}
	return false
}

func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 0
	case RoleResponder:
		return 1
	case RoleManager:
		return 2
	case RoleAdmin:
		return 3
	}
	return -1
}

// HasPermission reports whether the role grants at least minRole's privileges.
func (r Role) HasPermission(minRole Role) bool {
	return r.rank() >= minRole.rank()
}

// User represents a registered user.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	OnCall      bool      `json:"on_call"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PrincipalKind distinguishes interactive users from service principals.
type PrincipalKind string

// Principal kinds.
const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalSystem PrincipalKind = "system"
)

// Principal is the authenticated identity resolved once at the auth boundary
// and passed explicitly to everything downstream.
type Principal struct {
	Kind        PrincipalKind
	ID          string
	Name        string
	Role        Role
	Permissions []string
}

// SystemPrincipal is used for actions triggered by schedulers and webhooks.
func SystemPrincipal() Principal {
	return Principal{Kind: PrincipalSystem, ID: SystemActor, Name: SystemActor, Role: RoleAdmin}
}

// Actor returns the string recorded in timelines and audit entries.
func (p Principal) Actor() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
