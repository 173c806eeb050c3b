package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/newdaksh/incident-agent/internal/domain"
)

// Claims are the JWT claims carried in access tokens. The token carries the
// role only as a hint; verification re-reads the user so a role change takes
// effect without waiting for token expiry.
type Claims struct {
	Role domain.Role `json:"role"`
	Name string      `json:"name"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies access tokens. It implements the token
// verification interface shared by the HTTP middleware and the socket
// gateway.
type Authenticator struct {
	repo   Repository
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator creates a new JWT authenticator.
func NewAuthenticator(repo Repository, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{repo: repo, secret: []byte(secret), ttl: ttl}
}

// GenerateToken issues a signed access token for the user.
func (a *Authenticator) GenerateToken(user *domain.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: user.Role,
		Name: user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates the token and resolves the current principal. An
// unknown or deleted user invalidates otherwise well-formed tokens.
func (a *Authenticator) VerifyToken(ctx context.Context, tokenString string) (domain.Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Principal{}, ErrInvalidToken
	}

	user, err := a.repo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return domain.Principal{}, ErrInvalidToken
	}

	return domain.Principal{
		Kind:        domain.PrincipalUser,
		ID:          user.ID,
		Name:        user.Name,
		Role:        user.Role,
		Permissions: user.Permissions,
	}, nil
}
