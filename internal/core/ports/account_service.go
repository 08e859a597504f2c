package ports

import (
	"context"

	"github.com/userhub/account-api/internal/core/domain"
)

// RegisterInput carries the data needed to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	// Role is only set by trusted callers such as startup seeding; the HTTP
	// layer never fills it.
	Role string
	// IdempotencyKey is optional. A repeated key returns the user created by
	// the first request.
	IdempotencyKey string
}

// AccountService defines the account use cases.
type AccountService interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	// Me returns the user bound to the identity in ctx. A missing record is
	// reported as (nil, nil).
	Me(ctx context.Context) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
}

// PasswordHasher hashes and verifies stored credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(userID, role string) (string, error)
}

// TokenVerifier validates session tokens and returns the embedded identity.
type TokenVerifier interface {
	Verify(token string) (domain.Principal, error)
}
