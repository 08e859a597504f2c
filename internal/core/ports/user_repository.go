package ports

import (
	"context"

	"github.com/userhub/account-api/internal/core/domain"
)

// UserRepository defines the persistence operations on user accounts.
type UserRepository interface {
	// Create inserts user and returns the stored record with its generated ID.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	// FindByEmail returns the first user registered with email, or
	// domain.ErrUserNotFound.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindByID returns domain.ErrUserNotFound for unknown or malformed ids.
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindAll(ctx context.Context) ([]*domain.User, error)
}

// Registration is what a RegistrationGuard holds for an idempotency key.
// UserID is empty while the owning request is still creating the user.
type Registration struct {
	Fingerprint string
	UserID      string
}

// RegistrationGuard ties registration idempotency keys to the request that
// first used them.
type RegistrationGuard interface {
	// Reserve claims key for fingerprint. When the key is already held,
	// reserved is false and the existing Registration is returned.
	Reserve(ctx context.Context, key, fingerprint string) (existing Registration, reserved bool, err error)
	// Complete records the user created under a reserved key.
	Complete(ctx context.Context, key, fingerprint, userID string) error
	// Release drops a reservation whose registration failed.
	Release(ctx context.Context, key string) error
}
