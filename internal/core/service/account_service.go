package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/userhub/account-api/internal/core/domain"
	"github.com/userhub/account-api/internal/core/ports"
)

// AccountService implements registration, login and user lookups.
type AccountService struct {
	repo   ports.UserRepository
	hasher ports.PasswordHasher
	tokens ports.TokenIssuer
	guard  ports.RegistrationGuard
	log    zerolog.Logger
	now    func() time.Time
}

// NewAccountService wires the service. guard may be nil, in which case
// idempotency keys are ignored.
func NewAccountService(
	repo ports.UserRepository,
	hasher ports.PasswordHasher,
	tokens ports.TokenIssuer,
	guard ports.RegistrationGuard,
	log zerolog.Logger,
) *AccountService {
	return &AccountService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
		guard:  guard,
		log:    log,
		now:    time.Now,
	}
}

// Register hashes the password and stores a new user. Emails are not checked
// for uniqueness.
//
// With an idempotency key and a configured guard, the key is reserved before
// the insert. A repeated key with the same name and email returns the user
// the first request created; the same key with a different payload fails
// with domain.ErrIdempotencyKeyReused. Guard outages are logged and the
// registration proceeds without the key.
func (s *AccountService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	key := in.IdempotencyKey
	if s.guard == nil {
		key = ""
	}

	var fingerprint string
	if key != "" {
		fingerprint = registrationFingerprint(in)
		existing, reserved, err := s.guard.Reserve(ctx, key, fingerprint)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("registration key reservation failed, registering without it")
			key = ""
		case !reserved:
			return s.replayRegistration(ctx, existing, fingerprint)
		}
	}

	created, err := s.createUser(ctx, in)
	if err != nil {
		if key != "" {
			if rerr := s.guard.Release(ctx, key); rerr != nil {
				s.log.Warn().Err(rerr).Msg("failed to release registration key")
			}
		}
		return nil, err
	}

	if key != "" {
		if err := s.guard.Complete(ctx, key, fingerprint, created.ID); err != nil {
			s.log.Warn().Err(err).Str("user_id", created.ID).Msg("failed to store registration key")
		}
	}

	s.log.Info().Str("user_id", created.ID).Msg("user registered")
	return created, nil
}

func (s *AccountService) createUser(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return s.repo.Create(ctx, &domain.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// replayRegistration answers a request whose idempotency key is already held.
func (s *AccountService) replayRegistration(ctx context.Context, existing ports.Registration, fingerprint string) (*domain.User, error) {
	if existing.Fingerprint != fingerprint {
		return nil, domain.ErrIdempotencyKeyReused
	}
	if existing.UserID == "" {
		return nil, domain.ErrRegistrationInProgress
	}

	user, err := s.repo.FindByID(ctx, existing.UserID)
	if err != nil {
		return nil, fmt.Errorf("replay registration %s: %w", existing.UserID, err)
	}

	s.log.Debug().Str("user_id", user.ID).Msg("duplicate registration replayed")
	return user, nil
}

// registrationFingerprint identifies the payload an idempotency key was
// first used with. The password is left out so it never reaches the guard.
func registrationFingerprint(in ports.RegisterInput) string {
	sum := sha256.Sum256([]byte(in.Name + "\x00" + in.Email))
	return hex.EncodeToString(sum[:])
}

// Login verifies the credentials and issues a session token for the user.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return "", nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}

	s.log.Debug().Str("user_id", user.ID).Msg("user logged in")
	return token, user, nil
}

func (s *AccountService) Me(ctx context.Context) (*domain.User, error) {
	id := domain.IdentityFrom(ctx)
	if !id.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}

	user, err := s.repo.FindByID(ctx, id.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every stored user. Callers are expected to have passed
// an ADMIN role check.
func (s *AccountService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.repo.FindAll(ctx)
}

// EnsureAdmin registers an ADMIN account for email unless one with that
// email already exists. The boolean reports whether a user was created.
func (s *AccountService) EnsureAdmin(ctx context.Context, name, email, password string) (*domain.User, bool, error) {
	existing, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		if !existing.IsAdmin() {
			s.log.Warn().Str("user_id", existing.ID).Msg("seed admin email belongs to a non-admin user")
		}
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, err
	}

	created, err := s.Register(ctx, ports.RegisterInput{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}
